// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

package gotrk

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// StraightLineStepper propagates a track on a straight line, for field free
// regions and as a cross check of the Runge-Kutta stepper. It shares the
// propagation state and the snapshot machinery with the Runge-Kutta stepper.
type StraightLineStepper struct {
	Opt *StepperOpt
}

// Create a straight line stepper. A nil opt selects the defaults.
func NewStraightLineStepper(opt *StepperOpt) *StraightLineStepper {
	if opt == nil {
		opt = NewStepperOpt()
	}
	return &StraightLineStepper{Opt: opt}
}

// Create a propagation state from bound start parameters
func (s *StraightLineStepper) NewState(start *BoundParams, navDir NavigationDirection, maxStepSize float64) (*StepperState, error) {
	return newStepperState(start, navDir, maxStepSize, s.Opt, ZeroField{})
}

// Perform one step of the tightest constrained size. A straight step is
// exact, so there is no error estimate and no step size adaptation.
func (s *StraightLineStepper) Step(st *StepperState) (float64, error) {
	h := st.StepSize.Value()
	dtds := math.Hypot(1, st.Mass*st.QOP)

	if st.CovTransport {
		d := identity(FreeDim)
		for i := 0; i < 3; i++ {
			d.Set(EFreePos0+i, EFreeDir0+i, h)
		}
		d.Set(EFreeTime, EFreeQOverP, h*st.Mass*st.Mass*st.QOP/dtds)
		var jt mat.Dense
		jt.Mul(d, st.JacTransport)
		st.JacTransport.Copy(&jt)
	}

	st.Pos = st.Pos.Add(st.Dir.Scale(h))
	st.T += h * dtds
	if st.CovTransport {
		st.Derivative.Zero()
		st.Derivative.SetVec(EFreePos0, st.Dir.X)
		st.Derivative.SetVec(EFreePos1, st.Dir.Y)
		st.Derivative.SetVec(EFreePos2, st.Dir.Z)
		st.Derivative.SetVec(EFreeTime, dtds)
	}
	st.PathLength += h
	st.PreviousStepSize = h

	return h, nil
}
