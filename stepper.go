// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

// Implements the propagation state and the adaptive Runge-Kutta-Nystroem
// stepper for a charged track in a magnetic field.

package gotrk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Stepper advances a propagation state by one step
type Stepper interface {
	// Create a propagation state from bound start parameters
	NewState(start *BoundParams, navDir NavigationDirection, maxStepSize float64) (*StepperState, error)
	// Perform one step, honoring the state's step size constraints.
	// Returns the signed step length actually taken.
	Step(st *StepperState) (float64, error)
}

// Options of the steppers
type StepperOpt struct {
	Tolerance      float64 // Target local truncation error per step
	StepSizeCutOff float64 // Abort threshold for the shrinking step size
	MaxStepTrials  int     // Max step size adjustment trials within one step
	Mass           float64 // Particle mass [GeV] for the time propagation
}

// Create stepper options with default values
func NewStepperOpt() *StepperOpt {
	return &StepperOpt{
		Tolerance:      1e-4,
		StepSizeCutOff: 0,
		MaxStepTrials:  MaxRKStepTrials,
		Mass:           MassPion,
	}
}

//-------------------------------------------------------------------
// StepperState
//-------------------------------------------------------------------

// StepperState is the mutable state of one propagation: the free track
// components, the free covariance with its two jacobian accumulators, the
// path length and the constrained step size. One state belongs to one
// propagation and must not be shared across goroutines.
type StepperState struct {
	Pos Vec3    // Global position [mm]
	Dir Vec3    // Global unit direction
	QOP float64 // Signed charge over momentum [1/GeV]
	T   float64 // Time [ns]

	CovTransport bool          // Whether the covariance is transported
	Cov          *mat.Dense    // 8x8 free covariance, nil without transport
	JacToGlobal  *mat.Dense    // 8x6 bound-to-free jacobian at the last surface
	JacTransport *mat.Dense    // 8x8 free transport jacobian since the last surface
	Derivative   *mat.VecDense // d(free)/ds after the last step

	PathLength       float64
	StepSize         *ConstrainedStep
	PreviousStepSize float64
	NavDir           NavigationDirection

	Tolerance      float64
	StepSizeCutOff float64
	MaxStepTrials  int
	Mass           float64

	field *FieldCache
}

func newStepperState(start *BoundParams, navDir NavigationDirection, maxStepSize float64, opt *StepperOpt, field FieldProvider) (*StepperState, error) {
	if start == nil {
		return nil, fmt.Errorf("start parameters are nil")
	}
	if navDir == AnyDirection {
		navDir = Forward
	}
	dir := start.Direction()
	st := &StepperState{
		Pos:            start.Position(),
		Dir:            dir,
		QOP:            start.QOverP(),
		T:              start.Time(),
		PathLength:     0,
		StepSize:       NewConstrainedStep(float64(navDir) * math.Abs(maxStepSize)),
		NavDir:         navDir,
		Tolerance:      opt.Tolerance,
		StepSizeCutOff: opt.StepSizeCutOff,
		MaxStepTrials:  opt.MaxStepTrials,
		Mass:           opt.Mass,
		field:          NewFieldCache(field),
	}
	if start.Cov != nil {
		st.CovTransport = true
		st.JacToGlobal = start.Srf.JacobianToGlobal(dir)
		st.JacTransport = identity(FreeDim)
		st.Derivative = mat.NewVecDense(FreeDim, nil)
		st.Cov = boundToFreeCov(start.Cov, st.JacToGlobal)
	}
	return st, nil
}

// Momentum returns the momentum magnitude [GeV]
func (st *StepperState) Momentum() float64 { return 1 / math.Abs(st.QOP) }

// Charge returns the particle charge, +1 or -1
func (st *StepperState) Charge() float64 {
	if st.QOP < 0 {
		return -1
	}
	return 1
}

// GetField returns the magnetic field at a position, through the per
// propagation cache
func (st *StepperState) GetField(pos Vec3) Vec3 { return st.field.GetField(pos) }

// Update resets the track components of the state from bound parameters,
// restarting the covariance transport at their reference surface
func (st *StepperState) Update(p *BoundParams) error {
	st.Pos = p.Position()
	st.Dir = p.Direction()
	st.QOP = p.QOverP()
	st.T = p.Time()
	if st.CovTransport {
		if p.Cov == nil {
			return ErrMissingCovariance
		}
		st.JacToGlobal = p.Srf.JacobianToGlobal(st.Dir)
		st.JacTransport = identity(FreeDim)
		st.Derivative.Zero()
		st.Cov = boundToFreeCov(p.Cov, st.JacToGlobal)
	}
	return nil
}

// UpdateComponents overwrites the free track components without touching the
// covariance transport
func (st *StepperState) UpdateComponents(pos, dir Vec3, qOverP, t float64) {
	st.Pos = pos
	st.Dir = dir.Unit()
	st.QOP = qOverP
	st.T = t
}

//-------------------------------------------------------------------
// Snapshots
//-------------------------------------------------------------------

// BoundSnapshot is the result of binding a propagation state to a surface
type BoundSnapshot struct {
	Params     *BoundParams // Bound parameters on the surface
	Jacobian   *mat.Dense   // 6x6 bound jacobian of the transported leg, nil without covariance
	PathLength float64      // Accumulated path length [mm]
}

// BoundState binds the state to a surface the position lies on, returning
// the bound parameters, the bound jacobian of the leg since the last surface
// and the accumulated path length. With reinit the covariance transport is
// restarted at the surface; without it the state is left untouched and the
// snapshot must be terminal.
func (st *StepperState) BoundState(srf Surface, reinit bool) (*BoundSnapshot, error) {
	loc0, loc1, err := srf.GlobalToLocal(st.Pos)
	if err != nil {
		return nil, fmt.Errorf("BoundState() failed, err= %s", err)
	}
	v := mat.NewVecDense(BoundDim, []float64{loc0, loc1, st.Dir.Phi(), st.Dir.Theta(), st.QOP, st.T})
	var cov *mat.SymDense
	var jacLeg *mat.Dense
	if st.CovTransport {
		cov, jacLeg = st.transportCovarianceToBound(srf, reinit)
	}
	return &BoundSnapshot{
		Params:     NewBoundParamsFromVector(v, cov, srf),
		Jacobian:   jacLeg,
		PathLength: st.PathLength,
	}, nil
}

// CurvilinearState binds the state to the curvilinear frame at the current
// position
func (st *StepperState) CurvilinearState(reinit bool) *BoundSnapshot {
	srf := NewCurvilinearSurface(st.Pos, st.Dir)
	// The synthetic plane contains the current position, so the on-surface
	// check inside BoundState cannot fail
	bs, _ := st.BoundState(srf, reinit)
	return bs
}

// Transport the free covariance to the bound frame of a surface. Returns the
// 6x6 bound covariance and the 6x6 bound jacobian of the leg.
func (st *StepperState) transportCovarianceToBound(srf Surface, reinit bool) (*mat.SymDense, *mat.Dense) {
	// Correct the transport jacobian for the constraint of staying on the
	// surface: the path length varies with the start parameters
	sfac := srf.DerivativeFactors(st.Pos, st.Dir, st.JacTransport)
	jacFull := mat.NewDense(FreeDim, FreeDim, nil)
	for i := 0; i < FreeDim; i++ {
		for j := 0; j < FreeDim; j++ {
			jacFull.Set(i, j, st.JacTransport.At(i, j)-st.Derivative.AtVec(i)*sfac.At(0, j))
		}
	}

	var freeCov mat.Dense
	freeCov.Product(jacFull, st.Cov, jacFull.T())

	jacToLocal := srf.JacobianToLocal(st.Pos, st.Dir)

	var boundCov mat.Dense
	boundCov.Product(jacToLocal, &freeCov, jacToLocal.T())

	var jacLeg mat.Dense
	jacLeg.Product(jacToLocal, jacFull, st.JacToGlobal)

	if reinit {
		st.Cov.Copy(&freeCov)
		st.JacTransport = identity(FreeDim)
		st.Derivative.Zero()
		st.JacToGlobal = srf.JacobianToGlobal(st.Dir)
	}
	return symmetrize(&boundCov), &jacLeg
}

func boundToFreeCov(cov *mat.SymDense, jacToGlobal *mat.Dense) *mat.Dense {
	var c mat.Dense
	c.Product(jacToGlobal, cov, jacToGlobal.T())
	return &c
}

//-------------------------------------------------------------------
// RungeKuttaStepper
//-------------------------------------------------------------------

// RungeKuttaStepper propagates a charged track through a magnetic field with
// a fourth order Runge-Kutta-Nystroem integrator and adaptive step size
// control driven by the embedded error estimate.
type RungeKuttaStepper struct {
	Field FieldProvider
	Opt   *StepperOpt
}

// Create a Runge-Kutta stepper on a field. A nil opt selects the defaults.
func NewRungeKuttaStepper(field FieldProvider, opt *StepperOpt) *RungeKuttaStepper {
	if opt == nil {
		opt = NewStepperOpt()
	}
	return &RungeKuttaStepper{Field: field, Opt: opt}
}

// Create a propagation state from bound start parameters
func (s *RungeKuttaStepper) NewState(start *BoundParams, navDir NavigationDirection, maxStepSize float64) (*StepperState, error) {
	return newStepperState(start, navDir, maxStepSize, s.Opt, s.Field)
}

// Perform one adaptive step. The trial step size is the tightest current
// constraint; it shrinks until the error estimate passes the tolerance, then
// the state is advanced and the accuracy constraint updated for the next
// step. Returns the signed step length taken.
func (s *RungeKuttaStepper) Step(st *StepperState) (float64, error) {
	h := st.StepSize.Value()

	// The first evaluation point does not move between trials
	B1 := st.GetField(st.Pos)
	k1 := st.Dir.Cross(B1).Scale(st.QOP)

	var k2, k3, k4, B2, B3 Vec3
	errEst := 0.0

	// Evaluate the remaining stage points and the embedded error estimate
	// for a trial step size
	tryStep := func(h float64) bool {
		half := 0.5 * h
		p1 := st.Pos.Add(st.Dir.Scale(half)).Add(k1.Scale(h * half / 4))
		B2 = st.GetField(p1)
		k2 = st.Dir.Add(k1.Scale(half)).Cross(B2).Scale(st.QOP)
		k3 = st.Dir.Add(k2.Scale(half)).Cross(B2).Scale(st.QOP)
		p2 := st.Pos.Add(st.Dir.Scale(h)).Add(k3.Scale(h * h / 2))
		B3 = st.GetField(p2)
		k4 = st.Dir.Add(k3.Scale(h)).Cross(B3).Scale(st.QOP)

		errEst = math.Max(h*h*k1.Sub(k2).Sub(k3).Add(k4).L1(), MinStepError)
		return errEst <= st.Tolerance
	}

	trials := 0
	for !tryStep(h) {
		scale := Clamp(0.25, math.Sqrt(math.Sqrt(st.Tolerance/(2*errEst))), 4.0)
		if h*scale == h {
			// Scaling no longer changes the step, accept it as is
			break
		}
		h *= scale
		if h*h < st.StepSizeCutOff*st.StepSizeCutOff {
			return 0, ErrStepSizeStalled
		}
		trials++
		if trials > st.MaxStepTrials {
			return 0, ErrStepSizeAdjustment
		}
	}

	dtds := math.Hypot(1, st.Mass*st.QOP)

	if st.CovTransport {
		s.transportMatrix(st, h, dtds, k1, k2, k3, B1, B2, B3)
	}

	// Advance the track components
	st.Pos = st.Pos.Add(st.Dir.Scale(h)).Add(k1.Add(k2).Add(k3).Scale(h * h / 6))
	st.Dir = st.Dir.Add(k1.Add(k2.Scale(2)).Add(k3.Scale(2)).Add(k4).Scale(h / 6)).Unit()
	st.T += h * dtds
	if st.CovTransport {
		st.Derivative.SetVec(EFreePos0, st.Dir.X)
		st.Derivative.SetVec(EFreePos1, st.Dir.Y)
		st.Derivative.SetVec(EFreePos2, st.Dir.Z)
		st.Derivative.SetVec(EFreeTime, dtds)
		st.Derivative.SetVec(EFreeDir0, k4.X)
		st.Derivative.SetVec(EFreeDir1, k4.Y)
		st.Derivative.SetVec(EFreeDir2, k4.Z)
		st.Derivative.SetVec(EFreeQOverP, 0)
	}
	st.PathLength += h
	st.PreviousStepSize = h

	// Let the step size grow again when the error allows it
	scale := Clamp(0.25, math.Sqrt(math.Sqrt(st.Tolerance/errEst)), 4.0)
	st.StepSize.Set(StepAccuracy, h*scale)

	return h, nil
}

// Accumulate the 8x8 transport matrix of one step onto the state's transport
// jacobian. The direction block follows the stage derivatives of the
// integrator, the position block their weighted sum.
func (s *RungeKuttaStepper) transportMatrix(st *StepperState, h, dtds float64, k1, k2, k3 Vec3, B1, B2, B3 Vec3) {
	half := 0.5 * h
	qop := st.QOP

	a1 := crossMat(B1)
	a2 := crossMat(B2)
	a3 := crossMat(B3)

	i3 := identity(3)

	// dk_i/dT
	dk1dT := mat.NewDense(3, 3, nil)
	dk1dT.Scale(qop, a1)

	dk2dT := stageDirDeriv(qop, a2, dk1dT, half, i3)
	dk3dT := stageDirDeriv(qop, a2, dk2dT, half, i3)
	dk4dT := stageDirDeriv(qop, a3, dk3dT, h, i3)

	// dk_i/dL
	dk1dL := st.Dir.Cross(B1)
	dk2dL := st.Dir.Add(k1.Scale(half)).Cross(B2).Add(dk1dL.Cross(B2).Scale(qop * half))
	dk3dL := st.Dir.Add(k2.Scale(half)).Cross(B2).Add(dk2dL.Cross(B2).Scale(qop * half))
	dk4dL := st.Dir.Add(k3.Scale(h)).Cross(B3).Add(dk3dL.Cross(B3).Scale(qop * h))

	d := identity(FreeDim)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			// dPos/dDir
			dFdT := h * (i3.At(i, j) + h/6*(dk1dT.At(i, j)+dk2dT.At(i, j)+dk3dT.At(i, j)))
			d.Set(EFreePos0+i, EFreeDir0+j, dFdT)
			// dDir/dDir
			dGdT := i3.At(i, j) + h/6*(dk1dT.At(i, j)+2*(dk2dT.At(i, j)+dk3dT.At(i, j))+dk4dT.At(i, j))
			d.Set(EFreeDir0+i, EFreeDir0+j, dGdT)
		}
	}
	sumFdL := dk1dL.Add(dk2dL).Add(dk3dL).Scale(h * h / 6)
	sumGdL := dk1dL.Add(dk2dL.Scale(2)).Add(dk3dL.Scale(2)).Add(dk4dL).Scale(h / 6)
	d.Set(EFreePos0, EFreeQOverP, sumFdL.X)
	d.Set(EFreePos1, EFreeQOverP, sumFdL.Y)
	d.Set(EFreePos2, EFreeQOverP, sumFdL.Z)
	d.Set(EFreeDir0, EFreeQOverP, sumGdL.X)
	d.Set(EFreeDir1, EFreeQOverP, sumGdL.Y)
	d.Set(EFreeDir2, EFreeQOverP, sumGdL.Z)
	// dTime/dQOverP
	d.Set(EFreeTime, EFreeQOverP, h*st.Mass*st.Mass*qop/dtds)

	var jt mat.Dense
	jt.Mul(d, st.JacTransport)
	st.JacTransport.Copy(&jt)
}

// crossMat returns the matrix A with A u = u x b
func crossMat(b Vec3) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, b.Z, -b.Y,
		-b.Z, 0, b.X,
		b.Y, -b.X, 0,
	})
}

// stageDirDeriv returns qop * A * (I + w * prev)
func stageDirDeriv(qop float64, a, prev *mat.Dense, w float64, i3 *mat.Dense) *mat.Dense {
	var t mat.Dense
	t.Scale(w, prev)
	t.Add(i3, &t)
	var out mat.Dense
	out.Mul(a, &t)
	out.Scale(qop, &out)
	return &out
}
