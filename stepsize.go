// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

// Implements the constrained step size shared by the steppers.

package gotrk

import (
	"fmt"
	"math"
)

// StepBound identifies who imposed a step size constraint
type StepBound int

const (
	StepAccuracy StepBound = iota // From the integration error estimate
	StepActor                     // From a processing actor
	StepAborter                   // From surface aiming
	StepUser                      // From the caller
	numStepBounds
)

func (b StepBound) String() string {
	switch b {
	case StepAccuracy:
		return "accuracy"
	case StepActor:
		return "actor"
	case StepAborter:
		return "aborter"
	case StepUser:
		return "user"
	}
	return "?"
}

// ConstrainedStep holds one step size candidate per constraint source and
// always hands out the tightest one. Length limits carry the sign of the
// navigation direction, fixed at construction; the aborter is a signed
// target distance and keeps the sign it was set with.
type ConstrainedStep struct {
	values [numStepBounds]float64
	sign   float64
}

// NewConstrainedStep creates a constrained step from an initial user step
// size, whose sign sets the navigation sense for all later constraints
func NewConstrainedStep(ssize float64) *ConstrainedStep {
	s := &ConstrainedStep{sign: 1}
	if ssize < 0 {
		s.sign = -1
	}
	for i := range s.values {
		s.values[i] = s.sign * math.MaxFloat64
	}
	s.values[StepUser] = ssize
	return s
}

// Set overwrites the candidate of one constraint source. The aborter keeps
// the sign of v so an overshoot past the target can be stepped back; the
// other sources are forced to the navigation sign.
func (s *ConstrainedStep) Set(bound StepBound, v float64) {
	if bound == StepAborter {
		s.values[bound] = v
		return
	}
	s.values[bound] = s.sign * math.Abs(v)
}

// Release drops the constraint of one source
func (s *ConstrainedStep) Release(bound StepBound) {
	s.values[bound] = s.sign * math.MaxFloat64
}

// Value returns the effective step size, the candidate smallest in
// magnitude, signed with the navigation direction
func (s *ConstrainedStep) Value() float64 {
	v := s.values[0]
	for _, c := range s.values[1:] {
		if math.Abs(c) < math.Abs(v) {
			v = c
		}
	}
	return v
}

// Accuracy returns the accuracy candidate
func (s *ConstrainedStep) Accuracy() float64 {
	return s.values[StepAccuracy]
}

// Convert to string
func (s *ConstrainedStep) String() string {
	return fmt.Sprintf("step= %g (accuracy= %g, actor= %g, aborter= %g, user= %g)",
		s.Value(), s.values[StepAccuracy], s.values[StepActor], s.values[StepAborter], s.values[StepUser])
}
