// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.8.24
//

package gotrk

import "errors"

// Fatal propagation and fit errors. A fit either returns a populated result
// or exactly one of these (possibly wrapped with call-site context).
// Holes and outliers are not errors; they are recorded on the track states.
var (
	// ErrStepSizeStalled indicates the adaptive step size fell below the
	// configured cutoff; the track is looping in place or non-relativistic.
	ErrStepSizeStalled = errors.New("gotrk: step size stalled below cutoff")

	// ErrStepSizeAdjustment indicates the step-size adaptation did not
	// converge within the trial limit.
	ErrStepSizeAdjustment = errors.New("gotrk: step size adjustment exhausted trials")

	// ErrInvalidExtension indicates a stepping extension (a material or
	// energy loss model layered on a Stepper) rejected the step.
	ErrInvalidExtension = errors.New("gotrk: step rejected by extension")

	// ErrMissingCovariance indicates a covariance matrix was required but
	// not present on the parameters.
	ErrMissingCovariance = errors.New("gotrk: missing covariance")

	// ErrNoMeasurements indicates a fit was requested without any input
	// measurements.
	ErrNoMeasurements = errors.New("gotrk: no input measurements")

	// ErrTargetUnreachable indicates the propagation could not reach the
	// aimed surface within the configured step and path limits.
	ErrTargetUnreachable = errors.New("gotrk: target surface unreachable")

	// ErrNotCalibrated indicates a source link could not be turned into a
	// calibrated measurement.
	ErrNotCalibrated = errors.New("gotrk: measurement not calibrated")

	// ErrNotOnSurface indicates a global position could not be projected
	// onto a surface within tolerance.
	ErrNotOnSurface = errors.New("gotrk: position not on surface")
)

// Contract violations of the filter recursion. These indicate defects in the
// calling code rather than recoverable conditions.
var (
	// ErrNoPrediction indicates an update was attempted on a track state
	// without a predicted state.
	ErrNoPrediction = errors.New("gotrk: predicted state not set")

	// ErrAlreadyFiltered indicates an update was attempted on a track state
	// that already holds a filtered state.
	ErrAlreadyFiltered = errors.New("gotrk: filtered state already set")

	// ErrNotFiltered indicates smoothing was attempted on a track state
	// without a filtered state.
	ErrNotFiltered = errors.New("gotrk: filtered state not set")
)
