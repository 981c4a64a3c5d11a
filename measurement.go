// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

// Implements measurements, source links and calibration.

package gotrk

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SourceLink is an uncalibrated detector readout tied to a surface. The
// fitter only needs the surface; the calibrator knows how to turn the link
// into a Measurement.
type SourceLink interface {
	Surface() Surface
}

// Calibrator turns an uncalibrated source link into a measurement, possibly
// using the predicted parameters at the surface
type Calibrator interface {
	Calibrate(link SourceLink, predicted *BoundParams) (*Measurement, error)
}

//-------------------------------------------------------------------
// Measurement
//-------------------------------------------------------------------

// Measurement is a calibrated measurement of a strict subset of the bound
// parameters on a surface. Subspace lists the measured bound indices in
// ascending order; Values and Cov are expressed in that subspace.
type Measurement struct {
	Srf      Surface
	Subspace []int
	Values   *mat.VecDense
	Cov      *mat.SymDense
}

// NewMeasurement creates a measurement of the bound parameters listed in
// subspace. The indices must be strictly ascending, non-empty and below
// ET: the time component is not measurable here.
func NewMeasurement(srf Surface, subspace []int, values *mat.VecDense, cov *mat.SymDense) (*Measurement, error) {
	if srf == nil {
		return nil, fmt.Errorf("measurement surface is nil")
	}
	n := len(subspace)
	if n == 0 || n >= BoundDim {
		return nil, fmt.Errorf("invalid subspace size %d", n)
	}
	prev := -1
	for _, k := range subspace {
		if k <= prev || k >= ET {
			return nil, fmt.Errorf("invalid measurement subspace %v", subspace)
		}
		prev = k
	}
	if values.Len() != n {
		return nil, fmt.Errorf("invalid value size. subspace(%d), values(%d)", n, values.Len())
	}
	if r, _ := cov.Dims(); r != n {
		return nil, fmt.Errorf("invalid covariance size. subspace(%d), cov(%d x %d)", n, r, r)
	}
	sub := make([]int, n)
	copy(sub, subspace)
	return &Measurement{Srf: srf, Subspace: sub, Values: values, Cov: cov}, nil
}

// Dim returns the measurement dimension
func (m *Measurement) Dim() int { return len(m.Subspace) }

// Projector returns the Dim x 6 selector matrix H mapping a bound vector
// into the measurement subspace
func (m *Measurement) Projector() *mat.Dense {
	h := mat.NewDense(m.Dim(), BoundDim, nil)
	for i, k := range m.Subspace {
		h.Set(i, k, 1)
	}
	return h
}

// Residual returns the measurement residual m - H x against a full bound
// vector. A measured azimuth component is compared on the circle.
func (m *Measurement) Residual(x *mat.VecDense) *mat.VecDense {
	r := mat.NewVecDense(m.Dim(), nil)
	for i, k := range m.Subspace {
		d := m.Values.AtVec(i) - x.AtVec(k)
		if k == EPhi {
			d = WrapPhi(d)
		}
		r.SetVec(i, d)
	}
	return r
}

//-------------------------------------------------------------------
// Calibrators
//-------------------------------------------------------------------

// MeasurementLink is a source link wrapping an already calibrated
// measurement
type MeasurementLink struct {
	M *Measurement
}

// Surface returns the measurement surface
func (l MeasurementLink) Surface() Surface { return l.M.Srf }

// LinkCalibrator is the pass-through calibrator for MeasurementLink sources
type LinkCalibrator struct{}

// Calibrate returns the measurement carried by the link
func (LinkCalibrator) Calibrate(link SourceLink, predicted *BoundParams) (*Measurement, error) {
	l, ok := link.(MeasurementLink)
	if !ok {
		return nil, fmt.Errorf("unexpected source link type %T, err= %w", link, ErrNotCalibrated)
	}
	return l.M, nil
}

// VoidCalibrator rejects every source link. It is the default when no
// calibration is configured.
type VoidCalibrator struct{}

// Calibrate always fails
func (VoidCalibrator) Calibrate(link SourceLink, predicted *BoundParams) (*Measurement, error) {
	return nil, ErrNotCalibrated
}
