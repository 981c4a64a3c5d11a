// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

// Implements the gain matrix update of a predicted track state with a
// measurement.

package gotrk

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Updater turns the predicted stage of a track state into the filtered
// stage. Returns whether the measurement was accepted; an implementation
// with outlier rejection may decline it and leave the state unfiltered.
type Updater interface {
	Update(ts *TrackState) (bool, error)
}

// GainMatrixUpdater is the standard Kalman gain matrix updater. It never
// rejects a measurement.
type GainMatrixUpdater struct {
	Calibrator Calibrator
}

// Create a gain matrix updater. A nil calibrator admits only already
// calibrated track states.
func NewGainMatrixUpdater(c Calibrator) *GainMatrixUpdater {
	if c == nil {
		c = VoidCalibrator{}
	}
	return &GainMatrixUpdater{Calibrator: c}
}

// Update filters the track state: calibrates the source link if needed,
// applies the gain matrix update and stores the filtered parameters and the
// chi2 increment on the state
func (u *GainMatrixUpdater) Update(ts *TrackState) (bool, error) {
	if ts.Predicted == nil {
		return false, ErrNoPrediction
	}
	if ts.Filtered != nil {
		return false, ErrAlreadyFiltered
	}
	if ts.Predicted.Cov == nil {
		return false, ErrMissingCovariance
	}
	if ts.Calibrated == nil {
		if ts.Link == nil {
			return false, fmt.Errorf("Update() failed, err= %s", ErrNotCalibrated)
		}
		m, err := u.Calibrator.Calibrate(ts.Link, ts.Predicted)
		if err != nil {
			return false, fmt.Errorf("Update() failed, err= %s", err)
		}
		ts.Calibrated = m
	}
	m := ts.Calibrated
	dim := m.Dim()

	h := m.Projector()
	c := ts.Predicted.Cov

	// S = H C H^t + R
	var cht mat.Dense
	cht.Mul(c, h.T())
	var s mat.Dense
	s.Mul(h, &cht)
	s.Add(&s, m.Cov)
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return false, fmt.Errorf("Update() failed, err= %s", err)
	}

	// K = C H^t S^-1
	var k mat.Dense
	k.Mul(&cht, &sInv)

	// x' = x + K (m - H x)
	res := m.Residual(ts.Predicted.Vector)
	var dx mat.VecDense
	dx.MulVec(&k, res)
	x := mat.NewVecDense(BoundDim, nil)
	x.AddVec(ts.Predicted.Vector, &dx)
	x.SetVec(EPhi, WrapPhi(x.AtVec(EPhi)))

	// C' = (I - K H) C
	var kh mat.Dense
	kh.Mul(&k, h)
	ikh := identity(BoundDim)
	ikh.Sub(ikh, &kh)
	var cf mat.Dense
	cf.Mul(ikh, c)

	ts.Filtered = NewBoundParamsFromVector(x, symmetrize(&cf), ts.Predicted.Srf)

	// chi2 of the filtered state: r'^t ((I - H K) R)^-1 r'
	var hk mat.Dense
	hk.Mul(h, &k)
	ihk := identity(dim)
	ihk.Sub(ihk, &hk)
	var rcov mat.Dense
	rcov.Mul(ihk, m.Cov)
	var rcovInv mat.Dense
	if err := rcovInv.Inverse(&rcov); err != nil {
		return false, fmt.Errorf("Update() failed, err= %s", err)
	}
	rf := m.Residual(x)
	var tmp mat.VecDense
	tmp.MulVec(&rcovInv, rf)
	ts.Chi2 = mat.Dot(rf, &tmp)

	return true, nil
}
