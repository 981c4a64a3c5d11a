// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

package gotrk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func makePredicted(t *testing.T, srf Surface) *BoundParams {
	t.Helper()
	cov := mat.NewSymDense(BoundDim, nil)
	for i, v := range []float64{0.08, 0.3, 1, 1, 1, 0} {
		cov.SetSym(i, i, v)
	}
	p, err := NewBoundParams(0.3, 0.5, 0.5*PI, 0.3*PI, 0.01, 0, cov, srf)
	require.NoError(t, err)
	return p
}

func makeMeasurement(t *testing.T, srf Surface) *Measurement {
	t.Helper()
	r := mat.NewSymDense(2, nil)
	r.SetSym(0, 0, 0.04)
	r.SetSym(1, 1, 0.1)
	m, err := NewMeasurement(srf, []int{ELoc0, ELoc1},
		mat.NewVecDense(2, []float64{-0.1, 0.45}), r)
	require.NoError(t, err)
	return m
}

func TestGainMatrixUpdate(t *testing.T) {
	srf := NewPlaneSurface(NewVec3(0, 0, 0), NewVec3(0, 0, 1), true)
	ts := &TrackState{
		Predicted:  makePredicted(t, srf),
		Calibrated: makeMeasurement(t, srf),
	}

	ok, err := NewGainMatrixUpdater(nil).Update(ts)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, ts.Filtered)

	// Gains 2/3 and 3/4 on the two measured coordinates
	assert.InDelta(t, 0.0333333, ts.Filtered.Loc0(), 1e-6)
	assert.InDelta(t, 0.4625, ts.Filtered.Loc1(), 1e-6)

	// Unmeasured components pass through
	assert.InDelta(t, 0.5*PI, ts.Filtered.Phi(), 1e-12)
	assert.InDelta(t, 0.3*PI, ts.Filtered.Theta(), 1e-12)
	assert.InDelta(t, 0.01, ts.Filtered.QOverP(), 1e-12)

	wantCov := []float64{0.0266667, 0.075, 1, 1, 1, 0}
	for i, w := range wantCov {
		assert.InDeltaf(t, w, ts.Filtered.Cov.At(i, i), 1e-6, "cov(%d,%d)", i, i)
	}
	for i := 0; i < BoundDim; i++ {
		for j := i + 1; j < BoundDim; j++ {
			assert.InDeltaf(t, 0.0, ts.Filtered.Cov.At(i, j), 1e-9, "cov(%d,%d)", i, j)
		}
	}

	assert.InDelta(t, 1.33958, ts.Chi2, 1e-4)
}

func TestUpdateCalibratesLink(t *testing.T) {
	srf := NewPlaneSurface(NewVec3(0, 0, 0), NewVec3(0, 0, 1), true)
	ts := &TrackState{
		Predicted: makePredicted(t, srf),
		Link:      MeasurementLink{M: makeMeasurement(t, srf)},
	}

	ok, err := NewGainMatrixUpdater(LinkCalibrator{}).Update(ts)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, ts.Calibrated)
	assert.InDelta(t, 0.0333333, ts.Filtered.Loc0(), 1e-6)
}

func TestUpdateContractViolations(t *testing.T) {
	srf := NewPlaneSurface(NewVec3(0, 0, 0), NewVec3(0, 0, 1), true)
	u := NewGainMatrixUpdater(nil)

	t.Run("no prediction", func(t *testing.T) {
		_, err := u.Update(&TrackState{Calibrated: makeMeasurement(t, srf)})
		assert.ErrorIs(t, err, ErrNoPrediction)
	})

	t.Run("already filtered", func(t *testing.T) {
		p := makePredicted(t, srf)
		_, err := u.Update(&TrackState{
			Predicted:  p,
			Filtered:   p.Clone(),
			Calibrated: makeMeasurement(t, srf),
		})
		assert.ErrorIs(t, err, ErrAlreadyFiltered)
	})

	t.Run("missing covariance", func(t *testing.T) {
		p := makePredicted(t, srf)
		p.Cov = nil
		_, err := u.Update(&TrackState{Predicted: p, Calibrated: makeMeasurement(t, srf)})
		assert.ErrorIs(t, err, ErrMissingCovariance)
	})

	t.Run("nothing to calibrate", func(t *testing.T) {
		_, err := u.Update(&TrackState{Predicted: makePredicted(t, srf)})
		assert.Error(t, err)
	})

	t.Run("void calibrator", func(t *testing.T) {
		_, err := u.Update(&TrackState{
			Predicted: makePredicted(t, srf),
			Link:      MeasurementLink{M: makeMeasurement(t, srf)},
		})
		assert.Error(t, err)
	})
}

func TestNewMeasurementValidation(t *testing.T) {
	srf := NewPlaneSurface(NewVec3(0, 0, 0), NewVec3(0, 0, 1), true)
	r1 := mat.NewSymDense(1, []float64{0.1})
	v1 := mat.NewVecDense(1, []float64{1})

	_, err := NewMeasurement(srf, []int{ELoc0}, v1, r1)
	assert.NoError(t, err)

	// Time is not measurable
	_, err = NewMeasurement(srf, []int{ET}, v1, r1)
	assert.Error(t, err)

	// Indices must ascend strictly
	r2 := mat.NewSymDense(2, []float64{0.1, 0, 0, 0.1})
	v2 := mat.NewVecDense(2, []float64{1, 2})
	_, err = NewMeasurement(srf, []int{ELoc1, ELoc0}, v2, r2)
	assert.Error(t, err)

	// Full bound vector measurements are not allowed
	_, err = NewMeasurement(srf, []int{0, 1, 2, 3, 4, 5},
		mat.NewVecDense(6, nil), mat.NewSymDense(6, nil))
	assert.Error(t, err)

	// Size mismatch
	_, err = NewMeasurement(srf, []int{ELoc0, ELoc1}, v1, r2)
	assert.Error(t, err)
}
