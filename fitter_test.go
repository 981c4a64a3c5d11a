// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

package gotrk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// Three measurement planes perpendicular to x, loc0 = y and loc1 = z
func testPlanes() []*PlaneSurface {
	return []*PlaneSurface{
		NewPlaneSurface(NewVec3(100, 0, 0), NewVec3(1, 0, 0), true),
		NewPlaneSurface(NewVec3(200, 0, 0), NewVec3(1, 0, 0), true),
		NewPlaneSurface(NewVec3(300, 0, 0), NewVec3(1, 0, 0), true),
	}
}

func testLinks(t *testing.T, planes []*PlaneSurface, offsets [][2]float64, sigma2 float64) []SourceLink {
	t.Helper()
	links := make([]SourceLink, len(planes))
	for i, srf := range planes {
		r := mat.NewSymDense(2, nil)
		r.SetSym(0, 0, sigma2)
		r.SetSym(1, 1, sigma2)
		m, err := NewMeasurement(srf, []int{ELoc0, ELoc1},
			mat.NewVecDense(2, []float64{offsets[i][0], offsets[i][1]}), r)
		require.NoError(t, err)
		links[i] = MeasurementLink{M: m}
	}
	return links
}

func testSeed() *BoundParams {
	cov := mat.NewSymDense(BoundDim, nil)
	for i, v := range []float64{1, 1, 0.01, 0.01, 0.01, 1} {
		cov.SetSym(i, i, v)
	}
	// The truth: through the origin along +x, p = 2 GeV
	return NewCurvilinearParams(NewVec3(0, 0, 0), NewVec3(1, 0, 0), 0.5, 0, cov)
}

func newTestFitter(stepper Stepper) *KalmanFitter {
	return NewKalmanFitter(stepper, NewGainMatrixUpdater(LinkCalibrator{}), GainMatrixSmoother{})
}

func TestKalmanFitterStraightLine(t *testing.T) {
	planes := testPlanes()
	links := testLinks(t, planes, [][2]float64{{0.05, -0.02}, {-0.03, 0.04}, {0.02, 0.01}}, 0.01)
	f := newTestFitter(NewStraightLineStepper(nil))

	res, err := f.Fit(testSeed(), links, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.ProcessedStates)
	require.Len(t, res.States, 3)
	assert.True(t, res.Initialized)
	assert.True(t, res.Smoothed)
	assert.Empty(t, res.MissedSurfaces)

	chi2 := 0.0
	for i, ts := range res.States {
		require.NotNilf(t, ts.Predicted, "state %d predicted", i)
		require.NotNilf(t, ts.Filtered, "state %d filtered", i)
		require.NotNilf(t, ts.Smoothed, "state %d smoothed", i)
		assert.InDeltaf(t, 100*float64(i+1), ts.PathLength, 1e-3, "state %d path", i)
		chi2 += ts.Chi2
	}
	assert.Less(t, chi2, 30.0)

	// Without a target the fitted parameters are the smoothed parameters of
	// the first state
	require.NotNil(t, res.Params)
	assert.Same(t, res.States[0].Smoothed, res.Params)
	assert.Less(t, math.Abs(res.Params.Loc0()), 0.3)
	assert.Less(t, math.Abs(res.Params.Loc1()), 0.3)

	// Smoothing must not inflate the uncertainty beyond the filtered one
	last := res.States[2]
	assert.LessOrEqual(t, res.States[0].Smoothed.Cov.At(0, 0), res.States[0].Filtered.Cov.At(0, 0)+1e-12)
	assert.InDelta(t, last.Filtered.Loc0(), last.Smoothed.Loc0(), 1e-12)
}

func TestKalmanFitterHoles(t *testing.T) {
	planes := testPlanes()
	links := testLinks(t, planes, [][2]float64{{0.05, -0.02}, {-0.03, 0.04}, {0.02, 0.01}}, 0.01)
	hole := NewPlaneSurface(NewVec3(150, 0, 0), NewVec3(1, 0, 0), true)
	passive := NewPlaneSurface(NewVec3(250, 0, 0), NewVec3(1, 0, 0), false)

	f := newTestFitter(NewStraightLineStepper(nil))
	opt := NewFitOpt()
	opt.Surfaces = []Surface{hole, passive}

	res, err := f.Fit(testSeed(), links, opt)
	require.NoError(t, err)

	assert.Equal(t, 3, res.ProcessedStates)
	require.Len(t, res.MissedSurfaces, 1)
	assert.Equal(t, Surface(hole), res.MissedSurfaces[0])

	// Measurements plus the hole, the passive surface leaves no state
	require.Len(t, res.States, 4)
	var holeState *TrackState
	for _, ts := range res.States {
		if ts.IsHole() {
			holeState = ts
		}
	}
	require.NotNil(t, holeState)
	assert.Nil(t, holeState.Link)
	assert.NotNil(t, holeState.Smoothed)
	assert.InDelta(t, 150.0, holeState.PathLength, 1e-3)
}

// A passive surface must leave the fit untouched: the smoothed parameters
// and the state-to-state jacobians with and without it have to agree
func TestKalmanFitterPassiveSurfaceInvariance(t *testing.T) {
	offsets := [][2]float64{{0.05, -0.02}, {-0.03, 0.04}, {0.02, 0.01}}
	f := newTestFitter(NewStraightLineStepper(nil))

	ref, err := f.Fit(testSeed(), testLinks(t, testPlanes(), offsets, 0.01), nil)
	require.NoError(t, err)

	passive := NewPlaneSurface(NewVec3(250, 0, 0), NewVec3(1, 0, 0), false)
	opt := NewFitOpt()
	opt.Surfaces = []Surface{passive}
	res, err := f.Fit(testSeed(), testLinks(t, testPlanes(), offsets, 0.01), opt)
	require.NoError(t, err)

	require.Len(t, ref.States, 3)
	require.Len(t, res.States, 3)
	for i := range ref.States {
		// The jacobian of the last leg spans the full 200 -> 300 segment
		// even though the passive surface sits in between
		for r := 0; r < BoundDim; r++ {
			for c := 0; c < BoundDim; c++ {
				assert.InDeltaf(t, ref.States[i].Jacobian.At(r, c), res.States[i].Jacobian.At(r, c),
					1e-12, "state %d jacobian (%d,%d)", i, r, c)
			}
		}
		for j := 0; j < BoundDim; j++ {
			assert.InDeltaf(t, ref.States[i].Smoothed.Vector.AtVec(j), res.States[i].Smoothed.Vector.AtVec(j),
				1e-12, "state %d smoothed component %d", i, j)
			for k := 0; k < BoundDim; k++ {
				assert.InDeltaf(t, ref.States[i].Smoothed.Cov.At(j, k), res.States[i].Smoothed.Cov.At(j, k),
					1e-12, "state %d smoothed cov (%d,%d)", i, j, k)
			}
		}
	}
	assert.InDelta(t, 100.0, res.States[2].Jacobian.At(ELoc0, EPhi), 1e-3)
}

// Options built by hand leave Direction at its zero value; the fit must
// behave as with the defaults
func TestKalmanFitterZeroValueDirection(t *testing.T) {
	offsets := [][2]float64{{0.05, -0.02}, {-0.03, 0.04}, {0.02, 0.01}}
	f := newTestFitter(NewStraightLineStepper(nil))

	opt := &FitOpt{
		MaxStepSize:     1000,
		MaxSteps:        10000,
		PathLimit:       1e6,
		TargetTolerance: OnSurfaceTolerance,
	}
	require.Equal(t, AnyDirection, opt.Direction)
	res, err := f.Fit(testSeed(), testLinks(t, testPlanes(), offsets, 0.01), opt)
	require.NoError(t, err)

	ref, err := f.Fit(testSeed(), testLinks(t, testPlanes(), offsets, 0.01), nil)
	require.NoError(t, err)

	require.Len(t, res.States, 3)
	for i, ts := range res.States {
		assert.InDeltaf(t, 100*float64(i+1), ts.PathLength, 1e-3, "state %d path", i)
		for j := 0; j < BoundDim; j++ {
			assert.InDeltaf(t, ref.States[i].Smoothed.Vector.AtVec(j), ts.Smoothed.Vector.AtVec(j),
				1e-12, "state %d smoothed component %d", i, j)
		}
	}
	assert.Same(t, res.States[0].Smoothed, res.Params)
}

func TestKalmanFitterTargetSurface(t *testing.T) {
	planes := testPlanes()
	links := testLinks(t, planes, [][2]float64{{0.05, -0.02}, {-0.03, 0.04}, {0.02, 0.01}}, 0.01)
	target := NewPlaneSurface(NewVec3(-50, 0, 0), NewVec3(1, 0, 0), false)

	f := newTestFitter(NewStraightLineStepper(nil))
	opt := NewFitOpt()
	opt.TargetSurface = target

	res, err := f.Fit(testSeed(), links, opt)
	require.NoError(t, err)
	require.NotNil(t, res.Params)

	// The fitted parameters were transported backwards to the target
	assert.Same(t, Surface(target), res.Params.Srf)
	assert.InDelta(t, -50.0, res.Params.Position().X, 1e-3)
	require.NotNil(t, res.Params.Cov)
	assert.Less(t, math.Abs(res.Params.Loc0()), 1.0)
}

func TestKalmanFitterRungeKutta(t *testing.T) {
	planes := testPlanes()
	// Loose measurements centered on the undeflected line; the weak field
	// bends the track by well under the measurement scale
	links := testLinks(t, planes, [][2]float64{{0, 0}, {0, 0}, {0, 0}}, 1.0)

	stepper := NewRungeKuttaStepper(NewConstantField(NewVec3(0, 0, 0.1*Tesla)), nil)
	f := newTestFitter(stepper)

	res, err := f.Fit(testSeed(), links, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.ProcessedStates)
	assert.True(t, res.Smoothed)
	require.NotNil(t, res.Params)
	chi2 := 0.0
	for _, ts := range res.States {
		chi2 += ts.Chi2
	}
	assert.Less(t, chi2, 10.0)
}

func TestKalmanFitterInputValidation(t *testing.T) {
	f := newTestFitter(NewStraightLineStepper(nil))

	t.Run("no measurements", func(t *testing.T) {
		_, err := f.Fit(testSeed(), nil, nil)
		assert.ErrorIs(t, err, ErrNoMeasurements)
	})

	t.Run("missing seed covariance", func(t *testing.T) {
		planes := testPlanes()
		links := testLinks(t, planes, [][2]float64{{0, 0}, {0, 0}, {0, 0}}, 0.01)
		seed := testSeed()
		seed.Cov = nil
		_, err := f.Fit(seed, links, nil)
		assert.ErrorIs(t, err, ErrMissingCovariance)
	})

	t.Run("duplicate links on one surface", func(t *testing.T) {
		planes := testPlanes()
		links := testLinks(t, planes, [][2]float64{{0, 0}, {0, 0}, {0, 0}}, 0.01)
		links = append(links, links[0])
		_, err := f.Fit(testSeed(), links, nil)
		assert.Error(t, err)
	})

	t.Run("unreachable measurements", func(t *testing.T) {
		// All surfaces behind the seed while navigating forward
		behind := NewPlaneSurface(NewVec3(-100, 0, 0), NewVec3(1, 0, 0), true)
		r := mat.NewSymDense(2, nil)
		r.SetSym(0, 0, 0.01)
		r.SetSym(1, 1, 0.01)
		m, err := NewMeasurement(behind, []int{ELoc0, ELoc1}, mat.NewVecDense(2, nil), r)
		require.NoError(t, err)
		_, err = f.Fit(testSeed(), []SourceLink{MeasurementLink{M: m}}, nil)
		assert.ErrorIs(t, err, ErrNoMeasurements)
	})
}
