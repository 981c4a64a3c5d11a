// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

// Implements the Kalman track fitter: propagation along the measurement
// surfaces, gain matrix filtering, smoothing and the optional transport of
// the smoothed parameters to a target surface.

package gotrk

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// Options of the Kalman fit
type FitOpt struct {
	TargetSurface   Surface             // Surface for the fitted parameters, nil to stop at the first smoothed state
	Surfaces        []Surface           // Extra surfaces to traverse besides the measurement surfaces, for hole search
	Direction       NavigationDirection // Initial propagation sense
	MaxStepSize     float64             // Cap of a single step [mm]
	MaxSteps        int                 // Loop protection across the whole fit
	PathLimit       float64             // Abort threshold on the accumulated path [mm]
	TargetTolerance float64             // On-surface tolerance for navigation [mm]
}

// Create fit options with default values
func NewFitOpt() *FitOpt {
	return &FitOpt{
		Direction:       Forward,
		MaxStepSize:     1000,
		MaxSteps:        10000,
		PathLimit:       1e6,
		TargetTolerance: OnSurfaceTolerance,
	}
}

// FitResult holds the track states collected along the fit and the fitted
// parameters
type FitResult struct {
	States          []*TrackState
	ProcessedStates int          // Number of measurements filtered
	MissedSurfaces  []Surface    // Sensitive surfaces crossed without a measurement
	Initialized     bool         // Whether the seed was accepted and filtering started
	Smoothed        bool         // Whether the smoother ran
	Params          *BoundParams // Fitted parameters, at the target surface if one was set
	PathLength      float64      // Path length accumulated during filtering [mm]
}

// KalmanFitter drives a stepper along the measurement surfaces, filters each
// measurement with the updater and smooths the collected states
type KalmanFitter struct {
	Stepper  Stepper
	Updater  Updater
	Smoother Smoother
}

// Create a Kalman fitter
func NewKalmanFitter(stepper Stepper, updater Updater, smoother Smoother) *KalmanFitter {
	return &KalmanFitter{Stepper: stepper, Updater: updater, Smoother: smoother}
}

// Fit a track through the source links, starting from the seed parameters.
// The seed must carry a covariance. The links are visited in geometric order
// along the propagation, not in slice order.
func (f *KalmanFitter) Fit(start *BoundParams, links []SourceLink, opt *FitOpt) (*FitResult, error) {
	if opt == nil {
		opt = NewFitOpt()
	}
	if len(links) == 0 {
		return nil, ErrNoMeasurements
	}
	if start.Cov == nil {
		return nil, ErrMissingCovariance
	}

	// One link per surface. Surfaces are compared by identity.
	linkOf := make(map[Surface]SourceLink, len(links))
	surfaces := make([]Surface, 0, len(links)+len(opt.Surfaces))
	for _, l := range links {
		if _, ok := linkOf[l.Surface()]; ok {
			return nil, fmt.Errorf("duplicate source link on surface %v", l.Surface().Center())
		}
		linkOf[l.Surface()] = l
		surfaces = append(surfaces, l.Surface())
	}
	for _, srf := range opt.Surfaces {
		if _, ok := linkOf[srf]; !ok {
			surfaces = append(surfaces, srf)
		}
	}

	st, err := f.Stepper.NewState(start, opt.Direction, opt.MaxStepSize)
	if err != nil {
		return nil, fmt.Errorf("Fit() failed, err= %s", err)
	}

	res := &FitResult{Initialized: true}
	done := make(map[Surface]bool, len(surfaces))
	steps := 0

	// Filtering: repeatedly aim at the nearest remaining surface, propagate
	// to it and process it
	for len(done) < len(surfaces) {
		srf := nearestSurface(st, surfaces, done, opt.TargetTolerance)
		if srf == nil {
			break // The remaining surfaces are behind or unreachable
		}
		if err := f.propagateTo(st, srf, opt, &steps); err != nil {
			return res, fmt.Errorf("Fit() failed, err= %s", err)
		}
		done[srf] = true

		link := linkOf[srf]
		if link == nil && !srf.Sensitive() {
			// A passive surface yields no track state. Crossing it must not
			// bind the transport, or the jacobian chain to the next
			// measurement would cover only the segment after it
			continue
		}
		bs, err := st.BoundState(srf, true)
		if err != nil {
			return res, fmt.Errorf("Fit() failed, err= %s", err)
		}
		ts := &TrackState{
			Link:       link,
			Predicted:  bs.Params,
			Jacobian:   bs.Jacobian,
			PathLength: bs.PathLength,
		}
		if ts.Link != nil {
			ok, err := f.Updater.Update(ts)
			if err != nil {
				return res, fmt.Errorf("Fit() failed, err= %s", err)
			}
			if ok {
				res.ProcessedStates++
				if err := st.Update(ts.Filtered); err != nil {
					return res, fmt.Errorf("Fit() failed, err= %s", err)
				}
			} else {
				// Declined by the updater: carry the prediction forward
				ts.Filtered = ts.Predicted.Clone()
			}
			res.States = append(res.States, ts)
		} else {
			// A hole on a sensitive surface: carry the prediction forward
			// unchanged
			ts.Filtered = ts.Predicted.Clone()
			res.MissedSurfaces = append(res.MissedSurfaces, srf)
			res.States = append(res.States, ts)
		}
	}
	if res.ProcessedStates == 0 {
		return res, ErrNoMeasurements
	}
	res.PathLength = st.PathLength

	// Smoothing, backwards over the states in filtering order. The sort key
	// uses the stepper's effective direction, which is normalized even when
	// the options carry AnyDirection
	slices.SortFunc(res.States, func(a, b *TrackState) int {
		d := float64(st.NavDir) * (a.PathLength - b.PathLength)
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		}
		return 0
	})
	smoothed, err := f.Smoother.Smooth(res.States)
	if err != nil {
		return res, fmt.Errorf("Fit() failed, err= %s", err)
	}
	res.Smoothed = true
	res.Params = smoothed

	if opt.TargetSurface == nil {
		return res, nil
	}

	// Transport the smoothed parameters to the target surface, possibly
	// against the filtering direction
	its := opt.TargetSurface.Intersect(smoothed.Position(), smoothed.Direction())
	if !its.Valid {
		return res, ErrTargetUnreachable
	}
	dir := Forward
	if its.PathLength < 0 {
		dir = Backward
	}
	tst, err := f.Stepper.NewState(smoothed, dir, opt.MaxStepSize)
	if err != nil {
		return res, fmt.Errorf("Fit() failed, err= %s", err)
	}
	if err := f.propagateTo(tst, opt.TargetSurface, opt, &steps); err != nil {
		return res, fmt.Errorf("Fit() failed, err= %s", err)
	}
	bs, err := tst.BoundState(opt.TargetSurface, false)
	if err != nil {
		return res, fmt.Errorf("Fit() failed, err= %s", err)
	}
	res.Params = bs.Params
	return res, nil
}

// Propagate a state until it lies on the surface, constraining each step by
// the current straight line distance to the intersection
func (f *KalmanFitter) propagateTo(st *StepperState, srf Surface, opt *FitOpt, steps *int) error {
	first := true
	for {
		its := srf.Intersect(st.Pos, st.Dir)
		if !its.Valid {
			return ErrTargetUnreachable
		}
		if math.Abs(its.PathLength) <= opt.TargetTolerance {
			st.StepSize.Release(StepAborter)
			return nil
		}
		// A curved step aimed with the straight line distance may land a
		// little past the surface; the signed aborter steps it back. Only
		// the first aim must agree with the navigation direction.
		if first && float64(st.NavDir)*its.PathLength < 0 {
			return ErrTargetUnreachable
		}
		first = false
		st.StepSize.Set(StepAborter, its.PathLength)
		h, err := f.Stepper.Step(st)
		if err != nil {
			return fmt.Errorf("propagateTo() failed, err= %s", err)
		}
		PrintD(3, "step h= %g path= %g -> %v\n", h, st.PathLength, st.Pos)
		*steps++
		if *steps > opt.MaxSteps || math.Abs(st.PathLength) > opt.PathLimit {
			return ErrTargetUnreachable
		}
	}
}

// The nearest unprocessed surface strictly ahead along the navigation
// direction, nil when none remains reachable
func nearestSurface(st *StepperState, surfaces []Surface, done map[Surface]bool, tol float64) Surface {
	var best Surface
	bestS := math.MaxFloat64
	for _, srf := range surfaces {
		if done[srf] {
			continue
		}
		its := srf.Intersect(st.Pos, st.Dir)
		if !its.Valid {
			continue
		}
		s := float64(st.NavDir) * its.PathLength
		if s <= tol {
			continue
		}
		if s < bestS {
			bestS = s
			best = srf
		}
	}
	return best
}
