// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

package gotrk

import (
	"gonum.org/v1/gonum/mat"
)

// TrackState is the per-surface record of a fit: the calibrated measurement
// (nil for holes), the predicted, filtered and smoothed parameter stages, the
// transport jacobian from the previous state, the accumulated path length and
// the filter chi2 increment. Stages not yet reached are nil.
type TrackState struct {
	Link       SourceLink
	Calibrated *Measurement
	Predicted  *BoundParams
	Filtered   *BoundParams
	Smoothed   *BoundParams
	Jacobian   *mat.Dense // 6x6 bound transport jacobian of the incoming leg
	PathLength float64
	Chi2       float64
}

// HasMeasurement reports whether a calibrated measurement is attached
func (ts *TrackState) HasMeasurement() bool { return ts.Calibrated != nil }

// IsHole reports whether the state marks a sensitive surface crossed without
// a measurement
func (ts *TrackState) IsHole() bool { return ts.Calibrated == nil }
