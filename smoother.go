// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

// Implements the gain matrix track smoother.

package gotrk

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Smoother runs backwards over the filtered track states and fills the
// smoothed stage of each. Returns the smoothed parameters of the first
// state.
type Smoother interface {
	Smooth(states []*TrackState) (*BoundParams, error)
}

// GainMatrixSmoother is the Rauch-Tung-Striebel smoother: each state is
// corrected by its successor through the smoothing gain built from the
// transport jacobian between them
type GainMatrixSmoother struct{}

// Smooth the track states in place. The states are expected ordered along
// the filtering direction; each must carry the predicted and filtered stage
// and, except the first, the jacobian of its incoming leg.
func (GainMatrixSmoother) Smooth(states []*TrackState) (*BoundParams, error) {
	if len(states) == 0 {
		return nil, nil
	}
	last := states[len(states)-1]
	if last.Filtered == nil {
		return nil, ErrNotFiltered
	}
	last.Smoothed = last.Filtered.Clone()

	for i := len(states) - 2; i >= 0; i-- {
		cur, next := states[i], states[i+1]
		if cur.Filtered == nil {
			return nil, ErrNotFiltered
		}
		if next.Predicted == nil || next.Predicted.Cov == nil || next.Jacobian == nil {
			return nil, fmt.Errorf("Smooth() failed, err= %s", ErrNoPrediction)
		}

		// G = C_f J^t C_p^-1
		var cpInv mat.Dense
		if err := cpInv.Inverse(next.Predicted.Cov); err != nil {
			return nil, fmt.Errorf("Smooth() failed, err= %s", err)
		}
		var g mat.Dense
		g.Product(cur.Filtered.Cov, next.Jacobian.T(), &cpInv)

		// x_s = x_f + G (x_s' - x_p')
		dv := mat.NewVecDense(BoundDim, nil)
		dv.SubVec(next.Smoothed.Vector, next.Predicted.Vector)
		dv.SetVec(EPhi, WrapPhi(dv.AtVec(EPhi)))
		var dx mat.VecDense
		dx.MulVec(&g, dv)
		x := mat.NewVecDense(BoundDim, nil)
		x.AddVec(cur.Filtered.Vector, &dx)
		x.SetVec(EPhi, WrapPhi(x.AtVec(EPhi)))

		// C_s = C_f - G (C_p' - C_s') G^t
		var dc mat.Dense
		dc.Sub(next.Predicted.Cov, next.Smoothed.Cov)
		var gc mat.Dense
		gc.Product(&g, &dc, g.T())
		var cs mat.Dense
		cs.Sub(cur.Filtered.Cov, &gc)

		cur.Smoothed = NewBoundParamsFromVector(x, symmetrize(&cs), cur.Filtered.Srf)
	}
	return states[0].Smoothed, nil
}
