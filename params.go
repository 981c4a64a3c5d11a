// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.2
//

// Implements the bound and curvilinear track parameter representations.

package gotrk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NavigationDirection is the travel sense of a propagation relative to the
// momentum direction
type NavigationDirection int

const (
	Backward     NavigationDirection = -1
	AnyDirection NavigationDirection = 0
	Forward      NavigationDirection = 1
)

func (d NavigationDirection) String() string {
	switch d {
	case Backward:
		return "backward"
	case Forward:
		return "forward"
	default:
		return "any"
	}
}

//-------------------------------------------------------------------
// BoundParams
//-------------------------------------------------------------------

// BoundParams is a track parameter set expressed in the local frame of a
// reference surface: (loc0, loc1, phi, theta, q/p, t). Curvilinear parameters
// are BoundParams whose surface is the synthetic plane normal to the track
// direction; they are produced by NewCurvilinearParams.
//
// A BoundParams exclusively owns its covariance; Cov may be nil when the
// uncertainty is not tracked.
type BoundParams struct {
	Vector *mat.VecDense // The 6 bound parameters
	Cov    *mat.SymDense // Owned 6x6 covariance, nil if absent
	Srf    Surface       // The reference surface
}

// NewBoundParams creates bound parameters on a surface. The azimuth is
// wrapped into (-pi, pi]; cov is owned by the returned value and must not be
// mutated by the caller afterwards.
func NewBoundParams(loc0, loc1, phi, theta, qOverP, t float64, cov *mat.SymDense, srf Surface) (*BoundParams, error) {
	if srf == nil {
		return nil, fmt.Errorf("reference surface is nil")
	}
	if theta < 0 || theta > PI {
		return nil, fmt.Errorf("polar angle %g outside [0, pi]", theta)
	}
	v := mat.NewVecDense(BoundDim, []float64{loc0, loc1, WrapPhi(phi), theta, qOverP, t})
	return &BoundParams{Vector: v, Cov: cov, Srf: srf}, nil
}

// NewBoundParamsFromVector creates bound parameters from a full 6-vector
func NewBoundParamsFromVector(v *mat.VecDense, cov *mat.SymDense, srf Surface) *BoundParams {
	return &BoundParams{Vector: v, Cov: cov, Srf: srf}
}

// NewCurvilinearParams creates curvilinear parameters at a global position:
// the reference surface is the synthetic plane through pos normal to dir, so
// both local coordinates are zero by construction.
func NewCurvilinearParams(pos, dir Vec3, qOverP, t float64, cov *mat.SymDense) *BoundParams {
	u := dir.Unit()
	v := mat.NewVecDense(BoundDim, []float64{0, 0, u.Phi(), u.Theta(), qOverP, t})
	return &BoundParams{Vector: v, Cov: cov, Srf: NewCurvilinearSurface(pos, u)}
}

// Loc0 returns the first local coordinate
func (p *BoundParams) Loc0() float64 { return p.Vector.AtVec(ELoc0) }

// Loc1 returns the second local coordinate
func (p *BoundParams) Loc1() float64 { return p.Vector.AtVec(ELoc1) }

// Phi returns the azimuth angle of the direction
func (p *BoundParams) Phi() float64 { return p.Vector.AtVec(EPhi) }

// Theta returns the polar angle of the direction
func (p *BoundParams) Theta() float64 { return p.Vector.AtVec(ETheta) }

// QOverP returns the signed charge over momentum magnitude
func (p *BoundParams) QOverP() float64 { return p.Vector.AtVec(EQOverP) }

// Time returns the time coordinate
func (p *BoundParams) Time() float64 { return p.Vector.AtVec(ET) }

// Position returns the global position of the parameters
func (p *BoundParams) Position() Vec3 {
	return p.Srf.LocalToGlobal(p.Loc0(), p.Loc1())
}

// Direction returns the global unit direction of the parameters
func (p *BoundParams) Direction() Vec3 {
	return DirFromAngles(p.Phi(), p.Theta())
}

// Momentum returns the momentum magnitude [GeV]
func (p *BoundParams) Momentum() float64 {
	return 1 / math.Abs(p.QOverP())
}

// Charge returns the particle charge, +1 or -1
func (p *BoundParams) Charge() float64 {
	if p.QOverP() < 0 {
		return -1
	}
	return 1
}

// Clone returns a deep copy of the parameters. The surface reference is
// shared: surfaces are immutable and compared by identity.
func (p *BoundParams) Clone() *BoundParams {
	v := mat.NewVecDense(BoundDim, nil)
	v.CopyVec(p.Vector)
	var cov *mat.SymDense
	if p.Cov != nil {
		cov = mat.NewSymDense(BoundDim, nil)
		cov.CopySym(p.Cov)
	}
	return &BoundParams{Vector: v, Cov: cov, Srf: p.Srf}
}

// Convert to string
func (p *BoundParams) String() string {
	return fmt.Sprintf("loc=(%.4f %.4f) phi=%.6f theta=%.6f q/p=%.6f t=%.4f",
		p.Loc0(), p.Loc1(), p.Phi(), p.Theta(), p.QOverP(), p.Time())
}
