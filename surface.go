// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.8.30
//

// Implements the narrow surface interface consumed by the propagation and
// fitting machinery, and the planar reference surface used for measurements
// and curvilinear frames.

package gotrk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

//-------------------------------------------------------------------
// Surface
//-------------------------------------------------------------------

// Intersection is the straight-line intersection of a ray with a surface
type Intersection struct {
	Position   Vec3    // Intersection point in the global frame
	PathLength float64 // Signed distance along the ray direction
	Valid      bool    // False when the ray is parallel to the surface
}

// Surface is the geometry collaborator of the propagation core. Surfaces are
// compared by identity: the same physical surface must be the same Go value
// wherever it appears (measurement map keys, track states, fit options).
type Surface interface {
	// Center returns the surface reference point in the global frame
	Center() Vec3

	// Normal returns the unit surface normal
	Normal() Vec3

	// LocalToGlobal converts surface-local coordinates to a global position
	LocalToGlobal(loc0, loc1 float64) Vec3

	// GlobalToLocal projects a global position into surface-local
	// coordinates; it fails when the position is off the surface
	GlobalToLocal(pos Vec3) (loc0, loc1 float64, err error)

	// Intersect computes the straight-line intersection with a ray
	Intersect(pos, dir Vec3) Intersection

	// IsOnSurface reports whether pos lies on the surface within tol
	IsOnSurface(pos Vec3, tol float64) bool

	// JacobianToGlobal returns the FreeDim x BoundDim sensitivity of the
	// free parameters with respect to the bound parameters, for a track
	// crossing the surface along dir
	JacobianToGlobal(dir Vec3) *mat.Dense

	// JacobianToLocal returns the BoundDim x FreeDim sensitivity of the
	// bound parameters with respect to the free parameters at pos/dir
	JacobianToLocal(pos, dir Vec3) *mat.Dense

	// DerivativeFactors returns the 1 x FreeDim row vector used in the
	// covariance-transport correction: the component of the transport that
	// is degenerate with staying on this surface
	DerivativeFactors(pos, dir Vec3, jacTransport *mat.Dense) *mat.Dense

	// Sensitive reports whether the surface could have produced a
	// measurement (a crossed sensitive surface without one is a hole)
	Sensitive() bool
}

//-------------------------------------------------------------------
// PlaneSurface
//-------------------------------------------------------------------

// PlaneSurface is an unbounded plane with an orthonormal local frame (U, V)
// spanning it. It backs both physical measurement planes and the synthetic
// curvilinear frames attached to a track direction.
type PlaneSurface struct {
	center Vec3
	normal Vec3
	axisU  Vec3
	axisV  Vec3

	sensitive bool
}

// NewPlaneSurface creates a plane through center with the given normal.
// The in-plane axes are built with the same construction as the curvilinear
// frame so that the local frame is always well defined.
func NewPlaneSurface(center, normal Vec3, sensitive bool) *PlaneSurface {
	n := normal.Unit()
	u, v := curvilinearAxes(n)
	return &PlaneSurface{
		center:    center,
		normal:    n,
		axisU:     u,
		axisV:     v,
		sensitive: sensitive,
	}
}

// NewCurvilinearSurface creates the synthetic plane of the curvilinear frame
// at a point: centered at pos, normal along the track direction.
func NewCurvilinearSurface(pos, dir Vec3) *PlaneSurface {
	return NewPlaneSurface(pos, dir, false)
}

// curvilinearAxes builds the orthonormal in-plane axes (u, v) for a plane
// with unit normal n. Near grazing incidence to the z axis the standard
// construction degenerates and an alternate orthonormal pair is used.
func curvilinearAxes(n Vec3) (Vec3, Vec3) {
	if math.Abs(n.Z) < CurvProjTolerance {
		sinTheta := math.Sqrt(n.X*n.X + n.Y*n.Y)
		invSinTheta := 1 / sinTheta
		cosPhi := n.X * invSinTheta
		sinPhi := n.Y * invSinTheta
		u := Vec3{X: -sinPhi, Y: cosPhi, Z: 0}
		v := Vec3{X: -cosPhi * n.Z, Y: -sinPhi * n.Z, Z: sinTheta}
		return u, v
	}
	// Grazing incidence to z: switch to an alternate orthonormal pair
	c := math.Sqrt(n.Y*n.Y + n.Z*n.Z)
	invC := 1 / c
	u := Vec3{X: 0, Y: -n.Z * invC, Z: n.Y * invC}
	v := Vec3{X: c, Y: -n.X * n.Y * invC, Z: -n.X * n.Z * invC}
	return u, v
}

func (s *PlaneSurface) Center() Vec3 { return s.center }

func (s *PlaneSurface) Normal() Vec3 { return s.normal }

func (s *PlaneSurface) Sensitive() bool { return s.sensitive }

// AxisU returns the first in-plane axis
func (s *PlaneSurface) AxisU() Vec3 { return s.axisU }

// AxisV returns the second in-plane axis
func (s *PlaneSurface) AxisV() Vec3 { return s.axisV }

func (s *PlaneSurface) LocalToGlobal(loc0, loc1 float64) Vec3 {
	return s.center.Add(s.axisU.Scale(loc0)).Add(s.axisV.Scale(loc1))
}

func (s *PlaneSurface) GlobalToLocal(pos Vec3) (float64, float64, error) {
	d := pos.Sub(s.center)
	dist := d.Dot(s.normal)
	if math.Abs(dist) > 10*OnSurfaceTolerance {
		return 0, 0, fmt.Errorf("%w: normal distance %g", ErrNotOnSurface, dist)
	}
	return d.Dot(s.axisU), d.Dot(s.axisV), nil
}

func (s *PlaneSurface) Intersect(pos, dir Vec3) Intersection {
	denom := dir.Dot(s.normal)
	if math.Abs(denom) < 1e-12 {
		return Intersection{}
	}
	pl := s.center.Sub(pos).Dot(s.normal) / denom
	return Intersection{
		Position:   pos.Add(dir.Scale(pl)),
		PathLength: pl,
		Valid:      true,
	}
}

func (s *PlaneSurface) IsOnSurface(pos Vec3, tol float64) bool {
	return math.Abs(pos.Sub(s.center).Dot(s.normal)) <= tol
}

func (s *PlaneSurface) JacobianToGlobal(dir Vec3) *mat.Dense {
	phi := dir.Phi()
	theta := dir.Theta()
	sinPhi, cosPhi := math.Sincos(phi)
	sinTheta, cosTheta := math.Sincos(theta)

	j := mat.NewDense(FreeDim, BoundDim, nil)
	// Position block: the in-plane axes
	j.Set(EFreePos0, ELoc0, s.axisU.X)
	j.Set(EFreePos1, ELoc0, s.axisU.Y)
	j.Set(EFreePos2, ELoc0, s.axisU.Z)
	j.Set(EFreePos0, ELoc1, s.axisV.X)
	j.Set(EFreePos1, ELoc1, s.axisV.Y)
	j.Set(EFreePos2, ELoc1, s.axisV.Z)
	// Time
	j.Set(EFreeTime, ET, 1)
	// Direction block: d(dir)/d(phi), d(dir)/d(theta)
	j.Set(EFreeDir0, EPhi, -sinPhi*sinTheta)
	j.Set(EFreeDir1, EPhi, cosPhi*sinTheta)
	j.Set(EFreeDir0, ETheta, cosPhi*cosTheta)
	j.Set(EFreeDir1, ETheta, sinPhi*cosTheta)
	j.Set(EFreeDir2, ETheta, -sinTheta)
	// Momentum
	j.Set(EFreeQOverP, EQOverP, 1)
	return j
}

func (s *PlaneSurface) JacobianToLocal(pos, dir Vec3) *mat.Dense {
	// Optimized trigonometry on the direction components
	x := dir.X // == cos(phi) * sin(theta)
	y := dir.Y // == sin(phi) * sin(theta)
	sinTheta := math.Sqrt(x*x + y*y)
	invSinTheta := 1 / sinTheta
	cosPhi := x * invSinTheta
	sinPhi := y * invSinTheta

	j := mat.NewDense(BoundDim, FreeDim, nil)
	// Local block: the in-plane axes
	j.Set(ELoc0, EFreePos0, s.axisU.X)
	j.Set(ELoc0, EFreePos1, s.axisU.Y)
	j.Set(ELoc0, EFreePos2, s.axisU.Z)
	j.Set(ELoc1, EFreePos0, s.axisV.X)
	j.Set(ELoc1, EFreePos1, s.axisV.Y)
	j.Set(ELoc1, EFreePos2, s.axisV.Z)
	// Time
	j.Set(ET, EFreeTime, 1)
	// Angles: d(phi)/d(dir), d(theta)/d(dir)
	j.Set(EPhi, EFreeDir0, -sinPhi*invSinTheta)
	j.Set(EPhi, EFreeDir1, cosPhi*invSinTheta)
	j.Set(ETheta, EFreeDir2, -invSinTheta)
	// Momentum
	j.Set(EQOverP, EFreeQOverP, 1)
	return j
}

func (s *PlaneSurface) DerivativeFactors(pos, dir Vec3, jacTransport *mat.Dense) *mat.Dense {
	// Projection of the position block of the transport jacobian onto the
	// surface normal, scaled by the incidence factor 1/(n . d)
	invIncidence := 1 / s.normal.Dot(dir)
	norm := mat.NewDense(1, 3, []float64{
		invIncidence * s.normal.X,
		invIncidence * s.normal.Y,
		invIncidence * s.normal.Z,
	})
	var out mat.Dense
	out.Mul(norm, jacTransport.Slice(0, 3, 0, FreeDim))
	return &out
}
