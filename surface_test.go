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
)

func TestPlaneSurfaceRoundTrip(t *testing.T) {
	srf := NewPlaneSurface(NewVec3(10, -5, 3), NewVec3(1, 2, -1), true)

	loc0, loc1 := 4.2, -7.9
	pos := srf.LocalToGlobal(loc0, loc1)
	assert.True(t, srf.IsOnSurface(pos, OnSurfaceTolerance))

	l0, l1, err := srf.GlobalToLocal(pos)
	require.NoError(t, err)
	assert.InDelta(t, loc0, l0, 1e-12)
	assert.InDelta(t, loc1, l1, 1e-12)
}

func TestPlaneSurfaceGlobalToLocalOff(t *testing.T) {
	srf := NewPlaneSurface(NewVec3(0, 0, 0), NewVec3(0, 0, 1), false)

	_, _, err := srf.GlobalToLocal(NewVec3(1, 1, 0.5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotOnSurface)
}

func TestPlaneSurfaceIntersect(t *testing.T) {
	srf := NewPlaneSurface(NewVec3(100, 0, 0), NewVec3(1, 0, 0), false)

	its := srf.Intersect(NewVec3(0, 0, 0), NewVec3(1, 0, 0))
	require.True(t, its.Valid)
	assert.InDelta(t, 100.0, its.PathLength, 1e-12)
	assert.InDelta(t, 100.0, its.Position.X, 1e-12)

	// Oblique incidence
	d := NewVec3(1, 1, 0).Unit()
	its = srf.Intersect(NewVec3(0, 0, 0), d)
	require.True(t, its.Valid)
	assert.InDelta(t, 100*math.Sqrt2, its.PathLength, 1e-9)

	// Behind the start: negative path length
	its = srf.Intersect(NewVec3(200, 0, 0), NewVec3(1, 0, 0))
	require.True(t, its.Valid)
	assert.InDelta(t, -100.0, its.PathLength, 1e-12)

	// Parallel ray
	its = srf.Intersect(NewVec3(0, 0, 0), NewVec3(0, 1, 0))
	assert.False(t, its.Valid)
}

func TestCurvilinearAxesOrthonormal(t *testing.T) {
	dirs := []Vec3{
		DirFromAngles(0.3, 1.2),
		DirFromAngles(-2.1, 0.4),
		DirFromAngles(1.7, PI/2),
		DirFromAngles(0.5, 1e-5),     // Grazing to +z
		DirFromAngles(-0.5, PI-1e-5), // Grazing to -z
		DirFromAngles(2.2, 1e-7),
		DirFromAngles(-1.1, PI-1e-7),
		NewVec3(0, 0, 1),         // Exactly along z
		NewVec3(1e-9, -1e-9, -1), // Almost exactly along -z
	}
	for _, d := range dirs {
		srf := NewCurvilinearSurface(NewVec3(1, 2, 3), d)
		u, v, n := srf.AxisU(), srf.AxisV(), srf.Normal()

		assert.InDelta(t, 1.0, u.Norm(), 1e-12)
		assert.InDelta(t, 1.0, v.Norm(), 1e-12)
		assert.InDelta(t, 0.0, u.Dot(v), 1e-12)
		assert.InDelta(t, 0.0, u.Dot(n), 1e-12)
		assert.InDelta(t, 0.0, v.Dot(n), 1e-12)
	}
}

// Beam-axis-parallel tracks must still get finite frame jacobians
func TestFrameJacobiansNearPole(t *testing.T) {
	for _, theta := range []float64{1e-6, PI - 1e-6} {
		dir := DirFromAngles(0.4, theta)
		srf := NewCurvilinearSurface(NewVec3(0, 0, 0), dir)

		jg := srf.JacobianToGlobal(dir)
		jl := srf.JacobianToLocal(NewVec3(0, 0, 0), dir)
		for i := 0; i < FreeDim; i++ {
			for j := 0; j < BoundDim; j++ {
				assert.Falsef(t, math.IsNaN(jg.At(i, j)) || math.IsInf(jg.At(i, j), 0),
					"to-global (%d,%d) at theta=%g", i, j, theta)
				assert.Falsef(t, math.IsNaN(jl.At(j, i)) || math.IsInf(jl.At(j, i), 0),
					"to-local (%d,%d) at theta=%g", j, i, theta)
			}
		}
	}
}

// The local and global frame jacobians must be mutual inverses on the bound
// subspace
func TestFrameJacobiansInverse(t *testing.T) {
	dir := DirFromAngles(0.7, 1.1)
	srf := NewPlaneSurface(NewVec3(5, 5, 5), NewVec3(0.2, -0.4, 1), true)
	pos := srf.LocalToGlobal(1.5, -2.5)

	jg := srf.JacobianToGlobal(dir)
	jl := srf.JacobianToLocal(pos, dir)

	for i := 0; i < BoundDim; i++ {
		for j := 0; j < BoundDim; j++ {
			got := 0.0
			for k := 0; k < FreeDim; k++ {
				got += jl.At(i, k) * jg.At(k, j)
			}
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDeltaf(t, want, got, 1e-10, "entry (%d,%d)", i, j)
		}
	}
}
