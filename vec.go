// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.7.6
//

package gotrk

import (
	"fmt"
	"math"
)

//-------------------------------------------------------------------
// Vec3
//-------------------------------------------------------------------

// Vec3 is a 3-vector in the global frame (position, direction or field value).
// It is a value type; all operations return new values.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

func NewVec3(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{X: v.X + w.X, Y: v.Y + w.Y, Z: v.Z + w.Z}
}

func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{X: v.X - w.X, Y: v.Y - w.Y, Z: v.Z - w.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: s * v.X, Y: s * v.Y, Z: s * v.Z}
}

func (v Vec3) Dot(w Vec3) float64 {
	return v.X*w.X + v.Y*w.Y + v.Z*w.Z
}

func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		X: v.Y*w.Z - v.Z*w.Y,
		Y: v.Z*w.X - v.X*w.Z,
		Z: v.X*w.Y - v.Y*w.X,
	}
}

func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

func (v Vec3) Norm2() float64 {
	return v.Dot(v)
}

// L1 returns the Manhattan norm |x|+|y|+|z|
func (v Vec3) L1() float64 {
	return math.Abs(v.X) + math.Abs(v.Y) + math.Abs(v.Z)
}

// Unit returns the normalized vector. The zero vector is returned unchanged.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// Phi returns the azimuth angle of the vector in (-pi, pi]
func (v Vec3) Phi() float64 {
	return math.Atan2(v.Y, v.X)
}

// Theta returns the polar angle of the vector in [0, pi]
func (v Vec3) Theta() float64 {
	return math.Acos(v.Z / v.Norm())
}

// Convert to string
func (v Vec3) String() string {
	return fmt.Sprintf("%.6f %.6f %.6f", v.X, v.Y, v.Z)
}

// DirFromAngles builds the unit direction vector from azimuth and polar angle
func DirFromAngles(phi, theta float64) Vec3 {
	st := math.Sin(theta)
	return Vec3{
		X: math.Cos(phi) * st,
		Y: math.Sin(phi) * st,
		Z: math.Cos(theta),
	}
}
