// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.7.29
//

package gotrk

//-------------------------------------------------------------------
// Magnetic field lookup
//-------------------------------------------------------------------

// FieldProvider looks up the magnetic field at a global position, in natural
// units (multiply Tesla values by the Tesla constant). A provider must be
// deterministic for a fixed position.
type FieldProvider interface {
	GetField(pos Vec3) Vec3
}

// ConstantField is a homogeneous magnetic field
type ConstantField struct {
	B Vec3
}

func NewConstantField(b Vec3) *ConstantField {
	return &ConstantField{B: b}
}

func (f *ConstantField) GetField(pos Vec3) Vec3 {
	return f.B
}

// ZeroField is the field of the straight-line propagation limit
type ZeroField struct{}

func (ZeroField) GetField(pos Vec3) Vec3 {
	return Vec3{}
}

// FieldCache memoizes the last field lookup for spatial locality. The
// stepper evaluates the field at nearly identical positions when a step is
// retried with a smaller size; those retries hit the cache.
//
// A FieldCache belongs to exactly one in-flight propagation and must not be
// shared across goroutines.
type FieldCache struct {
	provider FieldProvider
	valid    bool
	pos      Vec3
	b        Vec3
}

// fieldCacheTolerance is the squared distance below which a cached field
// value is reused [mm^2]
const fieldCacheTolerance = 1e-8

func NewFieldCache(p FieldProvider) *FieldCache {
	return &FieldCache{provider: p}
}

func (c *FieldCache) GetField(pos Vec3) Vec3 {
	if c.valid && pos.Sub(c.pos).Norm2() < fieldCacheTolerance {
		return c.b
	}
	c.pos = pos
	c.b = c.provider.GetField(pos)
	c.valid = true
	return c.b
}
