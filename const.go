// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.8.17
//

package gotrk

// Natural unit system: lengths in mm, momenta in GeV, times in ns, charges in e.
// A magnetic field of 1 Tesla expressed in these units bends a 1 GeV track
// with curvature 0.000299792458 / mm.
const (
	PI    = 3.1415926535897932 // Pi
	C     = 299.792458         // Speed of light [mm/ns]
	Tesla = 0.000299792458     // 1 Tesla in natural units [GeV/(e*mm)]
	Gauss = 1e-4 * Tesla       // 1 Gauss in natural units

	MassElectron = 0.000510998950 // Electron mass [GeV]
	MassMuon     = 0.1056583745   // Muon mass [GeV]
	MassPion     = 0.13957039     // Charged pion mass [GeV]
)

// Bound (surface-local) track parameter indices
const (
	ELoc0   = iota // First local coordinate on the reference surface
	ELoc1          // Second local coordinate on the reference surface
	EPhi           // Azimuth angle of the direction (-pi, pi]
	ETheta         // Polar angle of the direction [0, pi]
	EQOverP        // Charge over momentum magnitude [e/GeV]
	ET             // Time

	BoundDim = 6 // Dimension of the bound parameter vector
)

// Free (global) track parameter indices
const (
	EFreePos0   = iota // Global x position
	EFreePos1          // Global y position
	EFreePos2          // Global z position
	EFreeTime          // Time
	EFreeDir0          // x component of the unit direction
	EFreeDir1          // y component of the unit direction
	EFreeDir2          // z component of the unit direction
	EFreeQOverP        // Charge over momentum magnitude [e/GeV]

	FreeDim = 8 // Dimension of the free parameter vector
)

// Numerical tolerances of the propagation machinery
const (
	// OnSurfaceTolerance is the distance below which a position counts as
	// being on a surface [mm]
	OnSurfaceTolerance = 1e-4

	// CurvProjTolerance is the |cos(theta)| above which the curvilinear
	// frame construction switches to the grazing-incidence variant
	CurvProjTolerance = 0.999995

	// MinStepError is the floor of the local truncation error estimate;
	// it keeps the step-size scaling finite for exactly integrable motion
	MinStepError = 1e-20

	// MaxRKStepTrials bounds the number of step-size adjustment trials of
	// one Runge-Kutta step before the propagation is aborted
	MaxRKStepTrials = 10000
)
