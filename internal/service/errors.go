package service

import "errors"

// Service errors surfaced to the API layer
var (
	// ErrSimulationNotFound is returned when the simulation does not exist
	ErrSimulationNotFound = errors.New("simulation not found")

	// ErrAccessDenied is returned when a user does not own the simulation
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidTransition is returned when a lifecycle command is issued
	// against a simulation whose current status does not permit it. The
	// command is rejected synchronously; an in-flight loop is unaffected.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInsufficientData is returned when fewer than the minimum
	// required historical points were fetched; fatal to the run.
	ErrInsufficientData = errors.New("insufficient historical data for simulation")
)
