package main

import "errors"

// ErrIMUNotReady is reported by discrete movement commands while the drone's
// inertial unit is still settling after takeoff. Callers detect it with
// errors.Is and fall back to stick control.
var ErrIMUNotReady = errors.New("imu not ready")

// Telemetry holds the last known vehicle state shown in the panel.
type Telemetry struct {
	Battery    int `json:"battery"`    // percent
	Height     int `json:"height"`     // centimeters above takeoff point
	FlightTime int `json:"flightTime"` // seconds since the motors started
}

// DroneLink abstracts a controllable quadcopter (Tello UDP, in-process
// simulator). Discrete moves take centimeters, rotations degrees.
type DroneLink interface {
	Connect() error
	Disconnect() error

	Battery() (int, error)
	Height() (int, error)
	FlightTime() (int, error)

	TakeOff() error
	Land() error

	MoveForward(cm int) error
	MoveBack(cm int) error
	MoveLeft(cm int) error
	MoveRight(cm int) error
	MoveUp(cm int) error
	MoveDown(cm int) error
	RotateClockwise(deg int) error
	RotateCounterClockwise(deg int) error

	FlipForward() error

	// SendStickCommand streams one stick frame. Axes are -100..100 and hold
	// on the vehicle until replaced. Fire-and-forget on the wire.
	SendStickCommand(lateral, longitudinal, vertical, yaw int) error

	Name() string
}
