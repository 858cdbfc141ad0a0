// Package robot drives the robot's joints.
//
// This package follows the Interface Segregation Principle (ISP) by defining
// small, focused interfaces that can be composed as needed. The movement
// skill depends only on Actuator.
package robot

import "context"

// Actuator moves a single joint to an absolute position.
type Actuator interface {
	MoveJoint(ctx context.Context, motor string, position float64) error
}

// StatusReader reports the robot daemon state.
type StatusReader interface {
	Status(ctx context.Context) (string, error)
}

// Controller is the composite interface implemented by every transport.
type Controller interface {
	Actuator
	StatusReader
	Close() error
}

var (
	_ Controller = (*HTTPActuator)(nil)
	_ Controller = (*MQTTActuator)(nil)
)
