package l1measurements

import "fmt"

// NodeDescriptor names a joint or landmark in the skeleton tree.
type NodeDescriptor string

// SystemDescriptor names an independent tracking system (one coordinate frame).
type SystemDescriptor string

// SensorID identifies a physical sensor within one tracking system.
type SensorID int

// SensorKey is the arena key of a sensor: unique across all systems.
type SensorKey struct {
	System SystemDescriptor
	ID     SensorID
}

func (k SensorKey) String() string {
	return fmt.Sprintf("%s/%d", k.System, k.ID)
}

// Kind selects the shape of a measurement's data vector.
type Kind int

const (
	KindPosition  Kind = iota // x, y, z
	KindRotation              // quaternion w, x, y, z
	KindScale                 // sx, sy, sz
	KindRigidBody             // x, y, z, qw, qx, qy, qz
)

// Dim returns the data dimension for k, or 0 for an unknown kind.
func (k Kind) Dim() int {
	switch k {
	case KindPosition, KindScale:
		return 3
	case KindRotation:
		return 4
	case KindRigidBody:
		return 7
	default:
		return 0
	}
}

// HasPosition reports whether data[0:3] is a position.
func (k Kind) HasPosition() bool {
	return k == KindPosition || k == KindRigidBody
}

// HasRotation reports whether the record carries a quaternion.
func (k Kind) HasRotation() bool {
	return k == KindRotation || k == KindRigidBody
}

// rotationOffset is the index of the quaternion's real part in data.
func (k Kind) rotationOffset() int {
	if k == KindRigidBody {
		return 3
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindRotation:
		return "rotation"
	case KindScale:
		return "scale"
	case KindRigidBody:
		return "rigid_body"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps the wire names produced by String back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "position":
		return KindPosition, nil
	case "rotation":
		return KindRotation, nil
	case "scale":
		return KindScale, nil
	case "rigid_body":
		return KindRigidBody, nil
	default:
		return 0, fmt.Errorf("unknown measurement kind %q", s)
	}
}
