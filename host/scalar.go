package host

import "fmt"

// ScalarKind is the closed set of voxel sample types.
type ScalarKind int

const (
	// ScalarUnknown is not a valid sample type.
	ScalarUnknown ScalarKind = iota
	ScalarInt8
	ScalarUint8
	ScalarInt16
	ScalarUint16
	ScalarInt32
	ScalarUint32
	ScalarInt64
	ScalarUint64
	ScalarFloat32
	ScalarFloat64
)

var scalarNames = [...]string{
	ScalarUnknown: "unknown",
	ScalarInt8:    "int8",
	ScalarUint8:   "uint8",
	ScalarInt16:   "int16",
	ScalarUint16:  "uint16",
	ScalarInt32:   "int32",
	ScalarUint32:  "uint32",
	ScalarInt64:   "int64",
	ScalarUint64:  "uint64",
	ScalarFloat32: "float32",
	ScalarFloat64: "float64",
}

var scalarSizes = [...]int{
	ScalarInt8:    1,
	ScalarUint8:   1,
	ScalarInt16:   2,
	ScalarUint16:  2,
	ScalarInt32:   4,
	ScalarUint32:  4,
	ScalarInt64:   8,
	ScalarUint64:  8,
	ScalarFloat32: 4,
	ScalarFloat64: 8,
}

// String returns the Go type name of the kind.
func (k ScalarKind) String() string {
	if k.Valid() || k == ScalarUnknown {
		return scalarNames[k]
	}
	return fmt.Sprintf("ScalarKind(%d)", int(k))
}

// Valid reports whether k is a supported sample type.
func (k ScalarKind) Valid() bool {
	return k > ScalarUnknown && k <= ScalarFloat64
}

// Size returns the sample width in bytes, zero for invalid kinds.
func (k ScalarKind) Size() int {
	if !k.Valid() {
		return 0
	}
	return scalarSizes[k]
}

// Signed reports whether the kind can represent negative values.
func (k ScalarKind) Signed() bool {
	switch k {
	case ScalarInt8, ScalarInt16, ScalarInt32, ScalarInt64, ScalarFloat32, ScalarFloat64:
		return true
	}
	return false
}

// Scalar is the constraint satisfied by every supported sample type.
type Scalar interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 |
		int64 | uint64 | float32 | float64
}

// KindOf returns the ScalarKind of T.
func KindOf[T Scalar]() ScalarKind {
	var zero T
	switch any(zero).(type) {
	case int8:
		return ScalarInt8
	case uint8:
		return ScalarUint8
	case int16:
		return ScalarInt16
	case uint16:
		return ScalarUint16
	case int32:
		return ScalarInt32
	case uint32:
		return ScalarUint32
	case int64:
		return ScalarInt64
	case uint64:
		return ScalarUint64
	case float32:
		return ScalarFloat32
	case float64:
		return ScalarFloat64
	}
	return ScalarUnknown
}
