package ig

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrLocationUnavailable  = errors.New("location unavailable")
	ErrLatencyNotMeasured   = errors.New("latency not measured")
	ErrUnknownNode          = errors.New("unknown node")
	ErrDuplicateNode        = errors.New("duplicate node")
	ErrEmptyName            = errors.New("node name is required")
)

// UnknownNodeError names an identifier missing from the registry.
type UnknownNodeError struct {
	Name string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node %q", e.Name)
}

func (e *UnknownNodeError) Is(target error) bool {
	return target == ErrUnknownNode
}
