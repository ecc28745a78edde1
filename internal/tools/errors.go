package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned for a tag with no implementation.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyExists is returned when a tag is registered twice.
	ErrToolAlreadyExists = errors.New("tool already exists")

	// ErrInvalidArgs is returned when tool arguments are invalid or malformed.
	ErrInvalidArgs = errors.New("invalid tool arguments")

	// ErrToolTimeout is returned when a tool call outlives its deadline.
	ErrToolTimeout = errors.New("tool execution timeout")
)

// ToolError carries the tool name and detail of a failure. It matches its
// sentinel through errors.Is and unwraps to the cause when there is one.
type ToolError struct {
	Tool    string
	Kind    error
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Tool)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is matches the sentinel kind.
func (e *ToolError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the cause, or the sentinel kind.
func (e *ToolError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Kind
}

// NewToolNotFoundError reports a missing tool.
func NewToolNotFoundError(name string) error {
	return &ToolError{Tool: name, Kind: ErrToolNotFound}
}

// NewToolAlreadyExistsError reports a duplicate registration.
func NewToolAlreadyExistsError(name string) error {
	return &ToolError{Tool: name, Kind: ErrToolAlreadyExists}
}

// NewInvalidArgsError reports invalid arguments.
func NewInvalidArgsError(tool, message string, cause error) error {
	return &ToolError{Tool: tool, Kind: ErrInvalidArgs, Message: message, Cause: cause}
}

// NewToolTimeoutError reports a timed out call.
func NewToolTimeoutError(tool, duration string) error {
	return &ToolError{Tool: tool, Kind: ErrToolTimeout, Message: "after " + duration}
}
