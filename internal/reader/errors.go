package reader

import "fmt"

// CommandError marks a failure the dispatcher reports without crashing:
// violated preconditions, unknown devices, a powered-off bus, a device that
// answered with an error. Anything else that escapes a handler is unexpected
// and propagates as-is.
type CommandError struct {
	msg string
}

func (e *CommandError) Error() string { return e.msg }

// Errorf builds a CommandError with a formatted message.
func Errorf(format string, args ...any) *CommandError {
	return &CommandError{msg: fmt.Sprintf(format, args...)}
}
