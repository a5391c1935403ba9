package sync

import "fmt"

// ArgumentError reports a missing top-level argument. It is returned before
// any filesystem access.
type ArgumentError struct {
	Argument string
	Message  string
}

func (e *ArgumentError) Error() string {
	return e.Message
}

var (
	// ErrMissingSource is returned when the source directory is empty
	ErrMissingSource = &ArgumentError{
		Argument: "source",
		Message:  "Missing source directory or type is not a string.",
	}
	// ErrMissingDestination is returned when the destination directory is empty
	ErrMissingDestination = &ArgumentError{
		Argument: "destination",
		Message:  "Missing destination directory or type is not a string.",
	}
)

// FilesystemError wraps a failure of the underlying filesystem. The sync
// stops at the first one; changes already applied are kept.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// CallbackError wraps an error returned by one of the Hooks
type CallbackError struct {
	Hook string
	Path string
	Err  error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s hook for %s: %v", e.Hook, e.Path, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

func fsError(op, path string, err error) error {
	return &FilesystemError{Op: op, Path: path, Err: err}
}
