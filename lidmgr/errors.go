package lidmgr

import "errors"

// FatalError marks a condition spec'd as sweep-aborting rather than
// recoverable: LID space exhaustion, or a persistence load failure while
// running in strict mode. cmd/lidmgrd maps it to a distinct exit path.
type FatalError struct {
	reason string
	err    error
}

func (e *FatalError) Error() string {
	if e.err != nil {
		return e.reason + ": " + e.err.Error()
	}

	return e.reason
}

func (e *FatalError) Unwrap() error {
	return e.err
}

func fatalf(reason string, err error) error {
	return &FatalError{reason: reason, err: err}
}

// ErrLidSpaceExhausted is returned (wrapped in a FatalError) when no free
// range can satisfy a port's required block size.
var ErrLidSpaceExhausted = errors.New("LID space exhausted")

// ErrPersistenceLoadFailed is returned (wrapped in a FatalError) when the
// persistence backend fails to load in strict mode.
var ErrPersistenceLoadFailed = errors.New("persistence load failed")

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
