package passbundle

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Kind classifies packaging failures for programmatic handling.
type Kind string

const (
	// KindValidation: a precondition on the input failed; nothing was written.
	KindValidation Kind = "validation"
	// KindDirectoryConflict: the staging directory already exists and overwrite is disabled.
	KindDirectoryConflict Kind = "directory conflict"
	// KindIO: a filesystem read, write or create failed.
	KindIO Kind = "io"
	// KindSignature: signing failed or the signature could not be extracted.
	KindSignature Kind = "signature"
	// KindArchive: the zip archive could not be written.
	KindArchive Kind = "archive"
	// KindCleanup: the staging directory could not be removed after a run.
	KindCleanup Kind = "cleanup"
)

var (
	ErrEmptySerialNumber   = errors.New("serial number is empty")
	ErrInvalidSerialNumber = errors.New("serial number is not a valid directory name")
	ErrStagingDirExists    = errors.New("staging directory already exists")
	ErrDuplicateFile       = errors.New("two items map to the same file name")
	ErrKeyMismatch         = errors.New("private key does not match certificate")
	ErrNoCertificate       = errors.New("certificate material is required for signing")
	ErrEmptySignature      = errors.New("signature payload is empty")
	ErrEnvelopeMarker      = errors.New(`signature envelope has no filename="smime.p7s" part`)
	ErrEnvelopeBoundary    = errors.New("signature envelope has no closing boundary")
)

// Error is the structured error returned by the packaging pipeline.
type Error struct {
	Kind Kind
	// Op names the step that failed, e.g. "stage", "sign".
	Op string
	// Path is the file or directory involved, if any.
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IsKind reports whether err, or any error combined into it, is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for _, e := range multierr.Errors(err) {
		var pe *Error
		if errors.As(e, &pe) && pe.Kind == kind {
			return true
		}
	}
	return false
}

// KindOf returns the kind of the first *Error in err, or "" if there is none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
