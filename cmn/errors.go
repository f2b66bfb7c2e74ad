package cmn

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
)

// ErrKind classifies an error for propagation-policy purposes, per the
// error taxonomy: callers switch on Kind rather than sentinel-comparing
// wrapped errors.
type ErrKind int

const (
	ErrTransientNetwork ErrKind = iota
	ErrPermanentURL
	ErrAuthFailure
	ErrCorruptedLocal
	ErrCatalogWrite
	ErrShutdown
	ErrFatal
)

// Error wraps an underlying cause with a Kind so callers can decide
// whether to retry, record a BadURL, abort the run, or ignore and
// continue.
type Error struct {
	Kind  ErrKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("error kind=%d", e.Kind)
	}
	return e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind ErrKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func WrapError(kind ErrKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Cause: errors.Wrapf(cause, format, args...)}
}

// ReportError is the single sink through which fatal, user-visible
// failures leave the process. It writes a backtrace to
// <workingDir>/intern/errors/<epoch>-<shortid>.txt and returns the path
// written, never writing to stdout.
func ReportError(workingDir string, err error) (path string, reportErr error) {
	dir := filepath.Join(workingDir, InternDir, ErrorsDir)
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return "", mkErr
	}

	id, idErr := shortid.Generate()
	if idErr != nil {
		id = "0"
	}
	name := fmt.Sprintf("%d-%s.txt", time.Now().Unix(), id)
	path = filepath.Join(dir, name)

	body := fmt.Sprintf("%s\n\n%s\n%s\n", time.Now().Format(time.RFC3339), err.Error(), string(debug.Stack()))
	if writeErr := os.WriteFile(path, []byte(body), 0o644); writeErr != nil {
		return "", writeErr
	}
	glog.Errorf("fatal error, backtrace written to %s: %v", path, err)
	return path, nil
}
