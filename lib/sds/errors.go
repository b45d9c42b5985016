package sds

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/frame"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"io"
)

// --------------------------------------------------------------------------
// Status codes of the device side API
// --------------------------------------------------------------------------

const (
	CodeOK        int32 = 0
	CodeError     int32 = -1
	CodeParameter int32 = -2
	CodeTimeout   int32 = -3
	CodeInterface int32 = -4
	CodeNoServer  int32 = -5
	CodeEOS       int32 = -6
)

// --------------------------------------------------------------------------
// Error classes
// --------------------------------------------------------------------------

var (
	// ErrGeneric is the class of unspecified errors
	ErrGeneric = errors.New("error")
	// ErrParameter is the class of invalid arguments
	ErrParameter = errors.New("invalid parameter")
	// ErrTimeout is returned when an operation did not complete in time.
	// The state of the stream is unchanged, the operation can be retried.
	ErrTimeout = errors.New("timeout")
	// ErrInterface is the class of transport and protocol failures. A stream
	// that returned it is broken until it is closed.
	ErrInterface = errors.New("interface error")
	// ErrNoServer is returned when the remote counterpart cannot be reached
	ErrNoServer = errors.New("no server")
)

// classError is a refinement of one of the error classes
type classError struct {
	msg   string
	class error
}

func (e *classError) Error() string { return e.msg }
func (e *classError) Unwrap() error { return e.class }

var (
	ErrInvalidHandle      error = &classError{"invalid handle", ErrParameter}
	ErrInvalidName        error = &classError{"invalid stream name", ErrParameter}
	ErrConflict           error = &classError{"stream already open", ErrGeneric}
	ErrNotFound           error = &classError{"stream not found", ErrInterface}
	ErrAlreadyInitialized error = &classError{"already initialized", ErrGeneric}
	ErrNotInitialized     error = &classError{"not initialized", ErrGeneric}
	ErrUninitIncomplete   error = &classError{"uninit incomplete", ErrGeneric}
	ErrHandleClosed       error = &classError{"handle closed", ErrInterface}
)

// OpError is returned by every operation of the service
type OpError struct {
	Op   string
	Name string
	Err  error
}

func (e *OpError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("sds %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("sds %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// CodeOf maps an error returned by the service to its status code
func CodeOf(err error) int32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, io.EOF):
		return CodeEOS
	case errors.Is(err, ErrParameter):
		return CodeParameter
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrNoServer):
		return CodeNoServer
	case errors.Is(err, ErrInterface):
		return CodeInterface
	default:
		return CodeError
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func opErr(op, name string, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	return &OpError{Op: op, Name: name, Err: err}
}

// classify maps transport and link errors to the error classes
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isClassified(err):
		return err
	case transport.IsTimeout(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, transport.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, common.ErrInvalidName):
		return fmt.Errorf("%w: %v", ErrInvalidName, err)
	case errors.Is(err, transport.ErrUnreachable):
		return fmt.Errorf("%w: %v", ErrNoServer, err)
	case errors.Is(err, frame.ErrLinkDown) && transport.IsDisconnect(err):
		return fmt.Errorf("%w: %v", ErrNoServer, err)
	case errors.Is(err, context.Canceled):
		return ErrHandleClosed
	default:
		return fmt.Errorf("%w: %v", ErrInterface, err)
	}
}

func isClassified(err error) bool {
	for _, class := range []error{ErrGeneric, ErrParameter, ErrTimeout, ErrInterface, ErrNoServer} {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}
