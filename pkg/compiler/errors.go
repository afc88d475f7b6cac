package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/goflash/pkg/boardconfig"
	"github.com/3leaps/goflash/pkg/buildrun"
	"github.com/3leaps/goflash/pkg/imagesource"
	"github.com/3leaps/goflash/pkg/portscan"
)

// Code is the numeric error code surfaced to clients.
//
// NOTE: Codes 0-3 are shared with existing clients and must not change.
type Code int

const (
	CodeBoardNotSet              Code = 0
	CodeBoardNotSupported        Code = 1
	CodeNoPortFound              Code = 2
	CodeMultipleBoardsConnected  Code = 3 // reserved; the port scanner never raises it
	CodeProjectConfigUnavailable Code = 4
	CodeCompileProtocolError     Code = 5
	CodeWorkspaceUnavailable     Code = 6
	CodeImageUnavailable         Code = 7
	CodeInternal                 Code = 99
)

func (c Code) String() string {
	switch c {
	case CodeBoardNotSet:
		return "BOARD_NOT_SET"
	case CodeBoardNotSupported:
		return "BOARD_NOT_SUPPORTED"
	case CodeNoPortFound:
		return "NO_PORT_FOUND"
	case CodeMultipleBoardsConnected:
		return "MULTIPLE_BOARDS_CONNECTED"
	case CodeProjectConfigUnavailable:
		return "PROJECT_CONFIG_UNAVAILABLE"
	case CodeCompileProtocolError:
		return "COMPILE_PROTOCOL_ERROR"
	case CodeWorkspaceUnavailable:
		return "WORKSPACE_UNAVAILABLE"
	case CodeImageUnavailable:
		return "IMAGE_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// Error is the typed error returned by every Facade operation.
type Error struct {
	Code    Code   `json:"code"`
	Board   string `json:"board,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Cause returns the underlying error text, or "".
func (e *Error) Cause() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// CodeOf extracts the code of a *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

var (
	errBoardNotSet = errors.New("board not set")
	errWorkspace   = errors.New("workspace unavailable")
)

func newError(code Code, board string, err error) *Error {
	return &Error{Code: code, Board: board, Message: message(code, board), Err: err}
}

func message(code Code, board string) string {
	switch code {
	case CodeBoardNotSet:
		return "Necessary to define board before to run/compile"
	case CodeBoardNotSupported:
		return fmt.Sprintf("Board: %s not Supported", board)
	case CodeNoPortFound:
		return fmt.Sprintf("No port found, check the board: %q is connected", board)
	case CodeMultipleBoardsConnected:
		return "More than one connected board was found. You should only have one board connected"
	case CodeProjectConfigUnavailable:
		return "Project configuration is not available"
	case CodeCompileProtocolError:
		return "Build process returned an unreadable result"
	case CodeWorkspaceUnavailable:
		return "No build workspace could be prepared"
	case CodeImageUnavailable:
		return "Firmware image is not available"
	default:
		return "Internal error"
	}
}

// classify maps a failure of board onto the closed Code set. A *Error
// already in the chain is returned unchanged.
func classify(board string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, errBoardNotSet):
		return newError(CodeBoardNotSet, board, err)
	case errors.Is(err, boardconfig.ErrProjectConfigUnavailable):
		return newError(CodeProjectConfigUnavailable, board, err)
	case errors.Is(err, boardconfig.ErrBoardNotSupported):
		return newError(CodeBoardNotSupported, board, err)
	case errors.Is(err, portscan.ErrNoPortFound):
		return newError(CodeNoPortFound, board, err)
	case errors.Is(err, buildrun.ErrProtocol):
		return newError(CodeCompileProtocolError, board, err)
	case errors.Is(err, errWorkspace):
		return newError(CodeWorkspaceUnavailable, board, err)
	case errors.Is(err, imagesource.ErrInvalidRef),
		errors.Is(err, imagesource.ErrImageNotFound),
		errors.Is(err, imagesource.ErrAccessDenied),
		errors.Is(err, imagesource.ErrUnavailable):
		return newError(CodeImageUnavailable, board, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e := newError(CodeInternal, board, err)
		e.Message = "Operation cancelled"
		return e
	default:
		return newError(CodeInternal, board, err)
	}
}
