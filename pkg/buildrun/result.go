package buildrun

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Marker separates build logs from the JSON result on the child's stdout.
const Marker = "###RESULT###"

// ErrProtocol matches every *ProtocolError.
var ErrProtocol = errors.New("build process protocol error")

// Result is the structured outcome reported by a build process.
type Result struct {
	Success     bool         `json:"success"`
	Output      string       `json:"output"`
	Diagnostics []Diagnostic `json:"errors,omitempty"`
	Size        *SizeReport  `json:"size,omitempty"`

	// Log is the build log printed before the marker.
	Log string `json:"-"`
}

// Diagnostic is one compiler or linker message.
type Diagnostic struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// SizeReport is the memory usage of the built image in bytes.
type SizeReport struct {
	Program int `json:"program"`
	Data    int `json:"data"`
}

// ProtocolError reports a build process that broke the output contract:
// the marker is missing or the payload after it is not one JSON object.
type ProtocolError struct {
	Reason string
	Stream string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrProtocol.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrProtocol.Error(), e.Reason)
}

// Unwrap lets errors.Is match both ErrProtocol and the decode cause.
func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocol, e.Err}
	}
	return []error{ErrProtocol}
}

// IsProtocolError reports whether err is a build protocol violation.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// Decoder turns the captured stream of a build process into a Result.
type Decoder func(stream []byte) (*Result, error)

// DecodeResult splits stream on the first Marker and decodes the remainder
// as a single JSON object. A well-formed result with Success false is not an
// error.
func DecodeResult(stream []byte) (*Result, error) {
	logPart, payload, found := bytes.Cut(stream, []byte(Marker))
	if !found {
		return nil, &ProtocolError{Reason: "result marker not found", Stream: string(stream)}
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ProtocolError{Reason: "result payload is not a JSON object", Stream: string(stream)}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var res Result
	if err := dec.Decode(&res); err != nil {
		return nil, &ProtocolError{Reason: "malformed result payload", Stream: string(stream), Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ProtocolError{Reason: "trailing data after result payload", Stream: string(stream)}
	}
	res.Log = string(logPart)
	return &res, nil
}

// EncodeResult writes the Marker followed by res as JSON. It is the child
// side of DecodeResult.
func EncodeResult(w io.Writer, res *Result) error {
	if res == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if _, err := io.WriteString(w, "\n"+Marker+"\n"); err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(res)
}
