package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// KilledPayload is the literal result an agent reports when it acknowledges
// the kill sentinel.
const KilledPayload = "KILLED"

// ErrUnknownResult is returned when a result payload is neither a line list,
// a failure object, nor the kill acknowledgment.
var ErrUnknownResult = errors.New("unrecognized result payload")

// Failure kinds.
const (
	FailureExec     = "exec"
	FailureProtocol = "protocol"
	FailureAgent    = "agent"
)

// Failure is the structured error descriptor an agent reports instead of
// output when a command could not be run to a zero exit.
type Failure struct {
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Args     []string `json:"args,omitempty"`
	ExitCode int      `json:"exit_code"`
	Stderr   string   `json:"stderr,omitempty"`
	TimedOut bool     `json:"timed_out,omitempty"`
}

// Result is what an agent reports for a dispatched task. Exactly one of
// Lines, Failure or Killed is meaningful.
//
// JSON form:
//
//	["line 1", "line 2"]         success
//	{"kind": "exec", ...}        failure
//	"KILLED"                     kill acknowledgment
type Result struct {
	Lines   []string
	Failure *Failure
	Killed  bool
}

// LinesResult builds a success result. A nil slice is normalized to empty so
// it encodes as [] rather than null.
func LinesResult(lines []string) Result {
	if lines == nil {
		lines = []string{}
	}
	return Result{Lines: lines}
}

// FailureResult builds a failure result.
func FailureResult(f Failure) Result {
	return Result{Failure: &f}
}

// KilledResult builds the kill acknowledgment.
func KilledResult() Result {
	return Result{Killed: true}
}

// IsFailure reports whether the result carries a failure descriptor.
func (r Result) IsFailure() bool {
	return r.Failure != nil
}

// Clone returns a deep copy.
func (r Result) Clone() Result {
	c := Result{Killed: r.Killed}
	if r.Lines != nil {
		c.Lines = append([]string{}, r.Lines...)
	}
	if r.Failure != nil {
		f := *r.Failure
		if f.Args != nil {
			f.Args = append([]string{}, f.Args...)
		}
		c.Failure = &f
	}
	return c
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Killed:
		return json.Marshal(KilledPayload)
	case r.Failure != nil:
		return json.Marshal(r.Failure)
	default:
		lines := r.Lines
		if lines == nil {
			lines = []string{}
		}
		return json.Marshal(lines)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrUnknownResult
	}

	switch data[0] {
	case '[':
		var lines []string
		if err := json.Unmarshal(data, &lines); err != nil {
			return fmt.Errorf("decode result lines: %w", err)
		}
		*r = LinesResult(lines)
		return nil
	case '{':
		var f Failure
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decode result failure: %w", err)
		}
		*r = FailureResult(f)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode result string: %w", err)
		}
		if s != KilledPayload {
			return fmt.Errorf("%w: %q", ErrUnknownResult, s)
		}
		*r = KilledResult()
		return nil
	default:
		return ErrUnknownResult
	}
}
