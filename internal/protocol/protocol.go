// Package protocol defines the beacon wire format: every payload is JSON,
// then zlib-compressed. Both directions use the same two stages and must
// apply them in the same order.
//
// Schema version 1:
//
//	task response   descriptor {"v":1,"command":...,"result":...,"requested":...,"status":...}
//	                or the string "No Queued Tasks"
//	result request  ["line", ...] | {"kind":...} | "KILLED"
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fentz26/beacon/internal/models"
	"github.com/klauspost/compress/zlib"
)

// SchemaVersion is the descriptor version this build speaks.
const SchemaVersion = 1

// NoWork is the sentinel sent in place of a descriptor when nothing is queued.
const NoWork = "No Queued Tasks"

// Header names and values used by the dispatch boundary.
const (
	HeaderStatus = "Status"
	StatusTask   = "task"
	StatusResult = "result"
	ContentType  = "application/json"
)

var (
	// ErrMalformed wraps any decompression or JSON decoding failure.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnsupportedVersion is returned for descriptors from a newer schema.
	ErrUnsupportedVersion = errors.New("unsupported schema version")
)

// TaskDescriptor is the wire view of a task.
type TaskDescriptor struct {
	Version   int               `json:"v"`
	Command   string            `json:"command"`
	Result    *models.Result    `json:"result"`
	Requested bool              `json:"requested"`
	Status    models.TaskStatus `json:"status"`
}

// Describe converts a task into its wire descriptor. Server-local fields
// (id, timestamps) are not sent.
func Describe(t models.Task) TaskDescriptor {
	return TaskDescriptor{
		Version:   SchemaVersion,
		Command:   t.Command,
		Result:    t.Result,
		Requested: t.Requested,
		Status:    t.Status,
	}
}

// Encode marshals v to JSON and compresses it.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return Compress(raw)
}

// Decode decompresses data and unmarshals the JSON into v.
func Decode(data []byte, v any) error {
	raw, err := Decompress(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// Compress applies zlib compression.
func Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return raw, nil
}

// EncodeTaskResponse encodes the answer to a task poll. ok=false encodes the
// no-work sentinel.
func EncodeTaskResponse(t models.Task, ok bool) ([]byte, error) {
	if !ok {
		return Encode(NoWork)
	}
	return Encode(Describe(t))
}

// TaskResponse is the decoded answer to a task poll.
type TaskResponse struct {
	NoWork     bool
	Descriptor TaskDescriptor
}

// DecodeTaskResponse decodes a task poll answer.
func DecodeTaskResponse(data []byte) (TaskResponse, error) {
	raw, err := Decompress(data)
	if err != nil {
		return TaskResponse{}, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return TaskResponse{}, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return TaskResponse{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if s != NoWork {
			return TaskResponse{}, fmt.Errorf("%w: unexpected sentinel %q", ErrMalformed, s)
		}
		return TaskResponse{NoWork: true}, nil
	}

	var d TaskDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return TaskResponse{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if d.Version > SchemaVersion {
		return TaskResponse{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, d.Version)
	}
	return TaskResponse{Descriptor: d}, nil
}

// EncodeResult encodes an agent result submission.
func EncodeResult(r models.Result) ([]byte, error) {
	return Encode(r)
}

// DecodeResult decodes an agent result submission.
func DecodeResult(data []byte) (models.Result, error) {
	var r models.Result
	if err := Decode(data, &r); err != nil {
		return models.Result{}, err
	}
	return r, nil
}
