// Package sessionlog persists completed tasks to a JSON document of the form
// {"OUTPUT_LOG": [task, ...]}. Every append rewrites the whole document.
package sessionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fentz26/beacon/internal/logging"
	"github.com/fentz26/beacon/internal/models"
	"github.com/fentz26/beacon/internal/protocol"
)

// LogKey is the single top-level key of the document.
const LogKey = "OUTPUT_LOG"

// errCorrupt marks a document that exists but does not parse.
var errCorrupt = errors.New("session log is not a valid document")

// Record is one completed task as written to the log.
type Record struct {
	Command   string            `json:"command"`
	Result    *models.Result    `json:"result"`
	Requested bool              `json:"requested"`
	Status    models.TaskStatus `json:"status"`
}

// File is a LogSink backed by a JSON file.
type File struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a File.
type Option func(*File)

// WithLogger sets the logger used to report a corrupt document.
func WithLogger(logger *slog.Logger) Option {
	return func(f *File) { f.logger = logging.Component(logger, "sessionlog") }
}

// Open returns a File for path, creating an empty file if none exists.
func Open(path string, opts ...Option) (*File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create session log: %w", err)
	}
	f.Close()

	file := &File{
		path:   path,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(file)
	}
	return file, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Append reads the current document, appends task and writes it back.
// A missing or empty document starts a fresh list. An unparsable one is
// first copied aside to <path>.corrupt-<timestamp>.
func (f *File) Append(_ context.Context, task models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.read()
	if errors.Is(err, errCorrupt) {
		if err := f.preserveCorrupt(); err != nil {
			return err
		}
		records, err = nil, nil
	}
	if err != nil {
		return err
	}

	d := protocol.Describe(task)
	raw, err := json.Marshal(Record{
		Command:   d.Command,
		Result:    d.Result,
		Requested: d.Requested,
		Status:    d.Status,
	})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	return f.write(append(records, raw))
}

// Records decodes every record currently in the document. Entries that do
// not match the record schema are skipped here but are never dropped from the
// file.
func (f *File) Records() ([]Record, error) {
	f.mu.Lock()
	raws, err := f.read()
	f.mu.Unlock()
	if errors.Is(err, errCorrupt) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// read returns the raw entries of the document so existing records are
// carried over without being re-decoded.
func (f *File) read() ([]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session log: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc map[string][]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	return doc[LogKey], nil
}

// preserveCorrupt renames the current document out of the way so a fresh
// list does not overwrite it.
func (f *File) preserveCorrupt() error {
	backup := fmt.Sprintf("%s.corrupt-%s", f.path, f.now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(f.path, backup); err != nil {
		return fmt.Errorf("preserve corrupt session log: %w", err)
	}
	f.logger.Warn("session log was not valid JSON, starting a fresh list", "path", f.path, "backup", backup)
	return nil
}

func (f *File) write(records []json.RawMessage) error {
	data, err := json.MarshalIndent(map[string][]json.RawMessage{LogKey: records}, "", "    ")
	if err != nil {
		return fmt.Errorf("encode session log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session log: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session log: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace session log: %w", err)
	}
	return nil
}
