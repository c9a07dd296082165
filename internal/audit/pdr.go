// Package audit provides PDR (Process Decision Record) writing for beacon.
// Every task transition that mutates server state leaves one record.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/beacon/internal/models"
)

// Actions recorded by the control plane.
const (
	ActionQueue    = "task.queue"
	ActionDispatch = "task.dispatch"
	ActionComplete = "task.complete"
	ActionKill     = "task.kill"
)

// Outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSinkError = "sink_error"
)

// Backend persists PDR rows. *store.Store satisfies it.
type Backend interface {
	WritePDR(action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	backend Backend
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(b Backend) *PDRWriter {
	return &PDRWriter{backend: b}
}

// Record writes a PDR entry for a state-mutating action. A nil writer is a
// no-op so callers can run without an audit database.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, taskID, details string) (*models.PDREntry, error) {
	if w == nil || w.backend == nil {
		return nil, nil
	}
	inputsHash := hashInputs(inputs)
	return w.backend.WritePDR(action, inputsHash, outcome, taskID, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
