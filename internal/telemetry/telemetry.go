// Package telemetry provides a JSONL event stream for dispatch runs. Every
// checkout, checkin, conflict, and queue transition is recorded as a
// structured JSON event, making runs auditable and replayable.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event kinds identify the type of telemetry event.
const (
	KindRunStart        = "run_start"
	KindRunDone         = "run_done"
	KindCheckout        = "checkout"
	KindCheckin         = "checkin"
	KindConflict        = "conflict"
	KindSubmit          = "submit"
	KindCollect         = "collect"
	KindCloseout        = "closeout"
	KindTuningReload    = "tuning_reload"
	KindSnapshotWritten = "snapshot_written"
)

// Event represents a single telemetry record. Each event carries a
// timestamp, a kind tag, the run it belongs to, and optional patch/worker
// identifiers along with arbitrary structured data.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	RunID     string    `json:"run,omitempty"`
	PatchID   string    `json:"patch,omitempty"`
	Worker    int       `json:"worker,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Emitter writes telemetry events to a JSONL file. It is safe for
// concurrent use by multiple goroutines. A nil *Emitter is a valid no-op
// emitter.
type Emitter struct {
	file  *os.File
	enc   *json.Encoder
	runID string
	mu    sync.Mutex
}

// NewEmitter creates an Emitter that writes JSONL events to the file at
// path, stamping every event with runID. The file is created if it does not
// exist, or appended to if it does.
func NewEmitter(path, runID string) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Emitter{
		file:  f,
		enc:   json.NewEncoder(f),
		runID: runID,
	}, nil
}

// Emit writes a single event, filling in the timestamp and run id if the
// caller left them zero. Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.RunID == "" {
		evt.RunID = e.runID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Calling Close on a nil
// Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}
