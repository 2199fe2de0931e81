package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind names a schedulable unit of work. The set is closed: the worker
// dispatches with a total switch, so an unknown kind is a decoding error,
// not a runtime lookup miss.
type Kind string

const (
	KindOrchestrate   Kind = "orchestrate"
	KindDownload      Kind = "download"
	KindBatchDispatch Kind = "batch_dispatch"
	KindProcessClip   Kind = "process_clip"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindOrchestrate, KindDownload, KindBatchDispatch, KindProcessClip:
		return true
	}
	return false
}

// Envelope is one task message on the queue. Attempt counts executions of
// this unit (0 = first). RunID carries the agent-run ledger row across
// retries so a retried attempt re-opens the same row.
type Envelope struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Attempt int    `json:"attempt"`
	RunID   uint   `json:"run_id,omitempty"`
	VideoID uint   `json:"video_id"`

	// Orchestrate
	SkipDownload bool `json:"skip_download,omitempty"`

	// Batch dispatch
	CutPoints []float64 `json:"cut_points,omitempty"`
	ClipType  string    `json:"clip_type,omitempty"`

	// Process clip
	StartTime  float64 `json:"start_time,omitempty"`
	EndTime    float64 `json:"end_time,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
}

// NewEnvelope builds an envelope with a fresh id for the given kind and video.
func NewEnvelope(kind Kind, videoID uint) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		Kind:    kind,
		VideoID: videoID,
	}
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("refusing to encode envelope with unknown kind %q", e.Kind)
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses a wire message and rejects unknown kinds.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode task envelope: %w", err)
	}
	if !e.Kind.Valid() {
		return Envelope{}, fmt.Errorf("unknown task kind %q in envelope %s", e.Kind, e.ID)
	}
	return e, nil
}
