package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SyncStatus marks how far a batch has been synchronized.
type SyncStatus string

// SyncComplete is the only marker used when republishing reconstructed batches.
const SyncComplete SyncStatus = "complete"

// IsValid reports whether s is a known marker.
func (s SyncStatus) IsValid() bool {
	return s == SyncComplete
}

// UnmarshalJSON rejects unknown markers.
func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status := SyncStatus(raw)
	if !status.IsValid() {
		return fmt.Errorf("unknown sync status %q", raw)
	}
	*s = status
	return nil
}

// envelopeNamespace scopes envelope IDs so they never collide with other
// UUIDv5 users of the same run keys.
var envelopeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:batchsync:batch-synced"))

// SyncEnvelope pairs a BatchCompleted with its sync marker for the bus.
type SyncEnvelope struct {
	Batch  BatchCompleted `json:"batch_completed"`
	Status SyncStatus     `json:"sync_status"`
}

// NewSyncEnvelope wraps a batch as completely synced.
func NewSyncEnvelope(batch BatchCompleted) SyncEnvelope {
	return SyncEnvelope{Batch: batch, Status: SyncComplete}
}

// RunKey returns "location/hostHostname#hostname/runId", the storage path
// the batch was reconstructed from relative to the source root.
func (e SyncEnvelope) RunKey() string {
	return fmt.Sprintf("%s/%s#%s/%d", e.Batch.Location, e.Batch.HostHostname, e.Batch.Hostname, e.Batch.RunID)
}

// ID returns a UUIDv5 derived from RunKey. It is stable across
// reconstructions of the same run, so it doubles as a JetStream message ID.
func (e SyncEnvelope) ID() string {
	return uuid.NewSHA1(envelopeNamespace, []byte(e.RunKey())).String()
}

// Validate checks the marker and the wrapped batch.
func (e SyncEnvelope) Validate() error {
	if !e.Status.IsValid() {
		return fmt.Errorf("unknown sync status %q", e.Status)
	}
	if err := e.Batch.Validate(); err != nil {
		return fmt.Errorf("batch_completed: %w", err)
	}
	return nil
}

// Marshal serializes the envelope to compact JSON without a trailing newline.
func (e SyncEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes one serialized envelope strictly: unknown fields,
// trailing data and invalid envelopes are errors.
func Unmarshal(data []byte) (SyncEnvelope, error) {
	var env SyncEnvelope

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return SyncEnvelope{}, err
	}
	if dec.More() {
		return SyncEnvelope{}, fmt.Errorf("trailing data after envelope")
	}
	if err := env.Validate(); err != nil {
		return SyncEnvelope{}, err
	}
	return env, nil
}
