package message

import (
	"encoding/json"
	"fmt"
)

// BatchCompletedType is the schema of BatchCompleted payloads.
var BatchCompletedType = Type{Domain: "bot", Category: "batch_completed", Version: "v1"}

// BatchCompletionStatus is the terminal state of a batch.
type BatchCompletionStatus string

// StatusComplete is the only status the reconstruction path produces.
const StatusComplete BatchCompletionStatus = "COMPLETE"

// IsValid reports whether s is a known status.
func (s BatchCompletionStatus) IsValid() bool {
	return s == StatusComplete
}

// UnmarshalJSON rejects unknown statuses.
func (s *BatchCompletionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status := BatchCompletionStatus(raw)
	if !status.IsValid() {
		return fmt.Errorf("unknown batch completion status %q", raw)
	}
	*s = status
	return nil
}

// BatchCompleted summarizes one ad-bot run.
type BatchCompleted struct {
	Status       BatchCompletionStatus `json:"status"`
	Hostname     string                `json:"hostname"`
	HostHostname string                `json:"host_hostname"`
	Location     string                `json:"location"`
	RunID        int                   `json:"run_id"`
	ExternalIP   string                `json:"external_ip"`
	BotsInBatch  int                   `json:"bots_in_batch"`
	Requests     int                   `json:"requests"`
	AdsFound     int                   `json:"ads_found"`
	Timestamp    int64                 `json:"timestamp"`
}

// Schema returns BatchCompletedType.
func (b BatchCompleted) Schema() Type {
	return BatchCompletedType
}

// NonAdRequests returns the number of requests that served no ad.
func (b BatchCompleted) NonAdRequests() int {
	return b.Requests - b.AdsFound
}

// Validate checks the invariants every reconstructed batch satisfies.
// Anything the reconstructor can produce passes, so a cache written by
// batchsync always reloads.
func (b BatchCompleted) Validate() error {
	if !b.Status.IsValid() {
		return fmt.Errorf("unknown status %q", b.Status)
	}
	if b.Hostname == "" || b.HostHostname == "" {
		return fmt.Errorf("hostname and host_hostname are required")
	}
	if b.Location == "" {
		return fmt.Errorf("location is required")
	}
	if b.AdsFound < 0 || b.Requests < b.AdsFound {
		return fmt.Errorf("requests (%d) must be >= ads_found (%d) >= 0", b.Requests, b.AdsFound)
	}
	if b.BotsInBatch <= 0 {
		return fmt.Errorf("bots_in_batch must be positive, got %d", b.BotsInBatch)
	}
	// The IP is whatever the player page embedded; only emptiness is wrong.
	if b.ExternalIP == "" {
		return fmt.Errorf("external_ip is required")
	}
	return nil
}
