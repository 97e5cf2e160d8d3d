// Package message defines the wire types that batchsync reconstructs and
// republishes: BatchCompleted, the per-run completion summary, and
// SyncEnvelope, which pairs it with a sync-status marker for the bus.
//
// Both are plain values. They are built once per run directory, copied
// between pipeline stages and never mutated afterwards.
//
// # Wire format
//
// A SyncEnvelope serializes to a single compact JSON object:
//
//	{"batch_completed":{"status":"COMPLETE","hostname":"bot-03","host_hostname":"hv-1",
//	  "location":"ams","run_id":42,"external_ip":"203.0.113.7","bots_in_batch":8,
//	  "requests":120,"ads_found":7,"timestamp":1600000000},"sync_status":"complete"}
//
// The same bytes are used as the NATS payload and as one line of the event
// cache, so decoding is strict: unknown fields and unknown enum values are
// rejected.
package message
