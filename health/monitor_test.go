package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestMonitor_Update(t *testing.T) {
	monitor := NewMonitor()
	monitor.Update("nats", Status{Component: "wrong-name", Status: StateHealthy})

	got, exists := monitor.Get("nats")
	if !exists {
		t.Fatal("status not recorded")
	}
	if got.Component != "nats" {
		t.Errorf("component = %q, want nats", got.Component)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if monitor.Count() != 1 {
		t.Errorf("Count() = %d", monitor.Count())
	}
}

func TestMonitor_UpdateHelpers(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateFromBool("nats", false, "disconnected")
	if s, _ := monitor.Get("nats"); !s.IsUnhealthy() || s.Message != "disconnected" {
		t.Errorf("UpdateFromBool(false) = %+v", s)
	}
	monitor.UpdateFromBool("nats", true, "disconnected")
	if s, _ := monitor.Get("nats"); !s.IsHealthy() {
		t.Errorf("UpdateFromBool(true) = %+v", s)
	}

	monitor.UpdateDegraded("pipeline", "runs skipped")
	if s, _ := monitor.Get("pipeline"); !s.IsDegraded() {
		t.Errorf("UpdateDegraded = %+v", s)
	}
	monitor.UpdateFromError("pipeline", errors.New("boom"), "done")
	if s, _ := monitor.Get("pipeline"); !s.IsUnhealthy() {
		t.Errorf("UpdateFromError = %+v", s)
	}
}

func TestMonitor_Handler(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("nats", "OK")
	monitor.UpdateHealthy("pipeline", "publishing")

	rec := httptest.NewRecorder()
	monitor.Handler("batchsync").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}

	var body Status
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Component != "batchsync" || !body.IsHealthy() || len(body.SubStatuses) != 2 {
		t.Errorf("body = %+v", body)
	}

	monitor.UpdateUnhealthy("nats", "connection lost")
	rec = httptest.NewRecorder()
	monitor.Handler("batchsync").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewMonitor()
	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(2)
		go func(healthy bool) {
			defer wg.Done()
			monitor.UpdateFromBool("nats", healthy, "down")
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = monitor.AggregateHealth("batchsync")
		}()
	}
	wg.Wait()

	if monitor.Count() != 1 {
		t.Errorf("Count() = %d, want 1", monitor.Count())
	}
}
