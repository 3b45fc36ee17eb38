package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookAlerter_DeliversJSON(t *testing.T) {
	// WHAT: Alerts arrive as JSON POSTs with the full payload.
	// WHY: The receiving side (ops tooling) parses these fields directly.
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewWebhookAlerter(srv.URL, time.Second, testLogger(t))
	alert := &Alert{
		PostID:      "p1",
		Measurement: &RawMeasurement{Likes: i64(9)},
		Anomalies:   []string{"likes decreased from 10 to 9"},
		Confidence:  0.2,
	}
	if err := a.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if received.PostID != "p1" || len(received.Anomalies) != 1 {
		t.Errorf("payload lost in transit: %+v", received)
	}
}

func TestWebhookAlerter_NonSuccessIsError(t *testing.T) {
	// WHAT: A 500 response surfaces as an error.
	// WHY: The orchestrator logs delivery failures; it needs to see them.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewWebhookAlerter(srv.URL, time.Second, testLogger(t))
	if err := a.Send(context.Background(), &Alert{PostID: "p1"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
