package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_EmptyEndpointDisabled(t *testing.T) {
	// WHAT: An empty endpoint yields a disabled client failing with ErrDisabled.
	// WHY: The topic-fit scorer keys its neutral fallback on this error.
	emb := New(Config{})
	if emb.Enabled() {
		t.Error("expected disabled embedder")
	}
	if _, err := emb.Embed(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got: %v", err)
	}
}

func TestEmbedBatch_PreservesInputOrder(t *testing.T) {
	// WHAT: Vectors come back aligned with input order even if the server
	// returns rows out of order.
	// WHY: Topic anchors are matched to candidates positionally.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := embedResponse{}
		// Reverse order on purpose.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i)}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL, Model: "test"})
	vecs, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if len(v) != 1 || v[0] != float32(i) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, v, i)
		}
	}
}

func TestEmbed_ServerError(t *testing.T) {
	// WHAT: A 500 from the server surfaces as an error, not a panic or hang.
	// WHY: The scorer must see an error to apply its fallback.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	if _, err := emb.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error from 500 response")
	}
}

func TestCosineSimilarity(t *testing.T) {
	// WHAT: Identical vectors score 1, orthogonal 0, mismatched lengths 0.
	// WHY: Topic fit derives directly from these values.
	a := []float32{1, 0, 0}
	if got := CosineSimilarity(a, a); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("cos(a,a) = %f, want 1", got)
	}
	if got := CosineSimilarity(a, []float32{0, 1, 0}); got != 0 {
		t.Errorf("cos orthogonal = %f, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1, 0}); got != 0 {
		t.Errorf("cos mismatched lengths = %f, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{0, 0, 0}); got != 0 {
		t.Errorf("cos zero vector = %f, want 0", got)
	}
}
