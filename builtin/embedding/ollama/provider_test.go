package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spetr/chatwizard/pkg/types"
)

type fakeOllama struct {
	versionCalls atomic.Int32
	showCalls    atomic.Int32
	embedCalls   atomic.Int32
	modelMissing bool
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		f.versionCalls.Add(1)
		w.Write([]byte(`{"version":"0.5.0"}`))
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		f.showCalls.Add(1)
		if f.modelMissing {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"model not found"}`))
			return
		}
		w.Write([]byte(`{"modelfile":""}`))
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3,0.4]}`))
	})
	return mux
}

func TestWarmupRunsOnce(t *testing.T) {
	fake := &fakeOllama{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	p := New(Config{Endpoint: srv.URL})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Embed(context.Background(), []string{"x"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if fake.versionCalls.Load() != 1 || fake.showCalls.Load() != 1 {
		t.Errorf("init checks ran version=%d show=%d, want 1 each", fake.versionCalls.Load(), fake.showCalls.Load())
	}
	// One warmup embedding plus one per Embed call.
	if fake.embedCalls.Load() != 9 {
		t.Errorf("embed calls = %d, want 9", fake.embedCalls.Load())
	}
	if p.Dimensions() != 4 {
		t.Errorf("Dimensions() = %d, want 4", p.Dimensions())
	}
}

func TestWarmupModelMissing(t *testing.T) {
	fake := &fakeOllama{modelMissing: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	p := New(Config{Endpoint: srv.URL})
	err := p.Warmup(context.Background())
	if !errors.Is(err, types.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}

	var vendorErr *types.VendorError
	if !errors.As(err, &vendorErr) || vendorErr.Code != "model_not_found" {
		t.Errorf("expected model_not_found cause, got %v", err)
	}

	// Failure is not remembered.
	_ = p.Warmup(context.Background())
	if fake.showCalls.Load() != 2 {
		t.Errorf("show calls = %d, want 2 after retry", fake.showCalls.Load())
	}
}

func TestWarmupUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := New(Config{Endpoint: url})
	err := p.Warmup(context.Background())
	if !errors.Is(err, types.ErrEmbeddingUnavailable) || !errors.Is(err, types.ErrTransport) {
		t.Errorf("expected unavailable transport error, got %v", err)
	}
}
