package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

func streamServer(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestProvider(t *testing.T, url string) *Provider {
	t.Helper()
	p, err := New(Config{APIKey: "test-key", BaseURL: url + "/v1", Model: "gpt-4"})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

var hello = []types.Message{{Role: types.RoleUser, Content: "Hello"}}

func TestStreamChat(t *testing.T) {
	srv := streamServer(t, []string{"Hi", "", " there"})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)

	var got []string
	err := p.StreamChat(context.Background(), hello, types.GenerationConfig{}, func(f string) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	if strings.Join(got, "|") != "Hi| there" {
		t.Errorf("fragments = %q, want [Hi, there]", got)
	}
}

func TestStreamChatOrder(t *testing.T) {
	srv := streamServer(t, []string{"A", "B", "C"})
	defer srv.Close()

	text, err := provider.Collect(context.Background(), newTestProvider(t, srv.URL), hello, types.GenerationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if text != "ABC" {
		t.Errorf("text = %q, want ABC", text)
	}
}

func TestStreamChatVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	calls := 0
	err := newTestProvider(t, srv.URL).StreamChat(context.Background(), hello, types.GenerationConfig{}, func(string) error {
		calls++
		return nil
	})

	var vendorErr *types.VendorError
	if !errors.As(err, &vendorErr) {
		t.Fatalf("expected VendorError, got %v", err)
	}
	if vendorErr.StatusCode != http.StatusUnauthorized || vendorErr.Code != "invalid_api_key" {
		t.Errorf("unexpected vendor error: %+v", vendorErr)
	}
	if calls != 0 {
		t.Errorf("expected no fragments, got %d", calls)
	}
}

func TestNewMissingKey(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}

	var zero Provider
	err = zero.StreamChat(context.Background(), hello, types.GenerationConfig{}, func(string) error { return nil })
	if !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected configuration error from zero provider, got %v", err)
	}
}

func TestStreamChatCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	err := newTestProvider(t, srv.URL).StreamChat(ctx, hello, types.GenerationConfig{}, func(f string) error {
		got = append(got, f)
		cancel()
		return nil
	})
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(got) != 1 || got[0] != "partial" {
		t.Errorf("fragments = %q, want [partial]", got)
	}
}

func TestStreamChatTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	err := newTestProvider(t, srv.URL).StreamChat(context.Background(), hello,
		types.GenerationConfig{Timeout: 50 * time.Millisecond},
		func(string) error { return nil })

	var transportErr *types.TransportError
	if !errors.As(err, &transportErr) || !transportErr.Timeout {
		t.Fatalf("expected timeout TransportError, got %v", err)
	}
}

func TestStreamChatTemperature(t *testing.T) {
	tests := []struct {
		name        string
		temperature *float32
		present     bool
		max         float64 // upper bound of the sent value
		min         float64
	}{
		{"unset", nil, false, 0, 0},
		{"zero", types.Float32(0), true, 1e-6, 0},
		{"explicit", types.Float32(0.5), true, 0.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode request: %v", err)
				}
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\n")
				fmt.Fprint(w, "data: [DONE]\n\n")
			}))
			defer srv.Close()

			if _, err := provider.Collect(context.Background(), newTestProvider(t, srv.URL), hello,
				types.GenerationConfig{Temperature: tt.temperature}); err != nil {
				t.Fatal(err)
			}

			raw, ok := body["temperature"]
			if ok != tt.present {
				t.Fatalf("temperature present = %v, want %v (body %v)", ok, tt.present, body)
			}
			if !ok {
				return
			}
			got, _ := raw.(float64)
			if got < tt.min || got > tt.max {
				t.Errorf("temperature = %v, want within [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}
