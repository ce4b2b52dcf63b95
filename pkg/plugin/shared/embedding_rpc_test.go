package shared

import (
	"errors"
	"net"
	"net/rpc"
	"testing"
)

type fakeEmbedder struct {
	warmupErr error
}

func (f *fakeEmbedder) Info() ModelInfo {
	return ModelInfo{Name: "fake", Dimensions: 2, MaxBatchSize: 4}
}

func (f *fakeEmbedder) Embed(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no input")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Warmup() error { return f.warmupErr }
func (f *fakeEmbedder) Close() error  { return nil }

func pipeClient(t *testing.T, impl Embedder) *EmbeddingRPCClient {
	t.Helper()

	server := rpc.NewServer()
	if err := server.RegisterName("Plugin", &EmbeddingRPCServer{Impl: impl}); err != nil {
		t.Fatal(err)
	}

	clientConn, serverConn := net.Pipe()
	go server.ServeConn(serverConn)

	c := rpc.NewClient(clientConn)
	t.Cleanup(func() { c.Close() })
	return NewEmbeddingRPCClient(c)
}

func TestEmbeddingRPCRoundTrip(t *testing.T) {
	c := pipeClient(t, &fakeEmbedder{})

	info := c.Info()
	if info.Name != "fake" || info.Dimensions != 2 || info.MaxBatchSize != 4 {
		t.Errorf("Info() = %+v", info)
	}

	vecs, err := c.Embed([]string{"abc", "de"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0][0] != 3 || vecs[1][0] != 2 {
		t.Errorf("Embed() = %v", vecs)
	}

	if err := c.Warmup(); err != nil {
		t.Errorf("Warmup() = %v", err)
	}
}

func TestEmbeddingRPCRemoteErrors(t *testing.T) {
	c := pipeClient(t, &fakeEmbedder{warmupErr: errors.New("model file missing")})

	var remote *RemoteError
	if err := c.Warmup(); !errors.As(err, &remote) || remote.Method != "Warmup" {
		t.Errorf("expected RemoteError from Warmup, got %v", err)
	}
	if _, err := c.Embed(nil); !errors.As(err, &remote) || remote.Message != "no input" {
		t.Errorf("expected RemoteError from Embed, got %v", err)
	}
}
