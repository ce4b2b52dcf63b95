// Package shared defines the contract between the host and embedding plugins.
package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake is a common handshake that is shared by plugin and host.
// Prevents plugins compiled with different versions from running.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  2,
	MagicCookieKey:   "CHATWIZARD_PLUGIN",
	MagicCookieValue: "chatwizard-embedding-v2",
}

// PluginEmbedding is the name embedding plugins are dispensed under.
const PluginEmbedding = "embedding"

// PluginMap is the map of plugins we can dispense.
var PluginMap = map[string]plugin.Plugin{
	PluginEmbedding: &EmbeddingPlugin{},
}

// ModelInfo describes an embedding model served by a plugin.
type ModelInfo struct {
	Name         string
	Dimensions   int
	MaxBatchSize int
}

// Embedder is implemented by plugin binaries.
// It is context-free because calls cross a process boundary over net/rpc.
type Embedder interface {
	Info() ModelInfo
	Embed(texts []string) ([][]float32, error)
	Warmup() error
	Close() error
}

// EmbeddingPlugin is the plugin.Plugin implementation for embedding models.
type EmbeddingPlugin struct {
	Impl Embedder
}

func (p *EmbeddingPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &EmbeddingRPCServer{Impl: p.Impl}, nil
}

func (p *EmbeddingPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return NewEmbeddingRPCClient(c), nil
}

// Serve runs impl as a plugin process. It blocks until the host disconnects.
func Serve(impl Embedder) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			PluginEmbedding: &EmbeddingPlugin{Impl: impl},
		},
	})
}
