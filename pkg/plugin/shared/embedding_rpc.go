package shared

import (
	"net/rpc"
)

// EmbeddingRPCClient is the host side of an embedding plugin.
type EmbeddingRPCClient struct {
	client *rpc.Client
}

// NewEmbeddingRPCClient wraps an RPC connection to a plugin.
func NewEmbeddingRPCClient(c *rpc.Client) *EmbeddingRPCClient {
	return &EmbeddingRPCClient{client: c}
}

// EmbedArgs are the arguments for the Embed RPC call.
type EmbedArgs struct {
	Texts []string
}

// EmbedReply is the reply for the Embed RPC call.
// Plugin-side failures travel in Error so the RPC itself stays healthy.
type EmbedReply struct {
	Embeddings [][]float32
	Error      string
}

// Info returns the model description.
func (c *EmbeddingRPCClient) Info() ModelInfo {
	var resp ModelInfo
	if err := c.client.Call("Plugin.Info", new(interface{}), &resp); err != nil {
		return ModelInfo{MaxBatchSize: 1}
	}
	return resp
}

// Embed generates embeddings for the given texts.
func (c *EmbeddingRPCClient) Embed(texts []string) ([][]float32, error) {
	var resp EmbedReply
	if err := c.client.Call("Plugin.Embed", &EmbedArgs{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &RemoteError{Method: "Embed", Message: resp.Error}
	}
	return resp.Embeddings, nil
}

// Warmup loads the model inside the plugin process.
func (c *EmbeddingRPCClient) Warmup() error {
	return c.callStatus("Warmup")
}

// Close asks the plugin to release its model.
func (c *EmbeddingRPCClient) Close() error {
	return c.callStatus("Close")
}

func (c *EmbeddingRPCClient) callStatus(method string) error {
	var resp string
	if err := c.client.Call("Plugin."+method, new(interface{}), &resp); err != nil {
		return err
	}
	if resp != "" {
		return &RemoteError{Method: method, Message: resp}
	}
	return nil
}

// EmbeddingRPCServer is the plugin side of the RPC.
type EmbeddingRPCServer struct {
	Impl Embedder
}

// Info returns the model description.
func (s *EmbeddingRPCServer) Info(args interface{}, resp *ModelInfo) error {
	*resp = s.Impl.Info()
	return nil
}

// Embed generates embeddings for the given texts.
func (s *EmbeddingRPCServer) Embed(args *EmbedArgs, resp *EmbedReply) error {
	embeddings, err := s.Impl.Embed(args.Texts)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Embeddings = embeddings
	return nil
}

// Warmup loads the model.
func (s *EmbeddingRPCServer) Warmup(args interface{}, resp *string) error {
	if err := s.Impl.Warmup(); err != nil {
		*resp = err.Error()
	}
	return nil
}

// Close releases the model.
func (s *EmbeddingRPCServer) Close(args interface{}, resp *string) error {
	if err := s.Impl.Close(); err != nil {
		*resp = err.Error()
	}
	return nil
}

// RemoteError is an error reported by the plugin process.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return "plugin " + e.Method + ": " + e.Message
}
