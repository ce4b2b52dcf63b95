// Package host provides the plugin host for loading external embedding plugins.
package host

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/spetr/chatwizard/pkg/plugin/shared"
)

// Manager manages plugin processes.
type Manager struct {
	pluginsDir string
	plugins    map[string]*LoadedPlugin
	mu         sync.RWMutex
	logger     hclog.Logger
}

// LoadedPlugin represents a running plugin process.
type LoadedPlugin struct {
	Name     string
	Path     string
	Client   *plugin.Client
	Embedder shared.Embedder
}

// NewManager creates a new plugin manager. logLevel is an hclog level name
// ("debug", "info", "warn", "error") for go-plugin's own output.
func NewManager(pluginsDir, logLevel string) *Manager {
	level := hclog.LevelFromString(logLevel)
	if level == hclog.NoLevel {
		level = hclog.Warn
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "plugins",
		Level:  level,
		Output: os.Stderr,
	})

	return &Manager{
		pluginsDir: pluginsDir,
		plugins:    make(map[string]*LoadedPlugin),
		logger:     logger,
	}
}

// Dir returns the plugins directory.
func (m *Manager) Dir() string {
	return m.pluginsDir
}

// DiscoverPlugins lists executable files in the plugins directory.
func (m *Manager) DiscoverPlugins() ([]string, error) {
	if _, err := os.Stat(m.pluginsDir); os.IsNotExist(err) {
		return nil, nil // No plugins directory
	}

	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var plugins []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		// Check if executable
		if info.Mode()&0111 != 0 {
			plugins = append(plugins, entry.Name())
		}
	}

	return plugins, nil
}

// LoadPlugin starts a plugin by name and dispenses its embedder.
// Loading an already running plugin returns the existing instance.
func (m *Manager) LoadPlugin(name string) (*LoadedPlugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, exists := m.plugins[name]; exists {
		return p, nil
	}

	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid plugin name: %s", name)
	}
	pluginPath := filepath.Join(m.pluginsDir, name)
	if _, err := os.Stat(pluginPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("plugin not found: %s", pluginPath)
	}

	slog.Info("loading plugin", "name", name, "path", pluginPath)

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: shared.Handshake,
		Plugins:         shared.PluginMap,
		Cmd:             exec.Command(pluginPath),
		Logger:          m.logger.Named(name),
		AllowedProtocols: []plugin.Protocol{
			plugin.ProtocolNetRPC,
		},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(shared.PluginEmbedding)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	embedder, ok := raw.(shared.Embedder)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s does not implement an embedder", name)
	}

	loaded := &LoadedPlugin{
		Name:     name,
		Path:     pluginPath,
		Client:   client,
		Embedder: embedder,
	}
	m.plugins[name] = loaded
	slog.Info("plugin loaded", "name", name)

	return loaded, nil
}

// UnloadPlugin stops a plugin process.
func (m *Manager) UnloadPlugin(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.plugins[name]
	if !exists {
		return nil
	}

	err := p.Embedder.Close()
	p.Client.Kill()

	delete(m.plugins, name)
	slog.Info("plugin unloaded", "name", name)

	return err
}

// UnloadAll stops all plugin processes.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, p := range m.plugins {
		if err := p.Embedder.Close(); err != nil {
			slog.Debug("plugin close failed", "name", name, "error", err)
		}
		p.Client.Kill()
		slog.Debug("plugin unloaded", "name", name)
	}

	m.plugins = make(map[string]*LoadedPlugin)
}

// ListLoaded returns the names of running plugins.
func (m *Manager) ListLoaded() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
