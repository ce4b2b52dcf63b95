// chatwizard is a command-line chat client and MCP server over multiple AI
// providers with retrieval from a local document index.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spetr/chatwizard/internal/chat"
	"github.com/spetr/chatwizard/internal/config"
	"github.com/spetr/chatwizard/internal/ingest"
	"github.com/spetr/chatwizard/internal/mcp"
	"github.com/spetr/chatwizard/pkg/plugin/host"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

var (
	version    = "0.1.0"
	projectDir string
	logLevel   string
	logFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatwizard",
	Short: "Chat with AI models over your own documents",
	Long: `chatwizard streams chat completions from OpenAI, Anthropic, Google
and Ollama models and can ground answers in a local document index.

It supports:
- Multiple completion providers selected by logical model id
- Embeddings from Ollama, OpenAI or an embedding plugin
- TreeSitter-based chunking for source code
- An MCP server exposing chat, search and ingestion tools`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(logLevel, logFormat)
		loadEnv(projectRoot())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chatwizard %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a prompt and stream the reply",
	Long:  `Send a prompt to a model and stream the reply to stdout. Without arguments the prompt is read from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		if prompt == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read prompt: %w", err)
			}
			prompt = string(data)
		}
		return runChat(cmd, strings.TrimSpace(prompt))
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Add files to the document index",
	Long:  `Chunk, embed and index a file or directory. If no path is provided, ingests the project directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		return runIngest(cmd, path)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the document index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runSearch(cmd, args[0], limit)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch for file changes and re-ingest automatically",
	Long:  `Watch for file changes and keep the document index in sync. If no path is provided, watches the project directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		debounce, _ := cmd.Flags().GetDuration("debounce")
		return runWatch(cmd, path, debounce)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured models",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModels(cmd)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return runConfigInit(force)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file and provider credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigValidate(cmd)
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Embedding plugin management",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available embedding plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPluginList(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "project directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	chatCmd.Flags().StringP("model", "m", "", "logical model id (default from config)")
	chatCmd.Flags().Bool("rag", false, "augment the prompt with retrieved documents")
	chatCmd.Flags().Float32("temperature", 0, "sampling temperature (default from config)")
	chatCmd.Flags().Int("max-tokens", 0, "maximum tokens to generate (default from config)")
	chatCmd.Flags().Duration("timeout", 0, "request timeout (default from config)")
	chatCmd.Flags().String("system", "", "system prompt")

	searchCmd.Flags().IntP("limit", "l", 5, "maximum results")

	watchCmd.Flags().Duration("debounce", 0, "debounce time (default from config)")

	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing config")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	pluginCmd.AddCommand(pluginListCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(pluginCmd)
}

func setupLogging(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runChat(cmd *cobra.Command, prompt string) error {
	if prompt == "" {
		return errors.New("empty prompt")
	}

	return withApp(cmd, func(a *app) error {
		model, _ := cmd.Flags().GetString("model")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		system, _ := cmd.Flags().GetString("system")
		useRAG := a.cfg.Retrieval.Enabled
		if cmd.Flags().Changed("rag") {
			useRAG, _ = cmd.Flags().GetBool("rag")
		}

		gen := types.GenerationConfig{
			Model:     model,
			MaxTokens: maxTokens,
			Timeout:   timeout,
		}
		if cmd.Flags().Changed("temperature") {
			t, _ := cmd.Flags().GetFloat32("temperature")
			gen.Temperature = types.Float32(t)
		}

		var conversation []types.Message
		if system != "" {
			conversation = append(conversation, types.Message{Role: types.RoleSystem, Content: system})
		}
		conversation = append(conversation, types.Message{Role: types.RoleUser, Content: prompt})

		ctx, stop := signalContext()
		defer stop()

		out := bufio.NewWriter(os.Stdout)
		resp, err := a.chat.Stream(ctx, chat.Request{
			Conversation: conversation,
			Generation:   gen,
			UseRAG:       useRAG,
		}, func(fragment string) error {
			if _, err := out.WriteString(fragment); err != nil {
				return err
			}
			return out.Flush()
		})
		out.WriteString("\n")
		out.Flush()

		if resp != nil && resp.Retrieval != nil {
			r := resp.Retrieval
			if r.RetrievalErr != nil {
				slog.Debug("retrieval skipped", "error", r.RetrievalErr)
			}
			slog.Debug("chat finished", "states", r.Transitions, "retrieved", len(r.Retrieved))
		}
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}
		if resp.Status == chat.StatusCancelled {
			fmt.Fprintln(os.Stderr, "[cancelled]")
		}
		return nil
	})
}

func runIngest(cmd *cobra.Command, path string) error {
	return withApp(cmd, func(a *app) error {
		if path == "" {
			path = a.root
		}
		absPath, _ := filepath.Abs(path)

		ctx, stop := signalContext()
		defer stop()

		startTime := time.Now()
		ing, err := a.ingester(ctx, func(p ingest.Progress) {
			fmt.Printf("\r[%d/%d] %s", p.Processed, p.Total, truncate(p.File, 60))
		})
		if err != nil {
			return fmt.Errorf("failed to create ingester: %w", err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return fmt.Errorf("cannot access %s: %w", absPath, err)
		}

		if !info.IsDir() {
			n, err := ing.IngestFile(ctx, absPath)
			if err != nil {
				return fmt.Errorf("ingest %s failed: %w", absPath, err)
			}
			fmt.Printf("Ingested %s: %d chunks\n", ing.SourceName(absPath), n)
			return nil
		}

		stats, err := ing.IngestDir(ctx, absPath)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}

		fmt.Printf("Ingested %d files (%d chunks) in %s\n", stats.Files, stats.Chunks, time.Since(startTime).Round(time.Millisecond))
		if stats.Skipped > 0 {
			fmt.Printf("Skipped: %d\n", stats.Skipped)
		}
		if stats.Failed > 0 {
			fmt.Printf("Failed:  %d (see log)\n", stats.Failed)
		}
		return nil
	})
}

func runSearch(cmd *cobra.Command, query string, limit int) error {
	return withApp(cmd, func(a *app) error {
		ctx, stop := signalContext()
		defer stop()

		emb, err := a.embedder(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve embedding model: %w", err)
		}
		vec, err := provider.EmbedText(ctx, emb, query)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		results, err := a.index.FindSimilar(ctx, vec, limit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if len(results) == 0 {
			fmt.Println("No results found")
			return nil
		}

		for i, r := range results {
			meta := r.Document.Metadata
			fmt.Printf("\n=== Result %d (score: %.3f) ===\n", i+1, r.Score)
			if src, ok := meta[ingest.MetadataSource]; ok {
				fmt.Printf("Source: %v:%v-%v\n", src, meta["start_line"], meta["end_line"])
			}
			if name, ok := meta["name"]; ok && name != "" {
				fmt.Printf("Name: %v (%v)\n", name, meta["chunk_type"])
			}
			fmt.Printf("\n%s\n", r.Document.Content)
		}
		return nil
	})
}

func runWatch(cmd *cobra.Command, path string, debounce time.Duration) error {
	return withApp(cmd, func(a *app) error {
		if path == "" {
			path = a.root
		}
		absPath, _ := filepath.Abs(path)
		if debounce <= 0 {
			debounce = a.cfg.Ingest.Debounce
		}

		ctx, stop := signalContext()
		defer stop()

		ing, err := a.ingester(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to create ingester: %w", err)
		}

		watcher, err := ingest.NewWatcher(ingest.WatcherConfig{
			Ingester: ing,
			Dir:      absPath,
			Debounce: debounce,
		})
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer watcher.Close()

		slog.Info("watching for changes", "path", absPath, "debounce", debounce)
		fmt.Printf("Watching %s for changes (press Ctrl+C to stop)\n", absPath)

		if err := watcher.Watch(ctx); err != nil {
			if ctx.Err() == nil {
				return fmt.Errorf("watcher error: %w", err)
			}
			slog.Info("watcher stopped")
		}
		return nil
	})
}

func runServe(cmd *cobra.Command) error {
	return withApp(cmd, func(a *app) error {
		ctx, stop := signalContext()
		defer stop()

		ing, err := a.ingester(ctx, nil)
		if err != nil {
			slog.Warn("ingestion disabled", "error", err)
		}

		server, err := mcp.New(mcp.Config{
			ProjectDir: a.root,
			Version:    version,
			Config:     a.cfg,
			Router:     a.router,
			Chat:       a.chat,
			Ingester:   ing,
			Index:      a.index,
		})
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		slog.Info("MCP server running on stdio", "project", a.root)
		errCh := make(chan error, 1)
		go func() { errCh <- server.ServeStdio() }()

		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}
		slog.Info("server stopped")
		return nil
	})
}

func runModels(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, projectRoot())
	if err != nil {
		return err
	}

	list := func(title, def string, models []config.ModelConfig) {
		fmt.Printf("=== %s ===\n", title)
		for _, m := range models {
			marker := " "
			if m.ID == def {
				marker = "*"
			}
			fmt.Printf("%s %-24s %-10s %s\n", marker, m.ID, m.Provider, m.Model)
		}
	}
	list("Completion models", cfg.Models.DefaultCompletion, cfg.Models.Completion)
	fmt.Println()
	list("Embedding models", cfg.Models.DefaultEmbedding, cfg.Models.Embedding)
	return nil
}

func runStatus(cmd *cobra.Command) error {
	return withApp(cmd, func(a *app) error {
		count, err := a.index.Count(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Println("=== Index Status ===")
		fmt.Printf("Store:       %s\n", a.index.Name())
		if a.cfg.VectorStore.Provider == "sqlitevec" {
			fmt.Printf("Path:        %s\n", a.cfg.VectorStore.Path)
			if info, err := os.Stat(a.cfg.VectorStore.Path); err == nil {
				fmt.Printf("Size:        %s\n", formatBytes(info.Size()))
			}
		}
		fmt.Printf("Documents:   %d\n", count)
		fmt.Printf("Dimensions:  %d\n", a.index.Dimensions())

		fmt.Println("\n=== Current Config ===")
		fmt.Printf("Completion:  %s\n", a.cfg.Models.DefaultCompletion)
		fmt.Printf("Embedding:   %s\n", a.cfg.Models.DefaultEmbedding)
		fmt.Printf("Chunking:    %s\n", a.cfg.Chunking.Strategy)
		fmt.Printf("RAG:         %v (top %d)\n", a.cfg.Retrieval.Enabled, a.cfg.Retrieval.TopK)
		fmt.Printf("Config hash: %s\n", a.cfg.Hash()[:12])
		return nil
	})
}

func runConfigInit(force bool) error {
	root := projectRoot()
	path := config.ConfigPath(root)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	if err := config.Save(root, config.DefaultConfig()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Created config at %s\n", path)
	return nil
}

func runConfigValidate(cmd *cobra.Command) error {
	root := projectRoot()
	cfg, warnings, err := config.Load(root)
	if err != nil {
		return err
	}

	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("Error: %v\n", e)
		}
		return errors.New("configuration has errors")
	}

	// Construct every model to surface credential problems.
	return withApp(cmd, func(a *app) error {
		valid := true
		for _, id := range a.router.CompletionModels() {
			if _, err := a.router.ResolveCompletionProvider(id); err != nil {
				fmt.Printf("[fail] completion %s: %v\n", id, err)
				valid = false
			} else {
				fmt.Printf("[ok]   completion %s\n", id)
			}
		}
		for _, id := range a.router.EmbeddingModels() {
			if _, err := a.router.ResolveEmbeddingProvider(id); err != nil {
				fmt.Printf("[fail] embedding %s: %v\n", id, err)
				valid = false
			} else {
				fmt.Printf("[ok]   embedding %s\n", id)
			}
		}

		if !valid {
			return errors.New("configuration has errors")
		}
		fmt.Println("\nConfiguration is valid")
		return nil
	})
}

func runPluginList(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, projectRoot())
	if err != nil {
		return err
	}

	manager := host.NewManager(cfg.Plugins.Dir, cfg.Plugins.LogLevel)
	plugins, err := manager.DiscoverPlugins()
	if err != nil {
		return fmt.Errorf("failed to discover plugins: %w", err)
	}

	if len(plugins) == 0 {
		fmt.Printf("No plugins found in %s\n", manager.Dir())
		return nil
	}

	fmt.Printf("Plugins in %s:\n", manager.Dir())
	for _, p := range plugins {
		fmt.Printf("  - %s\n", p)
	}
	return nil
}

// formatBytes formats bytes to human readable string.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
