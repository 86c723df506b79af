package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"sortd/internal/config"
	"sortd/internal/fsops"
	"sortd/internal/indexer"
	"sortd/internal/logging"
	"sortd/internal/memory"
	"sortd/internal/perception"
	"sortd/internal/sandbox"
	"sortd/internal/session"
)

var (
	// Global flags
	verbose    bool
	rootDir    string
	configFile string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sortd",
	Short: "sortd - conversational file organizer",
	Long: `sortd is a local file assistant driven by a language model.

It talks to a locally hosted model (Ollama), turns the model's replies
into a small set of validated filesystem actions, and refuses anything
that would reach outside the single folder you point it at.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

// runCmd runs a single request through the pipeline and exits
var runCmd = &cobra.Command{
	Use:   "run [text]",
	Short: "Process one request and print the reply",
	Long: `Sends a single message through the full pipeline and prints the
assistant's reply. Any actions the reply carries are validated,
confined to the allowed folder, and executed before the reply prints.

Example:
  sortd run "move my csv files into data"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOne,
}

// indexCmd rebuilds the file index
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the allowed folder and rebuild the file index",
	Long: `Walks every file under the allowed folder, records name-derived
metadata (course codes, dates, document types), and writes a short
note for each file that has none. The chat pipeline reads this index
to describe your files to the model.`,
	RunE: runIndex,
}

// configCmd shows or writes the configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE:  runConfigInit,
}

// statusCmd shows index freshness and known categories
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index freshness and known categories",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", "", "Folder to operate in (default: from config, else current)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path (default: <root>/.sortd/config.yaml)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles everything a command needs after bootstrap.
type app struct {
	cfg   *config.Config
	store *memory.Store
	sess  *session.Session
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	logging.CloseAll()
	logging.CloseAudit()
}

// bootstrap resolves the root, loads configuration, and wires the
// store, sandbox, model client, and session together.
func bootstrap() (*app, error) {
	root := rootDir
	cfgPath := configFile
	if cfgPath == "" && root != "" {
		cfgPath = config.DefaultPath(root)
	}
	if cfgPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfgPath = config.DefaultPath(cwd)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if root != "" {
		cfg.Root = root
	}
	if cfg.Root == "" {
		cfg.Root, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(cfg.Root); err == nil {
		cfg.Root = abs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Initialize(cfg.Root, logging.Options{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}
	if err := logging.InitAudit(cfg.Root); err != nil {
		return nil, fmt.Errorf("initialize audit log: %w", err)
	}
	logging.Boot("starting in %s", cfg.Root)

	sb, err := sandbox.New(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("allowed folder: %w", err)
	}

	store, err := memory.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if n, err := store.SyncCategoriesFromRoot(cfg.Root); err != nil {
		logger.Warn("category sync failed", zap.Error(err))
	} else if n > 0 {
		logger.Debug("categories synced from folder", zap.Int("count", n))
	}

	completer := perception.NewOllamaClient(perception.OllamaConfig{
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Model,
		NumCtx:  cfg.Model.NumCtx,
		Timeout: cfg.ModelTimeout(),
	})

	return &app{
		cfg:   cfg,
		store: store,
		sess:  session.New(cfg, sb, store, completer),
	}, nil
}

// ensureIndex rescans when the stored index no longer matches the live
// tree, so the first request sees current files.
func ensureIndex(ctx context.Context, a *app) {
	live, err := fsops.ListTree(a.cfg.Root, a.cfg.Indexer.MaxFiles)
	if err != nil {
		logger.Warn("could not count files for freshness check", zap.Error(err))
		return
	}
	fresh, err := a.store.IndexFresh(a.cfg.Root, len(live))
	if err != nil || fresh {
		return
	}

	ix := indexer.New(a.cfg.Root, a.store, indexer.WithMaxFiles(a.cfg.Indexer.MaxFiles))
	res, err := ix.Scan(ctx)
	if err != nil {
		logger.Warn("index scan failed", zap.Error(err))
		return
	}
	logger.Debug("index refreshed",
		zap.Int("files", res.FilesIndexed),
		zap.Int("notes", res.NotesWritten),
		zap.Bool("cancelled", res.Cancelled))
}

// runChat is the interactive loop. A background watcher rescans the
// index after filesystem changes settle; Ctrl-C cancels the in-flight
// request, or exits when nothing is running.
func runChat() error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ensureIndex(ctx, a)

	// One rescan at a time; bursts collapse into the next run.
	var scanning atomic.Bool
	rescan := func() {
		if !scanning.CompareAndSwap(false, true) {
			return
		}
		go func() {
			defer scanning.Store(false)
			ix := indexer.New(a.cfg.Root, a.store, indexer.WithMaxFiles(a.cfg.Indexer.MaxFiles))
			if _, err := ix.Scan(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("background rescan failed", zap.Error(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	watcher, err := indexer.NewWatcher(a.cfg.Root, a.cfg.IndexerDebounce(), rescan)
	if err != nil {
		logger.Warn("file watcher unavailable", zap.Error(err))
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var busy atomic.Bool
	go func() {
		for range sigCh {
			if busy.Load() {
				fmt.Println("\nstopping current request...")
				a.sess.CancelActive()
				continue
			}
			cancel()
			fmt.Println("\nbye")
			os.Exit(0)
		}
	}()

	fmt.Printf("sortd is watching %s\n", a.cfg.Root)
	fmt.Println(`Type what you want done ("move my csv files into data"), or "exit".`)

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		busy.Store(true)
		resp, err := a.sess.Process(ctx, line)
		busy.Store(false)
		if err != nil {
			if errors.Is(err, session.ErrRequestInFlight) {
				fmt.Println("still working on the last request")
				continue
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(resp.Text)
	}

	cancel()
	if watcher != nil {
		_ = g.Wait()
	}
	return in.Err()
}

// runOne processes one request and prints the reply.
func runOne(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ensureIndex(ctx, a)

	resp, err := a.sess.Process(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(resp.Text)
	return nil
}

// runIndex rebuilds the index with progress on stderr.
func runIndex(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ix := indexer.New(a.cfg.Root, a.store,
		indexer.WithMaxFiles(a.cfg.Indexer.MaxFiles),
		indexer.WithProgress(func(percent int, phase string) {
			fmt.Fprintf(os.Stderr, "\r%3d%% %-10s", percent, phase)
		}),
	)
	start := time.Now()
	res, err := ix.Scan(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	if res.Cancelled {
		fmt.Println("scan cancelled, previous index kept")
		return nil
	}
	fmt.Printf("indexed %d files, wrote %d notes in %s\n",
		res.FilesIndexed, res.NotesWritten, time.Since(start).Round(time.Millisecond))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("root:       %s\n", a.cfg.Root)
	fmt.Printf("model:      %s at %s (ctx %d, timeout %s)\n",
		a.cfg.Model.Model, a.cfg.Model.BaseURL, a.cfg.Model.NumCtx, a.cfg.ModelTimeout())
	fmt.Printf("database:   %s\n", a.cfg.DatabasePath())
	fmt.Printf("file_type:  %s\n", a.cfg.Dispatch.FileTypeDefault)
	fmt.Printf("debounce:   %s\n", a.cfg.IndexerDebounce())
	fmt.Printf("debug:      %v (level %s)\n", a.cfg.Logging.DebugMode, a.cfg.Logging.Level)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	root := rootDir
	if root == "" {
		root, _ = os.Getwd()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	path := configFile
	if path == "" {
		path = config.DefaultPath(abs)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}

	cfg := config.DefaultConfig()
	cfg.Root = abs
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	info, scanned, err := a.store.LastScan()
	if err != nil {
		return err
	}
	if !scanned {
		fmt.Println("index: never built (run `sortd index`)")
	} else {
		age := time.Since(info.IndexedAt).Round(time.Second)
		fmt.Printf("index: %d files, scanned %s ago", info.FileCount, age)
		if age > memory.IndexValidity {
			fmt.Print(" (stale)")
		}
		fmt.Println()
	}

	cats, err := a.store.Categories()
	if err != nil {
		return err
	}
	if len(cats) == 0 {
		fmt.Println("categories: none")
		return nil
	}
	fmt.Printf("categories: %d\n", len(cats))
	for name, path := range cats {
		fmt.Printf("  %-16s %s\n", name, path)
	}
	return nil
}
