package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/auth"
	"github.com/prismon/photo-library/pkg/crawler"
	"github.com/prismon/photo-library/pkg/home"
	"github.com/prismon/photo-library/pkg/library"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/logger"
	"github.com/prismon/photo-library/pkg/query"
	apiserver "github.com/prismon/photo-library/pkg/server"
	"github.com/prismon/photo-library/pkg/store"
	"github.com/prismon/photo-library/pkg/watch"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	log *logrus.Entry

	// Global options
	homePath string
	logLevel string

	mgr *home.Manager
	cfg *home.Config

	// Init command options
	initLocalOnly  bool
	initAIProvider string
	initFaces      bool

	// Import command options
	processAfterImport bool

	// Query command options
	queryOpts   query.Query
	semantic    bool
	queryLimit  int
	queryOffset int

	// Scan command options
	refreshBookmarks bool

	// Serve command options
	port    int
	host    string
	noWatch bool
)

func init() {
	log = logger.WithName("cli")
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "photo-library",
		Short: "Local photo library indexer",
		Long: `photo-library - Photo library engine built with Go.

It indexes image files, enriches them with background tasks (hashes, EXIF,
thumbnails, AI tags), organizes them in albums and smart albums, and serves
the library over a JSON API and MCP.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	rootCmd.PersistentFlags().StringVar(&homePath, "home", "", "Home directory (default $"+home.EnvHome+" or ~/.photo-library)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the home directory and default config",
		RunE:  runInit,
	}
	initCmd.Flags().BoolVar(&initLocalOnly, "local-only", false, "Never send images to a remote AI provider")
	initCmd.Flags().StringVar(&initAIProvider, "ai-provider", "", "AI provider (openAI, anthropic, localCLIP)")
	initCmd.Flags().BoolVar(&initFaces, "faces", false, "Enable face detection")

	var importCmd = &cobra.Command{
		Use:   "import <path>...",
		Short: "Import image files and folders",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().BoolVar(&processAfterImport, "process", false, "Run local enrichment tasks until idle after importing")

	var queryCmd = &cobra.Command{
		Use:   "query [text]",
		Short: "Search the library",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().StringVar(&queryOpts.SelectedAlbum, "album", "", "Restrict to an album id")
	queryCmd.Flags().StringVar(&queryOpts.SelectedSmartAlbum, "smart-album", "", "Restrict to a smart album id")
	queryCmd.Flags().BoolVar(&queryOpts.ShowMissingOnly, "missing", false, "Only missing assets")
	queryCmd.Flags().BoolVar(&queryOpts.ShowNeedsAI, "needs-ai", false, "Only assets waiting for AI tags")
	queryCmd.Flags().BoolVar(&queryOpts.ShowFacesOnly, "faces", false, "Only assets with faces")
	queryCmd.Flags().BoolVar(&queryOpts.ShowDocumentsOnly, "documents", false, "Only documents")
	queryCmd.Flags().BoolVar(&queryOpts.ShowScreenshotsOnly, "screenshots", false, "Only screenshots")
	queryCmd.Flags().BoolVar(&semantic, "semantic", false, "Use semantic search for the text")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "Results to skip")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 50, "Maximum number of results (0 for all)")

	var scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Detect missing and recovered files",
		RunE:  runScan,
	}
	scanCmd.Flags().BoolVar(&refreshBookmarks, "bookmarks", false, "Re-resolve bookmarks instead of checking paths")

	var tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "Show background task counts",
		RunE:  runTasks,
	}
	tasksCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run local enrichment tasks until nothing is left to do",
			RunE:  runTasksUntilIdle,
		},
		&cobra.Command{
			Use:   "requeue <asset-id> <kind>",
			Short: "Enqueue a fresh task for an asset",
			Args:  cobra.ExactArgs(2),
			RunE:  runRequeue,
		},
	)

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server with background tasks and folder watching",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&host, "host", "", "Host to bind (overrides config)")
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the library's watched folders")

	var mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE:  runMCP,
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Summarize the saved library",
		RunE:  runStatus,
	}

	rootCmd.AddCommand(initCmd, importCmd, queryCmd, scanCmd, tasksCmd, serveCmd, mcpCmd, statusCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the home directory and applies the log level
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	mgr, err = home.NewManager(homePath)
	if err != nil {
		return err
	}
	cfg, err = mgr.LoadConfigOrDefault()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if level != "" {
		if err := logger.ConfigureFromString(level); err != nil {
			return err
		}
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := mgr.Initialize(); err != nil {
		return err
	}
	fmt.Printf("Initialized photo library home at %s\n", mgr.Path())
	fmt.Printf("Config: %s\n", mgr.ConfigPath())

	flags := cmd.Flags()
	if !flags.Changed("local-only") && !flags.Changed("ai-provider") && !flags.Changed("faces") {
		return nil
	}
	updated, err := mgr.UpdateConfig(func(c *home.Config) {
		if flags.Changed("local-only") {
			c.Library.LocalOnlyMode = initLocalOnly
		}
		if flags.Changed("ai-provider") {
			c.Library.AIProvider = initAIProvider
		}
		if flags.Changed("faces") {
			c.Library.Faces = initFaces
		}
	})
	if err != nil {
		return err
	}
	cfg = updated
	fmt.Printf("Library settings: localOnly=%v aiProvider=%s faces=%v\n",
		updated.Library.LocalOnlyMode, updated.Library.AIProvider, updated.Library.Faces)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log.WithFields(logrus.Fields{
		"command": "import",
		"paths":   args,
	}).Info("Executing command")

	rt, err := openLibrary(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	paths, err := crawler.CollectImages(ctx, args, crawler.Options{})
	if err != nil {
		return err
	}

	ids, err := rt.engine.Import(ctx, paths)
	skipped := 0
	var ie *library.ImportError
	if errors.As(err, &ie) {
		for _, f := range ie.Failures {
			if errors.Is(f, liberr.ErrConflict) {
				skipped++
				continue
			}
			fmt.Fprintf(os.Stderr, "  failed: %s: %v\n", f.Path, f.Err)
		}
	} else if err != nil {
		return err
	}
	fmt.Printf("Found %d images: %d imported, %d already in the library, %d failed\n",
		len(paths), len(ids), skipped, len(paths)-len(ids)-skipped)

	if processAfterImport {
		n, err := rt.dispatcher().RunUntilIdle(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Ran %d tasks\n", n)
	}
	return rt.save(ctx)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openLibrary(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	q := queryOpts
	if len(args) == 1 {
		q.SearchQuery = args[0]
	}
	q.SearchMode = query.SearchKeyword
	if semantic {
		q.SearchMode = query.SearchSemantic
	}

	snap := rt.engine.Snapshot()
	ids, err := query.NewPipeline(nil).Run(snap, q)
	if err != nil {
		return err
	}
	page := query.Paginate(ids, queryOffset, queryLimit)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tRATING\tPATH")
	for _, id := range page {
		a, ok := snap.Asset(id)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Status, strings.Repeat("*", a.Rating), a.ResolvedPath)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d matching assets\n", len(page), len(ids))
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openLibrary(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	var report library.LivenessReport
	if refreshBookmarks {
		report, err = rt.engine.RefreshBookmarks(ctx)
	} else {
		report, err = rt.engine.ScanLiveness(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Checked %d assets: %d now missing, %d recovered, %d moved\n",
		report.Checked, report.NowMissing, report.Recovered, report.PathUpdates)
	return rt.save(ctx)
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openLibrary(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	counts := make(map[models.TaskKind]map[models.TaskStatus]int)
	for _, t := range rt.engine.Snapshot().Tasks {
		if counts[t.Kind] == nil {
			counts[t.Kind] = make(map[models.TaskStatus]int)
		}
		counts[t.Kind][t.Status]++
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tPENDING\tRUNNING\tCOMPLETED\tFAILED")
	for _, kind := range models.AllTaskKinds {
		c := counts[kind]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", kind,
			c[models.TaskPending], c[models.TaskRunning], c[models.TaskCompleted], c[models.TaskFailed])
	}
	return w.Flush()
}

func runTasksUntilIdle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openLibrary(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	n, err := rt.dispatcher().RunUntilIdle(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Printf("Ran %d tasks\n", n)
	// save even when interrupted so finished work is kept
	return rt.save(context.WithoutCancel(ctx))
}

func runRequeue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	kind, err := models.ParseTaskKind(args[1])
	if err != nil {
		return err
	}

	rt, err := openLibrary(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	task, err := rt.engine.Requeue(ctx, args[0], kind)
	if err != nil {
		if errors.Is(err, liberr.ErrConflict) {
			return fmt.Errorf("asset already has an outstanding %s task: %w", kind, err)
		}
		return err
	}
	fmt.Printf("Queued %s task %s\n", task.Kind, task.ID)
	return rt.save(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	rt, err := openLibrary(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	addr := cfg.Server.Addr()
	if host != "" || port != 0 {
		sc := cfg.Server
		if host != "" {
			sc.Host = host
		}
		if port != 0 {
			sc.Port = port
		}
		addr = sc.Addr()
	}

	opts := apiserver.Options{
		Engine:  rt.engine,
		Version: version,
		BaseURL: "http://" + addr,
	}
	if cfg.Auth.Enabled {
		validator, err := auth.NewValidator(ctx, cfg.Auth)
		if err != nil {
			return err
		}
		opts.Auth = validator
		log.WithFields(logrus.Fields{
			"issuer":   cfg.Auth.Issuer,
			"required": cfg.Auth.RequireAuth,
		}).Info("Bearer token auth enabled")
	}

	autosave := store.StartAutosave(rt.engine, rt.store, cfg.Database.AutosaveDelay())
	defer func() {
		if err := autosave.Stop(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Error("Final save failed")
		}
	}()

	dispatcher := rt.dispatcher()
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(ctx) }()

	opts.Tasks = dispatcher

	if cfg.Watch.Enabled && !noWatch {
		watcher := watch.New(rt.engine, watch.Config{
			Recursive:   cfg.Watch.Recursive,
			Debounce:    cfg.Watch.Debounce(),
			InitialScan: true,
		})
		if err := watcher.Start(ctx, rt.engine.Snapshot().WatchedFolders...); err != nil {
			cancel()
			<-dispatchDone
			return err
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop watcher")
			}
		}()
		opts.Watcher = watcher
	}

	srv := apiserver.New(opts)
	runErr := srv.Run(ctx, addr)

	// running jobs finish before the engine is closed
	cancel()
	if err := <-dispatchDone; err != nil {
		log.WithError(err).Warn("Dispatcher stopped with error")
	}
	return runErr
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openLibrary(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	autosave := store.StartAutosave(rt.engine, rt.store, cfg.Database.AutosaveDelay())
	defer func() {
		if err := autosave.Stop(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Error("Final save failed")
		}
	}()

	// stdout carries the protocol
	logger.SetOutput(os.Stderr)
	log.Info("Starting MCP server on stdio")

	srv := apiserver.New(apiserver.Options{Engine: rt.engine, Version: version})
	return server.ServeStdio(srv.MCP())
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dbPath := mgr.ResolveDatabasePath(cfg)
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no library at %s, run import first: %w", dbPath, err)
	}

	st, err := store.Open(dbPath, store.DefaultConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	sum, err := st.Summarize(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Library: %s\n", dbPath)
	if sum.SavedAt != nil {
		fmt.Printf("Saved:   %s\n", sum.SavedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Assets:  %d available, %d missing, %d offline (%d need AI tags)\n",
		sum.Assets[models.StatusAvailable], sum.Assets[models.StatusMissing], sum.Assets[models.StatusOffline], sum.NeedsAITags)
	fmt.Printf("Tasks:   %d pending, %d running, %d completed, %d failed\n",
		sum.Tasks[models.TaskPending], sum.Tasks[models.TaskRunning], sum.Tasks[models.TaskCompleted], sum.Tasks[models.TaskFailed])
	fmt.Printf("Watched folders: %d\n", sum.WatchedFolders)
	if size, err := mgr.CacheSize(); err != nil {
		log.WithError(err).Warn("Failed to measure cache")
	} else {
		fmt.Printf("Cache:   %.1f MiB\n", float64(size)/(1<<20))
	}
	return nil
}
