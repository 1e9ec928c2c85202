package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/adapters/storage/sqlite"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/config"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/platform"
)

// version is overridden at build time.
var version = "dev"

// nowFunc is the wall clock used by commands.
var nowFunc = func() time.Time {
	return time.Now().UTC()
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run builds the command tree and executes it against args.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(&rootOptions{})
	root.SetArgs(args)
	root.SetIn(strings.NewReader(""))
	root.SetOut(stdout)
	root.SetErr(stderr)
	return fang.Execute(ctx, root,
		fang.WithVersion(version),
		fang.WithoutManpage(),
		fang.WithoutCompletions(),
	)
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	dataDir    string
	appName    string
	envFile    string
	devMode    bool
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "haggle",
		Short:         "Negotiation engine for the marketplace",
		Long:          "haggle runs the buyer/seller negotiation service: an append-only event ledger, offer tracking, expiry sweeps and an optional pricing agent.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML (env HAGGLE_CONFIG)")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database (env HAGGLE_DB_PATH)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory holding the database and logs (env HAGGLE_DATA_DIR)")
	flags.StringVar(&opts.appName, "app", platform.DefaultAppName, "application name for config/data path resolution (env HAGGLE_APP_NAME)")
	flags.BoolVar(&opts.devMode, "dev", version == "dev", "use dev mode paths <app>-dev (env HAGGLE_DEV_MODE)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before reading the environment (default .env when present)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.applyEnvironment(cmd)
	}

	root.AddCommand(
		newServeCommand(opts),
		newSweepCommand(opts),
		newShowCommand(opts),
		newListingCommand(opts),
		newPathsCommand(opts),
	)
	return root
}

// applyEnvironment loads the dotenv file and lets HAGGLE_* variables fill flags the user left unset.
func (o *rootOptions) applyEnvironment(cmd *cobra.Command) error {
	if path := strings.TrimSpace(o.envFile); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	} else if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	flags := cmd.Flags()
	if !flags.Changed("app") {
		if v := strings.TrimSpace(os.Getenv("HAGGLE_APP_NAME")); v != "" {
			o.appName = v
		}
	}
	if !flags.Changed("dev") {
		if v, ok := parseBoolEnv("HAGGLE_DEV_MODE"); ok {
			o.devMode = v
		}
	}
	if !flags.Changed("config") {
		if v := strings.TrimSpace(os.Getenv("HAGGLE_CONFIG")); v != "" {
			o.configPath = v
		}
	}
	if !flags.Changed("db") {
		if v := strings.TrimSpace(os.Getenv("HAGGLE_DB_PATH")); v != "" {
			o.dbPath = v
		}
	}
	if !flags.Changed("data-dir") {
		if v := strings.TrimSpace(os.Getenv("HAGGLE_DATA_DIR")); v != "" {
			o.dataDir = v
		}
	}
	return nil
}

func (o *rootOptions) paths() (platform.Paths, error) {
	return platform.Resolve(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
		DataDir: o.dataDir,
	})
}

// session bundles the resources opened for one command invocation.
type session struct {
	cfg    config.Config
	paths  platform.Paths
	logger *runtimeLogger
	repo   *sqlite.Repository
}

// Close releases the repository and log sinks.
func (r *session) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.repo != nil {
		errs = append(errs, r.repo.Close())
	}
	if r.logger != nil {
		errs = append(errs, r.logger.Close())
	}
	return errors.Join(errs...)
}

// open resolves paths and config, then opens logging and storage.
func (o *rootOptions) open(stderr io.Writer) (*session, error) {
	paths, err := o.paths()
	if err != nil {
		return nil, err
	}
	configPath := o.configPath
	if strings.TrimSpace(configPath) == "" {
		configPath = paths.ConfigPath
	}
	dbPath := paths.DBPath
	dbOverridden := strings.TrimSpace(o.dbPath) != ""
	if dbOverridden {
		dbPath = o.dbPath
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(stderr, o.appName, o.devMode, cfg.Logging, paths.LogDir, nowFunc)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Path == paths.DBPath {
		if err := paths.Ensure(); err != nil {
			_ = logger.Close()
			return nil, err
		}
	}
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("open sqlite %q: %w", cfg.Database.Path, err)
	}
	logger.Debug("runtime opened", "config", configPath, "db", cfg.Database.Path, "dev_log", logger.DevLogPath())
	return &session{cfg: cfg, paths: paths, logger: logger, repo: repo}, nil
}

// newService wires the negotiation service over the runtime's repository.
func (r *session) newService(opts ...app.Option) *app.Service {
	clock := app.Clock(nowFunc)
	base := []app.Option{
		app.WithLogger(r.logger),
		app.WithEventIDGenerator(app.NewULIDGenerator(clock)),
	}
	return app.NewService(r.repo, r.repo, uuid.NewString, clock, r.cfg.ServiceConfig(), append(base, opts...)...)
}

// parseBoolEnv reads a boolean environment variable, reporting whether it was set and valid.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
