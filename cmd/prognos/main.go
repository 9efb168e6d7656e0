package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hylla/prognos/internal/adapters/server/common"
	"github.com/hylla/prognos/internal/adapters/storage/sqlite"
	"github.com/hylla/prognos/internal/app"
	"github.com/hylla/prognos/internal/config"
	"github.com/hylla/prognos/internal/platform"
)

// version is stamped at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fang.Execute(ctx, newRootCmd(os.Stdout, os.Stderr), fang.WithVersion(version)); err != nil {
		stop()
		os.Exit(1)
	}
}

// run executes one command line without fang's styled error output.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SilenceErrors = true
	root.SilenceUsage = true
	return root.ExecuteContext(ctx)
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	home       string
	devMode    bool
	actorID    string
	jsonOut    bool
	stdout     io.Writer
	stderr     io.Writer
	now        func() time.Time
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr, now: time.Now}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("PROGNOS_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	defaultApp := platform.AppName
	if envApp := strings.TrimSpace(os.Getenv("PROGNOS_APP_NAME")); envApp != "" {
		defaultApp = envApp
	}

	cmd := &cobra.Command{
		Use:           "prognos",
		Short:         "Forecast versioning and import reconciliation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML (default from PROGNOS_CONFIG or platform paths)")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", defaultApp, "application name for config/data path resolution")
	flags.StringVar(&opts.home, "home", "", "root directory for config, data, and logs (PROGNOS_HOME)")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev) and the dev log file")
	flags.StringVar(&opts.actorID, "actor", defaultActorID(), "actor id recorded on writes")
	flags.BoolVar(&opts.jsonOut, "json", false, "write JSON instead of tables")

	cmd.AddCommand(
		newVersionCmd(opts),
		newPathsCmd(opts),
		newServeCmd(opts),
		newImportCmd(opts),
		newImportsCmd(opts),
		newScenarioCmd(opts),
		newForecastCmd(opts),
		newDeadlinesCmd(opts),
		newSweepCmd(opts),
		newAssignmentCmd(opts),
	)
	return cmd
}

func (o *rootOptions) paths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
		Home:    o.home,
	})
}

// cliRuntime holds the opened store, engine, and logger for one command.
type cliRuntime struct {
	configPath string
	cfg        config.Config
	logger     *runtimeLogger
	repo       *sqlite.Repository
	service    *app.Service
	engine     *common.AppServiceAdapter
}

// open resolves configuration and opens the repository. Callers must Close the runtime.
func (o *rootOptions) open(command string) (*cliRuntime, error) {
	paths, err := o.paths()
	if err != nil {
		return nil, err
	}

	configPath := strings.TrimSpace(o.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("PROGNOS_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbPath := strings.TrimSpace(o.dbPath); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(o.stderr, o.appName, o.devMode, cfg.Logging, paths.LogDir, o.now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.Debug("configuration loaded", "command", command, "config_path", configPath, "db_path", cfg.Database.Path, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Debug("dev file logging enabled", "path", devPath)
	}

	schedules, err := cfg.ApprovalSchedules()
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	maxHours, err := cfg.MaxHoursPerRow()
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	lockPolicy, err := app.ParseLockPolicy(string(cfg.Ledger.LockPolicy))
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	duplicatePolicy, err := app.ParseDuplicatePolicy(string(cfg.Imports.DuplicatePolicy))
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		_ = logger.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	svc := app.NewService(repo, repo, uuid.NewString, o.now, app.ServiceConfig{
		LockPolicy:      lockPolicy,
		DuplicatePolicy: duplicatePolicy,
		MaxHoursPerRow:  maxHours,
		MaxImportRows:   cfg.Imports.MaxRows,
		Logger:          logger,
	})
	return &cliRuntime{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		repo:       repo,
		service:    svc,
		engine:     common.NewAppServiceAdapter(svc, schedules...),
	}, nil
}

// Close releases the repository and the dev log file.
func (rt *cliRuntime) Close() {
	if rt == nil {
		return
	}
	if err := rt.repo.Close(); err != nil {
		rt.logger.Warn("sqlite close failed", "db_path", rt.cfg.Database.Path, "err", err)
	}
	_ = rt.logger.Close()
}

// withRuntime opens a runtime, attaches the CLI actor to ctx, and runs fn.
func (o *rootOptions) withRuntime(cmd *cobra.Command, fn func(context.Context, *cliRuntime) error) error {
	rt, err := o.open(cmd.CommandPath())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := common.WithActor(cmd.Context(), o.actorID, "user")
	if err := fn(ctx, rt); err != nil {
		rt.logger.Debug("command failed", "command", cmd.CommandPath(), "err", err)
		return err
	}
	return nil
}

// defaultActorID prefers PROGNOS_ACTOR, then the login name.
func defaultActorID() string {
	for _, key := range []string{"PROGNOS_ACTOR", "USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return "cli"
}

// parseBoolEnv parses a boolean environment variable when it is set.
func parseBoolEnv(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
