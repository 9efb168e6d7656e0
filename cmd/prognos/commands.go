package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hylla/prognos/internal/adapters/server"
	"github.com/hylla/prognos/internal/adapters/server/common"
	"github.com/hylla/prognos/internal/domain"
)

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(opts.stdout, "prognos %s\n", version)
			return err
		},
	}
}

func newPathsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, and log paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			w := opts.stdout
			_, _ = fmt.Fprintf(w, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(w, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(w, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(w, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(w, "db: %s\n", paths.DBPath)
			_, err = fmt.Fprintf(w, "log_dir: %s\n", paths.LogDir)
			return err
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var bind, apiEndpoint, mcpEndpoint string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, MCP endpoint, health probes, and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				cfg := server.Config{
					HTTPBind:      firstNonEmpty(bind, rt.cfg.Server.HTTPBind),
					APIEndpoint:   firstNonEmpty(apiEndpoint, rt.cfg.Server.APIEndpoint),
					MCPEndpoint:   firstNonEmpty(mcpEndpoint, rt.cfg.Server.MCPEndpoint),
					ServerName:    "prognos",
					ServerVersion: version,
				}
				return server.Run(ctx, cfg, server.Dependencies{
					Engine: rt.engine,
					Ready:  rt.repo.Ping,
					Logger: rt.logger,
				})
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "HTTP listen address (default from [server] http_bind)")
	cmd.Flags().StringVar(&apiEndpoint, "api", "", "REST API mount path")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp", "", "MCP endpoint path")
	return cmd
}

// importFlags are shared by import preview and import commit.
type importFlags struct {
	tenantID   string
	file       string
	format     string
	scenarioID string
}

func (f *importFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&f.file, "file", "", "CSV, XLSX, or JSON file to import (required)")
	cmd.Flags().StringVar(&f.format, "format", "", "file format override: csv | xlsx | json")
	cmd.Flags().StringVar(&f.scenarioID, "scenario", "", "target scenario id (default: tenant current scenario)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("file")
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Preview or commit a forecast spreadsheet",
	}
	cmd.AddCommand(newImportPreviewCmd(opts), newImportCommitCmd(opts))
	return cmd
}

func newImportPreviewCmd(opts *rootOptions) *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Validate a file row by row without writing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := readImportFile(flags.file, flags.format)
			if err != nil {
				return err
			}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				preview, err := rt.engine.PreviewImport(ctx, common.PreviewImportRequest{
					TenantID:         flags.tenantID,
					TargetScenarioID: flags.scenarioID,
					File:             file.Info,
					Rows:             file.Rows,
				})
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(opts.stdout, preview)
				}
				return renderPreview(opts.stdout, preview)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newImportCommitCmd(opts *rootOptions) *cobra.Command {
	var (
		flags            importFlags
		noUpdate         bool
		newVersion       bool
		versionName      string
		versionDesc      string
		abortOnDuplicate bool
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Apply a file to a scenario and record the import operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := readImportFile(flags.file, flags.format)
			if err != nil {
				return err
			}
			req := common.CommitImportRequest{
				TenantID:              flags.tenantID,
				TargetScenarioID:      flags.scenarioID,
				File:                  file.Info,
				Rows:                  file.Rows,
				CreateNewVersion:      newVersion,
				NewVersionName:        versionName,
				NewVersionDescription: versionDesc,
				ActorID:               opts.actorID,
			}
			if noUpdate {
				update := false
				req.UpdateExisting = &update
			}
			if cmd.Flags().Changed("abort-on-duplicate") {
				req.AbortOnDuplicate = &abortOnDuplicate
			}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				commit, err := rt.engine.CommitImport(ctx, req)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(opts.stdout, commit)
				}
				return renderCommit(opts.stdout, commit)
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&noUpdate, "no-update", false, "skip rows whose record already exists instead of updating them")
	cmd.Flags().BoolVar(&newVersion, "new-version", false, "write into a new scenario version instead of the target")
	cmd.Flags().StringVar(&versionName, "version-name", "", "name of the new scenario version")
	cmd.Flags().StringVar(&versionDesc, "version-description", "", "description of the new scenario version")
	cmd.Flags().BoolVar(&abortOnDuplicate, "abort-on-duplicate", false, "skip the commit when the same file was already imported")
	return cmd
}

func newImportsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imports",
		Short: "Query the import audit trail",
	}
	var (
		tenantID   string
		scenarioID string
		from, to   string
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List import operations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := common.ListImportsRequest{TenantID: tenantID, ScenarioID: scenarioID, Limit: limit}
			var err error
			if req.From, err = parseTimeFlag("from", from); err != nil {
				return err
			}
			if req.To, err = parseTimeFlag("to", to); err != nil {
				return err
			}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				ops, err := rt.engine.ListImports(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, ops)
			})
		},
	}
	list.Flags().StringVar(&tenantID, "tenant", "", "tenant id (required)")
	list.Flags().StringVar(&scenarioID, "scenario", "", "only imports into this scenario")
	list.Flags().StringVar(&from, "from", "", "lower bound, RFC3339 or YYYY-MM-DD")
	list.Flags().StringVar(&to, "to", "", "upper bound, RFC3339 or YYYY-MM-DD")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of operations")
	_ = list.MarkFlagRequired("tenant")
	cmd.AddCommand(list)
	return cmd
}

func newScenarioCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Manage scenario versions",
	}
	cmd.AddCommand(
		newScenarioCreateCmd(opts),
		newScenarioActionCmd(opts, "promote", "Make a scenario the current version of its scope"),
		newScenarioActionCmd(opts, "archive", "Archive a non-current scenario"),
		newScenarioListCmd(opts),
		newScenarioForecastsCmd(opts),
	)
	return cmd
}

func newScenarioCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		req      common.CreateScenarioRequest
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scenario, optionally branched from another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if req.Period.Start, err = parseYearMonthFlag("from", from); err != nil {
				return err
			}
			if req.Period.End, err = parseYearMonthFlag("to", to); err != nil {
				return err
			}
			req.ActorID = opts.actorID
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				scenario, err := rt.engine.CreateScenario(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, scenario)
			})
		},
	}
	cmd.Flags().StringVar(&req.TenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&req.ProjectID, "project", "", "project scope")
	cmd.Flags().StringVar(&req.UserID, "user", "", "user scope")
	cmd.Flags().StringVar(&req.Type, "type", "current", "scenario type: current | what_if | historical | import")
	cmd.Flags().StringVar(&req.Name, "name", "", "scenario name")
	cmd.Flags().StringVar(&req.Description, "description", "", "scenario description")
	cmd.Flags().StringVar(&from, "from", "", "first month, YYYY-MM")
	cmd.Flags().StringVar(&to, "to", "", "last month, YYYY-MM")
	cmd.Flags().StringVar(&req.BasedOnID, "based-on", "", "scenario id to copy records from")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newScenarioActionCmd(opts *rootOptions, action, short string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   action + " <scenario-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := common.ScenarioActionRequest{ScenarioID: args[0], Reason: reason, ActorID: opts.actorID}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				run := rt.engine.PromoteScenario
				if action == "archive" {
					run = rt.engine.ArchiveScenario
				}
				scenario, err := run(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, scenario)
			})
		},
	}
	if action == "archive" {
		cmd.Flags().StringVar(&reason, "reason", "", "archive reason (required)")
		_ = cmd.MarkFlagRequired("reason")
	}
	return cmd
}

func newScenarioListCmd(opts *rootOptions) *cobra.Command {
	var req common.ListScenariosRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scenarios of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				scenarios, err := rt.engine.ListScenarios(ctx, req)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(opts.stdout, scenarios)
				}
				return renderScenarios(opts.stdout, scenarios)
			})
		},
	}
	cmd.Flags().StringVar(&req.TenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().BoolVar(&req.IncludeArchived, "all", false, "include archived scenarios")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newScenarioForecastsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forecasts <scenario-id>",
		Short: "List the forecast records of a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				records, err := rt.engine.ListForecasts(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, records)
			})
		},
	}
}

func newForecastCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Move forecast records through the approval workflow",
	}
	cmd.AddCommand(newForecastTransitionCmd(opts), newForecastOverrideCmd(opts), newForecastHistoryCmd(opts))
	return cmd
}

func newForecastTransitionCmd(opts *rootOptions) *cobra.Command {
	var req common.TransitionRequest
	cmd := &cobra.Command{
		Use:   "transition <record-id> <submit|review|approve|reject|reopen|lock>",
		Short: "Apply one workflow action to a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.RecordID = args[0]
			req.Action = args[1]
			req.ActorID = opts.actorID
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				record, err := rt.engine.TransitionForecast(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, record)
			})
		},
	}
	cmd.Flags().StringVar(&req.ScheduleName, "schedule", "", "configured schedule name (default: default)")
	cmd.Flags().BoolVar(&req.AllowLate, "allow-late", false, "accept a submit or approve past its deadline")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "reason, required for reject")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes stored on the record")
	return cmd
}

func newForecastOverrideCmd(opts *rootOptions) *cobra.Command {
	var hours, reason string
	cmd := &cobra.Command{
		Use:   "override <record-id>",
		Short: "Replace a record's hours with an audited manual value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := common.OverrideRequest{RecordID: args[0], Hours: common.Cell(hours), Reason: reason, ActorID: opts.actorID}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				record, err := rt.engine.OverrideForecast(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, record)
			})
		},
	}
	cmd.Flags().StringVar(&hours, "hours", "", "new hours (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "override reason (required)")
	_ = cmd.MarkFlagRequired("hours")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newForecastHistoryCmd(opts *rootOptions) *cobra.Command {
	var req common.ListHistoryRequest
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List change-log entries of a record or a scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				entries, err := rt.engine.ListHistory(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, entries)
			})
		},
	}
	cmd.Flags().StringVar(&req.RecordID, "record", "", "record id")
	cmd.Flags().StringVar(&req.ScenarioID, "scenario", "", "scenario id")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum number of entries")
	cmd.MarkFlagsOneRequired("record", "scenario")
	return cmd
}

func newDeadlinesCmd(opts *rootOptions) *cobra.Command {
	var (
		req    common.ResolveDeadlinesRequest
		period string
	)
	cmd := &cobra.Command{
		Use:   "deadlines",
		Short: "Resolve submission, approval, and lock dates for consecutive months",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := domain.YearMonth{Year: opts.now().Year(), Month: int(opts.now().Month())}
			if strings.TrimSpace(period) != "" {
				var err error
				if start, err = parseYearMonthFlag("period", period); err != nil {
					return err
				}
			}
			req.Year, req.Month = start.Year, start.Month
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				deadlines, err := rt.engine.ResolveDeadlines(ctx, req)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(opts.stdout, deadlines)
				}
				return renderDeadlines(opts.stdout, deadlines)
			})
		},
	}
	cmd.Flags().StringVar(&req.TenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&req.ScheduleName, "schedule", "", "configured schedule name (default: default)")
	cmd.Flags().StringVar(&period, "period", "", "first month, YYYY-MM (default: current month)")
	cmd.Flags().IntVar(&req.Months, "months", 1, "number of consecutive months")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var req common.SweepRequest
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Lock records whose lock date has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.ActorID = opts.actorID
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				result, err := rt.engine.SweepLocks(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(opts.stdout, result)
			})
		},
	}
	cmd.Flags().StringVar(&req.TenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&req.ScheduleName, "schedule", "", "configured schedule name (default: default)")
	cmd.Flags().StringVar(&req.Policy, "policy", "", "approved_only | freeze_all (default from [ledger] lock_policy)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newAssignmentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignment",
		Short: "Maintain the assignment directory",
	}
	var id, tenantID, projectID, userID, label string
	upsert := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update one assignment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			assignment, err := domain.NewAssignment(id, tenantID, projectID, userID, label, opts.now().UTC())
			if err != nil {
				return err
			}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *cliRuntime) error {
				if err := rt.repo.UpsertAssignment(ctx, assignment); err != nil {
					return fmt.Errorf("upsert assignment: %w", err)
				}
				rt.logger.Info("assignment upserted", "assignment_id", assignment.ID, "tenant_id", assignment.TenantID)
				return writeJSON(opts.stdout, map[string]string{
					"id":         assignment.ID,
					"tenant_id":  assignment.TenantID,
					"project_id": assignment.ProjectID,
					"user_id":    assignment.UserID,
					"label":      assignment.Label,
				})
			})
		},
	}
	upsert.Flags().StringVar(&id, "id", "", "assignment id (required)")
	upsert.Flags().StringVar(&tenantID, "tenant", "", "tenant id (required)")
	upsert.Flags().StringVar(&projectID, "project", "", "project id")
	upsert.Flags().StringVar(&userID, "user", "", "user id")
	upsert.Flags().StringVar(&label, "label", "", "display label")
	_ = upsert.MarkFlagRequired("id")
	_ = upsert.MarkFlagRequired("tenant")
	cmd.AddCommand(upsert)
	return cmd
}

// parseTimeFlag accepts RFC3339 or YYYY-MM-DD. Empty means unset.
func parseTimeFlag(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s %q: want RFC3339 or YYYY-MM-DD", name, raw)
}

// parseYearMonthFlag parses YYYY-MM. Empty yields the zero month.
func parseYearMonthFlag(name, raw string) (domain.YearMonth, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.YearMonth{}, nil
	}
	ts, err := time.Parse("2006-01", raw)
	if err != nil {
		return domain.YearMonth{}, fmt.Errorf("invalid --%s %q: want YYYY-MM", name, raw)
	}
	return domain.YearMonth{Year: ts.Year(), Month: int(ts.Month())}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
