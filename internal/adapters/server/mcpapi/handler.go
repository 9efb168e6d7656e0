// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/prognos/internal/adapters/server/common"
	"github.com/hylla/prognos/internal/domain"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the engine tools.
func NewHandler(cfg Config, engine common.EngineService) (*Handler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerImportTools(mcpSrv, engine)
	registerScenarioTools(mcpSrv, engine)
	registerLedgerTools(mcpSrv, engine)
	registerDeadlineTools(mcpSrv, engine)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "prognos"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// agentContext marks tool calls as agent actions attributed to actorID.
func agentContext(ctx context.Context, actorID string) context.Context {
	return common.WithActor(ctx, actorID, string(domain.ActorTypeAgent))
}

// jsonResult encodes one tool payload.
func jsonResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}

func importArgs(required bool) []mcp.ToolOption {
	tenant := []mcp.PropertyOption{mcp.Description("Tenant identifier")}
	if required {
		tenant = append(tenant, mcp.Required())
	}
	return []mcp.ToolOption{
		mcp.WithString("tenant_id", tenant...),
		mcp.WithString("target_scenario_id", mcp.Description("Explicit target scenario (defaults to the tenant's current scenario)")),
		mcp.WithObject("file", mcp.Description("File metadata: name, format (csv|xlsx|json), size")),
		mcp.WithArray("rows", mcp.Required(),
			mcp.Description("Rows with assignment_id, year, month, optional week, hours, optional notes and row_number"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	}
}

// registerImportTools registers import preview, commit, and audit tools.
func registerImportTools(srv *mcpserver.MCPServer, imports common.ImportService) {
	srv.AddTool(
		mcp.NewTool("prognos.preview_import",
			append([]mcp.ToolOption{mcp.WithDescription("Validate import rows against the target scenario without writing anything.")}, importArgs(true)...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.PreviewImportRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.TenantID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "tenant_id" not found`), nil
			}
			preview, err := imports.PreviewImport(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("preview_import", preview)
		},
	)

	commitOpts := append([]mcp.ToolOption{mcp.WithDescription("Apply import rows in one transaction and record the import operation.")}, importArgs(true)...)
	commitOpts = append(commitOpts,
		mcp.WithBoolean("update_existing", mcp.Description("Update records that already exist (default true)")),
		mcp.WithBoolean("create_new_version", mcp.Description("Import into a new scenario version branched from the target")),
		mcp.WithString("new_version_name", mcp.Description("Name for the new version")),
		mcp.WithString("new_version_description", mcp.Description("Description for the new version")),
		mcp.WithBoolean("abort_on_duplicate", mcp.Description("Skip the import when identical content was already applied")),
		mcp.WithString("actor_id", mcp.Required(), mcp.Description("Agent identity recorded in history")),
	)
	srv.AddTool(
		mcp.NewTool("prognos.commit_import", commitOpts...),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.CommitImportRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.TenantID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "tenant_id" not found`), nil
			}
			if strings.TrimSpace(args.ActorID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "actor_id" not found`), nil
			}
			result, err := imports.CommitImport(agentContext(ctx, args.ActorID), args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("commit_import", result)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"prognos.list_imports",
			mcp.WithDescription("List import operations for a tenant, newest first."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("scenario_id", mcp.Description("Filter by target scenario")),
			mcp.WithString("from", mcp.Description("Inclusive RFC3339 lower bound")),
			mcp.WithString("to", mcp.Description("Inclusive RFC3339 upper bound")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.ListImportsRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.TenantID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "tenant_id" not found`), nil
			}
			items, err := imports.ListImports(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_imports", map[string]any{
				"items": items,
			})
		},
	)
}

// registerScenarioTools registers scenario list and promote tools.
func registerScenarioTools(srv *mcpserver.MCPServer, scenarios common.ScenarioService) {
	srv.AddTool(
		mcp.NewTool(
			"prognos.list_scenarios",
			mcp.WithDescription("List scenario versions for a tenant."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived scenarios")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			items, err := scenarios.ListScenarios(ctx, common.ListScenariosRequest{
				TenantID:        tenantID,
				IncludeArchived: req.GetBool("include_archived", false),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_scenarios", map[string]any{
				"items": items,
			})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"prognos.promote_scenario",
			mcp.WithDescription("Make one scenario the current version of its scope."),
			mcp.WithString("scenario_id", mcp.Required(), mcp.Description("Scenario identifier")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Agent identity recorded in history")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			scenarioID, err := req.RequireString("scenario_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			actorID, err := req.RequireString("actor_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			scenario, err := scenarios.PromoteScenario(agentContext(ctx, actorID), common.ScenarioActionRequest{
				ScenarioID: scenarioID,
				ActorID:    actorID,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("promote_scenario", scenario)
		},
	)
}

// registerLedgerTools registers workflow and history tools.
func registerLedgerTools(srv *mcpserver.MCPServer, ledger common.LedgerService) {
	srv.AddTool(
		mcp.NewTool(
			"prognos.transition_forecast",
			mcp.WithDescription("Apply one workflow action to a forecast record."),
			mcp.WithString("record_id", mcp.Required(), mcp.Description("Forecast record identifier")),
			mcp.WithString("action", mcp.Required(), mcp.Description("Workflow action"),
				mcp.Enum("submit", "review", "approve", "reject", "reopen", "lock")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Agent identity recorded in history")),
			mcp.WithString("schedule_name", mcp.Description("Configured approval schedule (defaults to \"default\")")),
			mcp.WithBoolean("allow_late", mcp.Description("Permit submit or approve after the cutoff")),
			mcp.WithString("reason", mcp.Description("Reason, required for reject")),
			mcp.WithString("notes", mcp.Description("Optional notes")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			recordID, err := req.RequireString("record_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			action, err := req.RequireString("action")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			actorID, err := req.RequireString("actor_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			record, err := ledger.TransitionForecast(agentContext(ctx, actorID), common.TransitionRequest{
				RecordID:     recordID,
				Action:       action,
				ActorID:      actorID,
				ScheduleName: req.GetString("schedule_name", ""),
				AllowLate:    req.GetBool("allow_late", false),
				Reason:       req.GetString("reason", ""),
				Notes:        req.GetString("notes", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("transition_forecast", record)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"prognos.list_history",
			mcp.WithDescription("List change history for one forecast record or one scenario."),
			mcp.WithString("record_id", mcp.Description("Forecast record identifier")),
			mcp.WithString("scenario_id", mcp.Description("Scenario identifier")),
			mcp.WithNumber("limit", mcp.Description("Maximum entries to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			in := common.ListHistoryRequest{
				RecordID:   req.GetString("record_id", ""),
				ScenarioID: req.GetString("scenario_id", ""),
				Limit:      req.GetInt("limit", 0),
			}
			if strings.TrimSpace(in.RecordID) == "" && strings.TrimSpace(in.ScenarioID) == "" {
				return mcp.NewToolResultError("invalid_request: record_id or scenario_id is required"), nil
			}
			items, err := ledger.ListHistory(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_history", map[string]any{
				"items": items,
			})
		},
	)
}

// registerDeadlineTools registers the deadline resolution tool.
func registerDeadlineTools(srv *mcpserver.MCPServer, deadlines common.DeadlineService) {
	srv.AddTool(
		mcp.NewTool(
			"prognos.resolve_deadlines",
			mcp.WithDescription("Resolve submission, approval, and lock dates for consecutive forecast months."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithNumber("year", mcp.Required(), mcp.Description("First forecast year")),
			mcp.WithNumber("month", mcp.Required(), mcp.Description("First forecast month (1-12)")),
			mcp.WithNumber("months", mcp.Description("Number of months to resolve (default 1)")),
			mcp.WithString("schedule_name", mcp.Description("Configured approval schedule (defaults to \"default\")")),
			mcp.WithObject("schedule", mcp.Description("Inline schedule: submission_day, approval_day, lock_day, timezone")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.ResolveDeadlinesRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.TenantID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "tenant_id" not found`), nil
			}
			items, err := deadlines.ResolveDeadlines(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("resolve_deadlines", map[string]any{
				"items": items,
			})
		},
	)
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrForbidden):
		return mcp.NewToolResultError("forbidden: " + err.Error())
	case errors.Is(err, common.ErrDeadlineExceeded):
		return mcp.NewToolResultError("deadline_exceeded: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("conflict: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}

// invalidRequestToolResult reports malformed tool arguments.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("invalid_request: malformed arguments")
	}
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}
