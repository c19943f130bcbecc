// Package mcp provides a Model Context Protocol server for linewatch.
//
// It exposes minutes scanning, conflict detection, line resolution and the
// notification feed as MCP tools, and store statistics and recent
// notifications as MCP resources. Served over stdio by `linewatch mcp`.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/export"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/logging"
	"github.com/hurttlocker/linewatch/internal/scan"
	"github.com/hurttlocker/linewatch/internal/store"
)

const (
	defaultScanWait = 60 * time.Second
	maxScanWait     = 10 * time.Minute
	scanPoll        = 250 * time.Millisecond
)

// Store is the persistence the tools read directly.
type Store interface {
	GetScanJob(ctx context.Context, id string) (*store.ScanJob, error)
	ListNotifications(ctx context.Context, filter store.NotificationFilter) ([]store.Notification, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store     Store
	Lines     *lines.Resolver
	Scans     *scan.Runner
	Conflicts *conflict.Detector
	Version   string // version string for MCP server info
	Log       *logging.Logger
}

// NewServer creates a configured MCP server with all linewatch tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	log := logging.OrNop(cfg.Log).With("component", "mcp")

	s := server.NewMCPServer(
		"linewatch",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
		server.WithRecovery(),
	)

	registerScanTool(s, cfg.Scans, cfg.Store, log)
	registerScanStatusTool(s, cfg.Store)
	registerConflictsTool(s, cfg.Conflicts)
	registerResolveLineTool(s, cfg.Lines)
	registerNotificationsTool(s, cfg.Store)

	registerStatsResource(s, cfg.Store)
	registerRecentNotificationsResource(s, cfg.Store)

	return s
}

// Serve runs the server over stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// --- Tools ---

func registerScanTool(s *server.MCPServer, runner *scan.Runner, st Store, log *logging.Logger) {
	tool := mcp.NewTool("linewatch_scan",
		mcp.WithDescription("Scan a folder of meeting minutes for line downtimes, store them, and detect conflicts with the production plan. Waits for the job to finish up to wait_seconds and returns the job with its results."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("folder",
			mcp.Description("Folder to scan, relative to the minutes root. Empty = the whole root."),
		),
		mcp.WithNumber("wait_seconds",
			mcp.Description("How long to wait for completion (default: 60, max: 600). The job keeps running after the wait expires."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		folder, _ := req.RequireString("folder")
		wait := defaultScanWait
		if v, err := req.RequireFloat("wait_seconds"); err == nil && v > 0 {
			wait = time.Duration(v * float64(time.Second))
			if wait > maxScanWait {
				wait = maxScanWait
			}
		}

		job, err := runner.Start(ctx, folder)
		if errors.Is(err, scan.ErrOutsideRoot) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan error: %v", err)), nil
		}

		job, err = awaitJob(ctx, st, job.ID, wait)
		if err != nil {
			log.Warn("waiting for scan job", "job", job.ID, "error", err)
		}
		return jsonResult(job), nil
	})
}

// awaitJob polls the job until it is terminal, wait elapses or ctx ends, and
// returns the latest record.
func awaitJob(ctx context.Context, st Store, id string, wait time.Duration) (*store.ScanJob, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(scanPoll)
	defer ticker.Stop()

	for {
		job, err := st.GetScanJob(context.WithoutCancel(ctx), id)
		if err != nil {
			return &store.ScanJob{ID: id}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, nil
		case <-ticker.C:
		}
	}
}

func registerScanStatusTool(s *server.MCPServer, st Store) {
	tool := mcp.NewTool("linewatch_scan_status",
		mcp.WithDescription("Get the status, progress and results of a scan job."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Scan job id returned by linewatch_scan"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil || strings.TrimSpace(id) == "" {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		job, err := st.GetScanJob(ctx, strings.TrimSpace(id))
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("scan job %s not found", id)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan status error: %v", err)), nil
		}
		return jsonResult(job), nil
	})
}

func registerConflictsTool(s *server.MCPServer, det *conflict.Detector) {
	tool := mcp.NewTool("linewatch_conflicts",
		mcp.WithDescription("List plan tasks that overlap a recorded downtime on the same line. With detect=true, new conflicts are also recorded as notifications."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("line",
			mcp.Description("Canonical line name (e.g. 'Line_66'). Empty = all lines."),
		),
		mcp.WithBoolean("detect",
			mcp.Description("Record new conflicts as notifications (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		line, _ := req.RequireString("line")
		line = strings.TrimSpace(line)
		detect, _ := req.RequireBool("detect")

		result := map[string]any{"line": line}
		var cs []conflict.Conflict
		if detect {
			rep, err := det.DetectAll(ctx)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("detect error: %v", err)), nil
			}
			result["created"] = rep.Created
			for _, c := range rep.Conflicts {
				if line == "" || c.Task.LineName == line {
					cs = append(cs, c)
				}
			}
		} else {
			var err error
			if cs, err = det.Find(ctx, conflict.Filter{Line: line}); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("conflicts error: %v", err)), nil
			}
		}
		result["count"] = len(cs)
		result["conflicts"] = export.ConflictRows(cs)
		return jsonResult(result), nil
	})
}

func registerResolveLineTool(s *server.MCPServer, resolver *lines.Resolver) {
	tool := mcp.NewTool("linewatch_resolve_line",
		mcp.WithDescription("Resolve a free-text production line mention (e.g. 'линия 66', 'фриз-драй') to its canonical line name."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("mention",
			mcp.Required(),
			mcp.Description("Line mention to resolve"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mention, err := req.RequireString("mention")
		if err != nil || strings.TrimSpace(mention) == "" {
			return mcp.NewToolResultError("mention is required"), nil
		}
		m, ok, err := resolver.Resolve(ctx, mention)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolve error: %v", err)), nil
		}
		result := map[string]any{"mention": mention, "resolved": ok}
		if ok {
			result["match"] = m
		}
		return jsonResult(result), nil
	})
}

func registerNotificationsTool(s *server.MCPServer, st Store) {
	tool := mcp.NewTool("linewatch_notifications",
		mcp.WithDescription("Read the notification feed (conflicts, extraction problems, plan date corrections) in id order."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("since_id",
			mcp.Description("Only notifications with a larger id (default: 0)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of notifications (default: 20, max: 100)"),
		),
		mcp.WithString("level",
			mcp.Description("Filter by level"),
			mcp.Enum("info", "warning", "error", "success"),
		),
		mcp.WithString("code",
			mcp.Description("Filter by code (e.g. 'CONFLICT_DETECTED')"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := store.NotificationFilter{Limit: 20}
		if v, err := req.RequireFloat("since_id"); err == nil && v > 0 {
			f.SinceID = int64(v)
		}
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			f.Limit = int(v)
			if f.Limit > 100 {
				f.Limit = 100
			}
		}
		if v, err := req.RequireString("level"); err == nil {
			f.Level = store.NotificationLevel(strings.ToLower(strings.TrimSpace(v)))
		}
		if v, err := req.RequireString("code"); err == nil {
			f.Code = store.NotificationCode(strings.ToUpper(strings.TrimSpace(v)))
		}

		ns, err := st.ListNotifications(ctx, f)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("notifications error: %v", err)), nil
		}
		if ns == nil {
			ns = []store.Notification{}
		}
		return jsonResult(ns), nil
	})
}
