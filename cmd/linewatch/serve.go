package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/linewatch/internal/api"
	"github.com/hurttlocker/linewatch/internal/config"
	"github.com/hurttlocker/linewatch/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				srv := api.NewServer(api.Deps{
					Store:     a.store,
					Lines:     a.lines,
					Plan:      a.plan,
					Scans:     a.scans,
					Conflicts: a.conflicts,
					Exporter:  a.exporter,
				}, api.Options{
					MaxUploadBytes: max(a.cfg.Scan.MaxFileBytes, a.cfg.Plan.MaxFileBytes),
					Version:        version,
				}, a.log)
				return srv.Serve(ctx, a.cfg.Addr)
			})
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default :8080)")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				srv := mcp.NewServer(mcp.ServerConfig{
					Store:     a.store,
					Lines:     a.lines,
					Scans:     a.scans,
					Conflicts: a.conflicts,
					Version:   version,
					Log:       a.log,
				})
				return mcp.Serve(srv)
			})
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration and where each value came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := opts.resolved
			if r.LLMAPIKey.Value != "" {
				r.LLMAPIKey.Value = "[REDACTED]"
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			fmt.Fprintf(out, "config file: %s\n\n", r.ConfigPath)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
			for _, row := range []struct {
				key string
				v   config.ResolvedValue
			}{
				{"db_path", r.DBPath},
				{"server.addr", r.Addr},
				{"log.mode", r.LogMode},
				{"llm.base_url", r.LLMBaseURL},
				{"llm.model", r.LLMModel},
				{"llm.api_key", r.LLMAPIKey},
				{"llm.timeout_seconds", r.LLMTimeout},
				{"lines.threshold", r.FuzzyThreshold},
				{"lines.default_line", r.DefaultLine},
				{"dates.planning_year", r.PlanningYear},
				{"scan.root", r.MinutesDir},
			} {
				src := string(row.v.Source)
				if src == "" {
					src = "unset"
				}
				if row.v.From != "" {
					src += " (" + row.v.From + ")"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", row.key, row.v.Value, src)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
