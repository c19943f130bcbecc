package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/export"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/store"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- scan ---

func newScanCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan [folder]",
		Short: "Extract downtimes from a folder of meeting minutes and detect conflicts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := ""
			if len(args) == 1 {
				folder = args[0]
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				job, res, err := a.scans.Scan(ctx, folder)
				if err != nil && job == nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					if perr := printJSON(out, job); perr != nil {
						return perr
					}
					return err
				}
				fmt.Fprintf(out, "Scan %s: %s (%s)\n", job.ID, job.Status, job.Message)
				if res != nil {
					fmt.Fprintf(out, "  Documents processed: %d\n", res.DocumentsProcessed)
					fmt.Fprintf(out, "  Downtimes extracted: %d\n", res.DowntimesExtracted)
					fmt.Fprintf(out, "  Downtimes saved:     %d\n", res.DowntimesSaved)
					fmt.Fprintf(out, "  Downtimes skipped:   %d\n", res.DowntimesSkipped)
					fmt.Fprintf(out, "  Downtimes in store:  %d\n", res.DowntimesTotal)
					fmt.Fprintf(out, "  Conflicts:           %d (%d new)\n", res.ConflictsDetected, res.ConflictsCreated)
					for _, s := range res.SkipReasons {
						fmt.Fprintf(out, "  skipped %s: %s %s\n", s.File, s.Reason, s.Detail)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

// --- plan ---

func newPlanCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Import or export the production plan",
	}

	var line string
	importCmd := &cobra.Command{
		Use:   "import <file.xlsx|file.csv>",
		Short: "Import a plan spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.plan.Import(ctx, args[0], data, line)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported %s: %d created, %d updated, %d skipped\n", args[0], res.Created, res.Updated, res.Skipped)
				for _, w := range res.Warnings {
					fmt.Fprintf(out, "  warning: %s\n", w)
				}
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&line, "line", "", "Line for rows without a line column (default: configured default line)")

	var format, outPath, exportLine string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the plan as xlsx or csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format, export.FormatXLSX, export.FormatCSV)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				filter := store.TaskFilter{}
				if exportLine != "" {
					l, err := a.store.GetLineByName(ctx, exportLine)
					if err != nil {
						return fmt.Errorf("line %q: %w", exportLine, err)
					}
					filter.LineID = l.ID
				}
				tasks, err := a.store.ListPlanTasks(ctx, filter)
				if err != nil {
					return err
				}
				var buf bytes.Buffer
				err = a.exporter.Plan(ctx, &buf, f, tasks)
				return writeExport(cmd, f, "plan", outPath, buf.Bytes(), err)
			})
		},
	}
	exportCmd.Flags().StringVar(&format, "format", "xlsx", "Output format: xlsx or csv")
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default plan_<timestamp>.<format>; - for stdout)")
	exportCmd.Flags().StringVar(&exportLine, "line", "", "Only tasks of this line")

	cmd.AddCommand(importCmd, exportCmd)
	return cmd
}

// writeExport stores an export body. An empty export is still written and
// reported, not failed.
func writeExport(cmd *cobra.Command, f export.Format, prefix, path string, body []byte, exportErr error) error {
	empty := errors.Is(exportErr, export.ErrEmpty)
	if exportErr != nil && !empty {
		return exportErr
	}
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(body)
		return err
	}
	if path == "" {
		path = f.FileName(prefix, time.Now())
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if empty {
		fmt.Fprintf(cmd.ErrOrStderr(), "Nothing to export; wrote an empty %s file to %s\n", f, path)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// --- conflicts ---

func newConflictsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect or export plan/downtime conflicts",
	}

	var line string
	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect conflicts over every stored downtime and record new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				rep, err := a.conflicts.DetectAll(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d conflicts (%d new)\n", rep.Detected, rep.Created)
				return printConflicts(out, rep.Conflicts, line)
			})
		},
	}
	detectCmd.Flags().StringVar(&line, "line", "", "Only print conflicts of this line")

	var format, outPath, exportLine string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export conflicts as csv or json",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format, export.FormatCSV, export.FormatJSON)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				cs, err := a.conflicts.Find(ctx, conflict.Filter{Line: exportLine})
				if err != nil {
					return err
				}
				var buf bytes.Buffer
				err = a.exporter.Conflicts(ctx, &buf, f, cs)
				return writeExport(cmd, f, "conflicts", outPath, buf.Bytes(), err)
			})
		},
	}
	exportCmd.Flags().StringVar(&format, "format", "csv", "Output format: csv or json")
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default conflicts_<timestamp>.<format>; - for stdout)")
	exportCmd.Flags().StringVar(&exportLine, "line", "", "Only conflicts of this line")

	cmd.AddCommand(detectCmd, exportCmd)
	return cmd
}

func printConflicts(w io.Writer, cs []conflict.Conflict, line string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tTASK\tPLAN\tDOWNTIME\tOVERLAP\tSTATUS\tSOURCE FILE")
	for _, c := range cs {
		if line != "" && c.Task.LineName != line {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s..%s\t%s..%s\t%s..%s (%dd)\t%s\t%s\n",
			c.Task.LineName, c.Task.Title,
			store.FormatDate(c.Task.Start), store.FormatDate(c.Task.End),
			store.FormatDate(c.Downtime.Start), store.FormatDate(c.Downtime.End),
			store.FormatDate(c.OverlapStart), store.FormatDate(c.OverlapEnd), c.OverlapDays(),
			c.Downtime.Status, c.Downtime.SourceFile)
	}
	return tw.Flush()
}

// --- lines ---

func newLinesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lines",
		Short: "Manage production lines and their aliases",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List lines with their aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ls, err := a.store.ListLines(ctx, false)
				if err != nil {
					return err
				}
				aliases, err := a.store.ListAliases(ctx)
				if err != nil {
					return err
				}
				byLine := map[int64][]string{}
				for _, al := range aliases {
					byLine[al.LineID] = append(byLine[al.LineID], fmt.Sprintf("%s (%.1f)", al.Alias, al.Weight))
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LINE\tACTIVE\tALIASES")
				for _, l := range ls {
					fmt.Fprintf(tw, "%s\t%t\t%s\n", l.Name, l.Active, strings.Join(byLine[l.ID], ", "))
				}
				return tw.Flush()
			})
		},
	}

	var aliasFlags []string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a line and add aliases (--alias text[=weight])",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type aliasArg struct {
				text   string
				weight float64
			}
			var parsed []aliasArg
			for _, raw := range aliasFlags {
				text, weight, err := parseAliasFlag(raw)
				if err != nil {
					return err
				}
				parsed = append(parsed, aliasArg{text, weight})
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				l, err := a.store.EnsureLine(ctx, args[0])
				if err != nil {
					return err
				}
				cat, err := a.lines.Catalog(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, al := range parsed {
					if err := a.store.UpsertAlias(ctx, l.ID, al.text, al.weight); err != nil {
						return err
					}
					for _, nd := range cat.NearDuplicates(l.Name, al.text, lines.NearDuplicateSimilarity) {
						fmt.Fprintf(out, "warning: alias %q is close to %q on %s (%.0f%%)\n", al.text, nd.Alias, nd.Line, nd.Similarity*100)
					}
				}
				fmt.Fprintf(out, "Line %s saved with %d alias(es)\n", l.Name, len(parsed))
				return nil
			})
		},
	}
	addCmd.Flags().StringArrayVar(&aliasFlags, "alias", nil, "Alias text, optionally with a weight in [0, 2] (e.g. --alias 'линия 7=1.5')")

	resolveCmd := &cobra.Command{
		Use:   "resolve <mention>",
		Short: "Resolve a free-text line mention",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mention := strings.Join(args, " ")
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, ok, err := a.lines.Resolve(ctx, mention)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%q: no line matched (threshold %.0f)\n", mention, a.lines.Threshold())
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%q -> %s (%s, score %.1f)\n", mention, m.Line, m.Method, m.Score)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, addCmd, resolveCmd)
	return cmd
}

// parseAliasFlag splits "text=weight"; the weight defaults to 1.
func parseAliasFlag(raw string) (string, float64, error) {
	text, weight := raw, 1.0
	if i := strings.LastIndex(raw, "="); i >= 0 {
		w, err := strconv.ParseFloat(strings.TrimSpace(raw[i+1:]), 64)
		if err != nil {
			return "", 0, fmt.Errorf("alias %q: weight must be a number", raw)
		}
		text, weight = raw[:i], w
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", 0, fmt.Errorf("alias %q: text is empty", raw)
	}
	if weight < 0 || weight > 2 {
		return "", 0, fmt.Errorf("alias %q: weight must be within [0, 2]", raw)
	}
	return text, weight, nil
}

// --- notifications ---

func newNotificationsCmd(opts *rootOptions) *cobra.Command {
	var (
		sinceID int64
		limit   int
		level   string
		code    string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications (newest first, or in id order with --since-id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ns, err := a.store.ListNotifications(ctx, store.NotificationFilter{
					Level:   store.NotificationLevel(strings.ToLower(level)),
					Code:    store.NotificationCode(strings.ToUpper(code)),
					SinceID: sinceID,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					if ns == nil {
						ns = []store.Notification{}
					}
					return printJSON(out, ns)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTIME\tLEVEL\tCODE\tTEXT")
				for _, n := range ns {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", n.ID, n.CreatedAt.Local().Format(time.DateTime), n.Level, n.Code, n.Text)
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&sinceID, "since-id", 0, "Only notifications after this id")
	f.IntVar(&limit, "limit", 50, "Maximum rows (max 500)")
	f.StringVar(&level, "level", "", "Filter by level (info, warning, error, success)")
	f.StringVar(&code, "code", "", "Filter by code (e.g. CONFLICT_DETECTED)")
	f.BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
