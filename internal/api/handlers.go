package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hurttlocker/linewatch/internal/conflict"
	"github.com/hurttlocker/linewatch/internal/export"
	"github.com/hurttlocker/linewatch/internal/ingest"
	"github.com/hurttlocker/linewatch/internal/lines"
	"github.com/hurttlocker/linewatch/internal/store"
)

const maxListLimit = 500

var errNoFile = errors.New(`multipart field "file" is required`)

// queryInt reads a non-negative integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func pagination(c *gin.Context, defLimit int) (limit, offset int, err error) {
	if limit, err = queryInt(c, "limit", defLimit); err != nil {
		return 0, 0, err
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset, err = queryInt(c, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// readUpload returns the name and bytes of the multipart "file" field.
func (s *Server) readUpload(c *gin.Context) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, errNoFile
	}
	name := filepath.Base(fh.Filename)
	if fh.Size > s.opts.MaxUploadBytes {
		return name, nil, fmt.Errorf("%w: %d bytes (limit %d)", ingest.ErrTooLarge, fh.Size, s.opts.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return name, nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxUploadBytes+1))
	if err != nil {
		return name, nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return name, nil, fmt.Errorf("%w: more than %d bytes", ingest.ErrTooLarge, s.opts.MaxUploadBytes)
	}
	return name, data, nil
}

// lineID maps the optional ?line= filter to a store id; 0 means all lines.
func (s *Server) lineID(c *gin.Context) (int64, error) {
	name := strings.TrimSpace(c.Query("line"))
	if name == "" {
		return 0, nil
	}
	l, err := s.store.GetLineByName(c.Request.Context(), name)
	if err != nil {
		return 0, fmt.Errorf("line %q: %w", name, err)
	}
	return l.ID, nil
}

type lineView struct {
	store.Line
	Aliases []store.LineAlias `json:"aliases"`
}

// GET /api/lines
func (s *Server) listLines(c *gin.Context) {
	ctx := c.Request.Context()
	activeOnly := c.Query("active") == "true"
	ls, err := s.store.ListLines(ctx, activeOnly)
	if err != nil {
		s.fail(c, err)
		return
	}
	aliases, err := s.store.ListAliases(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	byLine := map[int64][]store.LineAlias{}
	for _, a := range aliases {
		byLine[a.LineID] = append(byLine[a.LineID], a)
	}
	out := make([]lineView, 0, len(ls))
	for _, l := range ls {
		v := lineView{Line: l, Aliases: byLine[l.ID]}
		if v.Aliases == nil {
			v.Aliases = []store.LineAlias{}
		}
		out = append(out, v)
	}
	respondOK(c, http.StatusOK, out)
}

type aliasRequest struct {
	Alias  string   `json:"alias"`
	Weight *float64 `json:"weight"`
}

type createLineRequest struct {
	Name    string         `json:"name"`
	Aliases []aliasRequest `json:"aliases"`
	Active  *bool          `json:"active"`
}

// POST /api/lines
// Creates the line if needed and upserts its aliases. Weight defaults to 1.
func (s *Server) createLine(c *gin.Context) {
	var req createLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body", gin.H{"reason": err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(c, "name is required", nil)
		return
	}
	for i, a := range req.Aliases {
		if strings.TrimSpace(a.Alias) == "" {
			badRequest(c, fmt.Sprintf("aliases[%d].alias is empty", i), nil)
			return
		}
		if a.Weight != nil && (*a.Weight < 0 || *a.Weight > 2) {
			badRequest(c, fmt.Sprintf("aliases[%d].weight must be within [0, 2]", i), nil)
			return
		}
	}

	ctx := c.Request.Context()
	line, err := s.store.EnsureLine(ctx, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := createLineResponse{Line: line, NearDuplicates: []lines.NearAlias{}}
	if s.lines != nil {
		cat, err := s.lines.Catalog(ctx)
		if err != nil {
			s.fail(c, err)
			return
		}
		for _, a := range req.Aliases {
			out.NearDuplicates = append(out.NearDuplicates, cat.NearDuplicates(line.Name, a.Alias, lines.NearDuplicateSimilarity)...)
		}
	}
	if req.Active != nil && *req.Active != line.Active {
		if err := s.store.SetLineActive(ctx, line.ID, *req.Active); err != nil {
			s.fail(c, err)
			return
		}
		line.Active = *req.Active
	}
	for _, a := range req.Aliases {
		weight := 1.0
		if a.Weight != nil {
			weight = *a.Weight
		}
		if err := s.store.UpsertAlias(ctx, line.ID, strings.TrimSpace(a.Alias), weight); err != nil {
			s.fail(c, err)
			return
		}
	}
	if s.lines != nil {
		s.lines.Invalidate()
	}
	s.log.Info("line saved", "line", line.Name, "aliases", len(req.Aliases), "near_duplicates", len(out.NearDuplicates))
	respondOK(c, http.StatusCreated, out)
}

// createLineResponse is the saved line plus aliases of other lines that the
// new aliases closely resemble.
type createLineResponse struct {
	*store.Line
	NearDuplicates []lines.NearAlias `json:"near_duplicates"`
}

type resolveResponse struct {
	Query    string       `json:"query"`
	Resolved bool         `json:"resolved"`
	Match    *lines.Match `json:"match"`
}

// GET /api/lines/resolve?q=
func (s *Server) resolveLine(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, "q is required", nil)
		return
	}
	m, ok, err := s.lines.Resolve(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := resolveResponse{Query: q, Resolved: ok}
	if ok {
		out.Match = &m
	}
	respondOK(c, http.StatusOK, out)
}

// POST /api/plan/upload
// Multipart field "file" (.xlsx or .csv); optional field "line" overrides the
// default line.
func (s *Server) uploadPlan(c *gin.Context) {
	name, data, err := s.readUpload(c)
	if errors.Is(err, errNoFile) {
		badRequest(c, err.Error(), nil)
		return
	}
	if err == nil && !hasExt(name, ingest.TableExtensions) {
		err = fmt.Errorf("%w: %s", ingest.ErrUnsupportedType, filepath.Ext(name))
	}
	if err != nil {
		s.rejectUpload(c, name, err)
		return
	}
	res, err := s.plan.Import(c.Request.Context(), name, data, c.PostForm("line"))
	if err != nil {
		s.rejectUpload(c, name, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// GET /api/plan/tasks?line=&limit=&offset=
func (s *Server) listTasks(c *gin.Context) {
	limit, offset, err := pagination(c, 0)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}
	id, err := s.lineID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	tasks, err := s.store.ListPlanTasks(c.Request.Context(), store.TaskFilter{LineID: id, Limit: limit, Offset: offset})
	if err != nil {
		s.fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []store.PlanTask{}
	}
	respondOK(c, http.StatusOK, tasks)
}

// GET /api/plan/export?format=xlsx|csv&line=
func (s *Server) exportPlan(c *gin.Context) {
	f, err := export.ParseFormat(c.Query("format"), export.FormatXLSX, export.FormatCSV)
	if err != nil {
		s.fail(c, err)
		return
	}
	id, err := s.lineID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	tasks, err := s.store.ListPlanTasks(ctx, store.TaskFilter{LineID: id})
	if err != nil {
		s.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := s.exporter.Plan(ctx, &buf, f, tasks); err != nil {
		s.fail(c, err)
		return
	}
	s.download(c, f, "plan", buf.Bytes())
}

func (s *Server) download(c *gin.Context, f export.Format, prefix string, body []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.FileName(prefix, s.now())))
	c.Data(http.StatusOK, f.ContentType(), body)
}

// POST /api/minutes/upload
// Multipart field "file" holding one minutes document.
func (s *Server) uploadMinutes(c *gin.Context) {
	name, data, err := s.readUpload(c)
	if errors.Is(err, errNoFile) {
		badRequest(c, err.Error(), nil)
		return
	}
	if err != nil {
		s.rejectUpload(c, name, err)
		return
	}
	res, err := s.scans.IngestDocument(c.Request.Context(), name, data)
	if err != nil {
		s.rejectUpload(c, name, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

// GET /api/downtimes?line=&limit=&offset=
func (s *Server) listDowntimes(c *gin.Context) {
	limit, offset, err := pagination(c, 0)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}
	id, err := s.lineID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	ds, err := s.store.ListDowntimes(c.Request.Context(), store.DowntimeFilter{LineID: id, Limit: limit, Offset: offset})
	if err != nil {
		s.fail(c, err)
		return
	}
	if ds == nil {
		ds = []store.Downtime{}
	}
	respondOK(c, http.StatusOK, ds)
}

type scanRequest struct {
	Folder string `json:"folder"`
}

// POST /api/scan
// Starts a background scan of {folder} (relative to the minutes root) and
// answers 202 with the pending job.
func (s *Server) startScan(c *gin.Context) {
	var req scanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body", gin.H{"reason": err.Error()})
			return
		}
	}
	job, err := s.scans.Start(c.Request.Context(), req.Folder)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusAccepted, job)
}

// GET /api/scan?limit=
func (s *Server) listScans(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}
	jobs, err := s.store.ListScanJobs(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if jobs == nil {
		jobs = []store.ScanJob{}
	}
	respondOK(c, http.StatusOK, jobs)
}

// GET /api/scan/:id
func (s *Server) getScan(c *gin.Context) {
	job, err := s.store.GetScanJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, job)
}

// GET /api/conflicts?line=
func (s *Server) listConflicts(c *gin.Context) {
	cs, err := s.conflicts.Find(c.Request.Context(), conflict.Filter{Line: strings.TrimSpace(c.Query("line"))})
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, export.ConflictRows(cs))
}

// POST /api/conflicts/detect
// Re-runs detection over every downtime; only new pairs are notified.
func (s *Server) detectConflicts(c *gin.Context) {
	rep, err := s.conflicts.DetectAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"detected":  rep.Detected,
		"created":   rep.Created,
		"conflicts": export.ConflictRows(rep.Conflicts),
	})
}

// GET /api/conflicts/export?format=csv|json&line=
func (s *Server) exportConflicts(c *gin.Context) {
	f, err := export.ParseFormat(c.Query("format"), export.FormatCSV, export.FormatJSON)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	cs, err := s.conflicts.Find(ctx, conflict.Filter{Line: strings.TrimSpace(c.Query("line"))})
	if err != nil {
		s.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := s.exporter.Conflicts(ctx, &buf, f, cs); err != nil {
		s.fail(c, err)
		return
	}
	s.download(c, f, "conflicts", buf.Bytes())
}

// GET /api/notifications?level=&code=&since_id=&limit=&offset=
func (s *Server) listNotifications(c *gin.Context) {
	limit, offset, err := pagination(c, 0)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}
	sinceID, err := queryInt(c, "since_id", 0)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}
	ns, err := s.store.ListNotifications(c.Request.Context(), store.NotificationFilter{
		Level:   store.NotificationLevel(strings.ToLower(c.Query("level"))),
		Code:    store.NotificationCode(strings.ToUpper(c.Query("code"))),
		SinceID: int64(sinceID),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if ns == nil {
		ns = []store.Notification{}
	}
	respondOK(c, http.StatusOK, ns)
}
