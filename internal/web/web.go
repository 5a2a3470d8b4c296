package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"timetable/internal/config"
	"timetable/internal/editor"
	"timetable/internal/export"
	"timetable/internal/holiday"
	"timetable/internal/ics"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/preview"
	"timetable/internal/schedule"
	"timetable/internal/week"
)

// maxUploadBytes caps profile image uploads.
const maxUploadBytes = 10 << 20

//go:embed templates/*.html
var templateFS embed.FS

// Server provides the editor page, the JSON API and the canonical canvas.
type Server struct {
	cfg       *config.Config
	session   *editor.Session
	syncer    *holiday.Syncer
	exporter  *export.Exporter
	templates *template.Template
	validate  *validator.Validate
	router    chi.Router

	// Frozen compositions published for the chromium renderer, by id.
	snapMu    sync.RWMutex
	snapshots map[string]model.Composition
}

// NewServer constructs a new Server. syncer may be nil when no holiday
// calendars are configured.
func NewServer(cfg *config.Config, session *editor.Session, syncer *holiday.Syncer) *Server {
	s := &Server{
		cfg:       cfg,
		session:   session,
		syncer:    syncer,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		validate:  validator.New(),
		snapshots: make(map[string]model.Composition),
	}
	s.registerRoutes()
	return s
}

// SetExporter installs the exporter. It is separate from NewServer because
// the chromium renderer publishes snapshots through the server itself.
func (s *Server) SetExporter(e *export.Exporter) {
	s.exporter = e
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(s.router)
	}
	return s.router
}

// Run listens on cfg.Listen and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
// Requests can be made as soon as ln is open.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleEditor)
	r.Get("/canvas", s.handleCanvas)
	r.Get("/export/"+export.Filename, s.handleExport)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Put("/anchor", s.handleAnchor)
		r.Put("/scale", s.handleScale)

		r.Route("/entries/{day}", func(r chi.Router) {
			r.Put("/holiday", s.handleHoliday)
			r.Post("/holiday/toggle", s.handleHolidayToggle)
			r.Put("/time", s.handleTime)
			r.Put("/description", s.handleDescription)
		})

		r.Get("/profile-image", s.handleProfileGet)
		r.Post("/profile-image", s.handleProfileUpload)
		r.Delete("/profile-image", s.handleProfileDelete)

		r.Get("/week.ics", s.handleWeekICS)
		r.Post("/holidays/sync", s.handleHolidaySync)
	})
	s.router = r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health and snapshot canvas
// requests; snapshot ids are random and only live for one capture.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/canvas" {
			if _, ok := s.snapshot(r.URL.Query().Get("snapshot")); ok {
				next.ServeHTTP(w, r)
				return
			}
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Timetable", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Publish implements capture.Publisher.
func (s *Server) Publish(comp model.Composition) (string, func()) {
	id := uuid.NewString()
	s.snapMu.Lock()
	s.snapshots[id] = comp
	s.snapMu.Unlock()

	url := s.baseURL() + "/canvas?scale=1&snapshot=" + id
	return url, func() {
		s.snapMu.Lock()
		delete(s.snapshots, id)
		s.snapMu.Unlock()
	}
}

func (s *Server) snapshot(id string) (model.Composition, bool) {
	if id == "" {
		return model.Composition{}, false
	}
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	c, ok := s.snapshots[id]
	return c, ok
}

// baseURL is how the local browser reaches this server.
func (s *Server) baseURL() string {
	host, port, err := net.SplitHostPort(s.cfg.Listen)
	if err != nil {
		return "http://" + s.cfg.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type editorView struct {
	Width, Height                 int
	MinScale, MaxScale, ScaleStep float64
	Weekdays                      []string
	HolidayLabel                  string
	Filename                      string
}

func (s *Server) handleEditor(w http.ResponseWriter, _ *http.Request) {
	view := editorView{
		Width:        model.CanvasWidth,
		Height:       model.CanvasHeight,
		MinScale:     preview.MinScale,
		MaxScale:     preview.MaxScale,
		ScaleStep:    preview.ScaleStep,
		Weekdays:     s.cfg.Labels.Weekdays,
		HolidayLabel: s.cfg.Labels.Holiday,
		Filename:     export.Filename,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "editor.html", view); err != nil {
		s.logTemplateError("editor.html", err)
	}
}

func (s *Server) logTemplateError(name string, err error) {
	appLog.Error("template execution failed", err, "template", name)
}

type stateResponse struct {
	editor.State
	// ExportInFlight lets the editor disable the export button.
	ExportInFlight bool `json:"export_in_flight"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	resp := stateResponse{State: s.session.State()}
	if s.exporter != nil {
		resp.ExportInFlight = s.exporter.InFlight()
	}
	writeJSON(w, http.StatusOK, resp)
}

type boolRequest struct {
	Value *bool `json:"value" validate:"required"`
}

type stringRequest struct {
	Value *string `json:"value" validate:"required"`
}

type scaleRequest struct {
	Value *float64 `json:"value" validate:"required"`
}

type anchorRequest struct {
	Date string `json:"date" validate:"required"`
}

type anchorResponse struct {
	Anchor    string   `json:"anchor"`
	WeekDates []string `json:"week_dates"`
	Warning   string   `json:"warning,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type scaleResponse struct {
	Scale         float64 `json:"scale"`
	PreviewWidth  int     `json:"preview_width"`
	PreviewHeight int     `json:"preview_height"`
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// dayParam parses {day}; range checks are left to the store.
func dayParam(w http.ResponseWriter, r *http.Request) (model.Day, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "day must be an integer 0..6")
		return 0, false
	}
	return model.Day(n), true
}

func writeEntry(w http.ResponseWriter, e model.ScheduleEntry, err error) {
	var dayErr *schedule.InvalidDayError
	switch {
	case errors.As(err, &dayErr):
		writeError(w, http.StatusBadRequest, dayErr.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *Server) handleHoliday(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}
	var req boolRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := s.session.SetHoliday(day, *req.Value)
	writeEntry(w, e, err)
}

func (s *Server) handleHolidayToggle(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}
	e, err := s.session.ToggleHoliday(day)
	writeEntry(w, e, err)
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}
	var req stringRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := s.session.SetTime(day, *req.Value)
	writeEntry(w, e, err)
}

func (s *Server) handleDescription(w http.ResponseWriter, r *http.Request) {
	day, ok := dayParam(w, r)
	if !ok {
		return
	}
	var req stringRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := s.session.SetDescription(day, *req.Value)
	writeEntry(w, e, err)
}

// handleAnchor sets the anchor Monday. A non-Monday answers 422 with a
// user-facing warning and leaves the active week unchanged.
func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if !s.decode(w, r, &req) {
		return
	}
	anchor, err := s.session.SetAnchor(req.Date)

	resp := anchorResponse{Anchor: anchor.Format(week.DateLayout)}
	for _, d := range s.session.WeekDates() {
		resp.WeekDates = append(resp.WeekDates, d.Format(week.DateLayout))
	}

	switch {
	case errors.Is(err, week.ErrNotMonday):
		appLog.Info("anchor rejected", "date", req.Date)
		resp.Warning = "The selected date is not a Monday. Only Mondays can be selected."
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.resyncHolidays()
		writeJSON(w, http.StatusOK, resp)
	}
}

// resyncHolidays imports the holiday calendars for the new week in the
// background. SetAnchor already dropped the old week's imports.
func (s *Server) resyncHolidays() {
	if s.syncer == nil || !s.syncer.Enabled() {
		return
	}
	go func() {
		if _, err := s.syncer.Sync(context.Background()); err != nil && !errors.Is(err, week.ErrWeekChanged) {
			appLog.Error("holiday resync after anchor change failed", err)
		}
	}()
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if !s.decode(w, r, &req) {
		return
	}
	v := s.session.SetScale(*req.Value)
	pw, ph := preview.Size(v)
	writeJSON(w, http.StatusOK, scaleResponse{Scale: v, PreviewWidth: pw, PreviewHeight: ph})
}

func (s *Server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	p := s.session.ProfileImage()
	if p == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", p.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
	_, _ = w.Write(p.Data)
}

func (s *Server) handleProfileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	p, err := s.session.SetProfileImage(file)
	if err != nil {
		appLog.Error("profile image upload rejected", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b := p.Image.Bounds()
	writeJSON(w, http.StatusOK, map[string]any{
		"format": p.Format,
		"width":  b.Dx(),
		"height": b.Dy(),
	})
}

func (s *Server) handleProfileDelete(w http.ResponseWriter, _ *http.Request) {
	s.session.ClearProfileImage()
	w.WriteHeader(http.StatusNoContent)
}

// handleExport renders the current composition and returns it as an
// attachment named weekly-timetable.png.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exporter not configured")
		return
	}

	art, err := s.exporter.Export(r.Context(), s.session.Snapshot())
	switch {
	case errors.Is(err, export.ErrExportInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, export.ErrRateLimited):
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, export.ErrTargetMissing):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+art.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

func (s *Server) handleWeekICS(w http.ResponseWriter, _ *http.Request) {
	body := ics.WriteWeek(s.session.Snapshot(), time.Now().UTC())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="weekly-timetable.ics"`)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleHolidaySync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil || !s.syncer.Enabled() {
		writeError(w, http.StatusNotFound, "no holiday calendars configured")
		return
	}
	res, err := s.syncer.Sync(r.Context())
	if errors.Is(err, week.ErrWeekChanged) {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	if err != nil {
		appLog.Error("holiday sync failed", err)
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
