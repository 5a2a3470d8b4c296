package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetable/internal/config"
	"timetable/internal/editor"
	"timetable/internal/export"
	"timetable/internal/model"
	"timetable/internal/render"
)

type testEnv struct {
	srv     *Server
	session *editor.Session
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	session := editor.New(editor.Options{
		Location: time.UTC,
		Labels: model.Labels{
			Weekdays: [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
			Holiday:  "Holiday",
			Title:    "TITLE",
		},
		Now: func() time.Time { return time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC) },
	})
	srv := NewServer(cfg, session, nil)
	native, err := render.NewNative(render.Options{})
	require.NoError(t, err)
	srv.SetExporter(export.New(native))
	return &testEnv{srv: srv, session: session, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestState(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	st := decodeJSON(t, w)
	assert.Equal(t, "2024-05-13", st["anchor"])
	assert.Equal(t, 0.5, st["scale"])
	assert.Equal(t, false, st["export_in_flight"])
	assert.Len(t, st["entries"], 7)
	assert.Len(t, st["week_dates"], 7)
}

func TestEntryUpdates(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/entries/3/time", `{"value":"21:00"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "21:00", decodeJSON(t, w)["time"])

	w = env.do(t, http.MethodPut, "/api/entries/3/description", `{"value":"stream"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/entries/3/holiday/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeJSON(t, w)
	assert.Equal(t, true, got["is_holiday"])
	assert.Equal(t, "21:00", got["time"])
	assert.Equal(t, "stream", got["description"])

	w = env.do(t, http.MethodPut, "/api/entries/3/holiday", `{"value":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.session.Snapshot().Entries[3].IsHoliday)
}

func TestEntryBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name, method, path, body string
	}{
		{"day out of range", http.MethodPut, "/api/entries/7/time", `{"value":"10:00"}`},
		{"negative day", http.MethodPost, "/api/entries/-1/holiday/toggle", ""},
		{"non-integer day", http.MethodPut, "/api/entries/mon/time", `{"value":"10:00"}`},
		{"missing value", http.MethodPut, "/api/entries/1/holiday", `{}`},
		{"unknown field", http.MethodPut, "/api/entries/1/time", `{"value":"10:00","extra":1}`},
		{"malformed", http.MethodPut, "/api/entries/1/description", `{"value":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeJSON(t, w), "error")
		})
	}
}

func TestAnchor(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/anchor", `{"date":"2024-05-21"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	got := decodeJSON(t, w)
	assert.Equal(t, "The selected date is not a Monday. Only Mondays can be selected.", got["warning"])
	assert.Equal(t, "2024-05-13", got["anchor"])

	w = env.do(t, http.MethodPut, "/api/anchor", `{"date":"2024-12-30"}`)
	require.Equal(t, http.StatusOK, w.Code)
	got = decodeJSON(t, w)
	assert.Equal(t, "2024-12-30", got["anchor"])
	dates := got["week_dates"].([]any)
	assert.Equal(t, "2025-01-05", dates[6])

	w = env.do(t, http.MethodPut, "/api/anchor", `{"date":"30/12/2024"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScale(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPut, "/api/scale", `{"value":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeJSON(t, w)
	assert.Equal(t, 2.0, got["scale"])
	assert.Equal(t, 2560.0, got["preview_width"])
	assert.Equal(t, 1440.0, got["preview_height"])
}

func TestExportDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.SetScale(0.3)

	w := env.do(t, http.MethodGet, "/export/weekly-timetable.png", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="weekly-timetable.png"`, w.Header().Get("Content-Disposition"))

	cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
}

func TestExportIdenticalAcrossPreviewScales(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.session.SetDescription(model.Tuesday, "practice")
	require.NoError(t, err)
	_, err = env.session.ToggleHoliday(model.Saturday)
	require.NoError(t, err)

	var first []byte
	for _, scale := range []string{"0.3", "1.0", "2.0"} {
		w := env.do(t, http.MethodPut, "/api/scale", `{"value":`+scale+`}`)
		require.Equal(t, http.StatusOK, w.Code)

		w = env.do(t, http.MethodGet, "/export/weekly-timetable.png", "")
		require.Equal(t, http.StatusOK, w.Code, "scale %s: %s", scale, w.Body.String())

		cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 1280, cfg.Width, "scale %s", scale)
		assert.Equal(t, 720, cfg.Height, "scale %s", scale)

		if first == nil {
			first = w.Body.Bytes()
			continue
		}
		assert.True(t, bytes.Equal(first, w.Body.Bytes()), "export at scale %s differs from scale 0.3", scale)
	}
	assert.Equal(t, 2.0, env.session.Scale())
}

func TestServeOnListener(t *testing.T) {
	env := newTestEnv(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestExportWithoutExporter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.SetExporter(nil)
	w := env.do(t, http.MethodGet, "/export/weekly-timetable.png", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProfileUpload(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/profile-image", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, imaging.New(20, 10, color.NRGBA{B: 0xff, A: 0xff})))

	upload := func(data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "me.png")
		require.NoError(t, err)
		_, _ = fw.Write(data)
		require.NoError(t, mw.Close())

		r := httptest.NewRequest(http.MethodPost, "/api/profile-image", &body)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, r)
		return rec
	}

	w = upload(img.Bytes())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "png", decodeJSON(t, w)["format"])

	w = upload([]byte("garbage"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotNil(t, env.session.ProfileImage())

	w = env.do(t, http.MethodGet, "/api/profile-image", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, img.Bytes(), w.Body.Bytes())

	w = env.do(t, http.MethodDelete, "/api/profile-image", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, env.session.ProfileImage())
}

func TestCanvas(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.session.SetDescription(model.Monday, "practice")
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/canvas", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `id="timetable"`)
	assert.Contains(t, body, "practice")
	assert.Contains(t, body, "2024.5.13 - 2024.5.19")
	assert.Contains(t, body, "scale(1)")

	w = env.do(t, http.MethodGet, "/canvas?scale=0.5", "")
	assert.Contains(t, w.Body.String(), "scale(0.5)")

	w = env.do(t, http.MethodGet, "/canvas?snapshot=unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCanvasSnapshotIsFrozen(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.session.SetDescription(model.Monday, "frozen")
	require.NoError(t, err)

	url, release := env.srv.Publish(env.session.Snapshot())
	_, err = env.session.SetDescription(model.Monday, "edited later")
	require.NoError(t, err)

	path := url[strings.Index(url, "/canvas"):]
	w := env.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "frozen")
	assert.NotContains(t, w.Body.String(), "edited later")

	release()
	w = env.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWeekICS(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/week.ics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, w.Body.String(), "BEGIN:VCALENDAR")
}

func TestHolidaySyncDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/holidays/sync", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	w := env.do(t, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	w = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	r.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	r.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	url, release := env.srv.Publish(env.session.Snapshot())
	defer release()
	w = env.do(t, http.MethodGet, url[strings.Index(url, "/canvas"):], "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/canvas", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEditorPage(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "weekly-timetable.png")
}
