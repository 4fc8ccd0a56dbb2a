package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/hokuyo/internal/clocksync"
	"github.com/banshee-data/hokuyo/internal/hokuyo"
	"github.com/banshee-data/hokuyo/internal/syncdb"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Sensor is the part of *hokuyo.Driver the HTTP API uses.
type Sensor interface {
	Address() string
	Config() hokuyo.SensorConfig
	ClockState() clocksync.State
	LastSync() (clocksync.Session, bool)
	LaserState(ctx context.Context) (hokuyo.LaserState, string, error)
	Info(ctx context.Context, kind hokuyo.InfoKind) (map[string]string, error)
	FilteredScan(ctx context.Context, req hokuyo.ScanRequest, f hokuyo.Filter) (int64, hokuyo.Scan, error)
	TimeSync(ctx context.Context) error
}

// SessionStore lists recorded clock synchronization sessions.
type SessionStore interface {
	Sessions(limit int) ([]syncdb.SessionRecord, error)
}

// DefaultSessionLimit caps /api/sync/sessions when no limit is given.
const DefaultSessionLimit = 50

// RequestTimeout bounds the device conversation behind a single request.
const RequestTimeout = 10 * time.Second

type Server struct {
	sensor   Sensor
	sessions SessionStore
}

// NewServer returns a Server for sensor. sessions may be nil, in which case
// /api/sync/sessions reports 404.
func NewServer(sensor Sensor, sessions SessionStore) *Server {
	return &Server{sensor: sensor, sessions: sessions}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sensor/config", s.showConfig)
	mux.HandleFunc("/api/sensor/state", s.showState)
	mux.HandleFunc("/api/sensor/info", s.showInfo)
	mux.HandleFunc("/api/sensor/scan", s.takeScan)
	mux.HandleFunc("/api/clock", s.showClock)
	mux.HandleFunc("/api/sync/sessions", s.listSessions)
	return mux
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSONOK(w, s.sensor.Config())
}

type stateResponse struct {
	Code        string `json:"code"`
	State       string `json:"state"`
	Description string `json:"description"`
	Measuring   bool   `json:"measuring"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), RequestTimeout)
	defer cancel()
	st, desc, err := s.sensor.LaserState(ctx)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSONOK(w, stateResponse{
		Code:        st.Code(),
		State:       st.String(),
		Description: desc,
		Measuring:   st.Measuring(),
	})
}

func (s *Server) showInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query().Get("kind")
	if q == "" {
		q = "version"
	}
	kind, err := hokuyo.ParseInfoKind(q)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), RequestTimeout)
	defer cancel()
	values, err := s.sensor.Info(ctx, kind)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSONOK(w, values)
}

type scanResponse struct {
	Timestamp    int64           `json:"timestamp"`
	HasIntensity bool            `json:"has_intensity"`
	Count        int             `json:"count"`
	Samples      []hokuyo.Sample `json:"samples"`
}

func (s *Server) takeScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	req, filter, err := parseScanQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), RequestTimeout)
	defer cancel()
	ts, scan, err := s.sensor.FilteredScan(ctx, req, filter)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSONOK(w, scanResponse{
		Timestamp:    ts,
		HasIntensity: scan.HasIntensity,
		Count:        len(scan.Samples),
		Samples:      scan.Samples,
	})
}

func parseScanQuery(r *http.Request) (hokuyo.ScanRequest, hokuyo.Filter, error) {
	q := r.URL.Query()
	var req hokuyo.ScanRequest
	var f hokuyo.Filter

	if v := q.Get("intensity"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, f, fmt.Errorf("invalid 'intensity' parameter")
		}
		req.Intensity = b
	}
	switch q.Get("encoding") {
	case "", "3":
	case "2":
		req.Encoding = hokuyo.TwoChar
	default:
		return req, f, fmt.Errorf("invalid 'encoding' parameter")
	}
	for _, p := range []struct {
		name string
		dst  **int
	}{{"start", &req.Start}, {"end", &req.End}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, f, fmt.Errorf("invalid '%s' parameter", p.name)
		}
		*p.dst = &n
	}
	if v := q.Get("grouping"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, f, fmt.Errorf("invalid 'grouping' parameter")
		}
		req.Grouping = n
	}
	for _, p := range []struct {
		name string
		dst  **uint32
	}{
		{"dmin", &f.DistanceMin}, {"dmax", &f.DistanceMax},
		{"imin", &f.IntensityMin}, {"imax", &f.IntensityMax},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return req, f, fmt.Errorf("invalid '%s' parameter", p.name)
		}
		u := uint32(n)
		*p.dst = &u
	}
	return req, f, nil
}

type clockResponse struct {
	clocksync.State
	LastSync *clocksync.Session `json:"last_sync,omitempty"`
}

func (s *Server) clock() clockResponse {
	resp := clockResponse{State: s.sensor.ClockState()}
	if last, ok := s.sensor.LastSync(); ok {
		resp.LastSync = &last
	}
	return resp
}

func (s *Server) showClock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSONOK(w, s.clock())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.sessions == nil {
		writeJSONError(w, http.StatusNotFound, "sync journal disabled")
		return
	}
	limit := DefaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	records, err := s.sessions.Sessions(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	if records == nil {
		records = []syncdb.SessionRecord{}
	}
	writeJSONOK(w, records)
}

// AttachAdminRoutes adds sensor entries and a resync action to the /debug/
// page. These routes are accessible only over localhost/via Tailscale.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KV("Sensor address", s.sensor.Address())
	debug.KVFunc("Sensor model", func() any { return s.sensor.Config().Model })
	debug.KVFunc("Epoch offset (ms)", func() any { return s.sensor.ClockState().EpochOffsetMs })
	debug.KVFunc("Overflow count", func() any { return s.sensor.ClockState().OverflowCount })

	debug.HandleSilentFunc("resync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), RequestTimeout)
		defer cancel()
		if err := s.sensor.TimeSync(ctx); err != nil {
			writeDriverError(w, err)
			return
		}
		writeJSONOK(w, s.clock())
	})
}
