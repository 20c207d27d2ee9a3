// Package api serves the HTTP control surface: commands that steer the servo
// and volume, zone management and the current controller state.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/uwb.follow/internal/httputil"
	"github.com/banshee-data/uwb.follow/internal/serialmux"
	"github.com/banshee-data/uwb.follow/internal/tracker"
	"github.com/banshee-data/uwb.follow/internal/version"
	"github.com/banshee-data/uwb.follow/internal/volume"
	"github.com/banshee-data/uwb.follow/internal/zones"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const maxBodyBytes = 64 << 10

// Controller is the command and query surface of the tracker.
type Controller interface {
	SetTracking(enabled bool) bool
	SetServoAngle(angle float64) (float64, error)
	SetMode(name string) (volume.Mode, error)
	SetManualVolume(level int) (int, error)
	AddZone(z zones.Zone) (zones.Zone, error)
	RemoveZone(name string) error
	Zones() ([]zones.Zone, error)
	Snapshot() tracker.Snapshot
	Stats() tracker.Stats
}

type Server struct {
	c             Controller
	m             serialmux.SerialMuxInterface
	allowedOrigin string

	// hostIP reports the address shown by /pi-ip.
	hostIP func() string
}

// NewServer builds the control surface. allowedOrigin is sent in the CORS
// headers; empty means "*".
func NewServer(c Controller, m serialmux.SerialMuxInterface, allowedOrigin string) *Server {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return &Server{
		c:             c,
		m:             m,
		allowedOrigin: allowedOrigin,
		hostIP:        OutboundIP,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
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

// CORS adds the cross-origin headers the web front end needs and answers
// preflight requests directly.
func (s *Server) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.allowedOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /servo/tracking", s.setTracking)
	mux.HandleFunc("POST /servo/angle", s.setServoAngle)
	mux.HandleFunc("POST /mode", s.setMode)
	mux.HandleFunc("POST /volume", s.setVolume)
	mux.HandleFunc("POST /position", s.addPosition)
	mux.HandleFunc("DELETE /position/{name}", s.removePosition)
	mux.HandleFunc("GET /positions", s.listPositions)
	mux.HandleFunc("GET /positions/export", s.exportPositions)
	mux.HandleFunc("GET /current-data", s.currentData)
	mux.HandleFunc("GET /pi-ip", s.piIP)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /healthz", s.healthz)
	return mux
}

// Handler returns the routes wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.CORS(s.ServeMux()))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeCommandError maps a command failure onto a response: validation
// failures are the caller's fault, anything else is ours.
func writeCommandError(w http.ResponseWriter, err error) {
	var verr *tracker.ValidationError
	if errors.As(err, &verr) {
		httputil.BadRequest(w, verr.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) setTracking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AutoTracking *bool `json:"auto_tracking"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.AutoTracking == nil {
		httputil.BadRequest(w, "Invalid parameter")
		return
	}
	applied := s.c.SetTracking(*req.AutoTracking)
	httputil.WriteSuccess(w, map[string]interface{}{"auto_tracking": applied})
}

func (s *Server) setServoAngle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Angle *float64 `json:"angle"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Angle == nil {
		httputil.BadRequest(w, "Invalid angle")
		return
	}
	applied, err := s.c.SetServoAngle(*req.Angle)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"angle": applied})
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		httputil.BadRequest(w, "Invalid mode")
		return
	}
	m, err := s.c.SetMode(req.Mode)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"mode": m.String()})
}

func (s *Server) setVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *int `json:"volume"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Volume == nil {
		httputil.BadRequest(w, "Invalid volume")
		return
	}
	applied, err := s.c.SetManualVolume(*req.Volume)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"volume": applied})
}

func (s *Server) addPosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string   `json:"name"`
		Angle    *float64 `json:"angle"`
		Distance *float64 `json:"distance"`
		Volume   *int     `json:"volume"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		httputil.BadRequest(w, "Invalid position")
		return
	}
	if req.Angle == nil || req.Distance == nil || req.Volume == nil {
		httputil.BadRequest(w, "name, angle, distance and volume are required")
		return
	}
	created, err := s.c.AddZone(zones.Zone{
		Name:     req.Name,
		Angle:    *req.Angle,
		Distance: *req.Distance,
		Volume:   *req.Volume,
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"position": created})
}

func (s *Server) removePosition(w http.ResponseWriter, r *http.Request) {
	if err := s.c.RemoveZone(r.PathValue("name")); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteSuccess(w, nil)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	list, err := s.c.Zones()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if list == nil {
		list = []zones.Zone{}
	}
	httputil.WriteJSONOK(w, list)
}

// exportPositions serves the zones in the legacy positions.json format.
func (s *Server) exportPositions(w http.ResponseWriter, r *http.Request) {
	list, err := s.c.Zones()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	data, err := zones.Marshal(list)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="positions.json"`)
	w.Write(data)
}

func (s *Server) currentData(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.c.Snapshot())
}

func (s *Server) piIP(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"ip": s.hostIP()})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"tracker": s.c.Stats(),
		"version": version.String(),
	}
	if s.m != nil {
		body["serial"] = s.m.Stats()
	}
	httputil.WriteJSONOK(w, body)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	snap := s.c.Snapshot()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status": "ok",
		"stale":  snap.Stale,
	})
}

// OutboundIP returns the local address the host would use to reach the
// internet. No packet is sent: dialling UDP only selects a route. Falls back
// to the loopback address when there is no route.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
