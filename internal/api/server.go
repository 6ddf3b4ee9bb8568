package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	httptrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/net/http"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/bridge"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/config"
)

// Server provides the local HTTP control surface for the bridge
type Server struct {
	controller *bridge.Controller
	logger     *zap.Logger
	addr       string
	auth       config.AuthConfig
}

// NewServer creates a new API server
func NewServer(controller *bridge.Controller, logger *zap.Logger, addr string, auth config.AuthConfig) *Server {
	return &Server{
		controller: controller,
		logger:     logger,
		addr:       addr,
		auth:       auth,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	// Use Datadog HTTP tracing middleware
	mux := httptrace.NewServeMux()
	mux.HandleFunc("/api/chargers", s.listChargers)
	mux.HandleFunc("/api/chargers/", s.handleCharger)
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = s.securityMiddleware(mux)

	// Add Basic Auth middleware if enabled
	if s.auth.Enabled {
		handler = s.basicAuthMiddleware(handler)
		s.logger.Info("API Authentication enabled")
	}

	s.logger.Info("Starting API server", zap.String("addr", s.addr))
	return http.ListenAndServe(s.addr, handler)
}

// basicAuthMiddleware enforces Basic Authentication
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()

		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(s.auth.Username)) != 1 || subtle.ConstantTimeCompare([]byte(pass), []byte(s.auth.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// securityMiddleware sets baseline security response headers
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// Response types
type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Name           string  `json:"name"`
	UID            string  `json:"uid"`
	Group          string  `json:"group"`
	StatusID       int     `json:"status_id"`
	Mode           string  `json:"mode"`
	Description    string  `json:"description"`
	Locked         bool    `json:"locked"`
	Charging       bool    `json:"charging"`
	CableConnected bool    `json:"cable_connected"`
	Fault          bool    `json:"fault"`
	MaxCurrent     float64 `json:"max_current"`
	BatteryPercent int     `json:"battery_percent"`
	AddedEnergy    float64 `json:"added_energy_kwh"`
	ChargingTime   int     `json:"charging_time_s"`
}

type SetCurrentRequest struct {
	Current float64 `json:"current"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// listChargers returns all chargers
func (s *Server) listChargers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	bindings := s.controller.Chargers()
	statuses := make([]StatusResponse, 0, len(bindings))

	for _, b := range bindings {
		st, _ := b.LastState()
		statuses = append(statuses, toStatusResponse(b, st))
	}

	s.writeJSON(w, http.StatusOK, statuses)
}

// handleCharger handles charger-specific operations
func (s *Server) handleCharger(w http.ResponseWriter, r *http.Request) {
	span, _ := tracer.StartSpanFromContext(r.Context(), "api.handle_charger")
	defer span.Finish()

	// Extract charger name from path: /api/chargers/{name}/{action}
	path := r.URL.Path[len("/api/chargers/"):]

	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "charger name required")
		return
	}

	chargerName := parts[0]
	span.SetTag("charger", chargerName)

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	span.SetTag("action", action)

	switch action {
	case "", "status":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.writeStatus(w, chargerName)

	case "start":
		s.runCommand(w, r, "Charging started", func() error {
			return s.controller.HandleStart(chargerName)
		})

	case "stop":
		s.runCommand(w, r, "Charging stopped", func() error {
			return s.controller.HandleStop(chargerName)
		})

	case "lock":
		s.runCommand(w, r, "Charger locked", func() error {
			return s.controller.HandleLock(chargerName, true)
		})

	case "unlock":
		s.runCommand(w, r, "Charger unlocked", func() error {
			return s.controller.HandleLock(chargerName, false)
		})

	case "current":
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req SetCurrentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		if req.Current <= 0 {
			s.writeError(w, http.StatusBadRequest, "current must be positive")
			return
		}

		if err := s.controller.HandleSetCurrent(chargerName, req.Current); err != nil {
			s.writeCommandError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: fmt.Sprintf("Current limit set to %.1fA", req.Current),
		})

	default:
		s.writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, chargerName string) {
	st, err := s.controller.Status(chargerName)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	b, _ := s.binding(chargerName)
	s.writeJSON(w, http.StatusOK, toStatusResponse(b, st))
}

func (s *Server) binding(chargerName string) (*bridge.Binding, bool) {
	for _, b := range s.controller.Chargers() {
		if b.Name == chargerName {
			return b, true
		}
	}
	return nil, false
}

// runCommand wraps the POST command endpoints
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, okMessage string, fn func() error) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := fn(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: okMessage})
}

// writeCommandError maps bridge errors onto HTTP statuses
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrNotConfigured):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bridge.ErrDeviceFault):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func toStatusResponse(b *bridge.Binding, st bridge.ChargerState) StatusResponse {
	resp := StatusResponse{
		StatusID:       st.StatusID,
		Mode:           string(st.Mode),
		Description:    st.Description,
		Locked:         st.Locked,
		Charging:       st.ChargingActive,
		CableConnected: st.OutletInUse,
		Fault:          st.Fault,
		MaxCurrent:     st.DisplayAmps,
		BatteryPercent: st.BatteryPercent,
		AddedEnergy:    st.AddedEnergy,
		ChargingTime:   st.ChargingTime,
	}
	if b != nil {
		resp.Name = b.Name
		resp.UID = b.UID
		resp.Group = b.GroupName
	}
	return resp
}

// Helper functions
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.logger.Warn("API error", zap.String("error", message), zap.Int("status", status))
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
