package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/lab-control/lcc/internal/auth"
	"github.com/lab-control/lcc/internal/command"
	"github.com/lab-control/lcc/internal/instrument"
	"github.com/lab-control/lcc/internal/telemetry"
)

const apiV1 = "/api/v1"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// RegisterRoutes registers every endpoint on mux. Everything under /api/v1
// passes through the auth middleware; /metrics does not.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	api := http.NewServeMux()

	// Health endpoint (no scope required)
	api.HandleFunc(apiV1+"/health", allow(http.MethodGet, s.handleHealth))

	s.route(api, http.MethodGet, "/instruments", auth.ScopeRead, s.handleInstruments)
	s.route(api, http.MethodGet, "/instruments/{kind}", auth.ScopeRead, s.handleInstrument)
	s.route(api, http.MethodGet, "/instruments/{kind}/identity", auth.ScopeRead, s.handleIdentity)
	s.route(api, http.MethodGet, "/instruments/{kind}/errors", auth.ScopeRead, s.handleErrors)

	s.route(api, http.MethodPost, "/instruments/{kind}/connect", auth.ScopeControl, s.handleConnect)
	s.route(api, http.MethodPost, "/instruments/{kind}/disconnect", auth.ScopeControl, s.handleDisconnect)
	s.route(api, http.MethodPost, "/instruments/{kind}/setpoints", auth.ScopeControl, s.handleSetPoints)
	s.route(api, http.MethodPost, "/instruments/{kind}/output", auth.ScopeControl, s.handleOutput)
	s.route(api, http.MethodPost, "/instruments/signalGenerator/modulation", auth.ScopeControl, s.handleModulation)
	s.route(api, http.MethodPost, "/instruments/{kind}/reset", auth.ScopeControl, s.handleReset)
	s.route(api, http.MethodPost, "/instruments/{kind}/selftest", auth.ScopeControl, s.handleSelfTest)

	s.route(api, http.MethodGet, "/telemetry", auth.ScopeTelemetry, s.handleTelemetry)

	api.HandleFunc(apiV1+"/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("No endpoint at %s", r.URL.Path), nil)
	})

	mux.Handle(apiV1+"/", s.authMiddleware.RequireAuth(api))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
}

func (s *Server) route(mux *http.ServeMux, method, path, scope string, h http.HandlerFunc) {
	mux.HandleFunc(apiV1+path, allow(method, s.authMiddleware.RequireScope(scope)(h)))
}

// allow rejects every method except m.
func allow(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			w.Header().Set("Allow", m)
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				fmt.Sprintf("Only %s method is allowed", m), nil)
			return
		}
		h(w, r)
	}
}

// decodeJSON strictly decodes the request body into v. An empty body is
// accepted only when optional is set.
func decodeJSON(r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return fmt.Errorf("%w: malformed JSON or unknown fields: %v", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing data after JSON object", ErrBadRequest)
	}
	return nil
}

// pathKind resolves the {kind} path segment, writing a 404 when unknown.
func pathKind(w http.ResponseWriter, r *http.Request) (instrument.Kind, bool) {
	kind, err := instrument.ParseKind(r.PathValue("kind"))
	if err != nil {
		WriteFailure(w, err)
		return "", false
	}
	return kind, true
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	instruments := map[string]bool{}
	if s.instruments != nil {
		for _, info := range s.instruments.List() {
			instruments[string(info.Kind)] = info.Connected
		}
	}
	clients := 0
	if s.telemetryHub != nil {
		clients = s.telemetryHub.ClientCount()
	}

	WriteSuccess(w, map[string]interface{}{
		"status":           "ok",
		"uptimeSec":        int64(time.Since(s.startTime).Seconds()),
		"instruments":      instruments,
		"telemetryClients": clients,
	})
}

// handleInstruments handles GET /instruments
func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if s.instruments == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Instrument manager not available", nil)
		return
	}
	WriteSuccess(w, map[string]interface{}{"instruments": s.instruments.List()})
}

// instrumentView is the body of GET /instruments/{kind}.
type instrumentView struct {
	instrument.Info
	Snapshot *telemetry.Snapshot `json:"snapshot,omitempty"`
}

// handleInstrument handles GET /instruments/{kind}
func (s *Server) handleInstrument(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	if s.instruments == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Instrument manager not available", nil)
		return
	}

	conn, err := s.instruments.Get(kind)
	if err != nil {
		// Disconnected slots still list their settings.
		for _, info := range s.instruments.List() {
			if info.Kind == kind {
				WriteSuccess(w, instrumentView{Info: info})
				return
			}
		}
		WriteFailure(w, err)
		return
	}

	view := instrumentView{Info: conn.Info()}
	if snap, ok := conn.Aggregator().Latest(); ok {
		view.Snapshot = &snap
	}
	WriteSuccess(w, view)
}

// handleConnect handles POST /instruments/{kind}/connect. The body may
// override the configured host and port.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	var request struct {
		Host string `json:"host,omitempty"`
		Port int    `json:"port,omitempty"`
	}
	if err := decodeJSON(r, &request, true); err != nil {
		WriteFailure(w, err)
		return
	}
	if s.instruments == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Instrument manager not available", nil)
		return
	}

	ep := s.instruments.Endpoint(kind)
	if request.Host != "" {
		ep.Host = request.Host
	}
	if request.Port != 0 {
		ep.Port = request.Port
	}
	if err := ep.Validate(); err != nil {
		WriteFailure(w, fmt.Errorf("%w: endpoint: %v", ErrBadRequest, err))
		return
	}

	conn, err := s.instruments.Connect(r.Context(), kind, ep)
	if err != nil {
		log.Printf("Connect %s at %s failed: %v", kind, ep, err)
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, conn.Info())
}

// handleDisconnect handles POST /instruments/{kind}/disconnect
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	if s.instruments == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Instrument manager not available", nil)
		return
	}
	if err := s.instruments.Disconnect(kind); err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"kind": kind, "connected": false})
}

// handleSetPoints handles POST /instruments/{kind}/setpoints
func (s *Server) handleSetPoints(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	var request struct {
		SetPoints []command.SetPoint `json:"setPoints"`
	}
	if err := decodeJSON(r, &request, false); err != nil {
		WriteFailure(w, err)
		return
	}
	if len(request.SetPoints) == 0 {
		WriteFailure(w, fmt.Errorf("%w: setPoints must not be empty", ErrBadRequest))
		return
	}
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}

	if err := s.orchestrator.ApplySetPoints(r.Context(), kind, request.SetPoints); err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"kind": kind, "applied": len(request.SetPoints)})
}

type switchRequest struct {
	On *bool `json:"on"`
}

func decodeSwitch(r *http.Request) (bool, error) {
	var request switchRequest
	if err := decodeJSON(r, &request, false); err != nil {
		return false, err
	}
	if request.On == nil {
		return false, fmt.Errorf("%w: on is required", ErrBadRequest)
	}
	return *request.On, nil
}

// handleOutput handles POST /instruments/{kind}/output. On the power supply
// this is the DC output; on the signal generator the RF output.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	on, err := decodeSwitch(r)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}

	switch kind {
	case instrument.PowerSupply:
		err = s.orchestrator.SetOutput(r.Context(), on)
	case instrument.SignalGenerator:
		err = s.orchestrator.SetRF(r.Context(), on)
	}
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"kind": kind, "output": on})
}

// handleModulation handles POST /instruments/signalGenerator/modulation
func (s *Server) handleModulation(w http.ResponseWriter, r *http.Request) {
	on, err := decodeSwitch(r)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}
	if err := s.orchestrator.SetModulation(r.Context(), on); err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"kind": instrument.SignalGenerator, "modulation": on})
}

// handleReset handles POST /instruments/{kind}/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}
	if err := s.orchestrator.Reset(r.Context(), kind); err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"kind": kind, "reset": true})
}

// handleIdentity handles GET /instruments/{kind}/identity
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}
	id, err := s.orchestrator.Identify(r.Context(), kind)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"kind": kind, "identity": id})
}

// handleSelfTest handles POST /instruments/{kind}/selftest
func (s *Server) handleSelfTest(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}
	result, err := s.orchestrator.SelfTest(r.Context(), kind)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"kind": kind, "result": result})
}

// handleErrors handles GET /instruments/{kind}/errors. Reading drains the
// instrument's error queue.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}
	entries, err := s.orchestrator.ReadErrors(r.Context(), kind)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	out := make([]InstrumentDetail, 0, len(entries))
	for _, e := range entries {
		out = append(out, InstrumentDetail{Code: e.Code, Message: e.Message, Class: e.Class.Error()})
	}
	WriteSuccess(w, map[string]interface{}{"kind": kind, "errors": out})
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}
	if name := r.URL.Query().Get("instrument"); name != "" {
		if _, err := instrument.ParseKind(name); err != nil {
			WriteFailure(w, err)
			return
		}
	}

	// The stream outlives any configured write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		log.Printf("Telemetry stream ended: %v", err)
	}
}
