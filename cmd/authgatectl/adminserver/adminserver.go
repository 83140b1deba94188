// Package adminserver exposes RotationCoordinator over the admin HTTP
// surface (spec §6.3): initiate, advance, complete, cancel, and the three
// read endpoints. It requires a distinct administrative bearer token on
// every request, never the vendor-facing clientId/secret pair.
package adminserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/systmms/payment-authgate/internal/apierr"
	"github.com/systmms/payment-authgate/pkg/rotation"
)

const initiateSchema = `{
  "type": "object",
  "properties": {
    "clientId": {"type": "string", "minLength": 1, "maxLength": 128},
    "reason": {"type": "string"},
    "transitionPeriodMinutes": {"type": "integer", "minimum": 1},
    "forceRotation": {"type": "boolean"}
  },
  "required": ["clientId"]
}`

// Server wires rotation.Coordinator's operations to http.Handler.
type Server struct {
	coordinator *rotation.Coordinator
	store       rotation.Store
	adminToken  string
	schema      gojsonschema.JSONLoader
}

// New builds a Server. adminToken is the shared secret every request's
// Authorization: Bearer header must match.
func New(coordinator *rotation.Coordinator, store rotation.Store, adminToken string) *Server {
	return &Server{
		coordinator: coordinator,
		store:       store,
		adminToken:  adminToken,
		schema:      gojsonschema.NewStringLoader(initiateSchema),
	}
}

// Mux builds the admin route table on mux, wrapping every handler with the
// admin bearer token check.
func (s *Server) Mux(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/rotations/initiate", s.authed(s.handleInitiate))
	mux.HandleFunc("GET /api/v1/rotations/active", s.authed(s.handleActive))
	mux.HandleFunc("GET /api/v1/rotations/client/{clientId}", s.authed(s.handleByClient))
	mux.HandleFunc("GET /api/v1/rotations/{id}", s.authed(s.handleGet))
	mux.HandleFunc("PUT /api/v1/rotations/{id}/advance", s.authed(s.handleAdvance))
	mux.HandleFunc("PUT /api/v1/rotations/{id}/complete", s.authed(s.handleComplete))
	mux.HandleFunc("DELETE /api/v1/rotations/{id}", s.authed(s.handleCancel))
}

func (s *Server) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") || strings.TrimPrefix(authz, "Bearer ") != s.adminToken {
			apierr.WriteJSON(w, apierr.New(apierr.CodePermissionDenied, "invalid administrative token"))
			return
		}
		h(w, r)
	}
}

type initiateRequest struct {
	ClientID                string `json:"clientId"`
	Reason                  string `json:"reason"`
	TransitionPeriodMinutes int    `json:"transitionPeriodMinutes"`
	ForceRotation           bool   `json:"forceRotation"`
}

type initiateResponse struct {
	Record       rotationWire `json:"record"`
	NewRawSecret string       `json:"newRawSecret"`
}

type rotationWire struct {
	RotationID              string     `json:"rotationId"`
	ClientID                string     `json:"clientId"`
	State                   string     `json:"state"`
	OldVersionID            string     `json:"oldVersionId"`
	NewVersionID            string     `json:"newVersionId"`
	StartedAt               time.Time  `json:"startedAt"`
	DeprecatedAt            *time.Time `json:"deprecatedAt,omitempty"`
	CompletedAt             *time.Time `json:"completedAt,omitempty"`
	TransitionPeriodSeconds int        `json:"transitionPeriodSeconds"`
	Reason                  string     `json:"reason,omitempty"`
	FailureReason           string     `json:"failureReason,omitempty"`
	Version                 int        `json:"version"`
}

func toWire(rec rotation.Record) rotationWire {
	return rotationWire{
		RotationID:              rec.RotationID,
		ClientID:                rec.ClientID,
		State:                   string(rec.State),
		OldVersionID:            rec.OldVersionID,
		NewVersionID:            rec.NewVersionID,
		StartedAt:               rec.StartedAt,
		DeprecatedAt:            rec.DeprecatedAt,
		CompletedAt:             rec.CompletedAt,
		TransitionPeriodSeconds: rec.TransitionPeriodSeconds,
		Reason:                  rec.Reason,
		FailureReason:           rec.FailureReason,
		Version:                 rec.Version,
	}
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.CodeInvalidRequest, "failed to read request body"))
		return
	}

	result, err := gojsonschema.Validate(s.schema, gojsonschema.NewBytesLoader(raw))
	if err != nil || !result.Valid() {
		apierr.WriteJSON(w, apierr.New(apierr.CodeInvalidRequest, "request does not match the initiate schema"))
		return
	}

	var req initiateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.CodeInvalidRequest, "malformed initiate request"))
		return
	}
	transitionPeriod := time.Duration(req.TransitionPeriodMinutes) * time.Minute
	if transitionPeriod <= 0 {
		transitionPeriod = 60 * time.Minute
	}

	initResult, err := s.coordinator.Initiate(r.Context(), req.ClientID, "", req.Reason, transitionPeriod, req.ForceRotation)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, initiateResponse{
		Record:       toWire(initResult.Record),
		NewRawSecret: initResult.NewRawSecret,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.CodeRotationNotFound, "rotation not found"))
		return
	}
	writeJSON(w, http.StatusOK, toWire(rec))
}

type advanceRequest struct {
	TargetState string `json:"targetState"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.CodeInvalidRequest, "malformed advance request"))
		return
	}
	rec, err := s.coordinator.Advance(r.Context(), r.PathValue("id"), rotation.State(req.TargetState))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(rec))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	rec, err := s.coordinator.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(rec))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req)
	rec, err := s.coordinator.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(rec))
}

func (s *Server) handleByClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientId")
	out := []rotationWire{}
	for _, state := range []rotation.State{rotation.StateInitiated, rotation.StateDualActive, rotation.StateOldDeprecated, rotation.StateNewActive, rotation.StateFailed} {
		recs, err := s.store.ListByState(r.Context(), state)
		if err != nil {
			continue
		}
		for _, rec := range recs {
			if rec.ClientID == clientID {
				out = append(out, toWire(rec))
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	out := []rotationWire{}
	for _, state := range []rotation.State{rotation.StateInitiated, rotation.StateDualActive, rotation.StateOldDeprecated} {
		recs, err := s.store.ListByState(r.Context(), state)
		if err != nil {
			continue
		}
		for _, rec := range recs {
			out = append(out, toWire(rec))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case err == rotation.ErrNotFound:
		apierr.WriteJSON(w, apierr.New(apierr.CodeRotationNotFound, "rotation not found"))
	case err == rotation.ErrConflict:
		apierr.WriteJSON(w, apierr.New(apierr.CodeRotationInProgress, "rotation record changed concurrently"))
	default:
		if apiErr, ok := err.(*apierr.Error); ok {
			apierr.WriteJSON(w, apiErr)
			return
		}
		apierr.WriteJSON(w, apierr.New(apierr.CodeInvalidStateTransition, err.Error()))
	}
}
