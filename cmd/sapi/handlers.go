package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/systmms/payment-authgate/internal/apierr"
	"github.com/systmms/payment-authgate/internal/logging"
	"github.com/systmms/payment-authgate/pkg/tokenguard"
)

type sapiHandler struct {
	guard  *tokenguard.TokenGuard
	logger *logging.Logger
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// handlePayment processes a payment request already authenticated by
// EAPI: it validates the forwarded bearer token, requiring
// "process_payment", then handles the opaque payment body.
func (h *sapiHandler) handlePayment(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	tok, ok := bearerToken(r)
	if !ok {
		apierr.WriteJSON(w, apierr.New(apierr.CodeTokenInvalid, "missing bearer token"))
		return
	}

	result, err := h.guard.Validate(r.Context(), tok, "process_payment", "", reqID)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, reqID, apierr.Wrap(apierr.CodeInvalidRequest, "failed to read request body", err))
		return
	}

	if result.Renewed {
		w.Header().Set("X-Token-Renewed", result.RenewedTokenString)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "processed",
		"clientId":  result.Claims.Subject,
		"requestId": reqID,
		"bodyBytes": len(body),
	})
}

type validateHTTPRequest struct {
	Token              string `json:"token"`
	RequiredPermission string `json:"requiredPermission,omitempty"`
}

type validateHTTPResponse struct {
	Valid       bool     `json:"valid"`
	ClientID    string   `json:"clientId,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	ErrorCode   string   `json:"errorCode,omitempty"`
}

func (h *sapiHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	var req validateHTTPRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8192)).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.CodeInvalidRequest, "malformed validate request"))
		return
	}

	result, err := h.guard.Validate(r.Context(), req.Token, req.RequiredPermission, "", reqID)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		apiErr := apierr.As(err)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(validateHTTPResponse{Valid: false, ErrorCode: string(apiErr.Code)})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(validateHTTPResponse{
		Valid:       true,
		ClientID:    result.Claims.Subject,
		Permissions: result.Claims.Permissions,
	})
}

type renewHTTPRequest struct {
	Token string `json:"token"`
}

type renewHTTPResponse struct {
	Token string `json:"token"`
}

// handleRenew drives one round of in-band renewal through the same
// Validate pipeline used for ordinary requests: an expired token with
// renewal enabled comes back Valid with Renewed set.
func (h *sapiHandler) handleRenew(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	var req renewHTTPRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8192)).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.CodeInvalidRequest, "malformed renew request"))
		return
	}

	result, err := h.guard.Validate(r.Context(), req.Token, "", "", reqID)
	if err != nil || !result.Renewed {
		apierr.WriteJSON(w, apierr.New(apierr.CodeTokenExpired, "token could not be renewed"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(renewHTTPResponse{Token: result.RenewedTokenString})
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	apiErr := apierr.As(err)
	if apiErr.RequestID == "" {
		apiErr.RequestID = requestID
	}
	apierr.WriteJSON(w, apiErr)
}
