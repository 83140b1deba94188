package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/systmms/payment-authgate/internal/apierr"
	"github.com/systmms/payment-authgate/internal/logging"
	"github.com/systmms/payment-authgate/pkg/authtranslator"
)

type eapiHandler struct {
	translator  *authtranslator.AuthTranslator
	sapiBaseURL string
	logger      *logging.Logger
}

func (h *eapiHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handlePayment serves both POST /api/v1/payments and GET /api/v1/payments/{id}:
// authenticate the vendor, translate into a bearer token, forward the
// request byte-for-byte to SAPI, and relay its response.
func (h *eapiHandler) handlePayment(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	clientID := r.Header.Get("X-Client-ID")
	rawSecret := r.Header.Get("X-Client-Secret")

	result, err := h.translator.Authenticate(r.Context(), clientID, rawSecret, requestID, r.RemoteAddr)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, authtranslator.MaxForwardBodyBytes+1))
	if err != nil {
		writeError(w, requestID, apierr.Wrap(apierr.CodeInvalidRequest, "failed to read request body", err))
		return
	}
	if len(body) > authtranslator.MaxForwardBodyBytes {
		writeError(w, requestID, apierr.New(apierr.CodeInvalidRequest, "request body too large"))
		return
	}

	fwdReq := authtranslator.ForwardRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	}
	resp, err := h.translator.Forward(r.Context(), clientID, h.sapiBaseURL, requestID, fwdReq, result.Token.TokenString)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

type renewalHTTPRequest struct {
	ExpiredToken string `json:"expiredToken"`
}

type renewalHTTPResponse struct {
	Renewed      bool   `json:"renewed"`
	RenewedToken string `json:"renewedToken"`
	Reason       string `json:"reason,omitempty"`
}

// handleRenewal is the dedicated EAPI endpoint RenewalClient calls from
// SAPI: it does not re-authenticate the vendor, only re-verifies the
// expired token's signature and the client's current credential state.
func (h *eapiHandler) handleRenewal(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var req renewalHTTPRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8192)).Decode(&req); err != nil {
		writeError(w, requestID, apierr.New(apierr.CodeInvalidRequest, "malformed renewal request"))
		return
	}

	renewed, ok, err := h.translator.Renew(r.Context(), req.ExpiredToken)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(renewalHTTPResponse{Renewed: false, Reason: "renewal refused"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(renewalHTTPResponse{Renewed: true, RenewedToken: renewed})
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	apiErr := apierr.As(err)
	if apiErr.RequestID == "" {
		apiErr.RequestID = requestID
	}
	apierr.WriteJSON(w, apiErr)
}
