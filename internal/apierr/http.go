package apierr

import (
	"encoding/json"
	"net/http"
)

// TokenExpiredHeader flags a TOKEN_EXPIRED response so a caller forwarding
// the request on behalf of someone else (EAPI relaying to SAPI) can tell a
// renewable expiry apart from every other rejection without parsing the
// body.
const TokenExpiredHeader = "X-Token-Expired"

// WriteJSON writes e to w as the standard error body with the fixed status
// for e.Code.
func WriteJSON(w http.ResponseWriter, e *Error) {
	if e.Code == CodeTokenExpired {
		w.Header().Set(TokenExpiredHeader, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(e.Code))
	_ = json.NewEncoder(w).Encode(ToBody(e))
}
