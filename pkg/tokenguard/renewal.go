package tokenguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/systmms/payment-authgate/pkg/token"
)

// RenewalClient implements token.Renewer by calling back into EAPI's
// renewal endpoint. It lives in SAPI and crosses the process boundary the
// token package itself never imports, which is why Validator takes a
// Renewer interface rather than this concrete type.
type RenewalClient struct {
	baseURL string
	client  *http.Client
}

// NewRenewalClient builds a RenewalClient against eapiRenewalURL.
func NewRenewalClient(eapiRenewalURL string, timeout time.Duration) *RenewalClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RenewalClient{baseURL: eapiRenewalURL, client: &http.Client{Timeout: timeout}}
}

type renewalRequest struct {
	ExpiredToken string `json:"expiredToken"`
}

type renewalResponse struct {
	Renewed      bool   `json:"renewed"`
	RenewedToken string `json:"renewedToken"`
	Reason       string `json:"reason,omitempty"`
}

// Renew asks EAPI to renew expiredTokenString. EAPI refuses (ok=false) if
// the token's signature is invalid, its client has been revoked, or the
// vault cannot confirm the client's credential is still authorized; none
// of those are transport errors, so Renew returns a nil err alongside
// ok=false for them.
func (c *RenewalClient) Renew(ctx context.Context, expiredTokenString string) (string, bool, error) {
	body, err := json.Marshal(renewalRequest{ExpiredToken: expiredTokenString})
	if err != nil {
		return "", false, fmt.Errorf("encode renewal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build renewal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("call EAPI renewal endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, nil
	}

	var wire renewalResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", false, fmt.Errorf("decode renewal response: %w", err)
	}
	if !wire.Renewed {
		return "", false, nil
	}
	return wire.RenewedToken, true, nil
}

var _ token.Renewer = (*RenewalClient)(nil)
