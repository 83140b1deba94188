package authtranslator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/systmms/payment-authgate/internal/apierr"
	"github.com/systmms/payment-authgate/pkg/credential"
)

// MaxForwardBodyBytes bounds how much of a vendor request body EAPI will
// buffer for forward; a larger body is rejected with INVALID_REQUEST rather
// than forwarded. The body is read once into memory and replayed
// byte-for-byte; it is never unmarshalled or re-marshalled.
const MaxForwardBodyBytes = 1 << 20 // 1 MiB

// ForwardRequest is everything forward needs from the inbound vendor HTTP
// request: method, path, headers the caller wants preserved, and body.
type ForwardRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// ForwardResponse is SAPI's raw response, passed back untranslated.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder sends a translated request on to SAPI. Only the HTTP transport
// varies in production; tests substitute a fake.
type Forwarder interface {
	Do(ctx context.Context, sapiBaseURL string, req ForwardRequest, tokenString string) (ForwardResponse, error)
}

// HTTPForwarder forwards over plain net/http to the SAPI base URL.
type HTTPForwarder struct {
	Client *http.Client
}

// NewHTTPForwarder builds an HTTPForwarder with a bounded timeout.
func NewHTTPForwarder(timeout time.Duration) *HTTPForwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPForwarder{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPForwarder) Do(ctx context.Context, sapiBaseURL string, req ForwardRequest, tokenString string) (ForwardResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, sapiBaseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return ForwardResponse{}, apierr.Wrap(apierr.CodeSystemError, "build forward request", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+tokenString)

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return ForwardResponse{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "SAPI unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxForwardBodyBytes))
	if err != nil {
		return ForwardResponse{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "reading SAPI response", err)
	}
	return ForwardResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// requestIDHeader is the correlation header threaded through every forwarded
// request so EAPI and SAPI logs can be joined on it.
const requestIDHeader = "X-Request-ID"

// Forward attaches tokenString as a bearer credential and requestID as a
// correlation header, then sends req on to sapiBaseURL. If SAPI reports the
// token expired, Forward invalidates the cached token for clientID, mints a
// fresh one, and retries exactly once; any other upstream outcome is
// returned to the caller unchanged.
func (a *AuthTranslator) Forward(ctx context.Context, clientID, sapiBaseURL, requestID string, req ForwardRequest, tokenString string) (ForwardResponse, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set(requestIDHeader, requestID)

	resp, err := a.forwarder.Do(ctx, sapiBaseURL, req, tokenString)
	if err != nil {
		return ForwardResponse{}, err
	}

	if resp.StatusCode == http.StatusUnauthorized && resp.Header.Get(apierr.TokenExpiredHeader) != "" {
		_ = a.tokenCache.Evict(ctx, clientID)

		credResult, err, _ := a.sf.Do(clientID, func() (interface{}, error) {
			return a.vault.GetCredential(ctx, clientID)
		})
		if err != nil {
			return ForwardResponse{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "credential store unavailable", err)
		}
		cred := credResult.(credential.ClientCredential)

		newToken, err := a.minter.Mint(clientID, cred.Permissions)
		if err != nil {
			return ForwardResponse{}, err
		}
		_ = a.tokenCache.Put(ctx, clientID, newToken)

		retryResp, err := a.forwarder.Do(ctx, sapiBaseURL, req, newToken.TokenString)
		if err != nil {
			return ForwardResponse{}, err
		}
		return retryResp, nil
	}

	return resp, nil
}
