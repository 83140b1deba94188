package vaultclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/systmms/payment-authgate/pkg/credential"
)

// HTTPVaultClient is the mTLS HTTP implementation of VaultClient. It holds
// no retry or circuit-breaker logic of its own; ResilientVaultClient wraps
// it with that behavior.
type HTTPVaultClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPVaultClient builds the mTLS-configured http.Client from cfg's
// CA/client certificate paths and wraps it for vault calls.
func NewHTTPVaultClient(cfg Config) (*HTTPVaultClient, error) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build vault tls config: %w", err)
	}
	return &HTTPVaultClient{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACertPath != "" {
		caBytes, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert %s: %w", cfg.CACertPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("no valid certificates found in %s", cfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertPath != "" && cfg.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func (c *HTTPVaultClient) endpoint(path string) string {
	return c.cfg.URL + path
}

func (c *HTTPVaultClient) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode vault request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, fmt.Errorf("build vault request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.cfg.Namespace)
	}
	return req, nil
}

func (c *HTTPVaultClient) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(TransientIO, op, err)
	}
	return resp, nil
}

func classifyStatus(op string, status int, body []byte) *Error {
	switch {
	case status == http.StatusNotFound:
		return newError(NotFound, op, fmt.Errorf("not found"))
	case status == http.StatusConflict:
		return newError(Conflict, op, fmt.Errorf("conflict"))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(AuthFailure, op, fmt.Errorf("auth failure: %s", body))
	case status >= 500:
		return newError(TransientIO, op, fmt.Errorf("server error %d: %s", status, body))
	case status >= 400:
		return newError(Conflict, op, fmt.Errorf("request rejected %d: %s", status, body))
	default:
		return nil
	}
}

type credentialVersionWire struct {
	VersionID    string `json:"versionId"`
	HashedSecret string `json:"hashedSecret"`
	Salt         string `json:"salt"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
}

type clientCredentialWire struct {
	ClientID string                   `json:"clientId"`
	Versions []credentialVersionWire  `json:"versions"`
}

func (c *HTTPVaultClient) GetCredential(ctx context.Context, clientID string) (credential.ClientCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout(c.cfg))
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/credentials/"+clientID, nil)
	if err != nil {
		return credential.ClientCredential{}, newError(TransientIO, "getCredential", err)
	}
	resp, err := c.do(req, "getCredential")
	if err != nil {
		return credential.ClientCredential{}, err
	}
	defer resp.Body.Close()

	var wire struct {
		Data clientCredentialWire `json:"data"`
	}
	if resp.StatusCode != http.StatusOK {
		return credential.ClientCredential{}, classifyStatus("getCredential", resp.StatusCode, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return credential.ClientCredential{}, newError(TransientIO, "getCredential", err)
	}

	out := credential.ClientCredential{ClientID: wire.Data.ClientID}
	for _, v := range wire.Data.Versions {
		createdAt, _ := time.Parse(time.RFC3339, v.CreatedAt)
		out.Versions = append(out.Versions, credential.CredentialVersion{
			VersionID:    v.VersionID,
			HashedSecret: v.HashedSecret,
			Salt:         v.Salt,
			Status:       credential.VersionStatus(v.Status),
			CreatedAt:    createdAt,
		})
	}
	return out, nil
}

func (c *HTTPVaultClient) StoreNewCredentialVersion(ctx context.Context, clientID, hashedSecret, salt, versionID string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout(c.cfg))
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/credentials/"+clientID+"/versions", map[string]string{
		"versionId":    versionID,
		"hashedSecret": hashedSecret,
		"salt":         salt,
	})
	if err != nil {
		return newError(TransientIO, "storeNewCredentialVersion", err)
	}
	return c.writeOnly(req, "storeNewCredentialVersion")
}

func (c *HTTPVaultClient) ConfigureCredentialTransition(ctx context.Context, clientID string, primaryVersionID string, secondaryVersionID *string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout(c.cfg))
	defer cancel()

	body := map[string]interface{}{"primaryVersionId": primaryVersionID}
	if secondaryVersionID != nil {
		body["secondaryVersionId"] = *secondaryVersionID
	}
	req, err := c.newRequest(ctx, http.MethodPut, "/v1/credentials/"+clientID+"/transition", body)
	if err != nil {
		return newError(TransientIO, "configureCredentialTransition", err)
	}
	return c.writeOnly(req, "configureCredentialTransition")
}

func (c *HTTPVaultClient) DisableCredentialVersion(ctx context.Context, clientID, versionID string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout(c.cfg))
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPut, "/v1/credentials/"+clientID+"/versions/"+versionID+"/disable", nil)
	if err != nil {
		return newError(TransientIO, "disableCredentialVersion", err)
	}
	return c.writeOnly(req, "disableCredentialVersion")
}

func (c *HTTPVaultClient) RemoveCredentialVersion(ctx context.Context, clientID, versionID string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout(c.cfg))
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/credentials/"+clientID+"/versions/"+versionID, nil)
	if err != nil {
		return newError(TransientIO, "removeCredentialVersion", err)
	}
	return c.writeOnly(req, "removeCredentialVersion")
}

func (c *HTTPVaultClient) GetActiveCredentialVersions(ctx context.Context, clientID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout(c.cfg))
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/credentials/"+clientID+"/active-versions", nil)
	if err != nil {
		return nil, newError(TransientIO, "getActiveCredentialVersions", err)
	}
	resp, err := c.do(req, "getActiveCredentialVersions")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("getActiveCredentialVersions", resp.StatusCode, nil)
	}
	var wire struct {
		Data struct {
			VersionIDs []string `json:"versionIds"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, newError(TransientIO, "getActiveCredentialVersions", err)
	}
	return wire.Data.VersionIDs, nil
}

// writeOnly executes req and classifies any non-2xx status, discarding a
// successful response body (every write operation here returns no data).
func (c *HTTPVaultClient) writeOnly(req *http.Request, op string) error {
	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(op, resp.StatusCode, nil)
	}
	return nil
}

func readTimeout(cfg Config) time.Duration {
	if cfg.ReadTimeout > 0 {
		return cfg.ReadTimeout
	}
	return 2 * time.Second
}

func writeTimeout(cfg Config) time.Duration {
	if cfg.WriteTimeout > 0 {
		return cfg.WriteTimeout
	}
	return 5 * time.Second
}
