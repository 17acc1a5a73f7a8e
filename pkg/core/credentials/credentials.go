// Package credentials obtains the short-lived bearer credential required to
// open a realtime interpreting session.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Credential is a short-lived bearer token for the realtime negotiation
// endpoint.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the credential is already past its expiry.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Issuer requests ephemeral credentials from the issuance endpoint. Issuance
// failure is a hard failure for the surrounding session open.
type Issuer struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewIssuer(url string, client *http.Client, logger *slog.Logger) (*Issuer, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{URL: url, HTTPClient: client, Logger: logger}, nil
}

type issueResponse struct {
	EphemeralKey struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"ephemeral_key"`
}

// Issue requests a credential for the given human language selection.
func (i *Issuer) Issue(ctx context.Context, language string) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.URL, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("build credential request: %w", err)
	}
	if lang := strings.TrimSpace(language); lang != "" {
		req.Header.Set("Language", lang)
	}

	resp, err := i.HTTPClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("request credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Credential{}, fmt.Errorf("credential issuance failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Credential{}, fmt.Errorf("decode credential response: %w", err)
	}
	if strings.TrimSpace(decoded.EphemeralKey.Value) == "" {
		return Credential{}, fmt.Errorf("credential response is missing ephemeral_key.value")
	}

	cred := Credential{Value: decoded.EphemeralKey.Value}
	if decoded.EphemeralKey.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(decoded.EphemeralKey.ExpiresAt, 0)
	}
	i.Logger.Debug("issued ephemeral credential", "expires_at", cred.ExpiresAt)
	return cred, nil
}
