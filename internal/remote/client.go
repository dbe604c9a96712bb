// Package remote talks to the pattern and integrity services. Both
// require a short-lived bearer token from a separate token endpoint, and
// every call is individually timeout-bounded.
package remote

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

const (
	tokenTimeout    = 5 * time.Second
	patternsTimeout = 30 * time.Second
	hashesTimeout   = 90 * time.Second
)

// Client calls the remote pattern and checksum-authority endpoints.
type Client struct {
	cfg    *config.Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a remote-service client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}
}

// siteProof is the integrity proof of the local installation attached to
// authenticated requests.
func (c *Client) siteProof() string {
	sum := sha256.Sum256([]byte(c.cfg.SiteKey + "|" + c.cfg.InternalRoot))
	return fmt.Sprintf("%x", sum)
}

// Token obtains a short-lived bearer token from the token endpoint.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.cfg.TokenURL == "" {
		return "", fmt.Errorf("no token endpoint configured")
	}

	ctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Site-Proof", c.siteProof())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("token decode failed: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}
	return payload.Token, nil
}

// FetchPatterns fetches the current rule set from the pattern service.
// The payload is validated by the caller; this method only transports it.
func (c *Client) FetchPatterns(ctx context.Context) ([]*models.PatternRule, error) {
	if c.cfg.PatternsURL == "" {
		return nil, fmt.Errorf("no pattern service configured")
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, patternsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.PatternsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Site-Proof", c.siteProof())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pattern fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pattern service returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pattern body read failed: %w", err)
	}

	var payload struct {
		Patterns []*models.PatternRule `json:"patterns"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("pattern decode failed: %w", err)
	}
	return payload.Patterns, nil
}

// FetchExpectedHashes fetches the official checksum manifest for a
// target ("core" or a plugin slug) from the checksum authority.
func (c *Client) FetchExpectedHashes(ctx context.Context, target string) (map[string]string, error) {
	if c.cfg.ChecksumURL == "" {
		return nil, fmt.Errorf("no checksum authority configured")
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, hashesTimeout)
	defer cancel()

	url := c.cfg.ChecksumURL + "?target=" + target
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Site-Proof", c.siteProof())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checksum fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("checksum authority returned %d", resp.StatusCode)
	}

	var payload struct {
		Hashes map[string]string `json:"hashes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("checksum decode failed: %w", err)
	}
	return payload.Hashes, nil
}
