package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"acs-event-bridge/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Client is the one-shot uploader for the third-party data exchange
// platform. It is separate from the polling pipeline: callers collect rows,
// invoke Upload once, and read the raw platform response.
//
// Authentication is either HTTP basic or a login round that yields a token.
// The token is cached and reused while its JWT exp claim (when present) lies
// in the future; the platform's token lifecycle beyond that single
// login-and-reuse step is out of scope.
type Client struct {
	cfg    config.ExchangeConfig
	http   *http.Client
	logger *logrus.Entry

	token       string
	tokenExpiry time.Time
}

// NewClient creates an exchange client from its configuration.
func NewClient(cfg config.ExchangeConfig, logger *logrus.Entry) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Upload encrypts the rows as one JSON array and POSTs {"datas": "<b64>"} to
// the person-crossing endpoint. Returns the raw response body.
func (c *Client) Upload(ctx context.Context, rows []map[string]interface{}) (string, error) {
	plain, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rows: %w", err)
	}

	cipherText, err := EncryptCBC([]byte(c.cfg.AESKey), plain)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt payload: %w", err)
	}

	body, err := json.Marshal(map[string]string{"datas": cipherText})
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.PersonPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := c.applyAuth(ctx, req); err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"rows":   len(rows),
		"status": resp.StatusCode,
	}).Info("Exchange upload finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return string(raw), fmt.Errorf("exchange returned HTTP %d", resp.StatusCode)
	}
	return string(raw), nil
}

func (c *Client) applyAuth(ctx context.Context, req *http.Request) error {
	switch strings.ToLower(c.cfg.AuthType) {
	case "", "basic":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		return nil
	case "login":
		token, err := c.currentToken(ctx)
		if err != nil {
			return err
		}
		header := c.cfg.TokenHeaderName
		if header == "" {
			header = "Authorization"
		}
		value := token
		if c.cfg.TokenHeaderFormat != "" {
			value = fmt.Sprintf(c.cfg.TokenHeaderFormat, token)
		}
		req.Header.Set(header, value)
		return nil
	default:
		return fmt.Errorf("unknown exchange auth_type %q", c.cfg.AuthType)
	}
}

// currentToken returns the cached token while it is still usable, logging in
// again otherwise.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	if c.token != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.token, nil
	}

	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.tokenExpiry = tokenExpiry(token)
	return token, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	if c.cfg.LoginPath == "" {
		return "", fmt.Errorf("exchange login_path not configured")
	}

	var body string
	if c.cfg.LoginBodyTemplate != "" {
		body = strings.NewReplacer(
			"${username}", c.cfg.Username,
			"${password}", c.cfg.Password,
		).Replace(c.cfg.LoginBodyTemplate)
	} else {
		encoded, err := json.Marshal(map[string]string{
			"username": c.cfg.Username,
			"password": c.cfg.Password,
		})
		if err != nil {
			return "", fmt.Errorf("failed to marshal login body: %w", err)
		}
		body = string(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.LoginPath, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build login request: %w", err)
	}
	contentType := c.cfg.LoginContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read login response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("login returned HTTP %d", resp.StatusCode)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse login response: %w", err)
	}

	field := c.cfg.TokenField
	if field == "" {
		field = "token"
	}
	token, _ := parsed[field].(string)
	if token == "" {
		return "", fmt.Errorf("login succeeded but token field %q is missing or empty", field)
	}

	c.logger.Debug("Exchange login succeeded")
	return token, nil
}

// tokenExpiry extracts the exp claim from a JWT without verifying it; the
// claim only decides when to log in again, not whether to trust the token.
// Returns zero for opaque tokens, which are then reused for the process
// lifetime.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	// Renew slightly early so an in-flight request does not straddle expiry.
	return exp.Time.Add(-30 * time.Second)
}
