// Package client is a thin HTTP SDK for internal/httpapi, letting scripts
// and cmd/sentryd's one-shot subcommands talk to a running sentryd daemon
// without depending on its internal packages.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Client talks to a sentryd daemon's internal/httpapi surface.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool
}

// TLSClientConfig holds TLS configuration for the client.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{BaseURL: "http://localhost:8080", Timeout: 10 * time.Second}
}

// New creates a sentryd API client with optional TLS support.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (cfg.TLS != nil && cfg.TLS.Enabled) || cfg.Insecure {
		tlsConfig, err := setupClientTLS(cfg)
		if err != nil {
			cfg.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: cfg.BaseURL,
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

// IsReachable checks whether the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Status fetches every program's status, or a single one when name is set.
func (c *Client) Status(ctx context.Context, name string) ([]ProgramStatus, error) {
	url := c.baseURL + "/status"
	if name != "" {
		url += "?name=" + name
	}
	var out []ProgramStatus
	if name != "" {
		var single ProgramStatus
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &single); err != nil {
			return nil, err
		}
		return []ProgramStatus{single}, nil
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start launches name's configured replicas.
func (c *Client) Start(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/start?name=%s", c.baseURL, name)
	return c.doJSON(ctx, http.MethodPost, url, nil, nil)
}

// Stop applies the stop protocol to every replica of req.Name.
func (c *Client) Stop(ctx context.Context, req StopRequest) error {
	url := fmt.Sprintf("%s/stop?name=%s", c.baseURL, req.Name)
	if req.Wait > 0 {
		url += "&wait=" + req.Wait.String()
	}
	return c.doJSON(ctx, http.MethodPost, url, nil, nil)
}

// Reload re-reads the daemon's configuration and reconciles.
func (c *Client) Reload(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/reload", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errResp.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func setupClientTLS(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if cfg.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if cfg.TLS == nil {
		return tlsConfig, nil
	}
	if cfg.TLS.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	if cfg.TLS.ServerName != "" {
		tlsConfig.ServerName = cfg.TLS.ServerName
	}
	if cfg.TLS.CACert != "" {
		caCert, err := os.ReadFile(cfg.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.TLS.ClientCert != "" && cfg.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.ClientCert, cfg.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
