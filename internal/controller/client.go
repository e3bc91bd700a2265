// Package controller implements the measurement worker: a short-lived
// process spawned by the daemon for exactly one run. It dials the daemon's
// Controller API to fetch the instrument configuration and its measurement,
// drives the instrument plugin through the run, and reports start and end.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/me/mem/internal/config"
	"github.com/me/mem/pkg/model"
)

// Client is an HTTP client for the daemon's Controller API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a Controller API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

// do performs an HTTP request and returns the parsed envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	url := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		c.Logger.Debug("HTTP request body", "body", string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.Logger.Debug("HTTP request", "method", method, "url", url)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.Logger.Debug("HTTP response", "status", resp.StatusCode, "body", string(respBody))

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w\nbody: %s", resp.StatusCode, err, string(respBody))
	}

	if apiResp.Status == "error" && apiResp.Error != nil {
		return &apiResp, apiResp.Error
	}

	return &apiResp, nil
}

// Config fetches the instrument configuration loaded by the daemon.
func (c *Client) Config(ctx context.Context) (config.InstrumentConfig, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/config", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch instrument config: %w", err)
	}
	var instruments config.InstrumentConfig
	if err := json.Unmarshal(resp.Data, &instruments); err != nil {
		return nil, fmt.Errorf("parse instrument config: %w", err)
	}
	return instruments, nil
}

// Measurement fetches the measurement definition of the active run.
func (c *Client) Measurement(ctx context.Context) (*model.Measurement, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/measurement", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch measurement: %w", err)
	}
	var rec model.Measurement
	if err := json.Unmarshal(resp.Data, &rec); err != nil {
		return nil, fmt.Errorf("parse measurement: %w", err)
	}
	return &rec, nil
}

// Start confirms to the daemon that the run holding handle has begun.
func (c *Client) Start(ctx context.Context, handle string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/start", map[string]string{"handle": handle})
	if err != nil {
		return fmt.Errorf("confirm start: %w", err)
	}
	return nil
}

// End reports the terminal outcome of the run holding handle.
func (c *Client) End(ctx context.Context, handle string, status model.RunStatus, rec *model.Measurement, errMsg string) error {
	body := map[string]any{
		"handle": handle,
		"status": status,
	}
	if rec != nil {
		body["measurement"] = rec
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/end", body)
	if err != nil {
		return fmt.Errorf("report end: %w", err)
	}
	return nil
}
