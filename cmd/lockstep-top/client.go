package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"

	lsync "github.com/zsiec/lockstep/internal/sync"
	"github.com/zsiec/lockstep/pkg/version"
)

// controlAPI is the subset of the lockstep HTTP API the dashboard drives.
type controlAPI interface {
	Session(ctx context.Context) (lsync.SessionSnapshot, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Step(ctx context.Context, delta float64) error
	Tap(ctx context.Context, id string) error
	AdjustOffset(ctx context.Context, id string, deltaMs int) error
	AdjustThreshold(ctx context.Context, deltaMs int) (int, error)
	RemoveStream(ctx context.Context, id string) error
	ShareQuery(ctx context.Context) (string, error)
}

// apiClient talks to a lockstep server over HTTP/1.1 or HTTP/3.
type apiClient struct {
	base      string
	http      *http.Client
	userAgent string
}

type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

func newAPIClient(base string, useHTTP3, insecure bool, timeout time.Duration) *apiClient {
	client := &http.Client{Timeout: timeout}
	if useHTTP3 {
		client.Transport = &http3.RoundTripper{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: insecure,
			},
		}
	}
	return &apiClient{
		base:      strings.TrimRight(base, "/") + "/api/v1",
		http:      client,
		userAgent: version.GetInfo().UserAgent("lockstep-top"),
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &apiError{Status: resp.StatusCode, Type: payload.Error.Type, Message: payload.Error.Message}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if s, ok := out.(*string); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		*s = strings.TrimSpace(string(data))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) Session(ctx context.Context) (lsync.SessionSnapshot, error) {
	var snap lsync.SessionSnapshot
	err := c.do(ctx, http.MethodGet, "/session", nil, &snap)
	return snap, err
}

func (c *apiClient) Play(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/play", nil, nil)
}

func (c *apiClient) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/pause", nil, nil)
}

func (c *apiClient) Step(ctx context.Context, delta float64) error {
	return c.do(ctx, http.MethodPost, "/step", map[string]float64{"delta": delta}, nil)
}

func (c *apiClient) Tap(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/streams/"+id+"/tap", nil, nil)
}

func (c *apiClient) AdjustOffset(ctx context.Context, id string, deltaMs int) error {
	return c.do(ctx, http.MethodPost, "/streams/"+id+"/offset/adjust", map[string]int{"delta_ms": deltaMs}, nil)
}

func (c *apiClient) AdjustThreshold(ctx context.Context, deltaMs int) (int, error) {
	var resp struct {
		ThresholdMs int `json:"threshold_ms"`
	}
	err := c.do(ctx, http.MethodPost, "/threshold/adjust", map[string]int{"delta_ms": deltaMs}, &resp)
	return resp.ThresholdMs, err
}

func (c *apiClient) RemoveStream(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/streams/"+id, nil, nil)
}

func (c *apiClient) ShareQuery(ctx context.Context) (string, error) {
	var q string
	err := c.do(ctx, http.MethodGet, "/export?format=query", nil, &q)
	return q, err
}
