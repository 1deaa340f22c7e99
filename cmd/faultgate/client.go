package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIClient talks to a running faultgate daemon over its HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func (c *APIClient) post(path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.baseURL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("daemon error (%d)", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *APIClient) GetStatus() (map[string]any, error) {
	var out map[string]any
	err := c.get("/status", &out)
	return out, err
}

func (c *APIClient) GetStats(window string) (map[string]any, error) {
	path := "/stats"
	if window != "" {
		path += "?window=" + window
	}
	var out map[string]any
	err := c.get(path, &out)
	return out, err
}

func (c *APIClient) Check(category, override string) (map[string]any, error) {
	req := map[string]string{"category": category}
	if override != "" {
		req["override"] = override
	}
	var out map[string]any
	err := c.post("/check", req, &out)
	return out, err
}

func (c *APIClient) GetFailures() ([]map[string]any, error) {
	var out []map[string]any
	err := c.get("/failures", &out)
	return out, err
}
