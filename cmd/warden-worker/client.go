package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wardenhq/warden/internal/models"
)

// controllerClient talks to the warden controller API
type controllerClient struct {
	baseURL string
	http    *http.Client
}

func newControllerClient(baseURL string) *controllerClient {
	return &controllerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// GetSiteSetup fetches the assembled setup for a site
func (c *controllerClient) GetSiteSetup(ctx context.Context, siteID string) (*models.SiteSetup, error) {
	var setup models.SiteSetup
	if err := c.get(ctx, fmt.Sprintf("/api/site-configs/%s", siteID), &setup); err != nil {
		return nil, err
	}
	return &setup, nil
}

// GetSettings fetches the controller settings row
func (c *controllerClient) GetSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	if err := c.get(ctx, "/api/settings", &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// ReportStatus pushes a status transition for the task
func (c *controllerClient) ReportStatus(ctx context.Context, taskID string, status models.TaskStatus,
	msg string, errorDetails map[string]interface{}) error {
	return c.post(ctx, fmt.Sprintf("/api/tasks/%s/status", taskID), map[string]interface{}{
		"status":        status,
		"msg":           msg,
		"error_details": errorDetails,
	}, nil)
}

// SaveResult pushes the scrape result
func (c *controllerClient) SaveResult(ctx context.Context, create *models.ResultCreate) error {
	return c.post(ctx, fmt.Sprintf("/api/tasks/%s/result", create.TaskID), create, nil)
}

// SaveBrowserState pushes the captured session state
func (c *controllerClient) SaveBrowserState(ctx context.Context, siteID string, state *models.BrowserState) error {
	return c.post(ctx, fmt.Sprintf("/api/site-configs/%s/state", siteID), state, nil)
}

func (c *controllerClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *controllerClient) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *controllerClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("controller returned %s for %s: %s", resp.Status, req.URL.Path, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
