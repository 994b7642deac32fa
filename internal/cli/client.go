// Package cli is the HTTP client and output formatting behind nodectl.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient talks to the controller at baseURL. token is only needed for admin calls.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil)
}

func (c *Client) ListHosts(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/hosts", nil)
}

func (c *Client) GetHost(ctx context.Context, id string, limit int) (map[string]any, error) {
	path := "/api/v1/hosts/" + url.PathEscape(id)
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) ListOutages(ctx context.Context, hostID string, limit int) (map[string]any, error) {
	q := url.Values{}
	if hostID != "" {
		q.Set("host_id", hostID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/outages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) GetStats(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/stats", nil)
}

// HostSpec is the admin representation of a host. ID and Secret are ignored on update.
type HostSpec struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	IP          string   `json:"ip"`
	Secret      string   `json:"secret,omitempty"`
	Intro       string   `json:"intro,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
}

// CreateHost registers a host. Empty id and secret are generated by the controller; the
// response carries the secret.
func (c *Client) CreateHost(ctx context.Context, spec HostSpec) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/hosts", spec)
}

// UpdateHost replaces the name, pinned IP and descriptors of host id.
func (c *Client) UpdateHost(ctx context.Context, id string, spec HostSpec) (map[string]any, error) {
	spec.ID, spec.Secret = "", ""
	return c.do(ctx, http.MethodPut, "/api/v1/admin/hosts/"+url.PathEscape(id), spec)
}

func (c *Client) DeleteHost(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/admin/hosts/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) RotateSecret(ctx context.Context, id string) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/hosts/"+url.PathEscape(id)+"/secret", nil)
}

func (c *Client) GetSettings(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/admin/settings", nil)
}

func (c *Client) UpdateSettings(ctx context.Context, settings map[string]string) error {
	_, err := c.do(ctx, http.MethodPut, "/api/v1/admin/settings", settings)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
