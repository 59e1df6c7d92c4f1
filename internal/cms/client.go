// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

// Package cms is the client for the content-management REST API. It
// speaks the WordPress-compatible wp/v2 surface: settings, posts, and
// media, authenticated with an application password over basic auth.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-cms-mcp/internal/retry"
)

const (
	defaultTimeout = 30 * time.Second
	apiPrefix      = "/wp-json/wp/v2"
)

// APIError is a non-2xx response from the API, decoded from the
// standard error body shape {code, message}.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// StatusCode reports the HTTP status, used by the retry policy.
func (e *APIError) StatusCode() int { return e.Status }

// ValidationError is a client-side rejection raised before any network
// I/O, e.g. an oversized or disallowed upload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Client calls the content-management API. Safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	retryConfig *retry.Config

	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetry enables exponential-backoff retries for transient
// failures.
func WithRetry(config retry.Config) Option {
	return func(c *Client) {
		validated := config.Validate()
		c.retryConfig = &validated
	}
}

// WithUploadLimits sets the upload size ceiling and the allowed file
// extension list (extensions without the leading dot).
func WithUploadLimits(maxBytes int64, extensions []string) Option {
	return func(c *Client) {
		c.maxUploadBytes = maxBytes
		c.allowedExtensions = make(map[string]struct{}, len(extensions))
		for _, ext := range extensions {
			c.allowedExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
		}
	}
}

// NewClient creates a client for the API at baseURL, authenticating
// with the given username and application password.
func NewClient(baseURL, username, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxUploadBytes:    defaultMaxUploadBytes,
		allowedExtensions: defaultAllowedExtensions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// renderedField is the {rendered: "..."} wrapper the API uses for
// HTML-bearing fields.
type renderedField struct {
	Rendered string `json:"rendered"`
}

// Post is a content item.
type Post struct {
	ID      int           `json:"id"`
	Date    string        `json:"date"`
	Status  string        `json:"status"`
	Link    string        `json:"link"`
	Title   renderedField `json:"title"`
	Content renderedField `json:"content"`
	Excerpt renderedField `json:"excerpt"`
}

// PostParams are the writable fields of a content item.
type PostParams struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Status  string `json:"status,omitempty"`
}

// SiteInfo is the site settings document.
type SiteInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Language    string `json:"language"`
	Timezone    string `json:"timezone_string"`
}

// GetSiteInfo fetches the site settings.
func (c *Client) GetSiteInfo(ctx context.Context) (*SiteInfo, error) {
	var info SiteInfo
	if err := c.doJSON(ctx, http.MethodGet, "/settings", nil, nil, &info); err != nil {
		return nil, fmt.Errorf("get site info: %w", err)
	}
	return &info, nil
}

// SearchPosts returns posts matching the search term. perPage caps the
// result count; zero means the API default.
func (c *Client) SearchPosts(ctx context.Context, term string, perPage int) ([]Post, error) {
	query := url.Values{}
	query.Set("search", term)
	if perPage > 0 {
		query.Set("per_page", strconv.Itoa(perPage))
	}
	var posts []Post
	if err := c.doJSON(ctx, http.MethodGet, "/posts", query, nil, &posts); err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return posts, nil
}

// GetPost fetches one post by id.
func (c *Client) GetPost(ctx context.Context, id int) (*Post, error) {
	var post Post
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/posts/%d", id), nil, nil, &post); err != nil {
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	return &post, nil
}

// CreatePost creates a new post.
func (c *Client) CreatePost(ctx context.Context, params PostParams) (*Post, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	var post Post
	if err := c.doJSON(ctx, http.MethodPost, "/posts", nil, body, &post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// UpdatePost updates the given fields of an existing post.
func (c *Client) UpdatePost(ctx context.Context, id int, params PostParams) (*Post, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("update post %d: %w", id, err)
	}
	var post Post
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/posts/%d", id), nil, body, &post); err != nil {
		return nil, fmt.Errorf("update post %d: %w", id, err)
	}
	return &post, nil
}

// doJSON performs one authenticated JSON request, retrying transient
// failures per the client's retry policy, and decodes the response
// into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	operation := func() error {
		u := c.baseURL + apiPrefix + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.username, c.password)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return decodeAPIError(resp)
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return retry.Execute(ctx, operation, c.retryConfig)
}

// decodeAPIError turns a non-2xx response into an *APIError,
// preserving the API's own code and message when the body parses.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if err != nil {
		return apiErr
	}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	return apiErr
}
