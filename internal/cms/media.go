// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"trpc.group/trpc-go/trpc-cms-mcp/internal/retry"
)

const defaultMaxUploadBytes = 10 << 20 // 10 MiB

func defaultAllowedExtensions() map[string]struct{} {
	exts := []string{"jpg", "jpeg", "png", "gif", "webp", "svg", "pdf", "mp3", "mp4", "txt", "csv"}
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		m[e] = struct{}{}
	}
	return m
}

// Media is an uploaded binary attachment.
type Media struct {
	ID        int           `json:"id"`
	SourceURL string        `json:"source_url"`
	MimeType  string        `json:"mime_type"`
	Title     renderedField `json:"title"`
}

// validateUpload enforces the extension allowlist and the size
// ceiling. It runs before any network I/O; a failure here means no
// request was attempted.
func (c *Client) validateUpload(filename string, size int64) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return &ValidationError{Reason: fmt.Sprintf("file %q has no extension", filename)}
	}
	if _, ok := c.allowedExtensions[ext]; !ok {
		return &ValidationError{Reason: fmt.Sprintf("file type %q is not allowed", ext)}
	}
	if size > c.maxUploadBytes {
		return &ValidationError{
			Reason: fmt.Sprintf("file size %d bytes exceeds the %d byte limit", size, c.maxUploadBytes),
		}
	}
	return nil
}

// UploadMedia uploads one binary attachment. The file is validated
// against the extension allowlist and size ceiling before any bytes
// leave the process.
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte) (*Media, error) {
	if err := c.validateUpload(filename, int64(len(data))); err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var media Media
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/media", bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(filename)))
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return decodeAPIError(resp)
		}
		return json.NewDecoder(resp.Body).Decode(&media)
	}
	if err := retry.Execute(ctx, operation, c.retryConfig); err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	return &media, nil
}
