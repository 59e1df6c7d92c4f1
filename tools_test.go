// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-cms-mcp/internal/cms"
)

func callReq(args map[string]any) mcplib.CallToolRequest {
	var req mcplib.CallToolRequest
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestToolSet_Closed(t *testing.T) {
	backend := fakeCMS(t)
	set := NewToolSet(cms.NewClient(backend.URL, "admin", "secret"))

	names := make([]string, 0, len(set))
	for _, st := range set {
		names = append(names, st.Tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"site_info", "search_posts", "create_post", "update_post", "get_post", "upload_media",
	}, names)
}

func TestSiteInfoTool(t *testing.T) {
	backend := fakeCMS(t)
	tl := &tools{client: cms.NewClient(backend.URL, "admin", "secret")}

	res, err := tl.handleSiteInfo(context.Background(), callReq(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res), "Test Site")
}

func TestSearchPostsTool_MissingTerm(t *testing.T) {
	backend := fakeCMS(t)
	tl := &tools{client: cms.NewClient(backend.URL, "admin", "secret")}

	res, err := tl.handleSearchPosts(context.Background(), callReq(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCreatePostTool(t *testing.T) {
	backend := fakeCMS(t)
	tl := &tools{client: cms.NewClient(backend.URL, "admin", "secret")}

	res, err := tl.handleCreatePost(context.Background(), callReq(map[string]any{
		"title":   "New",
		"content": "<p>Body</p>",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res), `"id":42`)
}

func TestUpdatePostTool_NoFields(t *testing.T) {
	backend := fakeCMS(t)
	tl := &tools{client: cms.NewClient(backend.URL, "admin", "secret")}

	res, err := tl.handleUpdatePost(context.Background(), callReq(map[string]any{
		"post_id": float64(42),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestUploadMediaTool_RejectsBeforeNetwork(t *testing.T) {
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1,"source_url":"https://example.com/x.png"}`))
	}))
	t.Cleanup(backend.Close)

	client := cms.NewClient(backend.URL, "admin", "secret",
		cms.WithUploadLimits(16, []string{"png"}))
	tl := &tools{client: client}

	t.Run("disallowed extension", func(t *testing.T) {
		res, err := tl.handleUploadMedia(context.Background(), callReq(map[string]any{
			"filename": "evil.exe",
			"data":     base64.StdEncoding.EncodeToString([]byte("x")),
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, textContent(t, res), "not allowed")
	})

	t.Run("decoded size over ceiling", func(t *testing.T) {
		big := make([]byte, 64)
		res, err := tl.handleUploadMedia(context.Background(), callReq(map[string]any{
			"filename": "big.png",
			"data":     base64.StdEncoding.EncodeToString(big),
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, textContent(t, res), "exceeds")
	})

	t.Run("invalid base64", func(t *testing.T) {
		res, err := tl.handleUploadMedia(context.Background(), callReq(map[string]any{
			"filename": "x.png",
			"data":     "%%% not base64 %%%",
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	// None of the rejections may have reached the backend.
	assert.Equal(t, int64(0), hits.Load())

	t.Run("valid upload goes through", func(t *testing.T) {
		res, err := tl.handleUploadMedia(context.Background(), callReq(map[string]any{
			"filename": "ok.png",
			"data":     base64.StdEncoding.EncodeToString([]byte("tiny")),
		}))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, int64(1), hits.Load())
	})
}

func TestCollaboratorErrorBecomesToolError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"rest_forbidden","message":"Sorry, you are not allowed to do that."}`))
	}))
	t.Cleanup(backend.Close)

	tl := &tools{client: cms.NewClient(backend.URL, "admin", "secret")}
	res, err := tl.handleGetPost(context.Background(), callReq(map[string]any{"post_id": float64(7)}))

	// The collaborator failure is a tool-level error, not a transport
	// fault.
	require.NoError(t, err)
	require.True(t, res.IsError)
	text := textContent(t, res)
	assert.Contains(t, text, "403")
	assert.Contains(t, text, "not allowed")
}
