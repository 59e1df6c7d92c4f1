// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"context"
	"encoding/base64"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"

	"trpc.group/trpc-go/trpc-cms-mcp/internal/cms"
)

const defaultSearchLimit = 10

// NewToolSet builds the fixed set of content-management tools backed by
// the given API client. The set is closed: it is assembled once at
// startup and registered into every fresh engine; no tools are added
// or removed at runtime. Tools are stateless with respect to the
// session; every piece of state they touch lives in the remote API.
func NewToolSet(client *cms.Client) []mcpsrv.ServerTool {
	t := &tools{client: client}
	return []mcpsrv.ServerTool{
		t.siteInfo(),
		t.searchPosts(),
		t.createPost(),
		t.updatePost(),
		t.getPost(),
		t.uploadMedia(),
	}
}

type tools struct {
	client *cms.Client
}

// ─── site_info ──────────────────────────────────────────────────────

func (t *tools) siteInfo() mcpsrv.ServerTool {
	tool := mcplib.NewTool("site_info",
		mcplib.WithDescription("Get general information about the site: title, description, URL, language, and timezone."),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: t.handleSiteInfo}
}

func (t *tools) handleSiteInfo(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	info, err := t.client.GetSiteInfo(ctx)
	if err != nil {
		return resultErr(err), nil
	}
	return resultJSON(info)
}

// ─── search_posts ───────────────────────────────────────────────────

func (t *tools) searchPosts() mcpsrv.ServerTool {
	tool := mcplib.NewTool("search_posts",
		mcplib.WithDescription("Search published posts by a free-text term. Returns matching posts with their IDs, titles, statuses, and links."),
		mcplib.WithString("search_term",
			mcplib.Description("Text to search for in post titles and content."),
			mcplib.Required(),
		),
		mcplib.WithNumber("limit",
			mcplib.Description(fmt.Sprintf("Maximum number of posts to return (default %d).", defaultSearchLimit)),
		),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: t.handleSearchPosts}
}

func (t *tools) handleSearchPosts(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	term, ok := stringArg(req, "search_term")
	if !ok {
		return resultErr(fmt.Errorf("search_term is required")), nil
	}
	limit := intArg(req, "limit", defaultSearchLimit)

	posts, err := t.client.SearchPosts(ctx, term, limit)
	if err != nil {
		return resultErr(err), nil
	}
	return resultJSON(posts)
}

// ─── create_post ────────────────────────────────────────────────────

func (t *tools) createPost() mcpsrv.ServerTool {
	tool := mcplib.NewTool("create_post",
		mcplib.WithDescription("Create a new post with a title, HTML content, and status."),
		mcplib.WithString("title",
			mcplib.Description("Post title."),
			mcplib.Required(),
		),
		mcplib.WithString("content",
			mcplib.Description("Post body, as HTML."),
			mcplib.Required(),
		),
		mcplib.WithString("status",
			mcplib.Description("Publication status: draft, publish, pending, or private (default draft)."),
		),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: t.handleCreatePost}
}

func (t *tools) handleCreatePost(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	title, ok := stringArg(req, "title")
	if !ok {
		return resultErr(fmt.Errorf("title is required")), nil
	}
	content, ok := stringArg(req, "content")
	if !ok {
		return resultErr(fmt.Errorf("content is required")), nil
	}
	status, _ := stringArg(req, "status")
	if status == "" {
		status = "draft"
	}

	post, err := t.client.CreatePost(ctx, cms.PostParams{
		Title:   title,
		Content: content,
		Status:  status,
	})
	if err != nil {
		return resultErr(err), nil
	}
	return resultJSON(post)
}

// ─── update_post ────────────────────────────────────────────────────

func (t *tools) updatePost() mcpsrv.ServerTool {
	tool := mcplib.NewTool("update_post",
		mcplib.WithDescription("Update an existing post. Only the provided fields are changed."),
		mcplib.WithNumber("post_id",
			mcplib.Description("ID of the post to update."),
			mcplib.Required(),
		),
		mcplib.WithString("title",
			mcplib.Description("New post title."),
		),
		mcplib.WithString("content",
			mcplib.Description("New post body, as HTML."),
		),
		mcplib.WithString("status",
			mcplib.Description("New publication status: draft, publish, pending, or private."),
		),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: t.handleUpdatePost}
}

func (t *tools) handleUpdatePost(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := intArg(req, "post_id", 0)
	if id <= 0 {
		return resultErr(fmt.Errorf("post_id is required")), nil
	}
	title, _ := stringArg(req, "title")
	content, _ := stringArg(req, "content")
	status, _ := stringArg(req, "status")
	if title == "" && content == "" && status == "" {
		return resultErr(fmt.Errorf("at least one of title, content, or status must be provided")), nil
	}

	post, err := t.client.UpdatePost(ctx, id, cms.PostParams{
		Title:   title,
		Content: content,
		Status:  status,
	})
	if err != nil {
		return resultErr(err), nil
	}
	return resultJSON(post)
}

// ─── get_post ───────────────────────────────────────────────────────

func (t *tools) getPost() mcpsrv.ServerTool {
	tool := mcplib.NewTool("get_post",
		mcplib.WithDescription("Get a single post by its ID, including title, content, status, and link."),
		mcplib.WithNumber("post_id",
			mcplib.Description("ID of the post to fetch."),
			mcplib.Required(),
		),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: t.handleGetPost}
}

func (t *tools) handleGetPost(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := intArg(req, "post_id", 0)
	if id <= 0 {
		return resultErr(fmt.Errorf("post_id is required")), nil
	}

	post, err := t.client.GetPost(ctx, id)
	if err != nil {
		return resultErr(err), nil
	}
	return resultJSON(post)
}

// ─── upload_media ───────────────────────────────────────────────────

func (t *tools) uploadMedia() mcpsrv.ServerTool {
	tool := mcplib.NewTool("upload_media",
		mcplib.WithDescription("Upload a binary attachment to the media library. The file content must be base64-encoded; the file type and decoded size are validated before upload."),
		mcplib.WithString("filename",
			mcplib.Description("File name including its extension, e.g. photo.jpg."),
			mcplib.Required(),
		),
		mcplib.WithString("data",
			mcplib.Description("Base64-encoded file content."),
			mcplib.Required(),
		),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: t.handleUploadMedia}
}

func (t *tools) handleUploadMedia(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	filename, ok := stringArg(req, "filename")
	if !ok {
		return resultErr(fmt.Errorf("filename is required")), nil
	}
	encoded, ok := stringArg(req, "data")
	if !ok {
		return resultErr(fmt.Errorf("data is required")), nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return resultErr(fmt.Errorf("data is not valid base64: %w", err)), nil
	}

	media, err := t.client.UploadMedia(ctx, filename, data)
	if err != nil {
		return resultErr(err), nil
	}
	return resultJSON(media)
}

// ─── helpers ────────────────────────────────────────────────────────

// resultErr returns a tool-level error result. Collaborator failures
// always travel this way so a failed call never becomes a transport
// fault.
func resultErr(err error) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(err.Error())},
		IsError: true,
	}
}

// resultJSON returns v marshalled as a JSON text result.
func resultJSON(v any) (*mcplib.CallToolResult, error) {
	return mcplib.NewToolResultJSON(v)
}

// stringArg extracts a string argument, reporting whether it is
// present and non-empty.
func stringArg(req mcplib.CallToolRequest, name string) (string, bool) {
	args := req.GetArguments()
	v, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// intArg extracts an integer argument, returning defaultVal when it is
// absent or not a number. JSON numbers arrive as float64.
func intArg(req mcplib.CallToolRequest, name string, defaultVal int) int {
	args := req.GetArguments()
	v, ok := args[name]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return defaultVal
	}
}
