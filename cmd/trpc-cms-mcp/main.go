// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

// Command trpc-cms-mcp bridges a content-management site to MCP
// clients over stdio, streamable HTTP, and legacy SSE transports.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmsmcp "trpc.group/trpc-go/trpc-cms-mcp"
	"trpc.group/trpc-go/trpc-cms-mcp/internal/cms"
	"trpc.group/trpc-go/trpc-cms-mcp/internal/retry"
)

const (
	serverName    = "trpc-cms-mcp"
	serverVersion = "0.1.0"

	instructions = "Tools for managing content on the connected site: " +
		"read site information, search and fetch posts, create and " +
		"update posts, and upload media attachments."
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := cmsmcp.GetDefaultLogger()

	cfg, err := cmsmcp.LoadConfig()
	if err != nil {
		logger.Errorf("Configuration error: %v", err)
		return 1
	}

	client := cms.NewClient(cfg.CMSBaseURL, cfg.CMSUsername, cfg.CMSAppPassword,
		cms.WithTimeout(cfg.RequestTimeout),
		cms.WithRetry(retry.DefaultConfig()),
		cms.WithUploadLimits(cfg.MaxUploadBytes, cfg.AllowedExtensions),
	)

	srv := cmsmcp.NewServer(serverName, serverVersion, cmsmcp.NewToolSet(client),
		cmsmcp.WithServerLogger(logger),
		cmsmcp.WithInstructions(instructions),
		cmsmcp.WithListenAddr(cfg.ListenAddr),
		cmsmcp.WithSessionIdleTimeout(cfg.SessionIdleTimeout),
		cmsmcp.WithReaperInterval(cfg.ReaperInterval),
		cmsmcp.WithShutdownTimeout(cfg.ShutdownTimeout),
		cmsmcp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case cmsmcp.TransportStdio:
		if err := srv.ServeStdio(ctx); err != nil {
			logger.Errorf("Stdio transport failed: %v", err)
			return 1
		}
	case cmsmcp.TransportHTTP:
		if err := srv.Start(ctx); err != nil {
			logger.Errorf("Server error: %v", err)
			return 1
		}
	}
	return 0
}
