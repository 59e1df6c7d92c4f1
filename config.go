// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// TransportStdio and TransportHTTP are the two mutually exclusive
// start modes, selected once at startup.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the environment-driven configuration surface.
type Config struct {
	// CMSBaseURL is the root URL of the content-management site,
	// e.g. https://example.com.
	CMSBaseURL string `env:"CMS_BASE_URL,required" validate:"url"`
	// CMSUsername and CMSAppPassword authenticate against the API.
	CMSUsername    string `env:"CMS_USERNAME,required" validate:"min=1"`
	CMSAppPassword string `env:"CMS_APP_PASSWORD,required" validate:"min=1"`

	// Transport selects stdio or http mode.
	Transport string `env:"MCP_TRANSPORT,default=stdio" validate:"oneof=stdio http"`
	// ListenAddr is the HTTP listen address, used only in http mode.
	ListenAddr string `env:"LISTEN_ADDR,default=:8000" validate:"min=1"`

	// RequestTimeout bounds each outbound call to the API.
	RequestTimeout time.Duration `env:"CMS_REQUEST_TIMEOUT,default=30s" validate:"gt=0"`

	// MaxUploadBytes is the upload size ceiling, enforced before any
	// bytes are transmitted.
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES,default=10485760" validate:"gt=0"`
	// AllowedExtensions lists permitted upload file extensions,
	// separated by semicolons.
	AllowedExtensions []string `env:"ALLOWED_EXTENSIONS,default=jpg;jpeg;png;gif;webp;svg;pdf;mp3;mp4;txt;csv" validate:"min=1"`

	// RateLimitRPS and RateLimitBurst bound inbound request rate in
	// http mode.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=20" validate:"gt=0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=40" validate:"gt=0"`

	// SessionIdleTimeout is the idle threshold after which a session
	// is reaped; ReaperInterval is the sweep period.
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT,default=30m" validate:"gt=0"`
	ReaperInterval     time.Duration `env:"REAPER_INTERVAL,default=1m" validate:"gt=0"`

	// ShutdownTimeout is the hard upper bound on graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

// LoadConfig reads configuration from the environment, after loading a
// .env file when one is present. Missing required variables or values
// out of range are returned as errors.
func LoadConfig() (*Config, error) {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
