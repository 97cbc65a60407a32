// Package server serves HTTP requests through the pipeline a configuration
// script assembled. The mounted pipeline can be swapped while the server runs.
package server

import (
	"time"

	"github.com/Suhaibinator/SRack/pkg/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config defines the configuration for a Server.
type Config struct {
	Name              string               // Exposed to scripts as server().name
	Addr              string               // Listen address for ListenAndServe
	Logger            *zap.Logger          // Logger for server operations
	Registry          *prometheus.Registry // Served on /metrics when set
	Middlewares       []common.Middleware  // Applied around every mounted pipeline's root
	ReadHeaderTimeout time.Duration        // Defaults to 10 seconds
	ShutdownTimeout   time.Duration        // Used by ListenAndServe; defaults to 15 seconds
}

const (
	defaultAddr              = ":8080"
	defaultName              = "srack"
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 15 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}
