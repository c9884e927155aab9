// Package relay is the public API for embedding the audit relay.
package relay

import (
	"github.com/sakhilchawla/audit-llm-decision/internal/runtime"
)

// Relay runs the stdio and HTTP transports over one interaction store.
// See internal/runtime.Relay for full documentation.
type Relay = runtime.Relay

// Option is a functional option for configuring a Relay.
type Option = runtime.Option

// New creates a new Relay with the given options.
// Example:
//
//	r, err := relay.New(
//	    relay.WithConfigFile("config.yaml"),
//	    relay.WithStdio(os.Stdin, os.Stdout),
//	)
var New = runtime.New

var (
	// Config sources
	WithConfig     = runtime.WithConfig
	WithConfigFile = runtime.WithConfigFile

	// Transports
	WithStdio    = runtime.WithStdio
	WithHTTP     = runtime.WithHTTP
	WithListener = runtime.WithListener

	// Advanced options
	WithStore   = runtime.WithStore
	WithLogger  = runtime.WithLogger
	WithMetrics = runtime.WithMetrics
	WithVersion = runtime.WithVersion
)
