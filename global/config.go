package global

import "time"

var (
	Version = ""
)

// Configuration holds the parameters that are shared across submodules.
type Configuration struct {
	Directory string
	LogLevel  string

	Otel struct {
		Tracing     bool
		ServiceName string
	}

	Store struct {
		// Kind is one of "fs", "bolt", "sqlite", "etcd" or "memory".
		Kind string
		// Prefix is prepended to every race identifier to build its namespace.
		Prefix string

		BoltTimeout       time.Duration
		SQLiteBusyTimeout time.Duration
	}

	Etcd struct {
		Endpoint string
		Username string
		Password string //nolint:gosec //#gosec G117 -- FP, we don't marshal this object into JSON
	}
}

var (
	Conf Configuration
)

const (
	DefaultPrefix = "race-manager: "
)
