package config

import (
	"strings"
	"time"
)

// Mapping source selection values.
const (
	SourceAuto = "auto"
	SourceMCP  = "mcp"
	SourceDB   = "db"
)

// Settings holds the runtime knobs for one invocation.
// Priority: flags > env vars > defaults.
type Settings struct {
	Environment string        // deployment environment for scoped mapping rows
	Source      string        // mapping source: auto | mcp | db
	Jobs        int           // parallel resolution width
	LogLevel    string
	LogJSON     bool
	OpBinary    string        // vault CLI binary name or path
	DBPath      string        // override for the local mappings database
	Timeout     time.Duration // per-resolution timeout
}

func Defaults() Settings {
	return Settings{
		Environment: "development",
		Source:      SourceAuto,
		Jobs:        1,
		LogLevel:    "info",
		OpBinary:    "op",
		Timeout:     30 * time.Second,
	}
}

// FromEnv layers environment variables over the defaults. The deployment
// environment is case-folded so scoped mapping rows match regardless of how
// operators spell it.
func FromEnv() Settings {
	s := Defaults()
	s.Environment = strings.ToLower(Env("ENVIRONMENT", s.Environment))
	s.Source = Env("ENVSYNC_SOURCE", s.Source)
	s.Jobs = Env("ENVSYNC_JOBS", s.Jobs)
	s.LogLevel = Env("ENVSYNC_LOG_LEVEL", s.LogLevel)
	s.LogJSON = Env("ENVSYNC_LOG_JSON", s.LogJSON)
	s.OpBinary = Env("ENVSYNC_OP_BIN", s.OpBinary)
	s.DBPath = Env("ENVSYNC_DB_PATH", s.DBPath)
	s.Timeout = EnvDuration("ENVSYNC_OP_TIMEOUT", s.Timeout)
	if s.Jobs <= 0 {
		s.Jobs = 1
	}
	return s
}
