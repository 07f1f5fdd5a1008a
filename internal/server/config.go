// SPDX-License-Identifier: AGPL-3.0-or-later
package server

import (
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/llm"
	"github.com/assistd-org/assistd/internal/orchestrator"
	"github.com/assistd-org/assistd/internal/paths"
)

const (
	defaultBindAddress     = "127.0.0.1:8080"
	defaultLogMode         = "text"
	defaultShutdownTimeout = 15 * time.Second
)

// Config carries serve-mode runtime settings derived from CLI flags and env vars.
type Config struct {
	Bind            string
	Dev             bool
	Log             string
	StdOut          io.Writer
	StdErr          io.Writer
	ShutdownTimeout time.Duration

	// Token guards the API when set. An empty token leaves the API open,
	// which is only sensible on a loopback bind.
	Token string

	DataDir       string
	CoreDBOptions coredb.Options
	CoreDB        *coredb.DB

	RulesPath     string
	TemplatesPath string

	LLM llm.Config

	// CommandTimeout bounds each command run. Zero uses the engine default.
	CommandTimeout time.Duration
	// VerifyResults enables the post-step judgment of command output.
	VerifyResults bool

	// Orchestrator overrides the assembled orchestrator, used by tests.
	Orchestrator *orchestrator.Orchestrator
}

// normalize applies defaults when values are not supplied.
func (c Config) normalize() Config {
	if c.Bind == "" {
		c.Bind = defaultBindAddress
	}
	if c.Log == "" {
		c.Log = defaultLogMode
	}
	if c.DataDir == "" {
		c.DataDir = paths.DataDir()
	}
	if c.CoreDBOptions.DataDir == "" {
		c.CoreDBOptions.DataDir = c.DataDir
	}
	if c.StdOut == nil {
		c.StdOut = os.Stdout
	}
	if c.StdErr == nil {
		c.StdErr = os.Stderr
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Token == "" {
		c.Token = os.Getenv("ASSISTD_TOKEN")
	}
	return c
}

func isLoopbackAddress(bind string) bool {
	host := bind
	if strings.Contains(bind, ":") {
		parsedHost, _, err := net.SplitHostPort(bind)
		if err == nil {
			host = parsedHost
		}
	}
	if host == "" {
		host = "0.0.0.0"
	}
	if host == "*" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
