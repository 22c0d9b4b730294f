// Package logging provides package-scoped structured loggers shared across moxy's
// internal packages.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.CallerSkipFrameCount = 3
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// Out is the destination for every logger created through New. Tests may swap it.
var Out io.Writer = os.Stderr

// Mode is "dev" (console, human readable) or "prod" (json). Defaults to "dev".
var Mode = "dev"

var mu sync.Mutex
var pkgs []string

// SetMode sets console or JSON output for loggers created after the call; loggers already
// returned by New keep the output they were created with.
func SetMode(mode string) {
	mu.Lock()
	defer mu.Unlock()
	Mode = mode
}

// ListRegisteredPackages returns the name of every package a logger has been created for.
func ListRegisteredPackages() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, len(pkgs))
	copy(out, pkgs)
	return out
}

// New returns a logger tagged with pkg and the process id.
func New(pkg string) *zerolog.Logger {
	mu.Lock()
	pkgs = append(pkgs, pkg)
	mu.Unlock()

	var w io.Writer = Out
	if Mode != "prod" {
		w = zerolog.ConsoleWriter{Out: Out, TimeFormat: "15:04:05"}
	}
	l := zerolog.New(w).With().Timestamp().Str("pkg", pkg).Int("pid", os.Getpid()).Logger()
	return &l
}
