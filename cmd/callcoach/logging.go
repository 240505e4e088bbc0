package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// newLogger returns a slog.Logger backed by charmbracelet/log. format is
// text, logfmt or json.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "callcoach",
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		opts.Formatter = log.TextFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	case "json":
		opts.Formatter = log.JSONFormatter
	default:
		return nil, fmt.Errorf("log format %q must be one of text|logfmt|json", format)
	}
	return slog.New(log.NewWithOptions(w, opts)), nil
}
