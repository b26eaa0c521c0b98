package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/vango-dev/ghostwatch/internal/errors"
)

// newLogger builds a slog logger backed by charmbracelet/log.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, errors.New("E125").Wrap(err)
	}

	opts := log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "ghostwatch",
	}
	switch strings.ToLower(format) {
	case "", "text":
		opts.Formatter = log.TextFormatter
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	default:
		return nil, errors.New("E125").WithDetail("unknown log format " + format)
	}

	return slog.New(log.NewWithOptions(w, opts)), nil
}
