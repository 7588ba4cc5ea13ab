// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package common

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// NewLogger builds a logger from the logging configuration shared by
// the CLI tools. An empty file logs to stderr; disable routes
// everything to io.Discard.
func NewLogger(disable bool, file string, level string, prefix string) (*log.Logger, error) {
	var backend io.Writer = os.Stderr
	if disable {
		backend = io.Discard
	} else if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("common: open log file: %w", err)
		}
		backend = f
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("common: parse log level: %w", err)
	}
	return log.NewWithOptions(backend, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
		Level:           lvl,
	}), nil
}
