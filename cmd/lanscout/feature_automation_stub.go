//go:build no_automation

package main

import (
	"log/slog"

	"lanscout/internal/scan"
	"lanscout/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *scan.Coordinator, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
