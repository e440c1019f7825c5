//go:build no_mqtt

package main

import (
	"log/slog"

	"lanscout/internal/scan"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *scan.Coordinator, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
