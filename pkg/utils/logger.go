package utils

import "go.uber.org/zap"

// ServiceName is attached to every log entry as the "service" field.
const ServiceName = "kotae"

// NewLogger returns a zap logger. Debug selects the development config (console,
// debug level); otherwise the production config (JSON, info level) is used.
func NewLogger(debug bool) (*zap.Logger, error) {
	build := zap.NewProduction
	if debug {
		build = zap.NewDevelopment
	}
	return build(serviceFields())
}

func serviceFields() zap.Option {
	return zap.Fields(zap.String("service", ServiceName))
}
