// Package logging builds the single *zap.Logger instance shared by the
// coordinators and sinks, mirroring the component-by-component *zap.Logger
// injection already used throughout the codebase (every constructor below
// takes one rather than reaching for a global).
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger appropriate for env: JSON output and info level in
// anything other than "development", human-readable console output and
// debug level in development.
func New(env string) (*zap.Logger, error) {
	var zcfg zap.Config
	if env == "development" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.InitialFields = map[string]interface{}{
		"component": "engagement-streamproc",
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}
