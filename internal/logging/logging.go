// Package logging bootstraps the structured logger shared by the demo
// binaries, following the console-encoder-with-color-when-a-tty pattern
// used throughout the control-plane binaries this fabric is modeled on.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config is the logging subsystem's configuration, decoded from YAML.
type Config struct {
	Level zapcore.Level `yaml:"level"`
}

// Init builds a *zap.SugaredLogger writing to stderr, with colorized level
// names when stderr is attached to a terminal and plain level names
// otherwise (for log aggregation, where ANSI escapes are noise). component
// names the binary or subsystem emitting through this logger (e.g.
// "tracering-consumer", "tracering-emitter") and is attached the same way
// the control-plane modules name theirs: log.Named(component).With(zap.String(...)).
func Init(cfg Config, component string) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()

	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	named := logger.Named(component).With(zap.String("component", component))
	return named.Sugar(), config.Level, nil
}
