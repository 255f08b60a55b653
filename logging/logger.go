// Package logging builds the per-replica diagnostic logger: human-readable
// lines in node_<id>.log, formatted "YYYY-MM-DD HH:MM:SS [LEVEL] - message".
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger that writes to node_<id>.log in that exact line
// shape. Neither of zap's stock encoders (json, console) produce it, so
// this wires a small EncoderConfig whose level encoder folds the trailing
// " - " separator into the level field itself.
func New(nodeID int) (*zap.Logger, error) {
	path := fmt.Sprintf("node_%d.log", nodeID)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("logging: create %s: %w", path, err)
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:          "T",
		LevelKey:         "L",
		MessageKey:       "M",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeLevel:      bracketedLevel,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(file),
		zapcore.DebugLevel,
	)

	return zap.New(core), nil
}

// bracketedLevel renders "[INFO] -" so that, combined with a single-space
// ConsoleSeparator between fields, the final line reads
// "2026-07-30 12:00:00 [INFO] - message".
func bracketedLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "] -")
}
