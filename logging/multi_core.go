package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

// stdout returns the console output stream. Indirection keeps the two
// multi-core constructors symmetric.
func stdout() *os.File { return os.Stdout }

// NewMultiCore creates a zapcore.Core that tees output to both console
// and a rotating file. The file side always uses JSON; the console
// side is colored human-readable in development mode and JSON
// otherwise.
func NewMultiCore(level zapcore.Level, filePath string, isDev bool) (zapcore.Core, error) {
	return NewMultiCoreWithWriters(level, zapcore.Lock(zapcore.AddSync(stdout())), NewFileWriter(filePath), isDev), nil
}

// NewMultiCoreWithWriters is the writer-injectable variant, useful for
// tests and special output destinations.
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)

	var consoleEncoder zapcore.Encoder
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, consoleWriter, level)

	return zapcore.NewTee(consoleCore, fileCore)
}
