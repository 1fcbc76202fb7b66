package receiver

import (
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nixlim/durtop/internal/processor"
)

// Logger records every decoded record for debugging.
// Implementations must be safe for concurrent use.
type Logger interface {
	LogRecord(rec processor.Record)
}

// NopLogger discards all records. It is the default when debug logging is
// not enabled.
type NopLogger struct{}

func (NopLogger) LogRecord(processor.Record) {}

// FileLogger writes one JSON object per record to an io.Writer.
type FileLogger struct {
	z *zap.Logger
}

// NewFileLogger creates a FileLogger that writes JSON lines to w.
func NewFileLogger(w io.Writer) *FileLogger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LineEnding: zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zapcore.DebugLevel)
	return &FileLogger{z: zap.New(core)}
}

func (l *FileLogger) LogRecord(rec processor.Record) {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := []zap.Field{
		zap.String("ts", ts.UTC().Format(time.RFC3339Nano)),
		zap.String("type", "record"),
		zap.String("name", rec.Name),
	}
	if len(rec.Attributes) > 0 {
		fields = append(fields, zap.Any("attrs", rec.Attributes))
	}
	l.z.Info("", fields...)
}
