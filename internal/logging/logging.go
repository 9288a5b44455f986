// Package logging builds the zap loggers used by the CLI and carries them in
// contexts.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported output formats. FormatAuto picks console output for terminals and
// logfmt otherwise.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatLogfmt  = "logfmt"
)

// Formats lists the accepted values for Config.Format.
var Formats = []string{FormatAuto, FormatConsole, FormatJSON, FormatLogfmt}

// Config selects the logger output.
type Config struct {
	Format string
	Level  string
}

// NewConfig returns a Config with defaults.
func NewConfig() Config {
	return Config{Format: FormatAuto, Level: "info"}
}

// New returns a logger writing to w.
func New(w io.Writer, cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	encoder, err := newEncoder(w, cfg.Format)
	if err != nil {
		return nil, err
	}

	return zap.New(zapcore.NewCore(
		encoder,
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)), nil
}

func newEncoder(w io.Writer, format string) (zapcore.Encoder, error) {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(time.RFC3339))
	}
	config.EncodeDuration = func(d time.Duration, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(d.String())
	}

	switch strings.ToLower(format) {
	case "", FormatAuto:
		if isTerminal(w) {
			return zapcore.NewConsoleEncoder(config), nil
		}
		return zaplogfmt.NewEncoder(config), nil
	case FormatConsole:
		return zapcore.NewConsoleEncoder(config), nil
	case FormatJSON:
		return zapcore.NewJSONEncoder(config), nil
	case FormatLogfmt:
		return zaplogfmt.NewEncoder(config), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type loggerContextKey struct{}

// NewContextWithLogger returns a new context carrying log.
func NewContextWithLogger(ctx context.Context, log *zap.Logger) context.Context {
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, log)
}

// FromContext returns the logger attached to ctx, or a no-op logger when none
// has been attached.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.NewNop()
	}
	if l, ok := ctx.Value(loggerContextKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}
