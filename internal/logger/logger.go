package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/grpclog"
)

var Log = zerolog.Nop()

// Init initializes the global logger with the specified level, writing JSON
// lines to w (stderr when nil, so headless mode keeps stdout for replies).
// Valid levels: debug, info, warn, error
func Init(level string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	Log = zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// Module returns a logger with a module field for scoped logging.
func Module(name string) zerolog.Logger {
	return Log.With().Str("module", name).Logger()
}

// GRPCLogger adapts zerolog to grpclog.LoggerV2 so gRPC internals log through
// the same pipeline. gRPC info chatter is demoted to debug.
type GRPCLogger struct {
	zlog      zerolog.Logger
	verbosity int
}

// NewGRPCLogger creates a gRPC-compatible logger for the given module.
func NewGRPCLogger(module string, verbosity int) grpclog.LoggerV2 {
	return &GRPCLogger{zlog: Module(module), verbosity: verbosity}
}

func (l *GRPCLogger) Info(args ...any)                 { l.zlog.Debug().Msg(fmt.Sprint(args...)) }
func (l *GRPCLogger) Infoln(args ...any)               { l.zlog.Debug().Msg(fmt.Sprint(args...)) }
func (l *GRPCLogger) Infof(format string, args ...any) { l.zlog.Debug().Msgf(format, args...) }

func (l *GRPCLogger) Warning(args ...any)                 { l.zlog.Warn().Msg(fmt.Sprint(args...)) }
func (l *GRPCLogger) Warningln(args ...any)               { l.zlog.Warn().Msg(fmt.Sprint(args...)) }
func (l *GRPCLogger) Warningf(format string, args ...any) { l.zlog.Warn().Msgf(format, args...) }

func (l *GRPCLogger) Error(args ...any)                 { l.zlog.Error().Msg(fmt.Sprint(args...)) }
func (l *GRPCLogger) Errorln(args ...any)               { l.zlog.Error().Msg(fmt.Sprint(args...)) }
func (l *GRPCLogger) Errorf(format string, args ...any) { l.zlog.Error().Msgf(format, args...) }

func (l *GRPCLogger) Fatal(args ...any)                 { l.zlog.Fatal().Msg(fmt.Sprint(args...)) }
func (l *GRPCLogger) Fatalln(args ...any)               { l.zlog.Fatal().Msg(fmt.Sprint(args...)) }
func (l *GRPCLogger) Fatalf(format string, args ...any) { l.zlog.Fatal().Msgf(format, args...) }

func (l *GRPCLogger) V(level int) bool { return level <= l.verbosity }
