package global

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	Sub *zap.Logger
}

func (log *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	log.Sub.Info(msg, decaps(ctx, fields...)...)
}

func (log *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	log.Sub.Error(msg, decaps(ctx, fields...)...)
}

func (log *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	log.Sub.Debug(msg, decaps(ctx, fields...)...)
}

func (log *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	log.Sub.Warn(msg, decaps(ctx, fields...)...)
}

func decaps(ctx context.Context, fields ...zap.Field) []zap.Field {
	if raceID, ok := RaceID(ctx); ok {
		fields = append(fields, zap.String("race_id", raceID))
	}
	if racerID, ok := RacerID(ctx); ok {
		fields = append(fields, zap.String("racer_id", racerID))
	}
	return fields
}

var (
	logger  *Logger
	logOnce sync.Once
)

func Log() *Logger {
	logOnce.Do(func() {
		lvl, err := zapcore.ParseLevel(Conf.LogLevel)
		if err != nil {
			lvl = zapcore.InfoLevel
		}

		var core zapcore.Core = zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(os.Stdout),
			lvl,
		)
		if Conf.Otel.Tracing && loggerProvider != nil {
			core = zapcore.NewTee(
				core,
				otelzap.NewCore("ctfer.io/race-manager", otelzap.WithLoggerProvider(loggerProvider)),
			)
		}

		logger = &Logger{
			Sub: zap.New(core),
		}
	})
	return logger
}
