package logger

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/noah-isme/sma-digest-notifier/pkg/config"
	"github.com/noah-isme/sma-digest-notifier/pkg/middleware/requestid"
)

const serviceName = "digest-notifier"

// New builds the process logger. With Log.File set, entries are also written
// as JSON to a rotated file.
func New(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Log.Format {
	case "console":
		zapCfg.Encoding = "console"
	default:
		zapCfg.Encoding = "json"
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Log.File == "" {
		zapCfg.InitialFields = map[string]interface{}{"service": serviceName}
		return zapCfg.Build()
	}

	// File output always uses JSON so rotated files stay machine readable.
	rolling := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.FileMaxSizeMB,
		MaxBackups: cfg.Log.FileMaxBackups,
		MaxAge:     cfg.Log.FileMaxAgeDays,
		Compress:   true,
	})

	var consoleEncoder zapcore.Encoder
	if zapCfg.Encoding == "console" {
		consoleEncoder = zapcore.NewConsoleEncoder(zapCfg.EncoderConfig)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(zapCfg.EncoderConfig)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zapCfg.Level),
		zapcore.NewCore(zapcore.NewJSONEncoder(zapCfg.EncoderConfig), rolling, zapCfg.Level),
	)

	return zap.New(core, zap.AddCaller(), zap.Fields(zap.String("service", serviceName))), nil
}

// GinMiddleware logs one line per request. Server errors are logged at warn.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		reqID := requestid.Value(c)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		}
		if reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}

		if c.Writer.Status() >= 500 {
			l.Warn("http_request", fields...)
			return
		}
		l.Info("http_request", fields...)
	}
}
