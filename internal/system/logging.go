// Package system holds process-wide plumbing shared by the commands.
package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ReqLoggerKey is the gin context key holding the request-scoped logger.
const ReqLoggerKey = "reqLogger"

// NewLogger builds the process logger. Debug selects the development
// encoder and debug level.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewTestLogger returns a development logger without stacktraces.
func NewTestLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	logger, _ := cfg.Build()
	return logger
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// AddressFields returns key/value pairs identifying an address for
// SugaredLogger calls. The message id is only included when set.
func AddressFields(addressID, messageID string) []interface{} {
	if messageID == "" {
		return []interface{}{"address", addressID}
	}
	return []interface{}{"address", addressID, "message", messageID}
}
