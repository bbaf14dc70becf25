package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"
)

// mwRequestID tags every request with an id, reusing one supplied by the caller.
func mwRequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(requestIDHeader)
		if id == "" {
			id = xid.New().String()
		}
		ctx.Set(requestIDKey, id)
		ctx.Header(requestIDHeader, id)
		ctx.Next()
	}
}

func mwLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		startTime := time.Now()
		ctx.Next()
		duration := time.Since(startTime)

		logger.Info("api request",
			slog.String("kind", "api"),
			slog.String("request_id", ctx.GetString(requestIDKey)),
			slog.String("method", ctx.Request.Method),
			slog.String("uri", ctx.Request.RequestURI),
			slog.Int("code", ctx.Writer.Status()),
			slog.String("client", ctx.ClientIP()),
			slog.Duration("duration", duration),
		)
	}
}

// requestLogger returns logger annotated with the request id.
func requestLogger(ctx *gin.Context, logger *slog.Logger) *slog.Logger {
	return logger.With(slog.String("request_id", ctx.GetString(requestIDKey)))
}
