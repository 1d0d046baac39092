package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/SinaHo/phone-auth-backend/internal/metrics"
)

// RequestIDHeader carries the request id in and out of the HTTP surface.
const RequestIDHeader = echo.HeaderXRequestID

func UnaryLoggingInterceptor(logger *zap.SugaredLogger, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		st, _ := status.FromError(err)
		code := st.Code()
		m.RecordGRPC(info.FullMethod, code.String())

		logger.Infow("gRPC call",
			"method", info.FullMethod,
			"duration", duration,
			"code", code.String(),
			"error", err,
		)
		return resp, err
	}
}

// RequestID makes sure every request and response carries an X-Request-ID.
func RequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Request().Header.Set(RequestIDHeader, requestID)
		c.Response().Header().Set(RequestIDHeader, requestID)
		c.Set(RequestIDHeader, requestID)

		return next(c)
	}
}

// RequestLogger logs one line per HTTP request.
func RequestLogger(logger *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// let echo write the response so the status below is final
				c.Error(err)
			}

			req := c.Request()
			fields := []interface{}{
				"request_id", c.Response().Header().Get(RequestIDHeader),
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"latency", time.Since(start),
				"ip", c.RealIP(),
			}
			if err != nil {
				logger.Errorw("HTTP request failed", append(fields, "error", err)...)
			} else {
				logger.Infow("HTTP request completed", fields...)
			}
			return nil
		}
	}
}
