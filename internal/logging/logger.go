package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds the service-wide structured logger. Every entry carries
// the service name so ingest and query traffic can be filtered in shared log
// storage.
func NewLogger(serviceName string) (*zap.Logger, error) {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.InitialFields = map[string]any{
		"service": serviceName,
	}

	return loggerConfig.Build()
}

// WithRequestID decorates a logger with the request_id of one ingest or
// query request, so all entries for that request correlate.
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}
