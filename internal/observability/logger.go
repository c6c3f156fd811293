package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "milkbank"

type correlationIDKey struct{}

// NewLogger builds the JSON production logger. Every entry carries the
// service name and the process component (api, worker).
func NewLogger(level string, component string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	cfg.InitialFields = map[string]any{"service": serviceName}
	if component = strings.TrimSpace(component); component != "" {
		cfg.InitialFields["component"] = component
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || correlationID == "" {
		return "", false
	}

	return correlationID, true
}

func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	correlationID, ok := CorrelationIDFromContext(ctx)
	if !ok {
		return logger
	}

	return logger.With(zap.String("correlationId", correlationID))
}

// RequestIDHeader carries the correlation id on HTTP requests and broker messages.
const RequestIDHeader = "X-Request-ID"

// TransitionFields are the structured fields logged for a committed state change.
func TransitionFields(entity, id, from, to, actor string) []zap.Field {
	return []zap.Field{
		zap.String(entity+"Id", id),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("actor", actor),
	}
}

// CorrelationMiddleware moves the request id into the request's user context
// so services and repositories log and publish it. It must run after the
// requestid middleware.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(RequestIDHeader))
		if id == "" {
			if local, ok := c.Locals("requestid").(string); ok {
				id = strings.TrimSpace(local)
			}
		}
		if id != "" {
			c.SetUserContext(WithCorrelationID(c.UserContext(), id))
			c.Set(RequestIDHeader, id)
		}
		return c.Next()
	}
}
