package entitlement

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"licensecore/internal/infrastructure"
)

// logAction logs an engine action with structured data and span correlation
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	infrastructure.AddSpanEvent(ctx, "license."+action,
		attribute.String("action", action),
		attribute.String("result", result),
	)

	allAttrs := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
		allAttrs = append(allAttrs, slog.String("otel_trace_id", traceID))
	}
	allAttrs = append(allAttrs, attrs...)

	m.logger.LogAttrs(ctx, level, result, allAttrs...)
}

// logKeyAction logs an action about a serial key without exposing the key
func (m *Manager) logKeyAction(ctx context.Context, level slog.Level, action, result, serialKey string, attrs ...slog.Attr) {
	keyAttrs := []slog.Attr{
		slog.String("serial_key_masked", MaskSerialKey(serialKey)),
		slog.String("serial_key_hash", HashSerialKey(serialKey)),
	}
	keyAttrs = append(keyAttrs, attrs...)
	m.logAction(ctx, level, action, result, keyAttrs...)
}

// MaskSerialKey keeps the first and last four characters of a key
func MaskSerialKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// HashSerialKey returns a short digest of the key for log correlation
func HashSerialKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}

func (m *Manager) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}
