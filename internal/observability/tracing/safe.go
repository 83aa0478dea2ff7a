package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var forbiddenAttributeKeys = map[attribute.Key]struct{}{
	"http.request.header.authorization":      {},
	"http.request.header.x-internal-api-key": {},
	"http.request.header.x-session-token":    {},
	"payload_hash":                           {},
}

// SafeAttributes drops attributes that may carry credentials or payload material.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := forbiddenAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError strips bearer material from an error message before it is recorded on a span.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, prefix := range []string{"cbx_live_", "cbx_test_"} {
		if idx := strings.Index(msg, prefix); idx >= 0 {
			msg = msg[:idx] + "[redacted]"
		}
	}
	return errors.New(msg)
}
