package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HeaderCarrier lets OpenTelemetry propagators read and write message headers.
type HeaderCarrier struct {
	msg *kafka.Message
}

var _ propagation.TextMapCarrier = HeaderCarrier{}

// NewHeaderCarrier returns a carrier over msg's headers.
func NewHeaderCarrier(msg *kafka.Message) HeaderCarrier {
	return HeaderCarrier{msg: msg}
}

func (c HeaderCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set overwrites the first header named key, or appends one.
func (c HeaderCarrier) Set(key, value string) {
	for i := range c.msg.Headers {
		if c.msg.Headers[i].Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}

// InjectTraceContext writes the span context of ctx into msg's headers.
func InjectTraceContext(ctx context.Context, msg *kafka.Message) {
	otel.GetTextMapPropagator().Inject(ctx, NewHeaderCarrier(msg))
}
