package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/timbouc/cart/internal/domain"
	pkgkafka "github.com/timbouc/cart/pkg/kafka"
	"github.com/timbouc/cart/pkg/logger"
)

// Kafka topic constants for cart events.
const (
	TopicCartUpdated = "cart.updated"
	TopicCartCleared = "cart.cleared"
)

// Aggregate type constant.
const AggregateTypeCart = "cart_session"

// Source identifier for events originating from the cart service.
const SourceCartService = "cart-service"

// Publisher sends an event envelope to a topic. *pkgkafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	Session    string          `json:"session"`
	Operation  string          `json:"operation"`
	Items      []CartItemData  `json:"items"`
	Conditions []string        `json:"conditions"`
	ItemCount  int             `json:"item_count"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Total      decimal.Decimal `json:"total"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ItemID   string          `json:"item_id"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	Session string `json:"session"`
}

// Producer publishes cart events. A Producer without a publisher drops events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the cart service. publisher may be nil.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// Enabled reports whether events are sent anywhere.
func (p *Producer) Enabled() bool {
	return p != nil && p.publisher != nil
}

// PublishCartUpdated publishes a cart.updated event carrying the computed totals.
func (p *Producer) PublishCartUpdated(ctx context.Context, session, operation string, content *domain.CartContent) error {
	if !p.Enabled() {
		return nil
	}

	items := make([]CartItemData, len(content.Items))
	for i, item := range content.Items {
		items[i] = CartItemData{
			ItemID:   item.ItemID,
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		}
	}
	conditions := make([]string, len(content.Conditions))
	for i, c := range content.Conditions {
		conditions[i] = c.Name
	}

	data := CartUpdatedData{
		Session:    session,
		Operation:  operation,
		Items:      items,
		Conditions: conditions,
		ItemCount:  content.ItemCount(),
		Subtotal:   content.Subtotal,
		Total:      content.Total,
	}

	if err := p.publish(ctx, TopicCartUpdated, session, data, pkgkafka.WithMetadata("operation", operation)); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("session", session),
		slog.String("operation", operation),
		slog.Int("item_count", data.ItemCount),
	)

	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, session string) error {
	if !p.Enabled() {
		return nil
	}

	if err := p.publish(ctx, TopicCartCleared, session, CartClearedData{Session: session}); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("session", session),
	)

	return nil
}

func (p *Producer) publish(ctx context.Context, topic, session string, data any, opts ...pkgkafka.EventOption) error {
	opts = append(opts, pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)))
	event, err := pkgkafka.NewEvent(topic, session, AggregateTypeCart, SourceCartService, data, opts...)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}
