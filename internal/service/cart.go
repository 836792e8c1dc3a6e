package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/timbouc/cart/internal/compute"
	"github.com/timbouc/cart/internal/domain"
	"github.com/timbouc/cart/internal/loader"
	"github.com/timbouc/cart/internal/storage"
	apperrors "github.com/timbouc/cart/pkg/errors"
)

// EventPublisher receives cart change notifications. *event.Producer implements it.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, session, operation string, content *domain.CartContent) error
	PublishCartCleared(ctx context.Context, session string) error
}

// Options configures a Cart.
type Options struct {
	Engine *compute.Engine
	Events EventPublisher
	Logger *slog.Logger
	Loader loader.Options
}

// Cart is the operations layer over one session's content. Mutations on the
// same Cart are serialized.
type Cart struct {
	mu       sync.Mutex
	storages *storage.Manager
	loader   *loader.Loader
	engine   *compute.Engine
	events   EventPublisher
	logger   *slog.Logger
}

// NewCart binds a cart to session on the manager's default storage.
func NewCart(storages *storage.Manager, session string, opts Options) (*Cart, error) {
	if session == "" {
		return nil, apperrors.InvalidInput("session key is required")
	}
	store, err := storages.Storage("")
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := opts.Engine
	if engine == nil {
		engine = compute.New()
	}
	loaderOpts := opts.Loader
	if loaderOpts.Logger == nil {
		loaderOpts.Logger = logger
	}

	return &Cart{
		storages: storages,
		loader:   loader.New(store, session, loaderOpts),
		engine:   engine,
		events:   opts.Events,
		logger:   logger,
	}, nil
}

// SessionKey returns the session the cart is bound to.
func (c *Cart) SessionKey() string {
	return c.loader.SessionKey()
}

// Session flushes pending writes and switches to another session.
func (c *Cart) Session(ctx context.Context, key string) error {
	if key == "" {
		return apperrors.InvalidInput("session key is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loader.Key(ctx, key)
}

// Driver flushes pending writes and switches to the named storage.
func (c *Cart) Driver(ctx context.Context, name string) error {
	store, err := c.storages.Storage(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loader.Use(ctx, store)
}

// Flush writes any buffered content to storage.
func (c *Cart) Flush(ctx context.Context) error {
	return c.loader.Flush(ctx)
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// Add merges a candidate item into the cart and returns the resulting line.
func (c *Cart) Add(ctx context.Context, in domain.ItemInput) (domain.CartItem, error) {
	items, err := c.AddMany(ctx, []domain.ItemInput{in})
	if err != nil {
		return domain.CartItem{}, err
	}
	return items[0], nil
}

// AddMany merges each candidate in order. A line whose id, price and options
// match a candidate gets its quantity increased; otherwise a new line is added.
func (c *Cart) AddMany(ctx context.Context, inputs []domain.ItemInput) ([]domain.CartItem, error) {
	if len(inputs) == 0 {
		return nil, domain.OperationFailed("add to cart", "no items given")
	}

	var added []domain.CartItem
	content, err := c.mutate(ctx, "add", func(content *domain.CartContent) error {
		added = make([]domain.CartItem, 0, len(inputs))
		for _, in := range inputs {
			item, err := addItem(content, in)
			if err != nil {
				return err
			}
			added = append(added, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Report the lines as stored, after merges by later candidates.
	out := make([]domain.CartItem, len(added))
	for i, item := range added {
		if idx := content.FindItemIndex(item.ItemID); idx >= 0 {
			out[i] = content.Items[idx].Clone()
		} else {
			out[i] = item
		}
	}
	for _, item := range out {
		c.logger.InfoContext(ctx, "item added to cart",
			slog.String("session", c.SessionKey()),
			slog.String("item_id", item.ItemID),
			slog.String("id", item.ID),
			slog.Int("quantity", item.Quantity),
		)
	}
	return out, nil
}

func addItem(content *domain.CartContent, in domain.ItemInput) (domain.CartItem, error) {
	quantity, err := domain.NormalizeQuantity(in.Quantity)
	if err != nil {
		return domain.CartItem{}, err
	}
	price, err := domain.NormalizePrice(in.Price)
	if err != nil {
		return domain.CartItem{}, err
	}

	for i := range content.Items {
		existing := &content.Items[i]
		if existing.ID == in.ID && existing.Price.Equal(price) && domain.SameOptions(existing.Options, in.Options) {
			existing.Quantity += quantity
			content.Conditions = append(content.Conditions, cloneConditions(in.Conditions)...)
			return existing.Clone(), nil
		}
	}

	itemID, err := nextItemID(content, in.ItemID)
	if err != nil {
		return domain.CartItem{}, err
	}

	item := domain.CartItem{
		ItemID:   itemID,
		ID:       in.ID,
		Name:     in.Name,
		Price:    price,
		Quantity: quantity,
		Options:  in.Options,
		Extra:    in.Extra,
	}.Clone()
	content.Items = append(content.Items, item)
	content.Conditions = append(content.Conditions, cloneConditions(in.Conditions)...)
	return item.Clone(), nil
}

// nextItemID returns the supplied id if it is free, or the first free id
// counting up from len(items)+1.
func nextItemID(content *domain.CartContent, supplied string) (string, error) {
	if supplied != "" {
		if supplied == domain.TargetSubtotal || supplied == domain.TargetTotal {
			return "", domain.OperationFailed("add to cart", fmt.Sprintf("item id %q is reserved", supplied))
		}
		if content.FindItemIndex(supplied) >= 0 {
			return "", domain.OperationFailed("add to cart", fmt.Sprintf("item id %s already exists", supplied))
		}
		return supplied, nil
	}
	for n := len(content.Items) + 1; ; n++ {
		id := strconv.Itoa(n)
		if content.FindItemIndex(id) < 0 {
			return id, nil
		}
	}
}

// Update overwrites the given fields of a line and returns it.
func (c *Cart) Update(ctx context.Context, itemID string, opts domain.UpdateOptions) (domain.CartItem, error) {
	var updated domain.CartItem
	_, err := c.mutate(ctx, "update", func(content *domain.CartContent) error {
		idx := content.FindItemIndex(itemID)
		if idx < 0 {
			return domain.ItemNotFound("update cart", itemID)
		}
		item := &content.Items[idx]

		if opts.Name != "" {
			item.Name = opts.Name
		}
		if opts.Price != nil {
			item.Price = opts.Price.Round(domain.PricePlaces)
		}
		if opts.Options != nil {
			item.Options = slices.Clone(opts.Options)
		}
		if opts.Quantity != nil {
			q, err := opts.Quantity.Apply(item.Quantity)
			if err != nil {
				return err
			}
			item.Quantity = q
		}
		updated = item.Clone()
		return nil
	})
	if err != nil {
		return domain.CartItem{}, err
	}

	c.logger.InfoContext(ctx, "cart item updated",
		slog.String("session", c.SessionKey()),
		slog.String("item_id", itemID),
		slog.Int("quantity", updated.Quantity),
	)
	return updated, nil
}

// Get returns the line with the given item id.
func (c *Cart) Get(ctx context.Context, itemID string) (domain.CartItem, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return domain.CartItem{}, err
	}
	idx := content.FindItemIndex(itemID)
	if idx < 0 {
		return domain.CartItem{}, domain.ItemNotFound("get cart item", itemID)
	}
	return content.Items[idx], nil
}

// Items lists the lines in insertion order.
func (c *Cart) Items(ctx context.Context) ([]domain.CartItem, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return nil, err
	}
	return content.Items, nil
}

// Count returns the number of lines.
func (c *Cart) Count(ctx context.Context) (int, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return 0, err
	}
	return len(content.Items), nil
}

// Quantity returns the total quantity across all lines.
func (c *Cart) Quantity(ctx context.Context) (int, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return 0, err
	}
	return content.ItemCount(), nil
}

// Empty reports whether the cart has no lines.
func (c *Cart) Empty(ctx context.Context) (bool, error) {
	n, err := c.Count(ctx)
	return n == 0, err
}

// Remove drops the given lines together with the conditions that target them.
// Unknown ids are ignored.
func (c *Cart) Remove(ctx context.Context, itemIDs ...string) (*domain.CartContent, error) {
	content, err := c.mutate(ctx, "remove", func(content *domain.CartContent) error {
		content.Items = slices.DeleteFunc(content.Items, func(item domain.CartItem) bool {
			return slices.Contains(itemIDs, item.ItemID)
		})
		content.Conditions = slices.DeleteFunc(content.Conditions, func(cond domain.CartCondition) bool {
			return slices.Contains(itemIDs, cond.Target)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "items removed from cart",
		slog.String("session", c.SessionKey()),
		slog.Any("item_ids", itemIDs),
	)
	return content, nil
}

// Clear drops every line and the conditions targeting lines. Subtotal and
// total conditions and session data are kept.
func (c *Cart) Clear(ctx context.Context) error {
	_, err := c.mutate(ctx, "clear", func(content *domain.CartContent) error {
		content.Items = []domain.CartItem{}
		content.Conditions = slices.DeleteFunc(content.Conditions, func(cond domain.CartCondition) bool {
			return cond.Target != domain.TargetSubtotal && cond.Target != domain.TargetTotal
		})
		return nil
	})
	if err != nil {
		return err
	}

	if c.events != nil {
		if err := c.events.PublishCartCleared(ctx, c.SessionKey()); err != nil {
			c.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
				slog.String("session", c.SessionKey()),
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.InfoContext(ctx, "cart cleared", slog.String("session", c.SessionKey()))
	return nil
}

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

// Apply adds a condition, replacing one with the same name in place.
func (c *Cart) Apply(ctx context.Context, cond domain.CartCondition) (*domain.CartContent, error) {
	return c.ApplyMany(ctx, []domain.CartCondition{cond})
}

// ApplyMany applies each condition in order.
func (c *Cart) ApplyMany(ctx context.Context, conds []domain.CartCondition) (*domain.CartContent, error) {
	if len(conds) == 0 {
		return nil, domain.OperationFailed("apply condition", "no conditions given")
	}
	content, err := c.mutate(ctx, "apply", func(content *domain.CartContent) error {
		for _, cond := range conds {
			if cond.Name == "" {
				return domain.OperationFailed("apply condition", "name is required")
			}
			if cond.Target == "" {
				return domain.OperationFailed("apply condition", fmt.Sprintf("target is required for %q", cond.Name))
			}
			if idx := content.FindConditionIndex(cond.Name); idx >= 0 {
				content.Conditions[idx] = cond.Clone()
			} else {
				content.Conditions = append(content.Conditions, cond.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, cond := range conds {
		c.logger.InfoContext(ctx, "condition applied",
			slog.String("session", c.SessionKey()),
			slog.String("condition", cond.Name),
			slog.String("target", cond.Target),
			slog.String("value", cond.Value.String()),
		)
	}
	return content, nil
}

// Conditions lists the stored conditions in stored order.
func (c *Cart) Conditions(ctx context.Context) ([]domain.CartCondition, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return nil, err
	}
	return content.Conditions, nil
}

// Condition returns the condition with the given name.
func (c *Cart) Condition(ctx context.Context, name string) (domain.CartCondition, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return domain.CartCondition{}, err
	}
	idx := content.FindConditionIndex(name)
	if idx < 0 {
		return domain.CartCondition{}, domain.ConditionNotFound("get condition", name)
	}
	return content.Conditions[idx], nil
}

// RemoveCondition deletes the condition with the given name.
func (c *Cart) RemoveCondition(ctx context.Context, name string) error {
	_, err := c.mutate(ctx, "remove_condition", func(content *domain.CartContent) error {
		idx := content.FindConditionIndex(name)
		if idx < 0 {
			return domain.ConditionNotFound("remove condition", name)
		}
		content.Conditions = slices.Delete(content.Conditions, idx, idx+1)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "condition removed",
		slog.String("session", c.SessionKey()),
		slog.String("condition", name),
	)
	return nil
}

// ClearConditions deletes every condition.
func (c *Cart) ClearConditions(ctx context.Context) error {
	_, err := c.mutate(ctx, "clear_conditions", func(content *domain.CartContent) error {
		content.Conditions = []domain.CartCondition{}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "conditions cleared", slog.String("session", c.SessionKey()))
	return nil
}

// ---------------------------------------------------------------------------
// Totals
// ---------------------------------------------------------------------------

// Subtotal returns the stored subtotal.
func (c *Cart) Subtotal(ctx context.Context) (decimal.Decimal, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return content.Subtotal, nil
}

// Total returns the stored total.
func (c *Cart) Total(ctx context.Context) (decimal.Decimal, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return content.Total, nil
}

// Content returns the full snapshot.
func (c *Cart) Content(ctx context.Context) (*domain.CartContent, error) {
	return c.loader.Get(ctx)
}

// ---------------------------------------------------------------------------
// Session data
// ---------------------------------------------------------------------------

// Data returns the session data at a dotted path. An empty path returns all data.
func (c *Cart) Data(ctx context.Context, path string) (any, bool, error) {
	content, err := c.loader.Get(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := content.LookupData(path)
	return v, ok, nil
}

// SetData stores value at a dotted path.
func (c *Cart) SetData(ctx context.Context, path string, value any) error {
	if path == "" {
		return apperrors.InvalidInput("data path is required")
	}
	_, err := c.mutate(ctx, "set_data", func(content *domain.CartContent) error {
		content.SetData(path, value)
		return nil
	})
	return err
}

// ReplaceData replaces all session data.
func (c *Cart) ReplaceData(ctx context.Context, data map[string]any) error {
	_, err := c.mutate(ctx, "replace_data", func(content *domain.CartContent) error {
		content.ReplaceData(data)
		return nil
	})
	return err
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// mutate reads the content, applies fn, recomputes and stores the result. When
// fn or the computation fails nothing is stored.
func (c *Cart) mutate(ctx context.Context, op string, fn func(*domain.CartContent) error) (*domain.CartContent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	content, err := c.loader.Get(ctx)
	if err != nil {
		cartOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("load cart: %w", err)
	}

	if err := fn(content); err != nil {
		cartOperationsTotal.WithLabelValues(op, "rejected").Inc()
		return nil, err
	}

	start := time.Now()
	computed, err := c.engine.Compute(content)
	cartComputeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		cartOperationsTotal.WithLabelValues(op, "rejected").Inc()
		return nil, err
	}

	if err := c.loader.Set(ctx, computed); err != nil {
		cartOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("save cart: %w", err)
	}
	cartOperationsTotal.WithLabelValues(op, "ok").Inc()

	if c.events != nil && op != "clear" {
		if err := c.events.PublishCartUpdated(ctx, c.loader.SessionKey(), op, computed); err != nil {
			c.logger.ErrorContext(ctx, "failed to publish cart.updated event",
				slog.String("session", c.loader.SessionKey()),
				slog.String("operation", op),
				slog.String("error", err.Error()),
			)
		}
	}

	return computed, nil
}

func cloneConditions(conds []domain.CartCondition) []domain.CartCondition {
	out := make([]domain.CartCondition, len(conds))
	for i := range conds {
		out[i] = conds[i].Clone()
	}
	return out
}
