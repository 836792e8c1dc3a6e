package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/timbouc/cart/internal/domain"
	"github.com/timbouc/cart/internal/service"
	apperrors "github.com/timbouc/cart/pkg/errors"
	"github.com/timbouc/cart/pkg/httputil"
	"github.com/timbouc/cart/pkg/middleware"
	"github.com/timbouc/cart/pkg/validator"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	carts  *service.Registry
	logger *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(carts *service.Registry, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:  carts,
		logger: logger,
	}
}

// --- Request DTOs ---

// addItemsRequest wraps the candidates of POST /items so they validate as a batch.
type addItemsRequest struct {
	Items []domain.ItemInput `validate:"required,min=1,max=100,dive"`
}

// UpdateItemRequest is the JSON request body for PATCH /items/{itemId}.
// Quantity is a number (absolute) or {"relative": true, "value": n}.
type UpdateItemRequest struct {
	Name     string                 `json:"name" validate:"max=500"`
	Price    *decimal.Decimal       `json:"price"`
	Quantity *domain.QuantityUpdate `json:"quantity"`
	Options  []domain.ItemOption    `json:"options"`
}

// ConditionRequest is the JSON request body for POST /conditions.
type ConditionRequest struct {
	Name       string                `json:"name" validate:"required,max=200"`
	Type       domain.ConditionType  `json:"type" validate:"omitempty,max=50"`
	Target     string                `json:"target" validate:"required,max=100"`
	Value      domain.ConditionValue `json:"value"`
	Order      int                   `json:"order"`
	Attributes map[string]any        `json:"attributes"`
}

func (c ConditionRequest) toDomain() domain.CartCondition {
	return domain.CartCondition{
		Name:       c.Name,
		Type:       c.Type,
		Target:     c.Target,
		Value:      c.Value,
		Order:      c.Order,
		Attributes: c.Attributes,
	}
}

// TotalsResponse is returned by GET /totals.
type TotalsResponse struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
	Lines    int             `json:"lines"`
	Quantity int             `json:"quantity"`
}

// --- Content ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		content, err := c.Content(r.Context())
		return http.StatusOK, content, err
	})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		if err := c.Clear(r.Context()); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]string{"status": "cleared"}, nil
	})
}

// GetTotals handles GET /api/v1/cart/totals
func (h *CartHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		content, err := c.Content(r.Context())
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, TotalsResponse{
			Subtotal: content.Subtotal,
			Total:    content.Total,
			Lines:    len(content.Items),
			Quantity: content.ItemCount(),
		}, nil
	})
}

// --- Items ---

// ListItems handles GET /api/v1/cart/items
func (h *CartHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		items, err := c.Items(r.Context())
		return http.StatusOK, items, err
	})
}

// AddItems handles POST /api/v1/cart/items. The body is one item or an array of items;
// the response mirrors that shape.
func (h *CartHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	var req addItemsRequest
	single, err := decodeOneOrMany(r, &req.Items)
	if err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		items, err := c.AddMany(r.Context(), req.Items)
		if err != nil {
			return 0, nil, err
		}
		if single {
			return http.StatusCreated, items[0], nil
		}
		return http.StatusCreated, items, nil
	})
}

// GetItem handles GET /api/v1/cart/items/{itemId}
func (h *CartHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		item, err := c.Get(r.Context(), itemID)
		return http.StatusOK, item, err
	})
}

// UpdateItem handles PATCH /api/v1/cart/items/{itemId}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	var req UpdateItemRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	opts := domain.UpdateOptions{
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
		Options:  req.Options,
	}
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		item, err := c.Update(r.Context(), itemID, opts)
		return http.StatusOK, item, err
	})
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		if _, err := c.Get(r.Context(), itemID); err != nil {
			return 0, nil, err
		}
		content, err := c.Remove(r.Context(), itemID)
		return http.StatusOK, content, err
	})
}

// --- Conditions ---

// ListConditions handles GET /api/v1/cart/conditions
func (h *CartHandler) ListConditions(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		conds, err := c.Conditions(r.Context())
		return http.StatusOK, conds, err
	})
}

// ApplyConditions handles POST /api/v1/cart/conditions. The body is one condition or an array.
func (h *CartHandler) ApplyConditions(w http.ResponseWriter, r *http.Request) {
	var reqs []ConditionRequest
	if _, err := decodeOneOrMany(r, &reqs); err != nil {
		writeBadBody(w, err)
		return
	}
	if len(reqs) == 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "at least one condition is required"},
		})
		return
	}

	conds := make([]domain.CartCondition, 0, len(reqs))
	for _, req := range reqs {
		if err := validator.Validate(req); err != nil {
			httputil.WriteValidationError(w, err)
			return
		}
		conds = append(conds, req.toDomain())
	}

	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		content, err := c.ApplyMany(r.Context(), conds)
		return http.StatusOK, content, err
	})
}

// ClearConditions handles DELETE /api/v1/cart/conditions
func (h *CartHandler) ClearConditions(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		if err := c.ClearConditions(r.Context()); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]string{"status": "cleared"}, nil
	})
}

// GetCondition handles GET /api/v1/cart/conditions/{name}
func (h *CartHandler) GetCondition(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		cond, err := c.Condition(r.Context(), name)
		return http.StatusOK, cond, err
	})
}

// RemoveCondition handles DELETE /api/v1/cart/conditions/{name}
func (h *CartHandler) RemoveCondition(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		if err := c.RemoveCondition(r.Context(), name); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]string{"status": "removed"}, nil
	})
}

// --- Session data ---

// GetData handles GET /api/v1/cart/data/*. The wildcard is a dotted path; an
// empty path returns all data.
func (h *CartHandler) GetData(w http.ResponseWriter, r *http.Request) {
	path := dataPath(r)
	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		v, ok, err := c.Data(r.Context(), path)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, apperrors.NotFound("cart data", path)
		}
		return http.StatusOK, v, nil
	})
}

// PutData handles PUT /api/v1/cart/data/*. The body is the JSON value to store.
// With an empty path the body must be an object and replaces all data.
func (h *CartHandler) PutData(w http.ResponseWriter, r *http.Request) {
	path := dataPath(r)

	var value any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&value); err != nil {
		writeBadBody(w, err)
		return
	}

	h.withCart(w, r, func(c *service.Cart) (int, any, error) {
		if path == "" {
			data, ok := value.(map[string]any)
			if !ok {
				return 0, nil, apperrors.InvalidInput("data must be a JSON object")
			}
			if err := c.ReplaceData(r.Context(), data); err != nil {
				return 0, nil, err
			}
		} else if err := c.SetData(r.Context(), path, value); err != nil {
			return 0, nil, err
		}
		v, _, err := c.Data(r.Context(), path)
		return http.StatusOK, v, err
	})
}

// --- Helpers ---

// withCart runs fn against the request's session cart and writes its result.
func (h *CartHandler) withCart(w http.ResponseWriter, r *http.Request, fn func(*service.Cart) (int, any, error)) {
	session := middleware.SessionIDFromContext(r.Context())
	if session == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: SessionHeader + " header is required"},
		})
		return
	}

	var (
		status int
		data   any
	)
	err := h.carts.With(r.Context(), session, func(c *service.Cart) error {
		var err error
		status, data, err = fn(c)
		return err
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: data})
}

// decodeOneOrMany decodes a JSON object or array of objects into dst and
// reports whether the body was a single object.
func decodeOneOrMany[T any](r *http.Request, dst *[]T) (bool, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return false, err
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		return false, json.Unmarshal(body, dst)
	}
	var one T
	if err := json.Unmarshal(body, &one); err != nil {
		return true, err
	}
	*dst = []T{one}
	return true, nil
}

func dataPath(r *http.Request) string {
	return strings.Trim(strings.ReplaceAll(chi.URLParam(r, "*"), "/", "."), ".")
}

func writeBadBody(w http.ResponseWriter, err error) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
	})
}
