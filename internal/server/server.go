package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"orderline/internal/coordinator"
	"orderline/internal/domain"
	"orderline/internal/importer"
	"orderline/internal/inventory"
	"orderline/internal/metrics"
	"orderline/internal/oplock"
	"orderline/internal/store"
	"orderline/internal/upstream"
	"orderline/internal/view"
)

// Config for the HTTP API handler.
type Config struct {
	Coordinator *coordinator.Coordinator
	Importer    *importer.Importer
	Inventory   *inventory.Service
	Metrics     *metrics.Registry
	BasePath    string
	Auth        AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"busy"`
	Message string         `json:"message" example:"operation already in progress"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Orderline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Orderline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerOrders(group, cfg.Coordinator)
	registerSync(group, cfg.Importer)
	registerStats(group, cfg.Coordinator)
	registerInventory(group, cfg.Inventory)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve coordinator.ValidationError
	var upErr *upstream.APIError
	switch {
	case errors.Is(err, oplock.ErrBusy):
		return newAPIError(http.StatusConflict, "busy", err.Error(), nil)
	case errors.Is(err, coordinator.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, store.ErrRead), errors.Is(err, store.ErrWrite):
		return newAPIError(http.StatusBadGateway, "store_unavailable", err.Error(), nil)
	case errors.As(err, &upErr):
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), nil)
	case strings.Contains(err.Error(), "transition"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// CreateOrderRequest is the manual order form.
type CreateOrderRequest struct {
	Company        string `json:"company"`
	ContactName    string `json:"contact_name,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
	City           string `json:"city,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
	ContractRef    string `json:"contract_ref,omitempty"`
	Product        string `json:"product,omitempty"`
	SerialNumber   string `json:"serial_number,omitempty"`
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name,omitempty"`
	PhoneConfirmed bool   `json:"phone_confirmed,omitempty"`
}

// UpdateOrderRequest carries the editable fields; omitted fields stay
// untouched.
type UpdateOrderRequest struct {
	Company        *string `json:"company,omitempty"`
	ContactName    *string `json:"contact_name,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Address        *string `json:"address,omitempty"`
	City           *string `json:"city,omitempty"`
	PostalCode     *string `json:"postal_code,omitempty"`
	ContractRef    *string `json:"contract_ref,omitempty"`
	Product        *string `json:"product,omitempty"`
	SerialNumber   *string `json:"serial_number,omitempty"`
	AgentID        *string `json:"agent_id,omitempty"`
	AgentName      *string `json:"agent_name,omitempty"`
	PhoneConfirmed *bool   `json:"phone_confirmed,omitempty"`

	ValidationState  *string `json:"validation_state,omitempty" enum:"pending,validated,blocked,canceled"`
	ValidationReason string  `json:"validation_reason,omitempty"`
	ActivationState  *string `json:"activation_state,omitempty" enum:"study,to_process,in_progress,installed,billed,blocked,canceled"`
	ActivationReason string  `json:"activation_reason,omitempty"`

	VerifiedSerial *string `json:"verified_serial,omitempty"`
}

// OrderResult wraps a mutated order with an optional non-fatal warning.
type OrderResult struct {
	Order   domain.Order `json:"order"`
	Warning string       `json:"warning,omitempty"`
}

func registerOrders(api huma.API, coord *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders (resolved view)",
	}, func(ctx context.Context, input *struct {
		ValidationStates string `query:"validation_states" doc:"comma-separated validation states"`
		ActivationStates string `query:"activation_states" doc:"comma-separated activation states"`
		From             string `query:"from" doc:"RFC3339 lower bound on creation"`
		To               string `query:"to" doc:"RFC3339 upper bound on creation"`
		Query            string `query:"q" doc:"free-text search over normalized fields"`
		IncludeDeleted   bool   `query:"include_deleted"`
	}) (*struct {
		Body []domain.Order `json:"body"`
	}, error) {
		resolved, err := coord.Refresh(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		filter := view.Filter{
			ValidationStates: splitCSV(input.ValidationStates),
			ActivationStates: splitCSV(input.ActivationStates),
			Query:            input.Query,
			IncludeDeleted:   input.IncludeDeleted,
		}
		if input.From != "" {
			t, err := time.Parse(time.RFC3339, input.From)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid from timestamp", nil)
			}
			filter.From = t
		}
		if input.To != "" {
			t, err := time.Parse(time.RFC3339, input.To)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid to timestamp", nil)
			}
			filter.To = t
		}
		return &struct {
			Body []domain.Order `json:"body"`
		}{Body: view.Apply(resolved, filter)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Get one order from the resolved view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		resolved, err := coord.Refresh(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		for _, o := range resolved {
			if o.ID == input.OrderID {
				return &struct {
					Body domain.Order `json:"body"`
				}{Body: o}, nil
			}
		}
		return nil, handleError(coordinator.ErrNotFound)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create a manual order",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		o, err := coord.Create(ctx, coordinator.CreateOptions{
			Company:        input.Body.Company,
			ContactName:    input.Body.ContactName,
			Phone:          input.Body.Phone,
			Address:        input.Body.Address,
			City:           input.Body.City,
			PostalCode:     input.Body.PostalCode,
			ContractRef:    input.Body.ContractRef,
			Product:        input.Body.Product,
			SerialNumber:   input.Body.SerialNumber,
			AgentID:        input.Body.AgentID,
			AgentName:      input.Body.AgentName,
			PhoneConfirmed: input.Body.PhoneConfirmed,
			ActorID:        actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order",
		Method:      http.MethodPatch,
		Path:        "/orders/{order_id}",
		Summary:     "Edit an order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		OrderID string             `path:"order_id"`
		Body    UpdateOrderRequest `json:"body"`
	}) (*struct {
		Body OrderResult `json:"body"`
	}, error) {
		res, err := coord.Update(ctx, coordinator.UpdateOptions{
			ID:               input.OrderID,
			Company:          input.Body.Company,
			ContactName:      input.Body.ContactName,
			Phone:            input.Body.Phone,
			Address:          input.Body.Address,
			City:             input.Body.City,
			PostalCode:       input.Body.PostalCode,
			ContractRef:      input.Body.ContractRef,
			Product:          input.Body.Product,
			SerialNumber:     input.Body.SerialNumber,
			AgentID:          input.Body.AgentID,
			AgentName:        input.Body.AgentName,
			PhoneConfirmed:   input.Body.PhoneConfirmed,
			ValidationState:  input.Body.ValidationState,
			ValidationReason: input.Body.ValidationReason,
			ActivationState:  input.Body.ActivationState,
			ActivationReason: input.Body.ActivationReason,
			VerifiedSerial:   input.Body.VerifiedSerial,
			ActorID:          actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResult `json:"body"`
		}{Body: OrderResult{Order: res.Order, Warning: res.Warning}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-order",
		Method:      http.MethodDelete,
		Path:        "/orders/{order_id}",
		Summary:     "Soft-delete an order",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		o, err := coord.SoftDelete(ctx, input.OrderID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-order",
		Method:      http.MethodPost,
		Path:        "/orders/{order_id}/restore",
		Summary:     "Restore a soft-deleted order",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		o, err := coord.Restore(ctx, input.OrderID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})
}

func registerSync(api huma.API, imp *importer.Importer) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-orders",
		Method:      http.MethodPost,
		Path:        "/sync",
		Summary:     "Run an incremental import from the upstream system",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body importer.Result `json:"body"`
	}, error) {
		if imp == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "upstream not configured", nil)
		}
		res, err := imp.Sync(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body importer.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerStats(api huma.API, coord *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "order-stats",
		Method:      http.MethodGet,
		Path:        "/orders/stats",
		Summary:     "Aggregate counts over the resolved view",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]map[string]int `json:"body"`
	}, error) {
		resolved, err := coord.Refresh(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]map[string]int `json:"body"`
		}{Body: map[string]map[string]int{
			"by_activation": view.CountByActivation(resolved),
			"by_month":      view.CountByMonth(resolved),
		}}, nil
	})
}

func registerInventory(api huma.API, inv *inventory.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-inventory",
		Method:      http.MethodGet,
		Path:        "/inventory",
		Summary:     "List inventory items",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.InventoryItem `json:"body"`
	}, error) {
		if inv == nil {
			return &struct {
				Body []domain.InventoryItem `json:"body"`
			}{Body: []domain.InventoryItem{}}, nil
		}
		items, err := inv.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.InventoryItem{}
		}
		return &struct {
			Body []domain.InventoryItem `json:"body"`
		}{Body: items}, nil
	})
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
