// Package coordinator serializes interactive mutations against the shared
// store. Every mutation follows the same skeleton: take the operation gate
// (refuse when busy), re-fetch the authoritative collection, splice the
// change into that fresh snapshot, write the whole collection back, and
// only then update the in-memory display state. The re-fetch is the one
// defense against writers in other processes; cached state is never used
// as a merge base.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"orderline/internal/config"
	"orderline/internal/domain"
	"orderline/internal/inventory"
	"orderline/internal/journal"
	"orderline/internal/metrics"
	"orderline/internal/normalize"
	"orderline/internal/oplock"
	"orderline/internal/resolve"
	"orderline/internal/store"
)

// ErrNotFound means the target order is absent from the fresh snapshot.
var ErrNotFound = errors.New("order not found")

// ValidationError rejects a mutation before any store or network call.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationErr(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type Coordinator struct {
	Store     store.Collections
	Gate      *oplock.Gate
	Config    *config.Config
	Inventory *inventory.Service
	Journal   journal.Writer
	Log       *slog.Logger
	Metrics   *metrics.Registry
	Now       func() time.Time

	mu      sync.Mutex
	current []domain.Order
}

// Result carries the mutated order plus a non-fatal warning, e.g. when the
// secondary inventory update failed after a successful primary write.
type Result struct {
	Order   domain.Order
	Warning string
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// Refresh re-reads the store and replaces the in-memory state. Never
// writes: duplicates stay in the store until a later save supersedes them.
func (c *Coordinator) Refresh(ctx context.Context) ([]domain.Order, error) {
	orders, err := c.Store.LoadOrders(ctx)
	if err != nil {
		return nil, err
	}
	c.setCurrent(orders)
	return c.View(), nil
}

// Current returns the raw in-memory collection, duplicates included.
func (c *Coordinator) Current() []domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Order, len(c.current))
	copy(out, c.current)
	return out
}

// View returns the resolved projection of the in-memory collection:
// normalized, one record per business key.
func (c *Coordinator) View() []domain.Order {
	return resolve.Resolve(normalize.Orders(c.Current()))
}

func (c *Coordinator) setCurrent(orders []domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = orders
}

// CreateOptions are the form fields for a manual order.
type CreateOptions struct {
	Company        string
	ContactName    string
	Phone          string
	Address        string
	City           string
	PostalCode     string
	ContractRef    string
	Product        string
	SerialNumber   string
	AgentID        string
	AgentName      string
	PhoneConfirmed bool
	ActorID        string
}

// Create inserts a manually created order at the front of the collection.
func (c *Coordinator) Create(ctx context.Context, opts CreateOptions) (domain.Order, error) {
	if normalize.Text(opts.Company) == "" {
		return domain.Order{}, validationErr("company name is required")
	}
	if opts.AgentID == "" {
		return domain.Order{}, validationErr("assigned agent is required")
	}
	release, err := c.acquire()
	if err != nil {
		return domain.Order{}, err
	}
	defer release()

	fresh, err := c.Store.LoadOrders(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	now := c.now().UTC().Format(time.RFC3339)
	o := normalize.Order(domain.Order{
		ID:              uuid.New().String(),
		ContractRef:     opts.ContractRef,
		Company:         opts.Company,
		ContactName:     opts.ContactName,
		Phone:           opts.Phone,
		Address:         opts.Address,
		City:            opts.City,
		PostalCode:      opts.PostalCode,
		AgentID:         opts.AgentID,
		AgentName:       opts.AgentName,
		Product:         opts.Product,
		SerialNumber:    opts.SerialNumber,
		PhoneConfirmed:  opts.PhoneConfirmed,
		ValidationState: domain.ValidationPending,
		ActivationState: domain.ActivationStudy,
		ManuallyCreated: true,
		CreatedAt:       now,
		ProcessedAt:     now,
	})
	snap := store.Snapshot{Orders: fresh}.WithPrepended(o)
	if err := c.save(ctx, snap, "order.create", opts.ActorID, journal.Payload{"id": o.ID}); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// UpdateOptions merge form fields into an existing order. Nil pointers
// leave the field untouched.
type UpdateOptions struct {
	ID             string
	Company        *string
	ContactName    *string
	Phone          *string
	Address        *string
	City           *string
	PostalCode     *string
	ContractRef    *string
	Product        *string
	SerialNumber   *string
	AgentID        *string
	AgentName      *string
	PhoneConfirmed *bool

	ValidationState  *string
	ValidationReason string
	ActivationState  *string
	ActivationReason string

	VerifiedSerial *string
	ActorID        string
}

// Update applies an interactive edit. A successful edit that newly sets
// the verified serial number triggers a best-effort inventory update; its
// failure is reported in Result.Warning and never rolls back the primary
// write.
func (c *Coordinator) Update(ctx context.Context, opts UpdateOptions) (Result, error) {
	if opts.ID == "" {
		return Result{}, validationErr("order id is required")
	}
	if opts.ValidationState != nil && *opts.ValidationState == domain.ValidationDeleted {
		return Result{}, validationErr("use delete to remove an order")
	}
	release, err := c.acquire()
	if err != nil {
		return Result{}, err
	}
	defer release()

	fresh, err := c.Store.LoadOrders(ctx)
	if err != nil {
		return Result{}, err
	}
	snap := store.Snapshot{Orders: fresh}
	idx := snap.ByID(opts.ID)
	if idx < 0 {
		return Result{}, ErrNotFound
	}
	o := snap.Orders[idx]
	serialWasVerified := o.VerifiedSerial != ""

	applyText(&o.Company, opts.Company)
	applyText(&o.ContactName, opts.ContactName)
	applyText(&o.Phone, opts.Phone)
	applyText(&o.Address, opts.Address)
	applyText(&o.City, opts.City)
	applyText(&o.PostalCode, opts.PostalCode)
	applyText(&o.ContractRef, opts.ContractRef)
	applyText(&o.Product, opts.Product)
	applyText(&o.SerialNumber, opts.SerialNumber)
	applyText(&o.VerifiedSerial, opts.VerifiedSerial)
	if opts.AgentID != nil {
		o.AgentID = *opts.AgentID
	}
	if opts.AgentName != nil {
		o.AgentName = normalize.Text(*opts.AgentName)
	}
	if opts.PhoneConfirmed != nil {
		o.PhoneConfirmed = *opts.PhoneConfirmed
	}

	nowStr := c.now().UTC().Format(time.RFC3339)
	if opts.ValidationState != nil && *opts.ValidationState != o.ValidationState {
		if err := c.applyValidationState(&o, *opts.ValidationState, opts.ValidationReason, nowStr); err != nil {
			return Result{}, err
		}
	}
	if opts.ActivationState != nil && *opts.ActivationState != o.ActivationState {
		if err := c.applyActivationState(&o, *opts.ActivationState, opts.ActivationReason, nowStr); err != nil {
			return Result{}, err
		}
	}
	o.LastEditedAt = &nowStr
	o.ProcessedAt = nowStr

	if err := c.save(ctx, snap.WithReplaced(idx, o), "order.update", opts.ActorID, journal.Payload{"id": o.ID}); err != nil {
		return Result{}, err
	}

	res := Result{Order: o}
	if !serialWasVerified && o.VerifiedSerial != "" && c.Inventory != nil {
		if err := c.Inventory.MarkInstalled(ctx, o.VerifiedSerial, o.ID); err != nil {
			res.Warning = fmt.Sprintf("order saved, but inventory update failed: %v", err)
			c.log().Warn("inventory update failed", "order_id", o.ID, "serial", o.VerifiedSerial, "error", err)
		}
	}
	return res, nil
}

// SoftDelete marks an order deleted. The record stays in the collection
// and can be restored; imports never resurrect or re-add it.
func (c *Coordinator) SoftDelete(ctx context.Context, id, actorID string) (domain.Order, error) {
	return c.flipValidation(ctx, id, actorID, "order.delete", func(o *domain.Order, now string) error {
		if o.Deleted() {
			return validationErr("order already deleted")
		}
		o.ValidationState = domain.ValidationDeleted
		return nil
	})
}

// Restore moves a soft-deleted order back to pending.
func (c *Coordinator) Restore(ctx context.Context, id, actorID string) (domain.Order, error) {
	return c.flipValidation(ctx, id, actorID, "order.restore", func(o *domain.Order, now string) error {
		if !o.Deleted() {
			return validationErr("order is not deleted")
		}
		o.ValidationState = domain.ValidationPending
		return nil
	})
}

func (c *Coordinator) flipValidation(ctx context.Context, id, actorID, op string, mutate func(o *domain.Order, now string) error) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, validationErr("order id is required")
	}
	release, err := c.acquire()
	if err != nil {
		return domain.Order{}, err
	}
	defer release()

	fresh, err := c.Store.LoadOrders(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap := store.Snapshot{Orders: fresh}
	idx := snap.ByID(id)
	if idx < 0 {
		return domain.Order{}, ErrNotFound
	}
	o := snap.Orders[idx]
	now := c.now().UTC().Format(time.RFC3339)
	if err := mutate(&o, now); err != nil {
		return domain.Order{}, err
	}
	// Only the state and the edit stamp change; everything else survives
	// the delete/restore round trip untouched.
	o.LastEditedAt = &now
	if err := c.save(ctx, snap.WithReplaced(idx, o), op, actorID, journal.Payload{"id": o.ID}); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (c *Coordinator) applyValidationState(o *domain.Order, state, reason, now string) error {
	if err := ensureValidationTransition(o.ValidationState, state); err != nil {
		return err
	}
	switch state {
	case domain.ValidationBlocked, domain.ValidationCanceled:
		if reason == "" {
			return validationErr("reason code required for validation state %s", state)
		}
		if c.Config != nil && !c.Config.ValidationReasonAllowed(state, reason) {
			return validationErr("reason code %q not allowed for validation state %s", reason, state)
		}
		o.ValidationReason = reason
	case domain.ValidationValidated:
		if o.ValidatedAt == nil {
			o.ValidatedAt = &now
		}
	}
	o.ValidationState = state
	return nil
}

func (c *Coordinator) applyActivationState(o *domain.Order, state, reason, now string) error {
	if err := ensureActivationTransition(o.ActivationState, state); err != nil {
		return err
	}
	switch state {
	case domain.ActivationBlocked, domain.ActivationCanceled:
		if reason == "" {
			return validationErr("reason code required for activation state %s", state)
		}
		if c.Config != nil && !c.Config.ActivationReasonAllowed(state, reason) {
			return validationErr("reason code %q not allowed for activation state %s", reason, state)
		}
		o.ActivationReason = reason
	}
	o.ActivationState = state
	o.ActivatedAt = &now
	return nil
}

func (c *Coordinator) acquire() (func(), error) {
	release, err := c.Gate.TryAcquire()
	if err != nil {
		if c.Metrics != nil {
			c.Metrics.BusyRejectedTotal.Inc()
		}
		return nil, err
	}
	return release, nil
}

// save writes the spliced snapshot back and, only on success, adopts it as
// the in-memory display state. A failed write leaves the display state
// untouched; the caller surfaces the failure and the user retries.
func (c *Coordinator) save(ctx context.Context, snap store.Snapshot, op, actorID string, payload journal.Payload) error {
	if err := c.Store.SaveOrders(ctx, snap.Orders); err != nil {
		if c.Metrics != nil {
			c.Metrics.SaveFailuresTotal.Inc()
		}
		return err
	}
	c.setCurrent(snap.Orders)
	if c.Metrics != nil {
		c.Metrics.SavesTotal.Inc()
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := c.Journal.Append(ctx, op, c.Store.Orders, actorID, payload); err != nil {
		c.log().Warn("journal append failed", "op", op, "error", err)
	}
	return nil
}

func applyText(dst *string, src *string) {
	if src != nil {
		*dst = normalize.Text(*src)
	}
}

func ensureValidationTransition(oldState, newState string) error {
	if oldState == "" {
		oldState = domain.ValidationPending
	}
	switch oldState {
	case domain.ValidationPending:
		switch newState {
		case domain.ValidationValidated, domain.ValidationBlocked, domain.ValidationCanceled, domain.ValidationDeleted:
			return nil
		}
	case domain.ValidationDeleted:
		// Restore is the only way out of deleted, and the only two-way edge
		// in the machine. Validated, blocked and canceled are terminal.
		if newState == domain.ValidationPending {
			return nil
		}
	}
	return fmt.Errorf("invalid validation transition %s -> %s", oldState, newState)
}

func ensureActivationTransition(oldState, newState string) error {
	if oldState == "" {
		oldState = domain.ActivationStudy
	}
	switch oldState {
	case domain.ActivationStudy:
		switch newState {
		case domain.ActivationToProcess, domain.ActivationBlocked, domain.ActivationCanceled:
			return nil
		}
	case domain.ActivationToProcess:
		switch newState {
		case domain.ActivationInProgress, domain.ActivationBlocked, domain.ActivationCanceled:
			return nil
		}
	case domain.ActivationInProgress:
		switch newState {
		case domain.ActivationInstalled, domain.ActivationBlocked, domain.ActivationCanceled:
			return nil
		}
	case domain.ActivationInstalled:
		if newState == domain.ActivationBilled {
			return nil
		}
	case domain.ActivationBlocked:
		switch newState {
		case domain.ActivationInProgress, domain.ActivationCanceled:
			return nil
		}
	}
	return fmt.Errorf("invalid activation transition %s -> %s", oldState, newState)
}
