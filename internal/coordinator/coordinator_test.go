package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"orderline/internal/config"
	"orderline/internal/coordinator"
	"orderline/internal/domain"
	"orderline/internal/inventory"
	"orderline/internal/oplock"
	"orderline/internal/store"
)

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func newCoordinator(t *testing.T, s store.Store) *coordinator.Coordinator {
	t.Helper()
	collections := store.NewCollections(s)
	return &coordinator.Coordinator{
		Store:     collections,
		Gate:      oplock.New(),
		Config:    config.Default(),
		Inventory: &inventory.Service{Store: collections, Now: fixedNow},
		Now:       fixedNow,
	}
}

func mustCreate(t *testing.T, c *coordinator.Coordinator, opts coordinator.CreateOptions) domain.Order {
	t.Helper()
	if opts.Company == "" {
		opts.Company = "Acme"
	}
	if opts.AgentID == "" {
		opts.AgentID = "agent-1"
	}
	o, err := c.Create(context.Background(), opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

type countingStore struct {
	inner store.Store
	calls int
}

func (s *countingStore) Fetch(ctx context.Context, collection string) ([]byte, error) {
	s.calls++
	return s.inner.Fetch(ctx, collection)
}

func (s *countingStore) Replace(ctx context.Context, collection string, doc []byte) error {
	s.calls++
	return s.inner.Replace(ctx, collection, doc)
}

type failWriteStore struct {
	inner store.Store
}

func (s *failWriteStore) Fetch(ctx context.Context, collection string) ([]byte, error) {
	return s.inner.Fetch(ctx, collection)
}

func (s *failWriteStore) Replace(ctx context.Context, collection string, doc []byte) error {
	return fmt.Errorf("write refused")
}

func TestCreateValidatesBeforeAnyStoreCall(t *testing.T) {
	cs := &countingStore{inner: store.NewMem()}
	c := newCoordinator(t, cs)
	_, err := c.Create(context.Background(), coordinator.CreateOptions{AgentID: "agent-1"})
	var ve coordinator.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	_, err = c.Create(context.Background(), coordinator.CreateOptions{Company: "Acme"})
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if cs.calls != 0 {
		t.Fatalf("store touched %d times before validation", cs.calls)
	}
}

func TestBusyRejectionTouchesNothing(t *testing.T) {
	cs := &countingStore{inner: store.NewMem()}
	c := newCoordinator(t, cs)
	release, err := c.Gate.TryAcquire()
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	_, err = c.Create(context.Background(), coordinator.CreateOptions{Company: "Acme", AgentID: "agent-1"})
	if !errors.Is(err, oplock.ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
	if cs.calls != 0 {
		t.Fatalf("store touched %d times while busy", cs.calls)
	}
}

func TestCreatePrependsManualRecord(t *testing.T) {
	mem := store.NewMem()
	c := newCoordinator(t, mem)
	mustCreate(t, c, coordinator.CreateOptions{Company: "First Co"})
	o := mustCreate(t, c, coordinator.CreateOptions{Company: "  Second   Co "})

	orders, err := store.NewCollections(mem).LoadOrders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(orders))
	}
	if orders[0].ID != o.ID {
		t.Error("newest manual record should be first")
	}
	if orders[0].Company != "Second Co" {
		t.Errorf("company not normalized: %q", orders[0].Company)
	}
	if !orders[0].ManuallyCreated {
		t.Error("manual flag missing")
	}
	if orders[0].ValidationState != domain.ValidationPending || orders[0].ActivationState != domain.ActivationStudy {
		t.Errorf("lifecycle = %s/%s", orders[0].ValidationState, orders[0].ActivationState)
	}
}

func TestUpdateMergesOnlyProvidedFields(t *testing.T) {
	mem := store.NewMem()
	c := newCoordinator(t, mem)
	o := mustCreate(t, c, coordinator.CreateOptions{Company: "Acme", Phone: "0101"})

	city := " Lyon "
	res, err := c.Update(context.Background(), coordinator.UpdateOptions{ID: o.ID, City: &city})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Order.City != "Lyon" {
		t.Errorf("city = %q", res.Order.City)
	}
	if res.Order.Company != "Acme" || res.Order.Phone != "0101" {
		t.Errorf("untouched fields changed: %+v", res.Order)
	}
	if res.Order.LastEditedAt == nil {
		t.Error("edit stamp missing")
	}
}

func TestUpdateRejectsDeletedState(t *testing.T) {
	c := newCoordinator(t, store.NewMem())
	o := mustCreate(t, c, coordinator.CreateOptions{})
	deleted := domain.ValidationDeleted
	_, err := c.Update(context.Background(), coordinator.UpdateOptions{ID: o.ID, ValidationState: &deleted})
	var ve coordinator.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestUpdateUnknownID(t *testing.T) {
	c := newCoordinator(t, store.NewMem())
	_, err := c.Update(context.Background(), coordinator.UpdateOptions{ID: "nope"})
	if !errors.Is(err, coordinator.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, store.NewMem())
	o := mustCreate(t, c, coordinator.CreateOptions{Company: "Acme", Phone: "0101", ContractRef: "CT-9"})

	deleted, err := c.SoftDelete(ctx, o.ID, "tester")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.Deleted() {
		t.Fatal("record not marked deleted")
	}

	restored, err := c.Restore(ctx, o.ID, "tester")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ValidationState != domain.ValidationPending {
		t.Errorf("validation = %s, want pending", restored.ValidationState)
	}
	// Everything except the state and edit stamp survives the round trip.
	if restored.Company != o.Company || restored.Phone != o.Phone || restored.ContractRef != o.ContractRef {
		t.Errorf("fields changed across delete/restore: %+v", restored)
	}
	if restored.CreatedAt != o.CreatedAt || restored.ProcessedAt != o.ProcessedAt {
		t.Errorf("timestamps changed across delete/restore")
	}

	if _, err := c.Restore(ctx, o.ID, "tester"); err == nil {
		t.Fatal("restoring a non-deleted order should fail")
	}
	if _, err = c.SoftDelete(ctx, o.ID, "tester"); err != nil {
		t.Fatalf("re-delete: %v", err)
	}
}

func TestValidationTransitions(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, store.NewMem())
	o := mustCreate(t, c, coordinator.CreateOptions{})

	validated := domain.ValidationValidated
	res, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ValidationState: &validated})
	if err != nil {
		t.Fatalf("to validated: %v", err)
	}
	if res.Order.ValidatedAt == nil {
		t.Error("validated timestamp missing")
	}

	// validated is terminal
	pending := domain.ValidationPending
	_, err = c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ValidationState: &pending})
	if err == nil || !strings.Contains(err.Error(), "transition") {
		t.Fatalf("got %v, want transition error", err)
	}
}

func TestBlockedRequiresReasonFromVocabulary(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, store.NewMem())
	o := mustCreate(t, c, coordinator.CreateOptions{})

	blocked := domain.ValidationBlocked
	_, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ValidationState: &blocked})
	var ve coordinator.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("blocked without reason: got %v, want ValidationError", err)
	}
	_, err = c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ValidationState: &blocked, ValidationReason: "not_a_code"})
	if !errors.As(err, &ve) {
		t.Fatalf("blocked with unknown reason: got %v, want ValidationError", err)
	}
	res, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ValidationState: &blocked, ValidationReason: "missing_documents"})
	if err != nil {
		t.Fatalf("blocked with valid reason: %v", err)
	}
	if res.Order.ValidationReason != "missing_documents" {
		t.Errorf("reason = %q", res.Order.ValidationReason)
	}
}

func TestActivationProgression(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, store.NewMem())
	o := mustCreate(t, c, coordinator.CreateOptions{})

	for _, state := range []string{
		domain.ActivationToProcess,
		domain.ActivationInProgress,
		domain.ActivationInstalled,
		domain.ActivationBilled,
	} {
		state := state
		if _, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ActivationState: &state}); err != nil {
			t.Fatalf("to %s: %v", state, err)
		}
	}
	// billed is terminal
	study := domain.ActivationStudy
	if _, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ActivationState: &study}); err == nil {
		t.Fatal("expected transition error from billed")
	}
}

func TestVerifiedSerialUpdatesInventory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMem()
	c := newCoordinator(t, mem)
	collections := store.NewCollections(mem)
	if err := collections.SaveInventory(ctx, []domain.InventoryItem{
		{ID: "it-1", SerialNumber: "SN-42", Status: domain.ItemInStock},
	}); err != nil {
		t.Fatal(err)
	}
	o := mustCreate(t, c, coordinator.CreateOptions{})

	serial := "SN-42"
	res, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, VerifiedSerial: &serial})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	items, err := collections.LoadInventory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Status != domain.ItemInstalled || items[0].OrderID != o.ID {
		t.Fatalf("inventory not updated: %+v", items[0])
	}
}

func TestInventoryFailureIsWarningNotError(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, store.NewMem())
	o := mustCreate(t, c, coordinator.CreateOptions{})

	serial := "SN-UNKNOWN"
	res, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, VerifiedSerial: &serial})
	if err != nil {
		t.Fatalf("update must succeed despite inventory failure: %v", err)
	}
	if res.Warning == "" {
		t.Fatal("expected inventory warning")
	}
	if res.Order.VerifiedSerial != "SN-UNKNOWN" {
		t.Errorf("primary write lost: %+v", res.Order)
	}
}

func TestFailedWriteKeepsDisplayState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMem()
	good := newCoordinator(t, mem)
	o := mustCreate(t, good, coordinator.CreateOptions{Company: "Acme"})

	bad := newCoordinator(t, &failWriteStore{inner: mem})
	if _, err := bad.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	city := "Paris"
	_, err := bad.Update(ctx, coordinator.UpdateOptions{ID: o.ID, City: &city})
	if !errors.Is(err, store.ErrWrite) {
		t.Fatalf("got %v, want ErrWrite", err)
	}
	for _, cur := range bad.Current() {
		if cur.City == "Paris" {
			t.Fatal("display state adopted a write that never landed")
		}
	}
}

func TestConcurrentAppendSurvivesEdit(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMem()
	c := newCoordinator(t, mem)
	o := mustCreate(t, c, coordinator.CreateOptions{Company: "Acme"})

	// Another process appends directly to the store.
	collections := store.NewCollections(mem)
	orders, err := collections.LoadOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	orders = append(orders, domain.Order{ID: "other", ContractRef: "CT-X"})
	if err := collections.SaveOrders(ctx, orders); err != nil {
		t.Fatal(err)
	}

	city := "Paris"
	if _, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, City: &city}); err != nil {
		t.Fatalf("update: %v", err)
	}
	final, err := collections.LoadOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(final) != 2 {
		t.Fatalf("got %d orders, want 2 (concurrent append lost)", len(final))
	}
}

func TestViewResolvesDuplicatesWithoutWriting(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMem()
	c := newCoordinator(t, mem)
	collections := store.NewCollections(mem)
	if err := collections.SaveOrders(ctx, []domain.Order{
		{ID: "dup-1", ContractRef: "CT-1", ProcessedAt: "2024-01-01T00:00:00Z"},
		{ID: "dup-2", ContractRef: "CT-1", ManuallyCreated: true},
	}); err != nil {
		t.Fatal(err)
	}
	resolved, err := c.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0].ID != "dup-2" {
		t.Fatalf("resolved view wrong: %+v", resolved)
	}
	// The store still holds both records.
	raw, err := collections.LoadOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 2 {
		t.Fatalf("store rewritten during read: %d records", len(raw))
	}
}

func TestBlockedValidationIsTerminal(t *testing.T) {
	ctx := context.Background()

	for _, target := range []string{
		domain.ValidationPending,
		domain.ValidationValidated,
		domain.ValidationCanceled,
		domain.ValidationDeleted,
	} {
		c := newCoordinator(t, store.NewMem())
		o := mustCreate(t, c, coordinator.CreateOptions{})
		blocked := domain.ValidationBlocked
		if _, err := c.Update(ctx, coordinator.UpdateOptions{
			ID:               o.ID,
			ValidationState:  &blocked,
			ValidationReason: "missing_documents",
		}); err != nil {
			t.Fatalf("block: %v", err)
		}

		st := target
		_, err := c.Update(ctx, coordinator.UpdateOptions{
			ID:               o.ID,
			ValidationState:  &st,
			ValidationReason: "missing_documents",
		})
		if err == nil || !strings.Contains(err.Error(), "transition") {
			t.Errorf("blocked -> %s: got %v, want transition error", target, err)
		}
	}

	// Soft delete is its own operation, not an edge of the edit machine;
	// a blocked order can still be put away and brought back.
	c := newCoordinator(t, store.NewMem())
	o := mustCreate(t, c, coordinator.CreateOptions{})
	blocked := domain.ValidationBlocked
	if _, err := c.Update(ctx, coordinator.UpdateOptions{
		ID:               o.ID,
		ValidationState:  &blocked,
		ValidationReason: "missing_documents",
	}); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := c.SoftDelete(ctx, o.ID, ""); err != nil {
		t.Fatalf("soft delete of blocked order: %v", err)
	}
}

func TestReasonRequiredWithoutVocabulary(t *testing.T) {
	ctx := context.Background()
	collections := store.NewCollections(store.NewMem())
	c := &coordinator.Coordinator{
		Store:     collections,
		Gate:      oplock.New(),
		Inventory: &inventory.Service{Store: collections, Now: fixedNow},
		Now:       fixedNow,
	}
	o := mustCreate(t, c, coordinator.CreateOptions{})

	var ve coordinator.ValidationError
	blocked := domain.ValidationBlocked
	_, err := c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ValidationState: &blocked})
	if !errors.As(err, &ve) {
		t.Fatalf("blocked without reason: got %v, want ValidationError", err)
	}

	actBlocked := domain.ActivationBlocked
	_, err = c.Update(ctx, coordinator.UpdateOptions{ID: o.ID, ActivationState: &actBlocked})
	if !errors.As(err, &ve) {
		t.Fatalf("activation blocked without reason: got %v, want ValidationError", err)
	}

	// With no configured vocabulary any non-empty code is accepted.
	got, err := c.Update(ctx, coordinator.UpdateOptions{
		ID:               o.ID,
		ValidationState:  &blocked,
		ValidationReason: "free_form",
	})
	if err != nil {
		t.Fatalf("blocked with reason: %v", err)
	}
	if got.Order.ValidationReason != "free_form" {
		t.Fatalf("reason = %q, want free_form", got.Order.ValidationReason)
	}
}
