// Package importer reconciles the external system of record against the
// shared store. It only ever adds records: a local record that vanished
// from the upstream listing is reported but never deleted or marked
// orphaned, because false orphan detection has destroyed data before.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"orderline/internal/domain"
	"orderline/internal/journal"
	"orderline/internal/metrics"
	"orderline/internal/normalize"
	"orderline/internal/oplock"
	"orderline/internal/store"
	"orderline/internal/upstream"
)

const (
	defaultMaxPages   = 50
	defaultBatchSize  = 5
	defaultBatchPause = 500 * time.Millisecond
)

// Importer pulls missing orders from upstream into the store.
type Importer struct {
	Store    store.Collections
	Upstream *upstream.Client
	Gate     *oplock.Gate
	Journal  journal.Writer
	Log      *slog.Logger
	Metrics  *metrics.Registry
	Now      func() time.Time

	// MaxPages bounds pagination against a misbehaving upstream.
	MaxPages int
	// BatchSize is the number of concurrent detail fetches per batch.
	BatchSize int
	// BatchPause is the politeness delay between detail batches.
	BatchPause time.Duration
}

// Result summarizes one sync run.
type Result struct {
	Added int `json:"added"`
	// SkippedFetches counts detail fetches that failed and were skipped.
	SkippedFetches int `json:"skipped_fetches"`
	// MissingUpstream lists local keys absent from the upstream listing.
	// Reported only; the importer never acts on them.
	MissingUpstream []string `json:"missing_upstream,omitempty"`
}

func (imp *Importer) now() time.Time {
	if imp.Now != nil {
		return imp.Now()
	}
	return time.Now()
}

func (imp *Importer) log() *slog.Logger {
	if imp.Log != nil {
		return imp.Log
	}
	return slog.Default()
}

func (imp *Importer) maxPages() int {
	if imp.MaxPages > 0 {
		return imp.MaxPages
	}
	return defaultMaxPages
}

func (imp *Importer) batchSize() int {
	if imp.BatchSize > 0 {
		return imp.BatchSize
	}
	return defaultBatchSize
}

func (imp *Importer) batchPause() time.Duration {
	if imp.BatchPause > 0 {
		return imp.BatchPause
	}
	return defaultBatchPause
}

// Sync runs one incremental import. It fails fast with oplock.ErrBusy when
// another operation holds the gate. Individual detail-fetch failures are
// skipped; listing or store failures abort the run. The store is re-read
// immediately before the final write so records added by concurrent
// writers during the (possibly long) fetch phase are neither lost nor
// duplicated.
func (imp *Importer) Sync(ctx context.Context) (Result, error) {
	release, err := imp.Gate.TryAcquire()
	if err != nil {
		if imp.Metrics != nil {
			imp.Metrics.BusyRejectedTotal.Inc()
		}
		return Result{}, err
	}
	defer release()

	res, err := imp.sync(ctx)
	if err != nil {
		imp.log().Error("sync failed", "error", err)
		return res, err
	}
	if imp.Metrics != nil {
		imp.Metrics.SyncsTotal.Inc()
		imp.Metrics.ImportedTotal.Add(float64(res.Added))
		imp.Metrics.ImportSkippedTotal.Add(float64(res.SkippedFetches))
		imp.Metrics.LastSyncUnix.Set(float64(imp.now().Unix()))
	}
	if err := imp.Journal.Append(ctx, "sync", imp.Store.Orders, "importer", journal.Payload{
		"added":   res.Added,
		"skipped": res.SkippedFetches,
	}); err != nil {
		imp.log().Warn("journal append failed", "error", err)
	}
	return res, nil
}

func (imp *Importer) sync(ctx context.Context) (Result, error) {
	// First read: census of known business keys, soft-deleted included.
	local, err := imp.Store.LoadOrders(ctx)
	if err != nil {
		return Result{}, err
	}
	snap := store.Snapshot{Orders: local}
	known := snap.Keys()
	manual := snap.ManualKeys()

	listing, err := imp.listAll(ctx)
	if err != nil {
		return Result{}, err
	}

	upstreamKeys := map[string]bool{}
	var missing []upstream.ListingEntry
	for _, entry := range listing {
		key := normalize.Ref(entry.ContractRef)
		if key == "" {
			continue
		}
		upstreamKeys[key] = true
		if known[key] || manual[key] {
			continue
		}
		missing = append(missing, entry)
	}

	result := Result{MissingUpstream: missingLocally(known, manual, upstreamKeys)}
	if len(missing) == 0 {
		imp.log().Info("sync: nothing new", "listed", len(listing))
		return result, nil
	}

	details, skipped := imp.fetchDetails(ctx, missing)
	result.SkippedFetches = skipped

	transformed := make([]domain.Order, 0, len(details))
	for _, d := range details {
		transformed = append(transformed, imp.transform(ctx, d))
	}

	// Second read, mandatory: the fetch phase may have taken tens of
	// seconds and another writer may have created one of these contracts
	// in the meantime (a manual entry racing the same order).
	fresh, err := imp.Store.LoadOrders(ctx)
	if err != nil {
		return result, err
	}
	freshKeys := (store.Snapshot{Orders: fresh}).Keys()

	var trulyNew []domain.Order
	for _, o := range transformed {
		key := normalize.Ref(o.ContractRef)
		if key != "" && freshKeys[key] {
			continue
		}
		trulyNew = append(trulyNew, o)
	}
	if len(trulyNew) == 0 {
		return result, nil
	}

	merged := append(append([]domain.Order{}, fresh...), trulyNew...)
	if err := imp.Store.SaveOrders(ctx, merged); err != nil {
		return result, err
	}
	result.Added = len(trulyNew)
	imp.log().Info("sync complete", "added", result.Added, "skipped", result.SkippedFetches)
	return result, nil
}

// listAll pages through the listing endpoint until a short page or the
// page ceiling.
func (imp *Importer) listAll(ctx context.Context) ([]upstream.ListingEntry, error) {
	var all []upstream.ListingEntry
	for page := 1; page <= imp.maxPages(); page++ {
		entries, err := imp.Upstream.ListOrders(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("list orders page %d: %w", page, err)
		}
		all = append(all, entries...)
		if len(entries) < imp.Upstream.PageSize {
			return all, nil
		}
	}
	imp.log().Warn("sync: page ceiling reached", "pages", imp.maxPages())
	return all, nil
}

// fetchDetails pulls full records in fixed-size concurrent batches with a
// pause between batches. A failed fetch skips that record only.
func (imp *Importer) fetchDetails(ctx context.Context, entries []upstream.ListingEntry) ([]upstream.OrderDetail, int) {
	limiter := rate.NewLimiter(rate.Every(imp.batchPause()), 1)
	batchSize := imp.batchSize()

	var (
		mu      sync.Mutex
		details []upstream.OrderDetail
		skipped int
	)
	for start := 0; start < len(entries); start += batchSize {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, entry := range entries[start:end] {
			entry := entry
			g.Go(func() error {
				d, err := imp.Upstream.OrderDetail(gctx, entry.ID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					skipped++
					imp.log().Warn("detail fetch failed, skipping", "id", entry.ID, "error", err)
					return nil
				}
				details = append(details, d)
				return nil
			})
		}
		_ = g.Wait()
	}
	return details, skipped
}

// transform maps an upstream record into the local schema with a fresh
// local id, default lifecycle, and import provenance. Auxiliary lookups
// are best-effort: a failed lookup leaves the field empty rather than
// dropping the record.
func (imp *Importer) transform(ctx context.Context, d upstream.OrderDetail) domain.Order {
	now := imp.now().UTC().Format(time.RFC3339)
	o := domain.Order{
		ID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte("order|"+d.ID)).String(),
		ContractRef:     d.ContractRef,
		ExternalRef:     d.Ref,
		ExternalID:      d.ID,
		AccountRef:      d.AccountRef,
		AgentID:         d.ActorID,
		Product:         d.ProductCode,
		ValidationState: domain.ValidationPending,
		ActivationState: domain.ActivationStudy,
		ManuallyCreated: false,
		CreatedAt:       now,
		ProcessedAt:     now,
	}
	if name, err := imp.Upstream.ActorName(ctx, d.ActorID); err == nil {
		o.AgentName = name
	} else {
		imp.log().Warn("actor lookup failed", "actor_id", d.ActorID, "error", err)
	}
	if d.AccountRef != "" {
		if acc, err := imp.Upstream.Account(ctx, d.AccountRef); err == nil {
			o.Company = acc.Company
			o.ContactName = acc.ContactName
			o.Phone = acc.Phone
			o.Address = acc.Address
			o.City = acc.City
			o.PostalCode = acc.PostalCode
		} else {
			imp.log().Warn("account lookup failed", "account_ref", d.AccountRef, "error", err)
		}
	}
	if d.ProductCode != "" {
		if p, err := imp.Upstream.Product(ctx, d.ProductCode); err == nil && p.Label != "" {
			o.Product = p.Label
		}
	}
	return normalize.Order(o)
}

// missingLocally reports normalized local keys the upstream listing no
// longer contains, sorted for stable output. Manually created records are
// local-first and never counted as upstream orphans.
func missingLocally(known, manual, upstreamKeys map[string]bool) []string {
	var out []string
	for key := range known {
		if !upstreamKeys[key] && !manual[key] {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
