package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/logging"
	"github.com/tupa/internal/metrics"
	"github.com/tupa/internal/recordstore"
	"github.com/tupa/pkg/models"
)

// Owner is the identity view a collection needs for authorship checks
type Owner interface {
	Resolve() (models.Identity, error)
	OwnerRefs() ([]string, error)
}

// Schema describes how one record type maps onto a remote table
type Schema[T any] struct {
	Name       string
	OrderBy    string
	Descending bool
	// Limit bounds the refresh window; 0 fetches the full set
	Limit int
	// Reverse flips the fetched window, e.g. newest N fetched descending then shown ascending
	Reverse  bool
	ID       func(*T) string
	Owner    func(*T) string
	SetOwner func(*T, string)
}

// Collection is a locally cached view of one remote collection. The cache is
// replaced wholesale on refresh, so readers never see a partial list.
type Collection[T any] struct {
	schema  Schema[T]
	table   recordstore.Table
	owner   Owner
	metrics *metrics.Metrics
	logger  zerolog.Logger

	cache atomic.Pointer[[]T]

	// refresh ordering: a result is applied only if it started after the last applied one
	started atomic.Uint64
	applyMu sync.Mutex
	applied uint64
}

// NewCollection creates an empty collection over table
func NewCollection[T any](schema Schema[T], table recordstore.Table, owner Owner, m *metrics.Metrics, logger zerolog.Logger) *Collection[T] {
	c := &Collection[T]{
		schema:  schema,
		table:   table,
		owner:   owner,
		metrics: m,
		logger:  logging.Component(logger, "content").With().Str("collection", schema.Name).Logger(),
	}
	empty := []T{}
	c.cache.Store(&empty)
	return c
}

// Name is the remote collection name
func (c *Collection[T]) Name() string { return c.schema.Name }

// Refresh re-fetches the window and swaps it in. On failure the cache is left
// untouched. A result that started before the last applied refresh is discarded.
func (c *Collection[T]) Refresh(ctx context.Context) ([]T, error) {
	seq := c.started.Add(1)
	start := time.Now()

	rows, err := c.table.Select(ctx, recordstore.Query{
		OrderBy:    c.schema.OrderBy,
		Descending: c.schema.Descending,
		Limit:      c.schema.Limit,
	})
	c.metrics.ObserveRefresh(c.schema.Name, time.Since(start), err)
	if err != nil {
		err = apperr.Remote("select", c.schema.Name, err)
		c.logger.Warn().Err(err).Msg("Refresh failed, keeping cached items")
		return c.Items(), err
	}

	items := make([]T, 0, len(rows))
	for _, row := range rows {
		var item T
		if err := json.Unmarshal(row, &item); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping undecodable row")
			continue
		}
		items = append(items, item)
	}
	if c.schema.Reverse {
		slices.Reverse(items)
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if seq < c.applied {
		c.metrics.StaleRefresh(c.schema.Name)
		c.logger.Debug().Uint64("seq", seq).Uint64("applied", c.applied).Msg("Discarding stale refresh")
		return c.Items(), nil
	}
	c.applied = seq
	c.cache.Store(&items)
	c.logger.Debug().Int("count", len(items)).Msg("Refreshed")
	return c.Items(), nil
}

// Sync refreshes and drops the items, for the poller
func (c *Collection[T]) Sync(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	return err
}

// Items returns a snapshot of the cached list
func (c *Collection[T]) Items() []T {
	return slices.Clone(*c.cache.Load())
}

// Get looks up a cached item by id
func (c *Collection[T]) Get(id string) (T, bool) {
	for _, item := range *c.cache.Load() {
		if c.schema.ID(&item) == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Mine returns the cached items authored under any of refs
func (c *Collection[T]) Mine(refs []string) []T {
	var out []T
	for _, item := range *c.cache.Load() {
		if slices.Contains(refs, c.schema.Owner(&item)) {
			out = append(out, item)
		}
	}
	return out
}

// Create stamps the active identity as owner, inserts and refreshes
func (c *Collection[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	ident, err := c.owner.Resolve()
	if err != nil {
		return zero, err
	}
	c.schema.SetOwner(&item, ident.ID)

	row, err := json.Marshal(item)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s row: %w", c.schema.Name, err)
	}
	stored, err := c.table.Insert(ctx, row)
	c.metrics.Mutation(c.schema.Name, "create", err)
	if err != nil {
		return zero, apperr.Remote("insert", c.schema.Name, err)
	}

	var created T
	if err := json.Unmarshal(stored, &created); err != nil {
		return zero, fmt.Errorf("failed to decode %s row: %w", c.schema.Name, err)
	}
	c.logger.Info().Str("id", c.schema.ID(&created)).Msg("Created")
	c.refreshAfterMutation(ctx)
	return created, nil
}

// Update applies fn to the authoritative record and stores the result.
// Only the record's owner may update it; id and owner cannot change.
func (c *Collection[T]) Update(ctx context.Context, id string, fn func(*T)) (T, error) {
	var zero T
	current, err := c.fetchOwned(ctx, id)
	if err != nil {
		return zero, err
	}

	owner := c.schema.Owner(&current)
	fn(&current)
	c.schema.SetOwner(&current, owner)

	patch, err := json.Marshal(current)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s patch: %w", c.schema.Name, err)
	}
	for _, immutable := range []string{"id", "created_at"} {
		if patch, err = sjson.DeleteBytes(patch, immutable); err != nil {
			return zero, err
		}
	}

	stored, err := c.table.Update(ctx, id, patch)
	c.metrics.Mutation(c.schema.Name, "update", err)
	if err != nil {
		return zero, apperr.Remote("update", c.schema.Name, err)
	}

	var updated T
	if err := json.Unmarshal(stored, &updated); err != nil {
		return zero, fmt.Errorf("failed to decode %s row: %w", c.schema.Name, err)
	}
	c.logger.Info().Str("id", id).Msg("Updated")
	c.refreshAfterMutation(ctx)
	return updated, nil
}

// Remove deletes an owned record. The local cache drops it on the refresh that follows.
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	if _, err := c.fetchOwned(ctx, id); err != nil {
		return err
	}
	err := c.table.Delete(ctx, id)
	c.metrics.Mutation(c.schema.Name, "remove", err)
	if err != nil {
		return apperr.Remote("delete", c.schema.Name, err)
	}
	c.logger.Info().Str("id", id).Msg("Removed")
	c.refreshAfterMutation(ctx)
	return nil
}

// CanMutate reports whether the acting user owns item
func (c *Collection[T]) CanMutate(item T) bool {
	refs, err := c.owner.OwnerRefs()
	if err != nil {
		return false
	}
	return slices.Contains(refs, c.schema.Owner(&item))
}

// fetchOwned reads the authoritative row and checks ownership against it
func (c *Collection[T]) fetchOwned(ctx context.Context, id string) (T, error) {
	var zero T
	rows, err := c.table.Select(ctx, recordstore.Eq("id", id))
	if err != nil {
		return zero, apperr.Remote("select", c.schema.Name, err)
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%w: %s/%s", apperr.ErrNotFound, c.schema.Name, id)
	}
	var current T
	if err := json.Unmarshal(rows[0], &current); err != nil {
		return zero, fmt.Errorf("failed to decode %s row: %w", c.schema.Name, err)
	}

	refs, err := c.owner.OwnerRefs()
	if err != nil {
		return zero, err
	}
	if !slices.Contains(refs, c.schema.Owner(&current)) {
		err := apperr.Permission(c.schema.Name, id)
		c.metrics.Mutation(c.schema.Name, "denied", err)
		return zero, err
	}
	return current, nil
}

// refreshAfterMutation keeps the cache in step with a mutation that already succeeded.
// Its failure is logged, not returned: the mutation itself stands.
func (c *Collection[T]) refreshAfterMutation(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn().Err(err).Msg("Refresh after mutation failed")
	}
}
