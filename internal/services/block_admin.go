package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/blockcache"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/util"
)

var (
	ErrInvalidDuration = errors.New("duration must be a positive number of seconds")
	// ErrAuditIncomplete accompanies a block or unblock that took effect but
	// whose audit event could not be written.
	ErrAuditIncomplete = errors.New("change applied but not audited")
)

// SystemActor is recorded as BlockedBy for automatic blocks.
const SystemActor = "system"

const lockStripes = 64

// BlockCache is the part of the enforcement cache BlockAdmin drives.
type BlockCache interface {
	IsBlocked(ip string) bool
	Put(ip, reason string, expiresAtEpoch *int64)
	Remove(ip string)
	Hydrate(records []models.BlockRecord) int
	ListActive() []blockcache.Entry
	Len() int
}

// BlockRequest asks for ip to be blocked. A nil DurationSeconds is permanent.
type BlockRequest struct {
	IPAddress       string
	Reason          string
	DurationSeconds *int64
	Actor           string
	// Source is copied into the audit event; empty means an admin request.
	Source    string
	UserAgent string
}

// BlockListing compares the durable and enforcement views of active blocks.
type BlockListing struct {
	Persisted []models.BlockRecord `json:"persisted"`
	Cached    []blockcache.Entry   `json:"cached"`
	Total     int                  `json:"total"`
	// Divergent lists addresses present in exactly one of the two views.
	Divergent []string `json:"divergent,omitempty"`
}

// BlockAdmin is the only writer of block state. Each change goes store
// first, then cache, then ledger, so a failed store write leaves nothing
// behind and a cache that lags the store is repaired by Reconcile.
type BlockAdmin struct {
	store  *BlockStore
	cache  BlockCache
	ledger EventAppender
	locks  [lockStripes]sync.Mutex
	now    func() time.Time
}

// NewBlockAdmin wires the store, cache and ledger together.
func NewBlockAdmin(store *BlockStore, cache BlockCache, ledger EventAppender) *BlockAdmin {
	return &BlockAdmin{
		store:  store,
		cache:  cache,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Cache exposes the enforcement cache for readers such as the request gate.
func (a *BlockAdmin) Cache() BlockCache {
	return a.cache
}

func (a *BlockAdmin) lockFor(ip string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ip))
	return &a.locks[h.Sum32()%lockStripes]
}

func (a *BlockAdmin) lockAll() {
	for i := range a.locks {
		a.locks[i].Lock()
	}
}

func (a *BlockAdmin) unlockAll() {
	for i := len(a.locks) - 1; i >= 0; i-- {
		a.locks[i].Unlock()
	}
}

// Block records and enforces a block. The returned record is valid whenever
// the error is nil or wraps ErrAuditIncomplete.
func (a *BlockAdmin) Block(ctx context.Context, req BlockRequest) (*models.BlockRecord, error) {
	key, ok := util.NormalizeIP(req.IPAddress)
	if !ok {
		return nil, ErrInvalidIPAddress
	}
	if req.DurationSeconds != nil && *req.DurationSeconds <= 0 {
		return nil, ErrInvalidDuration
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = SystemActor
	}

	var expiresAt *time.Time
	if req.DurationSeconds != nil {
		t := wholeSecondCeil(a.now().Add(time.Duration(*req.DurationSeconds) * time.Second))
		expiresAt = &t
	}

	mu := a.lockFor(key)
	mu.Lock()
	rec, err := a.store.UpsertActive(ctx, key, reason, expiresAt, actor)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	synced := a.syncCache(key, func() { a.cache.Put(key, rec.Reason, rec.ExpiresAtEpoch()) }, true)
	mu.Unlock()

	resource := "/security/blocks"
	if req.Source != "" {
		resource = req.Source
	}
	_, lerr := a.ledger.Append(ctx, EventInput{
		ActorID:   &actor,
		Action:    models.ActionIPBlocked,
		Resource:  resource,
		IPAddress: key,
		UserAgent: req.UserAgent,
		Success:   true,
		RiskLevel: RiskFor(OutcomeAdminChange),
		Details: models.BlockDetails{
			Target:          key,
			Reason:          rec.Reason,
			ExpiresAt:       rec.ExpiresAt,
			DurationSeconds: req.DurationSeconds,
			BlockedBy:       actor,
			CacheSynced:     &synced,
		},
	})

	logger.WithFields(logrus.Fields{
		"ip":           key,
		"actor":        util.SanitizeForLog(actor),
		"permanent":    rec.IsPermanent(),
		"cache_synced": synced,
	}).Info("address blocked")

	if lerr != nil {
		return rec, fmt.Errorf("%w: %w", ErrAuditIncomplete, lerr)
	}
	return rec, nil
}

// Unblock revokes the active block for ip. It returns false, with the
// stored state unchanged, when nothing was active.
func (a *BlockAdmin) Unblock(ctx context.Context, ip, actor string) (bool, error) {
	key, ok := util.NormalizeIP(ip)
	if !ok {
		return false, ErrInvalidIPAddress
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = SystemActor
	}

	mu := a.lockFor(key)
	mu.Lock()
	changed, err := a.store.Deactivate(ctx, key, actor)
	if err != nil {
		mu.Unlock()
		return false, err
	}
	// Removing also repairs a cache entry the store no longer backs.
	synced := a.syncCache(key, func() { a.cache.Remove(key) }, false)
	mu.Unlock()

	in := EventInput{
		ActorID:   &actor,
		Action:    models.ActionIPUnblocked,
		Resource:  "/security/blocks/" + key,
		IPAddress: key,
		Success:   true,
		RiskLevel: RiskFor(OutcomeAdminRevoke),
		Details:   models.BlockDetails{Target: key, CacheSynced: &synced},
	}
	if !changed {
		in.Action = models.ActionIPUnblockNoop
		in.Success = false
		in.RiskLevel = RiskFor(OutcomeRoutine)
	}
	_, lerr := a.ledger.Append(ctx, in)

	logger.WithFields(logrus.Fields{
		"ip":      key,
		"actor":   util.SanitizeForLog(actor),
		"changed": changed,
	}).Info("address unblocked")

	if lerr != nil {
		return changed, fmt.Errorf("%w: %w", ErrAuditIncomplete, lerr)
	}
	return changed, nil
}

// syncCache applies op and checks the result, retrying once. A cache that
// still disagrees is counted and left for Reconcile.
func (a *BlockAdmin) syncCache(key string, op func(), wantBlocked bool) bool {
	for attempt := 0; attempt < 2; attempt++ {
		op()
		if a.cache.IsBlocked(key) == wantBlocked {
			return true
		}
	}
	metrics.IncCacheSyncFailure()
	logger.WithFields(logrus.Fields{"ip": key, "want_blocked": wantBlocked}).
		Error("block cache disagrees with store after write")
	return false
}

// ListBlocked returns both views of the active blocks.
func (a *BlockAdmin) ListBlocked(ctx context.Context) (*BlockListing, error) {
	persisted, err := a.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	cached := a.cache.ListActive()
	return &BlockListing{
		Persisted: persisted,
		Cached:    cached,
		Total:     len(persisted),
		Divergent: divergence(persisted, cached),
	}, nil
}

// IsBlocked answers from the cache only.
func (a *BlockAdmin) IsBlocked(ip string) bool {
	return a.cache.IsBlocked(ip)
}

// Hydrate loads every enforced record from the store into the cache. Block
// and Unblock are held off meanwhile so none of their writes is lost in the
// swap.
func (a *BlockAdmin) Hydrate(ctx context.Context) (int, error) {
	a.lockAll()
	defer a.unlockAll()

	records, err := a.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	n := a.cache.Hydrate(records)
	metrics.SetBlockCacheEntries(n)
	return n, nil
}

// Reconcile re-hydrates the cache and returns how many addresses disagreed
// beforehand.
func (a *BlockAdmin) Reconcile(ctx context.Context) (int, error) {
	a.lockAll()
	defer a.unlockAll()

	records, err := a.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	diff := divergence(records, a.cache.ListActive())
	n := a.cache.Hydrate(records)
	metrics.SetBlockCacheEntries(n)

	if len(diff) > 0 {
		logger.WithFields(logrus.Fields{"divergent": len(diff), "entries": n}).
			Warn("block cache repaired from store")
	}
	return len(diff), nil
}

func divergence(persisted []models.BlockRecord, cached []blockcache.Entry) []string {
	inStore := make(map[string]struct{}, len(persisted))
	for _, r := range persisted {
		inStore[util.IPKey(r.IPAddress)] = struct{}{}
	}
	inCache := make(map[string]struct{}, len(cached))
	for _, e := range cached {
		inCache[e.IPAddress] = struct{}{}
	}

	var out []string
	for ip := range inStore {
		if _, ok := inCache[ip]; !ok {
			out = append(out, ip)
		}
	}
	for ip := range inCache {
		if _, ok := inStore[ip]; !ok {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}

// wholeSecondCeil rounds t up to a whole second so the store and the cache,
// which keeps unix seconds, agree on the expiry instant.
func wholeSecondCeil(t time.Time) time.Time {
	if tr := t.Truncate(time.Second); !tr.Equal(t) {
		return tr.Add(time.Second)
	}
	return t
}
