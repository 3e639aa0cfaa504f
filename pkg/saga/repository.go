package saga

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Locker serializes engine entries per saga. TryLock is non-blocking;
// a false return means another worker owns the saga right now.
type Locker interface {
	TryLock(ctx context.Context, orderID int64) bool
	ReleaseLock(ctx context.Context, orderID int64)
}

// Repository is the persistence port for saga contexts and step logs.
//
// UpdateStatus is an optimistic write: it succeeds only when the
// stored record's UpdatedAt still matches the value observed when the
// caller loaded the context, and returns ErrStaleContext otherwise.
type Repository interface {
	Create(ctx context.Context, sc *SagaContext) error
	UpdateStatus(ctx context.Context, sc *SagaContext) error
	FindByID(ctx context.Context, orderID int64) (*SagaContext, error)
	FindByOrderNo(ctx context.Context, orderNo string) (*SagaContext, error)
	ExistsByOrderNo(ctx context.Context, orderNo string) (bool, error)

	SaveSteps(ctx context.Context, logs []StepLog) error
	LoadSteps(ctx context.Context, orderID int64) ([]StepLog, error)

	// List returns a page of sagas, newest first, together with the
	// total number of sagas matching the filter.
	List(ctx context.Context, filter ListFilter) ([]*SagaContext, int, error)

	// FindStuckSagas returns sagas in any of the given statuses whose
	// last update is older than the staleness window, up to limit.
	FindStuckSagas(ctx context.Context, statuses []Status, olderThan time.Duration, limit int) ([]*SagaContext, error)

	Locker
}

// ListFilter narrows a List call. A zero Status matches every saga.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// OverrideLocker returns a repository whose per-saga locks are served
// by the given locker instead of the repository's own, so any store
// can be paired with a distributed lock.
func OverrideLocker(repo Repository, locker Locker) Repository {
	if locker == nil {
		return repo
	}
	return &lockerOverride{Repository: repo, locker: locker}
}

type lockerOverride struct {
	Repository
	locker Locker
}

func (r *lockerOverride) TryLock(ctx context.Context, orderID int64) bool {
	return r.locker.TryLock(ctx, orderID)
}

func (r *lockerOverride) ReleaseLock(ctx context.Context, orderID int64) {
	r.locker.ReleaseLock(ctx, orderID)
}

// memoryLocker is an in-process Locker backed by a lock set. Suitable
// for single-node deployments and tests.
type memoryLocker struct {
	mu    sync.Mutex
	locks map[int64]struct{}
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{locks: make(map[int64]struct{})}
}

// NewMemoryLocker builds an in-process per-saga locker.
func NewMemoryLocker() Locker { return newMemoryLocker() }

func (l *memoryLocker) TryLock(ctx context.Context, orderID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[orderID]; held {
		return false
	}
	l.locks[orderID] = struct{}{}
	return true
}

func (l *memoryLocker) ReleaseLock(ctx context.Context, orderID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, orderID)
}

// MemoryRepository keeps sagas and step logs in process memory. It is
// the default store for tests and the demo configuration.
type MemoryRepository struct {
	mu       sync.RWMutex
	sagas    map[int64]*SagaContext
	byOrder  map[string]int64
	stepLogs map[int64][]StepLog

	*memoryLocker
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sagas:        make(map[int64]*SagaContext),
		byOrder:      make(map[string]int64),
		stepLogs:     make(map[int64][]StepLog),
		memoryLocker: newMemoryLocker(),
	}
}

// Create stores a new saga. The order id and order number must both be
// unused.
func (r *MemoryRepository) Create(ctx context.Context, sc *SagaContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sagas[sc.OrderID]; ok {
		return ErrSagaExists
	}
	if _, ok := r.byOrder[sc.OrderNo]; ok {
		return ErrSagaExists
	}
	stored := sc.clone()
	r.sagas[sc.OrderID] = stored
	r.byOrder[sc.OrderNo] = sc.OrderID
	sc.witness = sc.UpdatedAt
	return nil
}

// UpdateStatus writes the context back, guarded by the UpdatedAt
// witness captured at load time.
func (r *MemoryRepository) UpdateStatus(ctx context.Context, sc *SagaContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sagas[sc.OrderID]
	if !ok {
		return ErrSagaNotFound
	}
	if !stored.UpdatedAt.Equal(sc.witness) {
		return ErrStaleContext
	}
	r.sagas[sc.OrderID] = sc.clone()
	sc.witness = sc.UpdatedAt
	return nil
}

// FindByID returns a private copy of the saga. Step values are shared;
// they synchronize internally.
func (r *MemoryRepository) FindByID(ctx context.Context, orderID int64) (*SagaContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.sagas[orderID]
	if !ok {
		return nil, ErrSagaNotFound
	}
	out := stored.clone()
	out.witness = stored.UpdatedAt
	return out, nil
}

func (r *MemoryRepository) FindByOrderNo(ctx context.Context, orderNo string) (*SagaContext, error) {
	r.mu.RLock()
	id, ok := r.byOrder[orderNo]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSagaNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *MemoryRepository) ExistsByOrderNo(ctx context.Context, orderNo string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byOrder[orderNo]
	return ok, nil
}

// SaveSteps upserts step logs keyed by step id, keeping first-write
// order for replay.
func (r *MemoryRepository) SaveSteps(ctx context.Context, logs []StepLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range logs {
		existing := r.stepLogs[l.OrderID]
		replaced := false
		for i := range existing {
			if existing[i].StepID == l.StepID {
				existing[i] = l
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, l)
		}
		r.stepLogs[l.OrderID] = existing
	}
	return nil
}

// LoadSteps returns the saga's step logs ordered by index, forward
// steps before compensation steps.
func (r *MemoryRepository) LoadSteps(ctx context.Context, orderID int64) ([]StepLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.stepLogs[orderID]
	out := make([]StepLog, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsCompensation != out[j].IsCompensation {
			return !out[i].IsCompensation
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// List returns a page of sagas sorted newest first.
func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]*SagaContext, int, error) {
	r.mu.RLock()
	matched := make([]*SagaContext, 0, len(r.sagas))
	for _, stored := range r.sagas {
		if filter.Status != "" && stored.Status != filter.Status {
			continue
		}
		cp := stored.clone()
		cp.witness = stored.UpdatedAt
		matched = append(matched, cp)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	return pageOf(matched, filter.Offset, filter.Limit), total, nil
}

// pageOf slices out one page, tolerating out-of-range offsets.
func pageOf(all []*SagaContext, offset, limit int) []*SagaContext {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*SagaContext{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

func (r *MemoryRepository) FindStuckSagas(ctx context.Context, statuses []Status, olderThan time.Duration, limit int) ([]*SagaContext, error) {
	wanted := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}
	cutoff := time.Now().Add(-olderThan)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SagaContext
	for _, stored := range r.sagas {
		if _, ok := wanted[stored.Status]; !ok {
			continue
		}
		if !stored.UpdatedAt.Before(cutoff) {
			continue
		}
		cp := stored.clone()
		cp.witness = stored.UpdatedAt
		out = append(out, cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
