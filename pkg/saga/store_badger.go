package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	sagaKeyPrefix         = "saga:"
	sagaIndexStatusPrefix = "saga:index:status:"
	sagaOrderNoPrefix     = "saga:orderno:"
	stepLogKeyPrefix      = "steplog:"
)

// sagaRecord is the JSON persistence shape of a SagaContext. Steps are
// persisted separately as step logs and reattached by the engine's
// step rebuilder.
type sagaRecord struct {
	OrderID             int64             `json:"order_id"`
	OrderNo             string            `json:"order_no"`
	CustomerID          int64             `json:"customer_id"`
	Status              Status            `json:"status"`
	LastResult          *StepResult       `json:"last_result,omitempty"`
	TimeoutMS           int64             `json:"timeout_ms"`
	MinBudgetMS         int64             `json:"min_budget_ms"`
	CompensationAllowed bool              `json:"compensation_allowed"`
	NonUndoableActions  []Action          `json:"non_undoable_actions,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CurrentStep         int               `json:"current_step"`
	ProcessedStepIDs    []string          `json:"processed_step_ids,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func toRecord(sc *SagaContext) *sagaRecord {
	rec := &sagaRecord{
		OrderID:             sc.OrderID,
		OrderNo:             sc.OrderNo,
		CustomerID:          sc.CustomerID,
		Status:              sc.Status,
		LastResult:          sc.LastResult,
		TimeoutMS:           sc.Timeout.Milliseconds(),
		MinBudgetMS:         sc.minBudget.Milliseconds(),
		CompensationAllowed: sc.CompensationAllowed,
		Metadata:            sc.Metadata,
		CurrentStep:         sc.currentStep,
		ProcessedStepIDs:    sc.ProcessedStepIDs(),
		CreatedAt:           sc.CreatedAt,
		UpdatedAt:           sc.UpdatedAt,
	}
	for a := range sc.nonUndoable {
		rec.NonUndoableActions = append(rec.NonUndoableActions, a)
	}
	sort.Slice(rec.NonUndoableActions, func(i, j int) bool {
		return rec.NonUndoableActions[i] < rec.NonUndoableActions[j]
	})
	return rec
}

func fromRecord(rec *sagaRecord) *SagaContext {
	sc := NewSagaContext(rec.OrderID, rec.OrderNo, rec.CustomerID)
	sc.Status = rec.Status
	sc.LastResult = rec.LastResult
	sc.Timeout = time.Duration(rec.TimeoutMS) * time.Millisecond
	sc.SetMinCompensationBudget(time.Duration(rec.MinBudgetMS) * time.Millisecond)
	sc.CompensationAllowed = rec.CompensationAllowed
	if len(rec.NonUndoableActions) > 0 {
		sc.SetNonUndoableActions(rec.NonUndoableActions)
	}
	if rec.Metadata != nil {
		sc.Metadata = rec.Metadata
	}
	sc.currentStep = rec.CurrentStep
	sc.processedStepIDs = append([]string(nil), rec.ProcessedStepIDs...)
	sc.CreatedAt = rec.CreatedAt
	sc.UpdatedAt = rec.UpdatedAt
	sc.witness = rec.UpdatedAt
	return sc
}

// BadgerRepository stores sagas and step logs in Badger. Locking
// defaults to the in-process locker; pass WithLocker to plug in the
// Redis lease locker for multi-node deployments.
type BadgerRepository struct {
	db *badger.DB
	Locker
}

// BadgerOption customizes a BadgerRepository.
type BadgerOption func(*BadgerRepository)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) BadgerOption {
	return func(r *BadgerRepository) {
		if l != nil {
			r.Locker = l
		}
	}
}

// NewBadgerRepository creates a Badger-backed repository.
func NewBadgerRepository(db *badger.DB, opts ...BadgerOption) (*BadgerRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	r := &BadgerRepository{db: db, Locker: newMemoryLocker()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func sagaDataKey(orderID int64) string {
	return fmt.Sprintf("%s%020d", sagaKeyPrefix, orderID)
}

func sagaStatusIndexPrefix(status Status) string {
	return sagaIndexStatusPrefix + string(status) + ":"
}

func sagaStatusIndexKey(status Status, orderID int64) string {
	return fmt.Sprintf("%s%020d", sagaStatusIndexPrefix(status), orderID)
}

func sagaOrderNoKey(orderNo string) string {
	return sagaOrderNoPrefix + orderNo
}

func stepLogKey(l StepLog) string {
	phase := "f"
	if l.IsCompensation {
		phase = "c"
	}
	return fmt.Sprintf("%s%020d:%s:%03d:%s", stepLogKeyPrefix, l.OrderID, phase, l.Index, string(l.Action))
}

func stepLogPrefix(orderID int64) string {
	return fmt.Sprintf("%s%020d:", stepLogKeyPrefix, orderID)
}

// Create persists a new saga and its order-number and status index
// entries. Fails with ErrSagaExists when either key is taken.
func (r *BadgerRepository) Create(ctx context.Context, sc *SagaContext) error {
	rec := toRecord(sc)
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := txn.Get([]byte(sagaDataKey(sc.OrderID))); err == nil {
			return ErrSagaExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if _, err := txn.Get([]byte(sagaOrderNoKey(sc.OrderNo))); err == nil {
			return ErrSagaExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set([]byte(sagaDataKey(sc.OrderID)), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(sagaOrderNoKey(sc.OrderNo)), []byte(fmt.Sprintf("%d", sc.OrderID))); err != nil {
			return err
		}
		return txn.Set([]byte(sagaStatusIndexKey(sc.Status, sc.OrderID)), []byte{})
	})
	if err != nil {
		return err
	}
	sc.witness = sc.UpdatedAt
	return nil
}

// UpdateStatus writes the context back under the optimistic witness
// check and moves the status index entry.
func (r *BadgerRepository) UpdateStatus(ctx context.Context, sc *SagaContext) error {
	rec := toRecord(sc)
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := []byte(sagaDataKey(sc.OrderID))

	err = r.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrSagaNotFound
			}
			return err
		}
		var stored sagaRecord
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &stored) }); err != nil {
			return err
		}
		if !stored.UpdatedAt.Equal(sc.witness) {
			return ErrStaleContext
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		if stored.Status != sc.Status {
			_ = txn.Delete([]byte(sagaStatusIndexKey(stored.Status, sc.OrderID)))
			return txn.Set([]byte(sagaStatusIndexKey(sc.Status, sc.OrderID)), []byte{})
		}
		return nil
	})
	if err != nil {
		return err
	}
	sc.witness = sc.UpdatedAt
	return nil
}

func (r *BadgerRepository) FindByID(ctx context.Context, orderID int64) (*SagaContext, error) {
	var rec sagaRecord
	err := r.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get([]byte(sagaDataKey(orderID)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrSagaNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
	})
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec), nil
}

func (r *BadgerRepository) FindByOrderNo(ctx context.Context, orderNo string) (*SagaContext, error) {
	var orderID int64
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sagaOrderNoKey(orderNo)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrSagaNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			_, err := fmt.Sscanf(string(v), "%d", &orderID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, orderID)
}

func (r *BadgerRepository) ExistsByOrderNo(ctx context.Context, orderNo string) (bool, error) {
	exists := false
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(sagaOrderNoKey(orderNo)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// SaveSteps upserts step logs, keyed by saga, phase and index.
func (r *BadgerRepository) SaveSteps(ctx context.Context, logs []StepLog) error {
	return r.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, l := range logs {
			data, err := json.Marshal(l)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(stepLogKey(l)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSteps returns the saga's step logs, forward steps by index first,
// then compensation steps by index.
func (r *BadgerRepository) LoadSteps(ctx context.Context, orderID int64) ([]StepLog, error) {
	var out []StepLog
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(stepLogPrefix(orderID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var l StepLog
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &l) }); err != nil {
				continue
			}
			out = append(out, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsCompensation != out[j].IsCompensation {
			return !out[i].IsCompensation
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// List walks the saga records (or the status index when filtered) and
// returns one page, newest first, plus the total match count.
func (r *BadgerRepository) List(ctx context.Context, filter ListFilter) ([]*SagaContext, int, error) {
	var matched []*SagaContext

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		if filter.Status != "" {
			opts.Prefix = []byte(sagaStatusIndexPrefix(filter.Status))
			opts.PrefetchValues = false
		} else {
			opts.Prefix = []byte(sagaKeyPrefix)
		}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var rec sagaRecord
			if filter.Status != "" {
				key := string(it.Item().Key())
				var orderID int64
				if _, err := fmt.Sscanf(key[len(sagaStatusIndexPrefix(filter.Status)):], "%d", &orderID); err != nil {
					continue
				}
				item, err := txn.Get([]byte(sagaDataKey(orderID)))
				if err != nil {
					continue
				}
				if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
					continue
				}
			} else {
				key := string(it.Item().Key())
				// Index and order-number entries share the saga: prefix.
				if strings.HasPrefix(key, sagaIndexStatusPrefix) || strings.HasPrefix(key, sagaOrderNoPrefix) {
					continue
				}
				if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
					continue
				}
			}
			matched = append(matched, fromRecord(&rec))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	return pageOf(matched, filter.Offset, filter.Limit), total, nil
}

// FindStuckSagas walks the status index for each requested status and
// returns sagas whose last update is older than the staleness window.
func (r *BadgerRepository) FindStuckSagas(ctx context.Context, statuses []Status, olderThan time.Duration, limit int) ([]*SagaContext, error) {
	cutoff := time.Now().Add(-olderThan)
	var out []*SagaContext

	err := r.db.View(func(txn *badger.Txn) error {
		for _, status := range statuses {
			prefix := []byte(sagaStatusIndexPrefix(status))
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)

			for it.Rewind(); it.Valid(); it.Next() {
				select {
				case <-ctx.Done():
					it.Close()
					return ctx.Err()
				default:
				}

				key := string(it.Item().Key())
				var orderID int64
				if _, err := fmt.Sscanf(key[len(sagaStatusIndexPrefix(status)):], "%d", &orderID); err != nil {
					continue
				}
				item, err := txn.Get([]byte(sagaDataKey(orderID)))
				if err != nil {
					continue
				}
				var rec sagaRecord
				if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
					continue
				}
				if !rec.UpdatedAt.Before(cutoff) {
					continue
				}
				out = append(out, fromRecord(&rec))
				if limit > 0 && len(out) >= limit {
					it.Close()
					return nil
				}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
