package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// StateHandler processes sagas in the statuses it declares. Handlers
// never return errors; every failure is expressed as a status on the
// returned context.
type StateHandler interface {
	// States lists the statuses this handler owns.
	States() []Status

	Process(ctx context.Context, sc *SagaContext) *SagaContext
}

// Registry maps each saga status to its handler. Registration is
// explicit; handlers self-declare their states and double registration
// of a status is a programming error surfaced at wiring time.
type Registry struct {
	handlers map[Status]StateHandler
	repo     Repository
	log      logger.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(repo Repository, log logger.Logger) *Registry {
	if log == nil {
		log = logger.Global()
	}
	return &Registry{
		handlers: make(map[Status]StateHandler),
		repo:     repo,
		log:      log,
	}
}

// Register claims the handler's declared states. Returns an error when
// a state is already owned.
func (r *Registry) Register(h StateHandler) error {
	for _, s := range h.States() {
		if existing, ok := r.handlers[s]; ok {
			return fmt.Errorf("status %s already registered to %T", s, existing)
		}
		r.handlers[s] = h
	}
	return nil
}

// MustRegister is Register that panics on wiring errors. Intended for
// composition roots where a duplicate registration is fatal.
func (r *Registry) MustRegister(h StateHandler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Handler returns the handler owning the status.
func (r *Registry) Handler(s Status) (StateHandler, bool) {
	h, ok := r.handlers[s]
	return h, ok
}

// Dispatch routes the context to the handler owning its status. The
// saga deadline is evaluated on entry, so every delegation between
// handlers re-checks it; an exceeded deadline forces TIMEOUT. A status
// without a handler is classified as SYSTEM_ERROR.
func (r *Registry) Dispatch(ctx context.Context, sc *SagaContext) *SagaContext {
	if !sc.IsTerminal() && sc.IsTimedOut() {
		r.log.WarnContext(ctx, "saga exceeded deadline",
			"order_id", sc.OrderID,
			"status", string(sc.Status),
			"timeout", sc.Timeout.String(),
		)
		res := Failed(CodeSagaTimeout, CodeSagaTimeout.Message())
		res.Status = StepTimeout
		sc.LastResult = &res
		sc.forceStatus(StatusTimeout)
		persistStatus(ctx, r.log, r.repo, sc)
	}

	h, ok := r.handlers[sc.Status]
	if !ok {
		r.log.ErrorContext(ctx, "no handler registered for saga status",
			"order_id", sc.OrderID,
			"status", string(sc.Status),
		)
		res := Failed(CodeStateHandlerNotFound, fmt.Sprintf("no handler for status %s", sc.Status))
		sc.LastResult = &res
		sc.forceStatus(StatusSystemError)
		persistStatus(ctx, r.log, r.repo, sc)
		return sc
	}
	return h.Process(ctx, sc)
}

// transition applies a status change on the context. An illegal edge
// is a programming error; it is logged and the saga is forced into
// SYSTEM_ERROR.
func transition(ctx context.Context, log logger.Logger, sc *SagaContext, next Status) bool {
	if err := sc.SetStatus(next); err != nil {
		log.ErrorContext(ctx, "illegal saga status transition",
			"order_id", sc.OrderID,
			"from", string(sc.Status),
			"to", string(next),
			"error", err,
		)
		sc.forceStatus(StatusSystemError)
		return false
	}
	return true
}

// persistStatus writes the context through the repository. A stale
// witness means another worker advanced the saga; the in-memory run is
// abandoned into SYSTEM_ERROR. Other persistence faults are logged and
// the in-memory status stands for the recovery sweep to reconcile.
func persistStatus(ctx context.Context, log logger.Logger, repo Repository, sc *SagaContext) bool {
	err := repo.UpdateStatus(ctx, sc)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrStaleContext) {
		log.ErrorContext(ctx, "saga context is stale, concurrent update detected",
			"order_id", sc.OrderID,
			"status", string(sc.Status),
		)
		res := Failed(CodeConcurrentUpdate, CodeConcurrentUpdate.Message())
		sc.LastResult = &res
		sc.forceStatus(StatusSystemError)
		return false
	}
	log.ErrorContext(ctx, "saga status persistence failed",
		"order_id", sc.OrderID,
		"status", string(sc.Status),
		"error", err,
	)
	return true
}

// persistSteps writes step logs, best effort.
func persistSteps(ctx context.Context, log logger.Logger, repo Repository, sc *SagaContext, logs ...StepLog) {
	if len(logs) == 0 {
		return
	}
	if err := repo.SaveSteps(ctx, logs); err != nil {
		log.ErrorContext(ctx, "step log persistence failed",
			"order_id", sc.OrderID,
			"error", err,
		)
	}
}
