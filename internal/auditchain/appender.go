package auditchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultWriteTimeout bounds a single store write once a request has been dequeued.
const DefaultWriteTimeout = 10 * time.Second

// MetricsRecorder is an optional callback for recording append outcomes.
// outcome is one of "appended", "skipped" or "error".
type MetricsRecorder func(action Action, outcome string, elapsed time.Duration)

// ViolationHandler is invoked when the store rejects an append because it would
// fork the chain.
type ViolationHandler func(ctx context.Context, attempted *Entry, err error)

type request struct {
	ctx     context.Context
	desc    Descriptor
	genesis bool
	reply   chan result
}

type result struct {
	entry   *Entry
	created bool
	err     error
}

// Appender is the single writer of the chain. One goroutine owns the tail hash and
// handles requests strictly in arrival order, so concurrent callers are linearized
// without holding a lock across the store write.
type Appender struct {
	store        Store
	hasher       *Hasher
	policy       *ExclusionPolicy
	logger       *zap.Logger
	writeTimeout time.Duration

	onMetrics   MetricsRecorder
	onViolation ViolationHandler

	reqs      chan request
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	// Owned by the run goroutine after Start.
	tail        string
	initialized bool
}

// NewAppender creates an Appender. Start must be called before Append.
func NewAppender(store Store, hasher *Hasher, policy *ExclusionPolicy, logger *zap.Logger) *Appender {
	if policy == nil {
		policy = NewExclusionPolicy()
	}
	return &Appender{
		store:        store,
		hasher:       hasher,
		policy:       policy,
		logger:       logger,
		writeTimeout: DefaultWriteTimeout,
		reqs:         make(chan request),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetWriteTimeout overrides DefaultWriteTimeout.
func (a *Appender) SetWriteTimeout(d time.Duration) {
	if d > 0 {
		a.writeTimeout = d
	}
}

// SetMetricsRecorder configures the metrics callback.
func (a *Appender) SetMetricsRecorder(fn MetricsRecorder) {
	a.onMetrics = fn
}

// SetViolationHandler configures the callback fired on ErrForkDetected.
func (a *Appender) SetViolationHandler(fn ViolationHandler) {
	a.onViolation = fn
}

// Policy returns the exclusion policy consulted on every append.
func (a *Appender) Policy() *ExclusionPolicy { return a.policy }

// Hasher returns the hasher used to link entries.
func (a *Appender) Hasher() *Hasher { return a.hasher }

// Start loads the current tail from the store and starts the writer goroutine.
func (a *Appender) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("audit appender already started")
	}
	if err := a.loadTail(ctx); err != nil {
		a.started.Store(false)
		return err
	}
	go a.run()
	return nil
}

// Close stops the writer goroutine. Requests already dequeued complete first.
func (a *Appender) Close() {
	a.closeOnce.Do(func() {
		close(a.stop)
		if a.started.Load() {
			<-a.done
		}
	})
}

// Append records d as the next entry of the chain. It returns (nil, nil) when the
// action is excluded. Once the request has been accepted by the writer the call
// waits for the store write to finish, even if ctx is cancelled meanwhile, so the
// caller always learns whether the entry exists.
func (a *Appender) Append(ctx context.Context, d Descriptor) (*Entry, error) {
	start := time.Now()
	e, err := a.append(ctx, d)

	outcome := "appended"
	switch {
	case err != nil:
		outcome = "error"
	case e == nil:
		outcome = "skipped"
	}
	if a.onMetrics != nil {
		a.onMetrics(d.Action, outcome, time.Since(start))
	}
	return e, err
}

// Record is a convenience wrapper for collaborators performing a mutating action.
func (a *Appender) Record(ctx context.Context, action Action, rt ResourceType, resourceID, principal string, metadata map[string]any) (*Entry, error) {
	return a.Append(ctx, Descriptor{
		Action:        action,
		ResourceType:  rt,
		ResourceID:    resourceID,
		UserPrincipal: principal,
		Metadata:      metadata,
	})
}

func (a *Appender) append(ctx context.Context, d Descriptor) (*Entry, error) {
	if !d.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, d.Action)
	}
	if d.Action == ActionChainGenesis {
		return nil, ErrReservedAction
	}
	if a.policy.IsExcluded(d.Action) {
		a.logger.Debug("audit action excluded", zap.String("action", string(d.Action)))
		return nil, nil
	}
	meta, _, err := normalizeMetadata(d.Metadata)
	if err != nil {
		return nil, err
	}
	d.Metadata = meta
	if d.UserPrincipal == "" {
		d.UserPrincipal = SystemPrincipal
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = timeNow()
	}
	d.Timestamp = normalizeTime(d.Timestamp)

	res, err := a.submit(ctx, request{ctx: ctx, desc: d})
	if err != nil {
		return nil, err
	}
	return res.entry, res.err
}

func (a *Appender) submit(ctx context.Context, req request) (result, error) {
	if !a.started.Load() {
		return result{}, fmt.Errorf("%w: not started", ErrAppenderClosed)
	}
	req.reply = make(chan result, 1)
	select {
	case a.reqs <- req:
	case <-a.stop:
		return result{}, ErrAppenderClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	return <-req.reply, nil
}

func (a *Appender) run() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case req := <-a.reqs:
			if req.genesis {
				req.reply <- a.writeGenesis(req.ctx)
			} else {
				req.reply <- a.writeEntry(req.ctx, req.desc)
			}
		}
	}
}

func (a *Appender) writeEntry(ctx context.Context, d Descriptor) result {
	if !a.initialized {
		return result{err: ErrNotInitialized}
	}

	e := &Entry{
		Timestamp:     d.Timestamp,
		UserPrincipal: d.UserPrincipal,
		Action:        d.Action,
		ResourceType:  d.ResourceType,
		ResourceID:    d.ResourceID,
		Metadata:      d.Metadata,
		PreviousHash:  a.tail,
	}
	hash, err := a.hasher.EntryHash(e, a.tail)
	if err != nil {
		return result{err: err}
	}
	e.Hash = hash

	if err := a.insert(ctx, e); err != nil {
		if errors.Is(err, ErrForkDetected) {
			a.handleViolation(ctx, e, err)
		}
		return result{err: storageErr("append", err)}
	}

	a.tail = e.Hash
	a.logger.Debug("audit entry appended",
		zap.Int64("id", e.ID),
		zap.String("action", string(e.Action)),
		zap.String("resource_id", e.ResourceID),
	)
	return result{entry: e, created: true}
}

// insert writes e with a context that outlives caller cancellation but not the
// configured write timeout.
func (a *Appender) insert(ctx context.Context, e *Entry) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.writeTimeout)
	defer cancel()
	return a.store.Insert(wctx, e)
}

func (a *Appender) handleViolation(ctx context.Context, e *Entry, err error) {
	a.logger.Error("AUDIT CHAIN APPEND INVARIANT VIOLATED",
		zap.String("action", string(e.Action)),
		zap.String("previous_hash", e.PreviousHash),
		zap.Error(err),
	)
	if a.onViolation != nil {
		a.onViolation(context.WithoutCancel(ctx), e, err)
	}
	// Another writer advanced the chain; resynchronise so later appends link correctly.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.writeTimeout)
	defer cancel()
	if lerr := a.loadTail(rctx); lerr != nil {
		a.logger.Error("reload audit chain tail", zap.Error(lerr))
	}
}

func (a *Appender) loadTail(ctx context.Context) error {
	last, err := a.store.Last(ctx)
	if err != nil {
		return storageErr("load tail", err)
	}
	if last == nil {
		a.tail, a.initialized = "", false
		return nil
	}
	a.tail, a.initialized = last.Hash, true
	return nil
}
