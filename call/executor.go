package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/access"
	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
)

// ErrRecursion marks an invocation refused because the procedure is
// already active on the current call chain. It unwraps to
// access.ErrAccessDenied so callers can treat both uniformly.
var ErrRecursion = fmt.Errorf("%w: recursive invocation", access.ErrAccessDenied)

// DefaultMaxDelay bounds how far in the future a delayed invocation may
// be scheduled.
const DefaultMaxDelay = time.Hour

// ProcedureTree is the storage prefix under which procedures are
// addressed for permission checks and script definitions.
var ProcedureTree = vpath.MustParse("/procedures/")

// ProcedurePath returns the storage path of a procedure by name.
// Slashes in the name nest under the tree, so "system/echo" lives at
// /procedures/system/echo.
func ProcedurePath(name string) vpath.Path {
	rel, err := vpath.Parse(name)
	if err != nil {
		return ProcedureTree.Child(name)
	}
	return ProcedureTree.Resolve(rel.AsObject())
}

// Scheduler defers a function. The executor uses it for delayed
// invocations; tests substitute an immediate implementation.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// TimerScheduler schedules on plain timers.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Executor resolves and runs procedures inside call contexts.
type Executor struct {
	library    *Library
	authorizer *access.Authorizer
	scheduler  Scheduler
	maxDelay   time.Duration
	logger     *zap.Logger

	mu     sync.RWMutex
	active map[string]*Context
}

// NewExecutor creates an executor over the library and authorizer.
func NewExecutor(library *Library, authorizer *access.Authorizer, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		library:    library,
		authorizer: authorizer,
		scheduler:  TimerScheduler{},
		maxDelay:   DefaultMaxDelay,
		logger:     logger,
		active:     make(map[string]*Context),
	}
}

// SetScheduler replaces the delayed-invocation scheduler.
func (e *Executor) SetScheduler(s Scheduler) { e.scheduler = s }

// SetMaxDelay bounds ExecuteDelayed. Non-positive restores the default.
func (e *Executor) SetMaxDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultMaxDelay
	}
	e.maxDelay = d
}

// Library returns the procedure library.
func (e *Executor) Library() *Library { return e.library }

// Execute invokes a procedure synchronously. Inside an invocation the
// new context nests under the active one; outside, a root context is
// opened with the identity WithIdentity attached. The caller needs the
// read permission on the procedure's path, and a procedure already on
// the chain may not be invoked again.
func (e *Executor) Execute(ctx context.Context, name string, args []interface{}) (interface{}, error) {
	parent := Active(ctx)
	user, session := IdentityFrom(ctx)

	var subject access.Subject
	if user != nil {
		subject = user
	}
	if err := e.authorizer.Require(ctx, subject, ProcedurePath(name), access.PermRead); err != nil {
		return nil, err
	}
	if parent != nil && chainHas(parent, name) {
		return nil, fmt.Errorf("%w: %s already on call chain", ErrRecursion, name)
	}

	proc, err := e.library.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	bound, err := BindArgs(proc.Bindings(), args)
	if err != nil {
		return nil, err
	}

	source := "api"
	if parent != nil {
		source = "call:" + parent.Procedure()
	}
	cc := newCallContext(source, name, parent, user, session)
	e.track(cc)
	defer e.untrack(cc)

	result, err := e.run(With(ctx, cc), cc, proc, bound)
	cc.close(result, err)
	return result, err
}

// ExecuteDelayed schedules an invocation to run after delay in a fresh
// root context carrying the current identity. Failures of the delayed
// run are logged, never propagated. Returns the id the future context
// will have.
func (e *Executor) ExecuteDelayed(ctx context.Context, name string, args []interface{}, delay time.Duration) (string, error) {
	if delay <= 0 || delay > e.maxDelay {
		return "", fmt.Errorf("%w: delay %s out of range (0, %s]", storage.ErrInvalidArgument, delay, e.maxDelay)
	}
	user, session := IdentityFrom(ctx)

	var subject access.Subject
	if user != nil {
		subject = user
	}
	if err := e.authorizer.Require(ctx, subject, ProcedurePath(name), access.PermRead); err != nil {
		return "", err
	}

	cc := newCallContext("delayed", name, nil, user, session)
	e.track(cc)

	e.scheduler.After(delay, func() {
		defer e.untrack(cc)

		bg := With(context.Background(), cc)
		proc, err := e.library.Resolve(bg, name)
		if err == nil {
			var bound *Args
			bound, err = BindArgs(proc.Bindings(), args)
			if err == nil {
				var result interface{}
				result, err = e.run(bg, cc, proc, bound)
				cc.close(result, err)
			}
		}
		if err != nil {
			cc.close(nil, err)
			e.logger.Warn("Delayed invocation failed",
				zap.String("procedure", name),
				zap.String("context", cc.ID()),
				zap.Error(err))
		}
	})
	return cc.ID(), nil
}

// run executes proc inside cc, converting panics into errors.
func (e *Executor) run(ctx context.Context, cc *Context, proc Procedure, args *Args) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("procedure %s panicked: %v", cc.Procedure(), r)
			e.logger.Error("Procedure panic",
				zap.String("procedure", cc.Procedure()),
				zap.String("context", cc.ID()),
				zap.Any("panic", r))
		}
	}()
	start := time.Now()
	result, err = proc.Call(ctx, args)
	e.logger.Debug("Procedure finished",
		zap.String("procedure", cc.Procedure()),
		zap.String("context", cc.ID()),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("failed", err != nil))
	return result, err
}

// Trace returns a live context by id, for progress and log inspection.
func (e *Executor) Trace(id string) (*Context, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cc, ok := e.active[id]
	return cc, ok
}

// ActiveContexts lists the contexts currently tracked.
func (e *Executor) ActiveContexts() []*Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Context, 0, len(e.active))
	for _, cc := range e.active {
		out = append(out, cc)
	}
	return out
}

// Interrupt signals a tracked context by id.
func (e *Executor) Interrupt(id string) error {
	cc, ok := e.Trace(id)
	if !ok {
		return fmt.Errorf("%w: context %s", storage.ErrNotFound, id)
	}
	cc.Interrupt()
	return nil
}

func (e *Executor) track(cc *Context) {
	e.mu.Lock()
	e.active[cc.ID()] = cc
	e.mu.Unlock()
}

func (e *Executor) untrack(cc *Context) {
	e.mu.Lock()
	delete(e.active, cc.ID())
	e.mu.Unlock()
}

// chainHas matches procedure names the way via grants do, ignoring
// case.
func chainHas(cc *Context, name string) bool {
	for _, n := range cc.Chain() {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// IsDenied reports whether err is an access refusal, including the
// recursion guard.
func IsDenied(err error) bool {
	return errors.Is(err, access.ErrAccessDenied)
}
