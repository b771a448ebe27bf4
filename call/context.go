// Package call implements procedure invocation: nested call contexts,
// binding resolution, the procedure library and the synchronous and
// delayed execution paths. Contexts are passed explicitly through
// context.Context; the chain of parents is what the access engine's
// "via" checks walk.
package call

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/substratehq/substrate/sessions"
	"github.com/substratehq/substrate/users"
)

// State is the lifecycle state of a call context.
type State int

const (
	// StateRunning is a context between creation and close.
	StateRunning State = iota
	// StateClosed is a normally finished context.
	StateClosed
	// StateFailed is a context closed with an error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Context is the state of one procedure invocation. Parent links form
// the call stack; an asynchronous invocation starts a new root with no
// parent.
type Context struct {
	id      string
	source  string
	created time.Time

	session *sessions.Session
	user    *users.User
	parent  *Context

	mu        sync.Mutex
	procedure string
	started   time.Time
	ended     time.Time
	progress  float64
	result    interface{}
	err       error
	log       []string
	state     State

	interrupt chan struct{}
	intOnce   sync.Once
}

func newCallContext(source, procedure string, parent *Context, user *users.User, session *sessions.Session) *Context {
	return &Context{
		id:        newContextID(),
		source:    source,
		created:   time.Now(),
		procedure: procedure,
		started:   time.Now(),
		parent:    parent,
		user:      user,
		session:   session,
		interrupt: make(chan struct{}),
	}
}

func newContextID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "ctx-" + hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}

// ID returns the context id.
func (c *Context) ID() string { return c.id }

// Source describes who initiated the invocation.
func (c *Context) Source() string { return c.source }

// Procedure returns the invoked procedure name.
func (c *Context) Procedure() string { return c.procedure }

// Parent returns the calling context, nil for a root.
func (c *Context) Parent() *Context { return c.parent }

// User returns the authenticated user, nil for anonymous.
func (c *Context) User() *users.User { return c.user }

// Session returns the originating session, may be nil.
func (c *Context) Session() *sessions.Session { return c.session }

// Created returns the creation time.
func (c *Context) Created() time.Time { return c.created }

// State returns the lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetProgress records a progress indicator, clamped to [0, 100].
func (c *Context) SetProgress(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	c.mu.Lock()
	c.progress = p
	c.mu.Unlock()
}

// Progress returns the progress indicator. A finished context reports
// 100 regardless of the last recorded value.
func (c *Context) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return 100
	}
	return c.progress
}

// Log appends a line to the context's append-only log buffer.
func (c *Context) Log(line string) {
	c.mu.Lock()
	c.log = append(c.log, line)
	c.mu.Unlock()
}

// LogLines returns a copy of the accumulated log.
func (c *Context) LogLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.log))
	copy(out, c.log)
	return out
}

// Result returns the recorded result once closed.
func (c *Context) Result() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Err returns the recorded error once closed.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Duration returns the elapsed execution time.
func (c *Context) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended.IsZero() {
		return time.Since(c.started)
	}
	return c.ended.Sub(c.started)
}

// Interrupt signals the executing code through Done. It does not unwind
// the call chain; cleanup stays with the interrupted code's own exit
// path.
func (c *Context) Interrupt() {
	c.intOnce.Do(func() { close(c.interrupt) })
}

// Done is closed when the context is interrupted.
func (c *Context) Done() <-chan struct{} { return c.interrupt }

// close records the outcome. Closing a context twice is a no-op.
func (c *Context) close(result interface{}, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return
	}
	c.ended = time.Now()
	c.result = result
	c.err = err
	if err != nil {
		c.state = StateFailed
	} else {
		c.state = StateClosed
	}
}

// Chain returns the procedure names on the stack from this context to
// the root, innermost first.
func (c *Context) Chain() []string {
	var names []string
	for cc := c; cc != nil; cc = cc.parent {
		names = append(names, cc.procedure)
	}
	return names
}

type activeKey struct{}

type identityKey struct{}

type identity struct {
	user    *users.User
	session *sessions.Session
}

// With returns a context carrying cc as the active call context.
func With(ctx context.Context, cc *Context) context.Context {
	return context.WithValue(ctx, activeKey{}, cc)
}

// Active returns the active call context, nil when outside any
// invocation.
func Active(ctx context.Context) *Context {
	cc, _ := ctx.Value(activeKey{}).(*Context)
	return cc
}

// WithIdentity attaches an authenticated principal and session to a
// context before the first invocation. Nested invocations inherit the
// identity of their parent call context instead.
func WithIdentity(ctx context.Context, user *users.User, session *sessions.Session) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{user: user, session: session})
}

// IdentityFrom resolves the effective principal: the active call
// context's if inside an invocation, else whatever WithIdentity set.
func IdentityFrom(ctx context.Context) (*users.User, *sessions.Session) {
	if cc := Active(ctx); cc != nil {
		return cc.user, cc.session
	}
	id, _ := ctx.Value(identityKey{}).(identity)
	return id.user, id.session
}

// ChainNames reports the procedure names active in the current call
// chain, innermost first. The access engine consumes this for "via"
// grants.
func ChainNames(ctx context.Context) []string {
	cc := Active(ctx)
	if cc == nil {
		return nil
	}
	return cc.Chain()
}
