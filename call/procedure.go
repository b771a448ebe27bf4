package call

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/substratehq/substrate/storage"
)

// Procedure is a callable unit of work. Call receives an already
// pushed call context carrying identity and chain state.
type Procedure interface {
	Name() string
	Bindings() []Binding
	Call(ctx context.Context, args *Args) (interface{}, error)
}

// Resolver looks up procedures that are not registered in code, such
// as script procedures stored under the procedure tree.
type Resolver interface {
	Resolve(ctx context.Context, name string) (Procedure, error)
}

// Library resolves procedure names. Registered builtins take
// precedence over any configured resolver.
type Library struct {
	mu       sync.RWMutex
	builtins map[string]Procedure
	resolver Resolver
}

func NewLibrary() *Library {
	return &Library{builtins: make(map[string]Procedure)}
}

// Register adds a builtin procedure. Re-registering a name replaces
// the previous entry.
func (l *Library) Register(p Procedure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.builtins[p.Name()] = p
}

// SetResolver installs the fallback used for names with no builtin.
func (l *Library) SetResolver(r Resolver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolver = r
}

// Resolve returns the procedure registered or resolvable under name.
func (l *Library) Resolve(ctx context.Context, name string) (Procedure, error) {
	l.mu.RLock()
	p, ok := l.builtins[name]
	r := l.resolver
	l.mu.RUnlock()
	if ok {
		return p, nil
	}
	if r != nil {
		return r.Resolve(ctx, name)
	}
	return nil, fmt.Errorf("%w: procedure %q", storage.ErrNotFound, name)
}

// Builtins lists registered builtin names, sorted.
func (l *Library) Builtins() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.builtins))
	for n := range l.builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function into a Procedure.
type Func struct {
	ProcName     string
	ProcBindings []Binding
	Fn           func(ctx context.Context, args *Args) (interface{}, error)
}

func (f *Func) Name() string        { return f.ProcName }
func (f *Func) Bindings() []Binding { return f.ProcBindings }
func (f *Func) Call(ctx context.Context, args *Args) (interface{}, error) {
	return f.Fn(ctx, args)
}
