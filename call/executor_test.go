package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/substratehq/substrate/access"
	"github.com/substratehq/substrate/storage"
)

type staticRoles map[string]*access.Role

func (r staticRoles) Role(_ context.Context, id string) (*access.Role, error) {
	role, ok := r[id]
	if !ok {
		return nil, access.ErrRoleNotFound
	}
	return role, nil
}

// immediateScheduler runs deferred work synchronously.
type immediateScheduler struct{}

func (immediateScheduler) After(_ time.Duration, fn func()) { fn() }

func newTestExecutor(t *testing.T, roles staticRoles) *Executor {
	t.Helper()
	auth := access.NewAuthorizer(roles, ChainNames, []string{"anonymous"}, nil)
	return NewExecutor(NewLibrary(), auth, nil)
}

func allowProcedures() staticRoles {
	return staticRoles{
		"anonymous": {
			ID: "anonymous",
			Grants: []access.Grant{
				{Pattern: "/procedures/**", Permission: access.PermRead},
			},
		},
	}
}

func TestExecuteResolvesBindings(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())
	e.Library().Register(&Func{
		ProcName: "greet",
		ProcBindings: []Binding{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "loud", Type: TypeBool, Default: false},
		},
		Fn: func(_ context.Context, args *Args) (interface{}, error) {
			msg := "hello " + args.String("name", "")
			if args.Bool("loud", false) {
				msg += "!"
			}
			return msg, nil
		},
	})

	result, err := e.Execute(context.Background(), "greet", []interface{}{"world", map[string]interface{}{"loud": true}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "hello world!" {
		t.Fatalf("result = %v", result)
	}
}

func TestExecuteMissingRequiredBinding(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())
	e.Library().Register(&Func{
		ProcName:     "need",
		ProcBindings: []Binding{{Name: "x", Type: TypeInt, Required: true}},
		Fn: func(_ context.Context, args *Args) (interface{}, error) {
			return args.Int("x", 0), nil
		},
	})

	_, err := e.Execute(context.Background(), "need", nil)
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestExecuteDeniedWithoutGrant(t *testing.T) {
	e := newTestExecutor(t, staticRoles{})
	e.Library().Register(&Func{
		ProcName: "secret",
		Fn: func(_ context.Context, _ *Args) (interface{}, error) {
			return nil, nil
		},
	})

	_, err := e.Execute(context.Background(), "secret", nil)
	if !errors.Is(err, access.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestRecursionGuard(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())

	e.Library().Register(&Func{
		ProcName: "outer",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			return e.Execute(ctx, "outer", nil)
		},
	})
	if _, err := e.Execute(context.Background(), "outer", nil); !errors.Is(err, ErrRecursion) {
		t.Fatalf("direct recursion: expected ErrRecursion, got %v", err)
	}

	e.Library().Register(&Func{
		ProcName: "a",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			return e.Execute(ctx, "b", nil)
		},
	})
	e.Library().Register(&Func{
		ProcName: "b",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			return e.Execute(ctx, "a", nil)
		},
	})
	if _, err := e.Execute(context.Background(), "a", nil); !errors.Is(err, ErrRecursion) {
		t.Fatalf("indirect recursion: expected ErrRecursion, got %v", err)
	}

	// Name matching ignores case, like via grants.
	e.Library().Register(&Func{
		ProcName: "shifty",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			return e.Execute(ctx, "SHIFTY", nil)
		},
	})
	if _, err := e.Execute(context.Background(), "shifty", nil); !errors.Is(err, ErrRecursion) {
		t.Fatalf("case-shifted recursion: expected ErrRecursion, got %v", err)
	}

	// Sequential re-invocation after the first call closed is fine.
	calls := 0
	e.Library().Register(&Func{
		ProcName: "counted",
		Fn: func(_ context.Context, _ *Args) (interface{}, error) {
			calls++
			return calls, nil
		},
	})
	e.Library().Register(&Func{
		ProcName: "twice",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			if _, err := e.Execute(ctx, "counted", nil); err != nil {
				return nil, err
			}
			return e.Execute(ctx, "counted", nil)
		},
	})
	result, err := e.Execute(context.Background(), "twice", nil)
	if err != nil {
		t.Fatalf("sequential calls: %v", err)
	}
	if result != 2 {
		t.Fatalf("sequential calls: result = %v", result)
	}
}

func TestNestedContextChain(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())

	var innerChain []string
	e.Library().Register(&Func{
		ProcName: "inner",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			innerChain = ChainNames(ctx)
			return nil, nil
		},
	})
	e.Library().Register(&Func{
		ProcName: "wrapper",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			return e.Execute(ctx, "inner", nil)
		},
	})

	if _, err := e.Execute(context.Background(), "wrapper", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(innerChain) != 2 || innerChain[0] != "inner" || innerChain[1] != "wrapper" {
		t.Fatalf("chain = %v", innerChain)
	}
}

func TestExecuteDelayed(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())
	e.SetScheduler(immediateScheduler{})

	var chain []string
	e.Library().Register(&Func{
		ProcName: "later",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			chain = ChainNames(ctx)
			return "done", nil
		},
	})
	e.Library().Register(&Func{
		ProcName: "spawner",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			return e.ExecuteDelayed(ctx, "later", nil, time.Second)
		},
	})

	id, err := e.Execute(context.Background(), "spawner", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if id == "" {
		t.Fatal("expected delayed context id")
	}
	// The delayed run is a fresh root: no inherited chain.
	if len(chain) != 1 || chain[0] != "later" {
		t.Fatalf("delayed chain = %v", chain)
	}
}

func TestExecuteDelayedBounds(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())
	e.Library().Register(&Func{
		ProcName: "noop",
		Fn:       func(_ context.Context, _ *Args) (interface{}, error) { return nil, nil },
	})

	for _, delay := range []time.Duration{0, -time.Second, DefaultMaxDelay + time.Second} {
		if _, err := e.ExecuteDelayed(context.Background(), "noop", nil, delay); !errors.Is(err, storage.ErrInvalidArgument) {
			t.Fatalf("delay %s: expected invalid argument, got %v", delay, err)
		}
	}
}

func TestExecuteDelayedFailureNotPropagated(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())
	e.SetScheduler(immediateScheduler{})
	e.Library().Register(&Func{
		ProcName: "boom",
		Fn: func(_ context.Context, _ *Args) (interface{}, error) {
			return nil, errors.New("exploded")
		},
	})

	if _, err := e.ExecuteDelayed(context.Background(), "boom", nil, time.Second); err != nil {
		t.Fatalf("scheduling should not surface the run error, got %v", err)
	}
}

func TestPanicRecovered(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())
	e.Library().Register(&Func{
		ProcName: "panics",
		Fn: func(_ context.Context, _ *Args) (interface{}, error) {
			panic("oh no")
		},
	})

	_, err := e.Execute(context.Background(), "panics", nil)
	if err == nil {
		t.Fatal("expected error from panicking procedure")
	}
}

func TestProgressAndTrace(t *testing.T) {
	e := newTestExecutor(t, allowProcedures())

	e.Library().Register(&Func{
		ProcName: "working",
		Fn: func(ctx context.Context, _ *Args) (interface{}, error) {
			cc := Active(ctx)
			cc.SetProgress(50)
			traced, ok := e.Trace(cc.ID())
			if !ok {
				t.Fatal("running context not traceable")
			}
			if p := traced.Progress(); p != 50 {
				t.Fatalf("progress = %v", p)
			}
			cc.Log("halfway")
			return nil, nil
		},
	})
	if _, err := e.Execute(context.Background(), "working", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := e.Trace("missing"); ok {
		t.Fatal("unknown id should not trace")
	}
}

func TestBindArgsTrailingDict(t *testing.T) {
	bindings := []Binding{
		{Name: "path", Type: TypeString, Required: true},
		{Name: "opts", Type: TypeDict},
	}

	// Trailing dict fills a dict-typed final binding positionally.
	args, err := BindArgs(bindings, []interface{}{"/x", map[string]interface{}{"limit": 5}})
	if err != nil {
		t.Fatalf("BindArgs: %v", err)
	}
	if d := args.Dict("opts"); d == nil || d["limit"] != 5 {
		t.Fatalf("opts = %v", args.Dict("opts"))
	}

	// An any-typed final slot holds a dictionary positionally too.
	anyLast := []Binding{
		{Name: "path", Type: TypeString, Required: true},
		{Name: "value", Type: TypeAny},
		{Name: "opts", Type: TypeDict},
	}
	args, err = BindArgs(anyLast, []interface{}{"/x", map[string]interface{}{"id": "x"}})
	if err != nil {
		t.Fatalf("BindArgs: %v", err)
	}
	if d := args.Dict("value"); d == nil || d["id"] != "x" {
		t.Fatalf("value = %v", args.Dict("value"))
	}
	if d := args.Dict("opts"); d != nil {
		t.Fatalf("opts = %v, want unset", d)
	}

	// With no dict binding it becomes named options.
	args, err = BindArgs(bindings[:1], []interface{}{"/x", map[string]interface{}{"extra": true}})
	if err != nil {
		t.Fatalf("BindArgs: %v", err)
	}
	if v, _ := args.Get("extra"); v != true {
		t.Fatalf("extra = %v", v)
	}

	// Overflow past the binding list always strips to named options.
	args, err = BindArgs(anyLast, []interface{}{"/x", nil, map[string]interface{}{"u": 1}, map[string]interface{}{"update": true}})
	if err != nil {
		t.Fatalf("BindArgs: %v", err)
	}
	if v := args.Bool("update", false); !v {
		t.Fatalf("update option lost")
	}
}
