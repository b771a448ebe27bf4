package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/substratehq/substrate/access"
	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/call/builtin"
	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/storage/memory"
	"github.com/substratehq/substrate/users"
)

type staticRoles map[string]*access.Role

func (r staticRoles) Role(_ context.Context, id string) (*access.Role, error) {
	role, ok := r[id]
	if !ok {
		return nil, access.ErrRoleNotFound
	}
	return role, nil
}

func newStack(t *testing.T) (*call.Executor, *storage.Store) {
	t.Helper()
	store := storage.New(nil)
	if err := store.AddMount(storage.Mount{
		Prefix:   vpath.MustParse("/"),
		Layer:    memory.New(),
		Writable: true,
		Source:   "test",
	}); err != nil {
		t.Fatalf("AddMount: %v", err)
	}
	roles := staticRoles{
		"admin": {
			ID: "admin",
			Grants: []access.Grant{
				{Pattern: "/**", Permission: access.PermRead},
				{Pattern: "/**", Permission: access.PermWrite},
				{Pattern: "/**", Permission: access.PermSearch},
			},
		},
	}
	auth := access.NewAuthorizer(roles, call.ChainNames, nil, nil)
	lib := call.NewLibrary()
	exec := call.NewExecutor(lib, auth, nil)
	builtin.Register(lib, builtin.Deps{Store: store, Authorizer: auth})
	lib.SetResolver(NewResolver(store, exec, nil))
	return exec, store
}

func adminCtx() context.Context {
	u := &users.User{ID: "root", Enabled: true, Roles: []string{"admin"}}
	return call.WithIdentity(context.Background(), u, nil)
}

func define(t *testing.T, store *storage.Store, name string, def map[string]interface{}) {
	t.Helper()
	err := store.Put(context.Background(), call.ProcedurePath(name), storage.NewDict(def), storage.PutOptions{})
	if err != nil {
		t.Fatalf("define %s: %v", name, err)
	}
}

func TestScriptResult(t *testing.T) {
	exec, store := newStack(t)
	define(t, store, "math/add", map[string]interface{}{
		"source": "args.a + args.b",
		"bindings": []interface{}{
			map[string]interface{}{"name": "a", "type": "int", "required": true},
			map[string]interface{}{"name": "b", "type": "int", "default": 10},
		},
	})

	result, err := exec.Execute(adminCtx(), "math/add", []interface{}{int64(5)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n, ok := result.(int64); !ok || n != 15 {
		t.Fatalf("result = %v (%T)", result, result)
	}
}

func TestScriptStorageRoundtrip(t *testing.T) {
	exec, store := newStack(t)
	define(t, store, "note/save", map[string]interface{}{
		"source": `
			substrate.write("/notes/first", {text: args.text});
			var loaded = substrate.read("/notes/first");
			loaded.text;
		`,
		"bindings": []interface{}{
			map[string]interface{}{"name": "text", "type": "string", "required": true},
		},
	})

	result, err := exec.Execute(adminCtx(), "note/save", []interface{}{"remember"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "remember" {
		t.Fatalf("result = %v", result)
	}
}

func TestScriptConsoleAndProgress(t *testing.T) {
	exec, store := newStack(t)

	// Observe the running script context from a nested procedure.
	var logged []string
	var progress float64
	exec.Library().Register(&call.Func{
		ProcName: "observe",
		ProcBindings: []call.Binding{
			{Name: "id", Type: call.TypeString, Required: true},
		},
		Fn: func(_ context.Context, args *call.Args) (interface{}, error) {
			cc, ok := exec.Trace(args.String("id", ""))
			if !ok {
				return nil, context.Canceled
			}
			logged = cc.LogLines()
			progress = cc.Progress()
			return nil, nil
		},
	})
	define(t, store, "driver", map[string]interface{}{
		"source": `
			console.log("before");
			substrate.progress(40);
			substrate.call("observe", substrate.contextId);
			"done";
		`,
	})

	result, err := exec.Execute(adminCtx(), "driver", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "done" {
		t.Fatalf("result = %v", result)
	}
	if len(logged) != 1 || logged[0] != "before" {
		t.Fatalf("log = %v", logged)
	}
	if progress != 40 {
		t.Fatalf("progress = %v", progress)
	}
}

func TestScriptNestedCallDenied(t *testing.T) {
	exec, store := newStack(t)
	define(t, store, "loop", map[string]interface{}{
		"source": `substrate.call("loop");`,
	})

	_, err := exec.Execute(adminCtx(), "loop", nil)
	if !errors.Is(err, call.ErrRecursion) {
		t.Fatalf("expected recursion refusal, got %v", err)
	}
}

func TestScriptMissingDefinition(t *testing.T) {
	exec, _ := newStack(t)
	_, err := exec.Execute(adminCtx(), "nowhere", nil)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestScriptTimeout(t *testing.T) {
	exec, store := newStack(t)
	define(t, store, "spin", map[string]interface{}{
		"source": `while (true) {}`,
	})

	r := NewResolver(store, exec, nil)
	r.SetTimeout(50 * time.Millisecond)
	exec.Library().SetResolver(r)

	start := time.Now()
	_, err := exec.Execute(adminCtx(), "spin", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("interrupt did not stop the script promptly")
	}
}

func TestScriptBadDefinition(t *testing.T) {
	exec, store := newStack(t)
	define(t, store, "empty", map[string]interface{}{"description": "no source"})

	_, err := exec.Execute(adminCtx(), "empty", nil)
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
