// Package script resolves procedures defined as stored JavaScript.
// A definition lives under the procedure tree as a dictionary with a
// "source" string and optional "bindings" list; execution happens in a
// sandboxed goja runtime whose host facilities route back through the
// permission-checked invocation engine.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/storage"
)

// DefaultTimeout bounds a single script run.
const DefaultTimeout = 30 * time.Second

// Invoker runs named procedures on behalf of a script. The executor
// satisfies it.
type Invoker interface {
	Execute(ctx context.Context, name string, args []interface{}) (interface{}, error)
}

// Resolver loads script procedure definitions from the store.
type Resolver struct {
	store   *storage.Store
	invoker Invoker
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver creates a resolver over the store. invoker handles the
// substrate.* host calls scripts make.
func NewResolver(store *storage.Store, invoker Invoker, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, invoker: invoker, timeout: DefaultTimeout, logger: logger}
}

// SetTimeout bounds script runs. Non-positive restores the default.
func (r *Resolver) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	r.timeout = d
}

// Resolve loads the stored definition for name.
func (r *Resolver) Resolve(ctx context.Context, name string) (call.Procedure, error) {
	obj, err := r.store.Load(ctx, call.ProcedurePath(name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: procedure %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	dict, err := obj.AsDict(false)
	if err != nil {
		return nil, fmt.Errorf("%w: procedure %q is not a dictionary", storage.ErrInvalidArgument, name)
	}
	return procedureFromDict(r, name, dict)
}

func procedureFromDict(r *Resolver, name string, dict map[string]interface{}) (*Procedure, error) {
	source, _ := dict["source"].(string)
	if source == "" {
		return nil, fmt.Errorf("%w: procedure %q has no source", storage.ErrInvalidArgument, name)
	}
	p := &Procedure{resolver: r, name: name, source: source}
	if desc, ok := dict["description"].(string); ok {
		p.description = desc
	}
	if raw, ok := dict["bindings"].([]interface{}); ok {
		for _, rb := range raw {
			bd, ok := rb.(map[string]interface{})
			if !ok {
				continue
			}
			b := call.Binding{Type: call.TypeAny}
			if v, ok := bd["name"].(string); ok {
				b.Name = v
			}
			if v, ok := bd["type"].(string); ok {
				b.Type = v
			}
			if v, ok := bd["description"].(string); ok {
				b.Description = v
			}
			if v, ok := bd["required"].(bool); ok {
				b.Required = v
			}
			b.Default = bd["default"]
			if b.Name == "" {
				return nil, fmt.Errorf("%w: procedure %q has an unnamed binding", storage.ErrInvalidArgument, name)
			}
			p.bindings = append(p.bindings, b)
		}
	}
	return p, nil
}

// Procedure is one resolved script definition.
type Procedure struct {
	resolver    *Resolver
	name        string
	source      string
	description string
	bindings    []call.Binding
}

func (p *Procedure) Name() string { return p.name }

func (p *Procedure) Bindings() []call.Binding { return p.bindings }

// Call compiles and runs the script. The source's final expression, or
// the value of an exported `result` variable, becomes the result.
func (p *Procedure) Call(ctx context.Context, args *call.Args) (interface{}, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	runCtx, cancel := context.WithTimeout(ctx, p.resolver.timeout)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("script timed out")
		case <-stop:
		}
	}()
	if cc := call.Active(ctx); cc != nil {
		go func() {
			select {
			case <-cc.Done():
				vm.Interrupt("interrupted")
			case <-stop:
			}
		}()
	}

	var hostErr error
	if err := p.install(runCtx, vm, args, &hostErr); err != nil {
		return nil, err
	}

	value, err := vm.RunScript(p.name, p.source)
	if err != nil {
		// A host-call failure surfaces in the script as a thrown
		// exception; report the original error when it escaped.
		if hostErr != nil {
			return nil, fmt.Errorf("procedure %s: %w", p.name, hostErr)
		}
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("procedure %s: %v", p.name, interrupted.Value())
		}
		return nil, fmt.Errorf("procedure %s: %w", p.name, err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// install wires the host environment: the resolved args, a console
// logging into the call context, and the substrate object. hostErr
// records the last failed host call for error reporting.
func (p *Procedure) install(ctx context.Context, vm *goja.Runtime, args *call.Args, hostErr *error) error {
	if err := vm.Set("args", args.Map()); err != nil {
		return err
	}

	cc := call.Active(ctx)
	console := vm.NewObject()
	logFn := func(fc goja.FunctionCall) goja.Value {
		line := ""
		for i, a := range fc.Arguments {
			if i > 0 {
				line += " "
			}
			line += a.String()
		}
		if cc != nil {
			cc.Log(line)
		}
		p.resolver.logger.Debug("Script log", zap.String("procedure", p.name), zap.String("line", line))
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = console.Set("error", logFn)
	if err := vm.Set("console", console); err != nil {
		return err
	}

	invoke := func(name string, callArgs []interface{}) (interface{}, error) {
		result, err := p.resolver.invoker.Execute(ctx, name, callArgs)
		if err != nil {
			*hostErr = err
		}
		return result, err
	}

	substrate := vm.NewObject()
	_ = substrate.Set("call", func(name string, callArgs ...interface{}) (interface{}, error) {
		return invoke(name, callArgs)
	})
	_ = substrate.Set("read", func(path string, opts ...map[string]interface{}) (interface{}, error) {
		return invoke("system/storage/read", pathArgs(path, opts))
	})
	_ = substrate.Set("write", func(path string, value interface{}, opts ...map[string]interface{}) (interface{}, error) {
		callArgs := []interface{}{path, value}
		if len(opts) > 0 {
			callArgs = append(callArgs, opts[0])
		}
		return invoke("system/storage/write", callArgs)
	})
	_ = substrate.Set("remove", func(path string) (interface{}, error) {
		return invoke("system/storage/delete", []interface{}{path})
	})
	_ = substrate.Set("query", func(path string, opts ...map[string]interface{}) (interface{}, error) {
		return invoke("system/storage/query", pathArgs(path, opts))
	})
	_ = substrate.Set("progress", func(pct float64) {
		if cc != nil {
			cc.SetProgress(pct)
		}
	})
	if cc != nil {
		_ = substrate.Set("contextId", cc.ID())
		if u := cc.User(); u != nil {
			_ = substrate.Set("user", u.ID)
		}
	}
	return vm.Set("substrate", substrate)
}

func pathArgs(path string, opts []map[string]interface{}) []interface{} {
	callArgs := []interface{}{path}
	if len(opts) > 0 {
		callArgs = append(callArgs, opts[0])
	}
	return callArgs
}
