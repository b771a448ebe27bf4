// Package builtin registers the system procedure set: storage access,
// permission checks and call-context helpers. These are the host
// facilities script procedures and API clients compose.
package builtin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/access"
	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
)

// Deps carries the services the builtins operate on.
type Deps struct {
	Store      *storage.Store
	Authorizer *access.Authorizer
	Logger     *zap.Logger
}

// Register installs the system procedures into the library.
func Register(lib *call.Library, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	b := &builtins{deps: deps}

	lib.Register(&call.Func{
		ProcName: "system/echo",
		ProcBindings: []call.Binding{
			{Name: "value", Type: call.TypeAny, Description: "value to return unchanged"},
		},
		Fn: b.echo,
	})
	lib.Register(&call.Func{
		ProcName: "system/sleep",
		ProcBindings: []call.Binding{
			{Name: "millis", Type: call.TypeInt, Required: true, Description: "duration to sleep in milliseconds"},
		},
		Fn: b.sleep,
	})
	lib.Register(&call.Func{
		ProcName: "system/storage/read",
		ProcBindings: []call.Binding{
			{Name: "path", Type: call.TypeString, Required: true},
			{Name: "options", Type: call.TypeDict},
		},
		Fn: b.storageRead,
	})
	lib.Register(&call.Func{
		ProcName: "system/storage/write",
		ProcBindings: []call.Binding{
			{Name: "path", Type: call.TypeString, Required: true},
			{Name: "value", Type: call.TypeAny},
			{Name: "options", Type: call.TypeDict},
		},
		Fn: b.storageWrite,
	})
	lib.Register(&call.Func{
		ProcName: "system/storage/delete",
		ProcBindings: []call.Binding{
			{Name: "path", Type: call.TypeString, Required: true},
		},
		Fn: b.storageDelete,
	})
	lib.Register(&call.Func{
		ProcName: "system/storage/query",
		ProcBindings: []call.Binding{
			{Name: "path", Type: call.TypeString, Required: true},
			{Name: "options", Type: call.TypeDict},
		},
		Fn: b.storageQuery,
	})
	lib.Register(&call.Func{
		ProcName: "system/storage/metadata",
		ProcBindings: []call.Binding{
			{Name: "path", Type: call.TypeString, Required: true},
		},
		Fn: b.storageMetadata,
	})
	lib.Register(&call.Func{
		ProcName: "system/access/check",
		ProcBindings: []call.Binding{
			{Name: "path", Type: call.TypeString, Required: true},
			{Name: "permission", Type: call.TypeString, Required: true},
			{Name: "via", Type: call.TypeString},
		},
		Fn: b.accessCheck,
	})
	lib.Register(&call.Func{
		ProcName: "system/user/current",
		Fn:       b.userCurrent,
	})
	lib.Register(&call.Func{
		ProcName: "system/context/progress",
		ProcBindings: []call.Binding{
			{Name: "percent", Type: call.TypeFloat, Required: true},
		},
		Fn: b.contextProgress,
	})
	lib.Register(&call.Func{
		ProcName: "system/context/log",
		ProcBindings: []call.Binding{
			{Name: "line", Type: call.TypeString, Required: true},
		},
		Fn: b.contextLog,
	})
}

type builtins struct {
	deps Deps
}

func (b *builtins) subject(ctx context.Context) access.Subject {
	user, _ := call.IdentityFrom(ctx)
	if user == nil {
		return nil
	}
	return user
}

func (b *builtins) path(args *call.Args) (vpath.Path, error) {
	return vpath.Parse(args.String("path", ""))
}

func (b *builtins) echo(_ context.Context, args *call.Args) (interface{}, error) {
	v, _ := args.Get("value")
	return v, nil
}

func (b *builtins) sleep(ctx context.Context, args *call.Args) (interface{}, error) {
	millis := args.Int("millis", 0)
	if millis < 0 {
		return nil, fmt.Errorf("%w: negative sleep", storage.ErrInvalidArgument)
	}
	timer := time.NewTimer(time.Duration(millis) * time.Millisecond)
	defer timer.Stop()

	var interrupted <-chan struct{}
	if cc := call.Active(ctx); cc != nil {
		interrupted = cc.Done()
	}
	select {
	case <-timer.C:
		return nil, nil
	case <-interrupted:
		return nil, fmt.Errorf("sleep interrupted")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *builtins) storageRead(ctx context.Context, args *call.Args) (interface{}, error) {
	p, err := b.path(args)
	if err != nil {
		return nil, err
	}
	if err := b.deps.Authorizer.Require(ctx, b.subject(ctx), p, access.PermRead); err != nil {
		return nil, err
	}

	opts := args.Dict("options")
	computed := optBool(opts, "computed", false)

	obj, err := b.deps.Store.Load(ctx, p)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	value, err := obj.AsDict(computed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s holds binary content", storage.ErrInvalidArgument, p)
	}
	if !optBool(opts, "metadata", false) {
		return value, nil
	}
	md, err := b.deps.Store.Lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"value": value, "metadata": md.Dict()}, nil
}

func (b *builtins) storageWrite(ctx context.Context, args *call.Args) (interface{}, error) {
	p, err := b.path(args)
	if err != nil {
		return nil, err
	}
	if err := b.deps.Authorizer.Require(ctx, b.subject(ctx), p, access.PermWrite); err != nil {
		return nil, err
	}

	opts := args.Dict("options")
	putOpts := storage.PutOptions{
		Format: optString(opts, "format", ""),
		Update: optBool(opts, "update", false),
	}

	value, _ := args.Get("value")
	var obj *storage.Object
	if value != nil {
		dict, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: value must be a dictionary or null", storage.ErrInvalidArgument)
		}
		obj = storage.NewDict(dict)
	}
	if err := b.deps.Store.Put(ctx, p, obj, putOpts); err != nil {
		return nil, err
	}
	return nil, nil
}

func (b *builtins) storageDelete(ctx context.Context, args *call.Args) (interface{}, error) {
	p, err := b.path(args)
	if err != nil {
		return nil, err
	}
	if err := b.deps.Authorizer.Require(ctx, b.subject(ctx), p, access.PermWrite); err != nil {
		return nil, err
	}
	return b.deps.Store.Remove(ctx, p)
}

func (b *builtins) storageQuery(ctx context.Context, args *call.Args) (interface{}, error) {
	p, err := b.path(args)
	if err != nil {
		return nil, err
	}
	subject := b.subject(ctx)
	if err := b.deps.Authorizer.Require(ctx, subject, p, access.PermSearch); err != nil {
		return nil, err
	}

	opts := args.Dict("options")
	q := b.deps.Store.Query(p).Access(b.deps.Authorizer.Filter(subject, access.PermRead))
	if v, ok := optInt(opts, "depth"); ok {
		q = q.Depth(v)
	}
	if v, ok := optInt(opts, "limit"); ok {
		q = q.Limit(v)
	}
	if v := optString(opts, "fileType", ""); v != "" {
		q = q.FileType(v)
	}
	if v := optString(opts, "mimeType", ""); v != "" {
		q = q.MIMEType(v)
	}
	if v := optString(opts, "category", ""); v != "" {
		q = q.Category(storage.Category(v))
	}

	items, err := q.Run(ctx)
	if err != nil {
		return nil, err
	}
	withMeta := optBool(opts, "metadata", false)
	out := make([]interface{}, 0, len(items))
	for _, md := range items {
		if withMeta {
			out = append(out, md.Dict())
		} else {
			out = append(out, md.Path.String())
		}
	}
	return out, nil
}

func (b *builtins) storageMetadata(ctx context.Context, args *call.Args) (interface{}, error) {
	p, err := b.path(args)
	if err != nil {
		return nil, err
	}
	if err := b.deps.Authorizer.Require(ctx, b.subject(ctx), p, access.PermRead); err != nil {
		return nil, err
	}
	md, err := b.deps.Store.Lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	return md.Dict(), nil
}

func (b *builtins) accessCheck(ctx context.Context, args *call.Args) (interface{}, error) {
	p, err := b.path(args)
	if err != nil {
		return nil, err
	}
	perm := args.String("permission", "")
	if perm == "" {
		return nil, fmt.Errorf("%w: empty permission", storage.ErrInvalidArgument)
	}
	if via := args.String("via", ""); via != "" {
		return b.deps.Authorizer.HasAccessVia(ctx, b.subject(ctx), p, perm, via), nil
	}
	return b.deps.Authorizer.HasAccess(ctx, b.subject(ctx), p, perm), nil
}

func (b *builtins) userCurrent(ctx context.Context, _ *call.Args) (interface{}, error) {
	user, _ := call.IdentityFrom(ctx)
	if user == nil {
		return nil, nil
	}
	return user.ToDict(true), nil
}

// contextProgress reports on the calling procedure's context, not the
// builtin's own short-lived one.
func (b *builtins) contextProgress(ctx context.Context, args *call.Args) (interface{}, error) {
	cc := targetContext(ctx)
	if cc == nil {
		return nil, fmt.Errorf("%w: no active call context", storage.ErrInvalidArgument)
	}
	if v, ok := args.Get("percent"); ok {
		if f, isFloat := v.(float64); isFloat {
			cc.SetProgress(f)
		}
	}
	return nil, nil
}

func (b *builtins) contextLog(ctx context.Context, args *call.Args) (interface{}, error) {
	cc := targetContext(ctx)
	if cc == nil {
		return nil, fmt.Errorf("%w: no active call context", storage.ErrInvalidArgument)
	}
	cc.Log(args.String("line", ""))
	return nil, nil
}

func targetContext(ctx context.Context) *call.Context {
	cc := call.Active(ctx)
	if cc == nil {
		return nil
	}
	if parent := cc.Parent(); parent != nil {
		return parent
	}
	return cc
}

func optBool(opts map[string]interface{}, key string, def bool) bool {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

func optString(opts map[string]interface{}, key, def string) string {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(string); ok {
		return v
	}
	return def
}

func optInt(opts map[string]interface{}, key string) (int, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
