package storage_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/storage/memory"
)

func newStore(t *testing.T) (*storage.Store, *memory.Layer) {
	t.Helper()
	s := storage.New(nil)
	local := memory.New()
	if err := s.AddMount(storage.Mount{
		Prefix:   vpath.Root,
		Priority: 100,
		Layer:    local,
		Writable: true,
		Source:   "local",
	}); err != nil {
		t.Fatalf("AddMount: %v", err)
	}
	return s, local
}

func put(t *testing.T, s *storage.Store, path string, data map[string]interface{}) {
	t.Helper()
	if err := s.Put(context.Background(), vpath.MustParse(path), storage.NewDict(data), storage.PutOptions{}); err != nil {
		t.Fatalf("Put %s: %v", path, err)
	}
}

func TestPutLoadRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	put(t, s, "/data/x.json", map[string]interface{}{"id": "x", "v": 1})

	obj, err := s.Load(ctx, vpath.MustParse("/data/x.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dict, err := obj.AsDict(false)
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	if dict["id"] != "x" {
		t.Errorf("id = %v", dict["id"])
	}

	md, err := s.Lookup(ctx, vpath.MustParse("/data/x.json"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if md.MIME != "application/json" {
		t.Errorf("MIME = %q", md.MIME)
	}
	if md.Category != storage.CategoryObject {
		t.Errorf("Category = %q", md.Category)
	}
	if len(md.Mounts) != 1 || !md.Mounts[0].Equal(vpath.Root) {
		t.Errorf("Mounts = %v", md.Mounts)
	}
}

func TestLayerPrecedence(t *testing.T) {
	ctx := context.Background()
	s := storage.New(nil)

	lower := memory.New()
	higher := memory.New()
	x := vpath.MustParse("/x.json")

	if err := lower.Store(ctx, x, storage.NewDict(map[string]interface{}{"from": "A"})); err != nil {
		t.Fatal(err)
	}
	if err := higher.Store(ctx, x, storage.NewDict(map[string]interface{}{"from": "B"})); err != nil {
		t.Fatal(err)
	}

	if err := s.AddMount(storage.Mount{Prefix: vpath.Root, Priority: 1, Layer: lower, Source: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMount(storage.Mount{Prefix: vpath.Root, Priority: 2, Layer: higher, Source: "B"}); err != nil {
		t.Fatal(err)
	}

	loadFrom := func() string {
		obj, err := s.Load(ctx, x)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		d, _ := obj.AsDict(false)
		from, _ := d["from"].(string)
		return from
	}

	if got := loadFrom(); got != "B" {
		t.Errorf("expected higher layer to win, got %q", got)
	}

	if !s.RemoveMount(vpath.Root, "B") {
		t.Fatal("RemoveMount failed")
	}
	if got := loadFrom(); got != "A" {
		t.Errorf("expected lower layer after unmount, got %q", got)
	}
}

func TestIndexMergeNoDuplicates(t *testing.T) {
	ctx := context.Background()
	s := storage.New(nil)

	a := memory.New()
	b := memory.New()
	_ = a.Store(ctx, vpath.MustParse("/dir/one.json"), storage.NewDict(map[string]interface{}{"n": 1}))
	_ = a.Store(ctx, vpath.MustParse("/dir/shared.json"), storage.NewDict(map[string]interface{}{"layer": "a"}))
	_ = b.Store(ctx, vpath.MustParse("/dir/two.json"), storage.NewDict(map[string]interface{}{"n": 2}))
	_ = b.Store(ctx, vpath.MustParse("/dir/shared.json"), storage.NewDict(map[string]interface{}{"layer": "b"}))

	_ = s.AddMount(storage.Mount{Prefix: vpath.Root, Priority: 1, Layer: a, Source: "a"})
	_ = s.AddMount(storage.Mount{Prefix: vpath.Root, Priority: 2, Layer: b, Source: "b"})

	results, err := s.Query(vpath.MustParse("/dir/")).Depth(0).Run(ctx)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	names := map[string]int{}
	for _, md := range results {
		names[md.Path.Name()]++
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 merged children, got %d (%v)", len(results), names)
	}
	for name, n := range names {
		if n != 1 {
			t.Errorf("child %q appeared %d times", name, n)
		}
	}
}

func TestQueryDepth(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	put(t, s, "/root/top.json", map[string]interface{}{"d": 1})
	put(t, s, "/root/sub/deep.json", map[string]interface{}{"d": 2})

	shallow, err := s.Query(vpath.MustParse("/root/")).Depth(0).Category(storage.CategoryObject).Run(ctx)
	if err != nil {
		t.Fatalf("Query depth=0: %v", err)
	}
	if len(shallow) != 1 || shallow[0].Path.Name() != "top.json" {
		t.Errorf("depth=0 results: %v", paths(shallow))
	}

	deep, err := s.Query(vpath.MustParse("/root/")).Depth(-1).Category(storage.CategoryObject).Run(ctx)
	if err != nil {
		t.Fatalf("Query depth=-1: %v", err)
	}
	if len(deep) != 2 {
		t.Errorf("depth=-1 results: %v", paths(deep))
	}

	unset, err := s.Query(vpath.MustParse("/root/")).Category(storage.CategoryObject).Run(ctx)
	if err != nil {
		t.Fatalf("Query unbounded: %v", err)
	}
	if len(unset) != 2 {
		t.Errorf("unbounded results: %v", paths(unset))
	}
}

func TestQueryListsObjectsNotIndexes(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	put(t, s, "/root/top.json", map[string]interface{}{"d": 1})
	put(t, s, "/root/sub/deep.json", map[string]interface{}{"d": 2})

	bare, err := s.Query(vpath.MustParse("/root/")).Depth(0).Run(ctx)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(bare) != 1 || bare[0].Path.Name() != "top.json" {
		t.Errorf("bare depth=0 results: %v", paths(bare))
	}

	indexes, err := s.Query(vpath.MustParse("/root/")).Category(storage.CategoryIndex).Run(ctx)
	if err != nil {
		t.Fatalf("Query indexes: %v", err)
	}
	if len(indexes) != 1 || !indexes[0].Path.IsIndex() {
		t.Errorf("index results: %v", paths(indexes))
	}
}

func TestQueryMissingIndexIsEmpty(t *testing.T) {
	s, _ := newStore(t)
	results, err := s.Query(vpath.MustParse("/nowhere/")).Run(context.Background())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result, got %v", paths(results))
	}
}

func TestQueryObjectPathIsError(t *testing.T) {
	s, _ := newStore(t)
	put(t, s, "/data/x.json", map[string]interface{}{})
	_, err := s.Query(vpath.MustParse("/data/x.json")).Run(context.Background())
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestQueryLimitAfterAccessFilter(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	put(t, s, "/d/a.json", map[string]interface{}{})
	put(t, s, "/d/b.json", map[string]interface{}{})
	put(t, s, "/d/c.json", map[string]interface{}{})

	results, err := s.Query(vpath.MustParse("/d/")).
		Access(func(_ context.Context, md *storage.Metadata) bool {
			return md.Path.Name() != "a.json"
		}).
		Limit(2).
		Run(ctx)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: %v", paths(results))
	}
	for _, md := range results {
		if md.Path.Name() == "a.json" {
			t.Error("access-filtered item leaked into results")
		}
	}
}

func TestUpdatePatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	x := vpath.MustParse("/data/x.json")
	put(t, s, "/data/x.json", map[string]interface{}{"id": "x", "v": 1, "gone": true})

	patch := storage.NewDict(map[string]interface{}{"v": 2, "gone": nil})
	if err := s.Put(ctx, x, patch, storage.PutOptions{Update: true}); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	obj, err := s.Load(ctx, x)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, _ := obj.AsDict(false)
	if d["id"] != "x" {
		t.Errorf("unmentioned key lost: %v", d)
	}
	if v, ok := d["v"].(float64); !ok || v != 2 {
		t.Errorf("v = %v", d["v"])
	}
	if _, ok := d["gone"]; ok {
		t.Errorf("nil-valued key not removed: %v", d)
	}
}

func TestUpdatePatchMissingObject(t *testing.T) {
	s, _ := newStore(t)
	err := s.Put(context.Background(), vpath.MustParse("/data/none.json"),
		storage.NewDict(map[string]interface{}{"v": 1}), storage.PutOptions{Update: true})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNilObjectIsDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	x := vpath.MustParse("/data/x.json")
	put(t, s, "/data/x.json", map[string]interface{}{"id": "x"})

	if err := s.Put(ctx, x, nil, storage.PutOptions{}); err != nil {
		t.Fatalf("Put nil: %v", err)
	}
	if _, err := s.Load(ctx, x); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRemoveDoesNotMaskReadOnlyLayer(t *testing.T) {
	ctx := context.Background()
	s := storage.New(nil)

	ro := memory.New()
	_ = ro.Store(ctx, vpath.MustParse("/x.json"), storage.NewDict(map[string]interface{}{"ro": true}))
	local := memory.New()

	_ = s.AddMount(storage.Mount{Prefix: vpath.Root, Priority: 1, Layer: ro, Source: "plugin"})
	_ = s.AddMount(storage.Mount{Prefix: vpath.Root, Priority: 2, Layer: local, Writable: true, Source: "local"})

	x := vpath.MustParse("/x.json")
	removed, err := s.Remove(ctx, x)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed {
		t.Error("nothing local existed, Remove should report false")
	}
	if _, err := s.Load(ctx, x); err != nil {
		t.Errorf("read-only object must remain visible: %v", err)
	}
}

func TestBinaryPayload(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	p := vpath.MustParse("/files/logo.png")

	payload := []byte{0x89, 'P', 'N', 'G'}
	if err := s.Put(ctx, p, storage.NewBinaryBytes(payload, "image/png"), storage.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	obj, err := s.Load(ctx, p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer obj.Close()
	if obj.Kind != storage.KindBinary {
		t.Fatalf("Kind = %v", obj.Kind)
	}
	if obj.MIME != "image/png" {
		t.Errorf("MIME = %q", obj.MIME)
	}
	got, err := io.ReadAll(obj.Reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: %v", got)
	}
}

func TestDeeperMountAppearsAsIndexChild(t *testing.T) {
	ctx := context.Background()
	s := storage.New(nil)
	plugin := memory.New()
	_ = plugin.Store(ctx, vpath.MustParse("/manifest.json"), storage.NewDict(map[string]interface{}{"id": "demo"}))
	_ = s.AddMount(storage.Mount{Prefix: vpath.MustParse("/plugins/demo/"), Priority: 1, Layer: plugin, Source: "demo"})

	md, err := s.Lookup(ctx, vpath.MustParse("/plugins/"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if md.Category != storage.CategoryIndex || md.Size != 1 {
		t.Errorf("merged index metadata: %+v", md)
	}

	obj, err := s.Load(ctx, vpath.MustParse("/plugins/demo/manifest.json"))
	if err != nil {
		t.Fatalf("Load through mount: %v", err)
	}
	d, _ := obj.AsDict(false)
	if d["id"] != "demo" {
		t.Errorf("dict = %v", d)
	}
}

func paths(mds []*storage.Metadata) []string {
	out := make([]string, len(mds))
	for i, md := range mds {
		out[i] = md.Path.String()
	}
	return out
}
