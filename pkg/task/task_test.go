package task

import (
	"context"
	"reflect"
	"testing"
)

func TestContext_PushAndValues(t *testing.T) {
	ctx := context.Background()
	tc := NewContext("deploy")
	if err := tc.Push(ctx, "b", "2"); err != nil {
		t.Fatalf("push: %v", err)
	}
	_ = tc.Push(ctx, "a", "1")
	_ = tc.Push(ctx, "a", "3")

	res := tc.Results.(*MemoryResults)
	if v, ok := res.Get("a"); !ok || v != "3" {
		t.Fatalf("latest push wins, got %q", v)
	}
	if !reflect.DeepEqual(res.Keys(), []string{"a", "b"}) {
		t.Fatalf("unexpected keys %v", res.Keys())
	}

	tc.Values["k"] = "v"
	cp := tc.ValueMap()
	cp["k"] = "changed"
	if tc.Values["k"] != "v" {
		t.Fatalf("ValueMap must return a copy")
	}

	var nilCtx *Context
	if err := nilCtx.Push(ctx, "x", "y"); err != nil {
		t.Fatalf("nil context push is a no-op, got %v", err)
	}
	if len(nilCtx.ValueMap()) != 0 {
		t.Fatalf("nil context has no values")
	}
}

func TestFuncAdapters(t *testing.T) {
	op := OperatorFunc(func(context.Context, *Context) (any, error) { return "ok", nil })
	if v, err := op.Execute(context.Background(), nil); v != "ok" || err != nil {
		t.Fatalf("operator func = %v, %v", v, err)
	}
	s := SensorFunc(func(context.Context, *Context) (bool, error) { return true, nil })
	if ok, err := s.Poke(context.Background(), nil); !ok || err != nil {
		t.Fatalf("sensor func = %v, %v", ok, err)
	}
}
