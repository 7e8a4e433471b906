package plugin

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/pkg/conditional"
	"github.com/loykin/opshooks/pkg/task"
)

func check(t *testing.T, spec ConditionSpec, tc *task.Context) error {
	t.Helper()
	cond, err := spec.Condition()
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	return conditional.NewGate(cond).Check(context.Background(), tc)
}

func ptr(s string) *string { return &s }

func TestCondition_AlwaysNever(t *testing.T) {
	if err := check(t, ConditionSpec{Type: "always"}, nil); err != nil {
		t.Fatalf("always: %v", err)
	}
	if err := check(t, ConditionSpec{}, nil); err != nil {
		t.Fatalf("empty type should default to always: %v", err)
	}
	if err := check(t, ConditionSpec{Type: "never"}, nil); !task.IsSkip(err) {
		t.Fatalf("never: expected skip, got %v", err)
	}
	if err := check(t, ConditionSpec{Type: "never", Negate: true}, nil); err != nil {
		t.Fatalf("negated never: %v", err)
	}
}

func TestCondition_Env(t *testing.T) {
	t.Setenv("OPSHOOKS_TEST_FLAG", "yes")
	t.Setenv("OPSHOOKS_TEST_OFF", "false")
	t.Setenv("OPSHOOKS_TEST_STAGE", "prod")

	if err := check(t, ConditionSpec{Type: "env", Name: "OPSHOOKS_TEST_FLAG"}, nil); err != nil {
		t.Fatalf("truthy env: %v", err)
	}
	if err := check(t, ConditionSpec{Type: "env", Name: "OPSHOOKS_TEST_OFF"}, nil); !task.IsSkip(err) {
		t.Fatalf("falsy env: expected skip, got %v", err)
	}
	if err := check(t, ConditionSpec{Type: "env", Name: "OPSHOOKS_TEST_UNSET_VAR"}, nil); !task.IsSkip(err) {
		t.Fatalf("unset env: expected skip, got %v", err)
	}
	if err := check(t, ConditionSpec{Type: "env", Name: "OPSHOOKS_TEST_STAGE", Equals: ptr("prod")}, nil); err != nil {
		t.Fatalf("env equals: %v", err)
	}

	tc := task.NewContext("t")
	tc.Values["stage"] = "staging"
	if err := check(t, ConditionSpec{Type: "env", Name: "OPSHOOKS_TEST_STAGE", Equals: ptr("{{.stage}}")}, tc); !task.IsSkip(err) {
		t.Fatalf("templated equals: expected skip, got %v", err)
	}
}

func TestCondition_Result(t *testing.T) {
	tc := task.NewContext("t")
	tc.Values[ResultsValueKey] = map[string]any{
		"deploy":  `{"status":{"code":"ok"},"replicas":3,"healthy":true}`,
		"enabled": "true",
		"note":    "plain text",
	}

	if err := check(t, ConditionSpec{Type: "result", Key: "deploy", Path: "status.code", Equals: ptr("ok")}, tc); err != nil {
		t.Fatalf("path equals: %v", err)
	}
	if err := check(t, ConditionSpec{Type: "result", Key: "deploy", Path: "replicas", Equals: ptr("2")}, tc); !task.IsSkip(err) {
		t.Fatalf("path mismatch: expected skip, got %v", err)
	}
	if err := check(t, ConditionSpec{Type: "result", Key: "deploy", Path: "healthy"}, tc); err != nil {
		t.Fatalf("path truthy: %v", err)
	}
	if err := check(t, ConditionSpec{Type: "result", Key: "deploy", Path: "missing.field"}, tc); !task.IsSkip(err) {
		t.Fatalf("missing path: expected skip, got %v", err)
	}
	if err := check(t, ConditionSpec{Type: "result", Key: "enabled"}, tc); err != nil {
		t.Fatalf("plain truthy: %v", err)
	}
	if err := check(t, ConditionSpec{Type: "result", Key: "absent"}, tc); !task.IsSkip(err) {
		t.Fatalf("absent key: expected skip, got %v", err)
	}
	if err := check(t, ConditionSpec{Type: "result", Key: "note", Path: "x"}, tc); err == nil || task.IsSkip(err) {
		t.Fatalf("non-JSON value with path should fail, got %v", err)
	}
}

func TestCondition_Command(t *testing.T) {
	if _, err := exec.LookPath(constants.DefaultShell); err != nil {
		t.Skip("bash not available")
	}
	if err := check(t, ConditionSpec{Type: "command", Command: "true"}, nil); err != nil {
		t.Fatalf("true: %v", err)
	}
	if err := check(t, ConditionSpec{Type: "command", Command: "exit 1"}, nil); !task.IsSkip(err) {
		t.Fatalf("exit 1: expected skip, got %v", err)
	}
}

func TestCondition_Invalid(t *testing.T) {
	for _, spec := range []ConditionSpec{
		{Type: "env"},
		{Type: "result"},
		{Type: "command"},
		{Type: "sometimes"},
	} {
		if _, err := spec.Condition(); !errors.Is(err, task.ErrConfiguration) {
			t.Fatalf("%+v: expected configuration error, got %v", spec, err)
		}
	}
}
