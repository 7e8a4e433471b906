package fabric

import (
	"context"
	"sync"

	"github.com/loykin/opshooks/internal/connection"
	"github.com/loykin/opshooks/internal/remote"
)

type call struct {
	sudo    bool
	command string
	run     remote.RunOptions
	sudoOpt remote.SudoOptions
}

// fakeSession records calls and returns a canned result.
type fakeSession struct {
	mu     sync.Mutex
	cfg    remote.Config
	calls  []call
	result remote.Result
	err    error
	closed bool
}

func (f *fakeSession) Run(_ context.Context, command string, opts remote.RunOptions) (*remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{command: command, run: opts})
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	r.Command = command
	return &r, nil
}

func (f *fakeSession) Sudo(_ context.Context, command string, opts remote.SudoOptions) (*remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{sudo: true, command: command, run: opts.RunOptions, sudoOpt: opts})
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	r.Command = command
	return &r, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) factory() SessionFactory {
	return func(cfg remote.Config) remote.Session {
		f.mu.Lock()
		f.cfg = cfg
		f.mu.Unlock()
		return f
	}
}

func registry(t interface{ Fatalf(string, ...any) }, settings ...connection.Settings) *connection.Registry {
	r := connection.NewRegistry()
	for _, s := range settings {
		if err := r.Add(s); err != nil {
			t.Fatalf("add connection: %v", err)
		}
	}
	return r
}
