package gateway

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/denniswebb/natgate/internal/iptables"
)

type fakeExitError struct {
	code int
}

func (f fakeExitError) Error() string { return "exit" }

func (f fakeExitError) ExitCode() int { return f.code }

// fakeFirewall is an Executor that keeps an in-memory rule table and applies
// insert, delete and check commands the way iptables matches rules.
type fakeFirewall struct {
	mu     sync.Mutex
	rules  map[string]struct{}
	calls  []string
	failOn map[string]error
	// beforeApply runs outside the lock after a call is recorded and before
	// it takes effect.
	beforeApply func(line string)
}

func newFakeFirewall() *fakeFirewall {
	return &fakeFirewall{rules: map[string]struct{}{}}
}

func (f *fakeFirewall) Run(_ context.Context, command string, args ...string) error {
	line := command + " " + strings.Join(args, " ")

	f.mu.Lock()
	f.calls = append(f.calls, line)
	hook := f.beforeApply
	failure := f.failOn[line]
	f.mu.Unlock()

	if hook != nil {
		hook(line)
	}
	if failure != nil {
		return failure
	}

	table := "filter"
	if len(args) >= 2 && args[0] == "-t" {
		table = args[1]
		args = args[2:]
	}
	action, chain := args[0], args[1]
	key := table + "|" + chain + "|" + strings.Join(args[2:], " ")

	f.mu.Lock()
	defer f.mu.Unlock()

	_, present := f.rules[key]
	switch action {
	case string(iptables.Insert):
		f.rules[key] = struct{}{}
	case string(iptables.Delete):
		if !present {
			return &iptables.CommandError{Command: command, Args: args, Err: fakeExitError{code: 1}}
		}
		delete(f.rules, key)
	case string(iptables.Check):
		if !present {
			return &iptables.CommandError{Command: command, Args: args, Err: fakeExitError{code: 1}}
		}
	}
	return nil
}

func (f *fakeFirewall) ChainExists(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeFirewall) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFirewall) ruleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rules)
}

func (f *fakeFirewall) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = map[string]struct{}{}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lines renders mutations the way fakeFirewall records them.
func lines(mutations []iptables.Mutation) []string {
	out := make([]string, len(mutations))
	for i, m := range mutations {
		out[i] = m.Program + " " + strings.Join(m.Args(), " ")
	}
	return out
}
