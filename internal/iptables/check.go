package iptables

import (
	"context"
	"errors"
	"fmt"
)

// RuleState pairs an installed mutation with whether its rule is currently present.
type RuleState struct {
	Mutation Mutation
	Present  bool
}

// RulePresent runs the check form of m and reports whether the rule exists.
// Exit status 1 means the rule is absent; any other failure is returned.
func RulePresent(ctx context.Context, executor Executor, m Mutation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	check := m.WithAction(Check)
	if err := executor.Run(ctx, check.Program, check.Args()...); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode() == 1 {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// CheckRules reports the presence of every rule in mutations, in order. The
// first check that fails for a reason other than absence aborts the check.
func CheckRules(ctx context.Context, executor Executor, mutations []Mutation) ([]RuleState, error) {
	states := make([]RuleState, 0, len(mutations))
	for _, m := range mutations {
		present, err := RulePresent(ctx, executor, m)
		if err != nil {
			return states, fmt.Errorf("check rule %s: %w", m.WithAction(Check), err)
		}
		states = append(states, RuleState{Mutation: m, Present: present})
	}
	return states, nil
}
