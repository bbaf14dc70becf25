package iptables

import "strings"

// Action selects whether a mutation inserts or deletes its rule.
type Action string

const (
	// Insert places the rule at the head of the chain.
	Insert Action = "-I"
	// Delete removes the first rule matching the same specification.
	Delete Action = "-D"
	// Check exits zero only when a matching rule exists.
	Check Action = "-C"
)

// Label returns the action name used in metrics and logs.
func (a Action) Label() string {
	switch a {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Check:
		return "check"
	default:
		return "unknown"
	}
}

// Mutation represents a single iptables rule change.
type Mutation struct {
	Program  string
	Table    string
	Action   Action
	Chain    string
	RuleSpec []string
}

// Args returns the argument vector passed to Program.
func (m Mutation) Args() []string {
	args := make([]string, 0, len(m.RuleSpec)+4)
	if m.Table != "" {
		args = append(args, "-t", m.Table)
	}
	args = append(args, string(m.Action), m.Chain)
	return append(args, m.RuleSpec...)
}

// String renders the arguments as a single space-joined line. Arguments
// containing whitespace are double quoted so the line can be pasted into a shell.
func (m Mutation) String() string {
	args := m.Args()
	parts := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \t") {
			arg = `"` + arg + `"`
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}

// WithAction returns a copy of m using the provided action. RuleSpec is copied
// so the two mutations never share backing storage.
func (m Mutation) WithAction(action Action) Mutation {
	m.Action = action
	m.RuleSpec = append([]string(nil), m.RuleSpec...)
	return m
}
