// Package command parses chat commands and resolves who may run them.
package command

import (
	"strings"

	"overlayd/internal/event"
)

// Parse extracts a command from a chat line.
//
// Returns nil unless the trimmed text begins with prefix. The command name is
// the first whitespace token (prefix stripped, lowercased). The remainder is
// split on commas first, then each comma segment on whitespace, and the
// pieces are flattened in order:
//
//	"!give 5, street racer" -> name "give", args ["5", "street", "racer"]
func Parse(text, prefix string) *event.Command {
	if prefix == "" {
		prefix = "!"
	}
	s := strings.TrimSpace(text)
	if s == "" || !strings.HasPrefix(s, prefix) {
		return nil
	}
	s = s[len(prefix):]
	if s == "" || s[0] == ' ' || s[0] == '\t' {
		// Bare prefix or prefix followed by whitespace is not a command.
		return nil
	}

	fields := strings.Fields(s)
	name := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(s, fields[0]))

	var args []string
	if rest != "" {
		for _, seg := range strings.Split(rest, ",") {
			args = append(args, strings.Fields(seg)...)
		}
	}
	return &event.Command{Name: name, Args: args}
}

// Verdict is the outcome of a permission lookup.
type Verdict struct {
	// Category is the permission category that covered the command
	// ("" when the command is unconfigured).
	Category string
	HasPerms bool
}

// Category pairs a named command group with the roles allowed to use it.
// A role entry of "*" allows everyone.
type Category struct {
	Name     string
	Commands []string
	Roles    []string
}

// Resolver answers "may this role run that command" against the configured
// category table. The zero value allows everything.
type Resolver struct {
	cats []Category
}

func NewResolver(cats []Category) *Resolver {
	cp := make([]Category, len(cats))
	copy(cp, cats)
	return &Resolver{cats: cp}
}

// Resolve scans the categories for one that lists the command. Commands not
// claimed by any category are allowed for everyone.
func (r *Resolver) Resolve(name string, role event.Role) Verdict {
	if r == nil {
		return Verdict{HasPerms: true}
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, cat := range r.cats {
		if !containsFold(cat.Commands, name) {
			continue
		}
		allowed := containsFold(cat.Roles, "*") || containsFold(cat.Roles, string(role))
		return Verdict{Category: cat.Name, HasPerms: allowed}
	}
	return Verdict{HasPerms: true}
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}
