// Package catalog holds the static table of invocable commands, the
// permission gate that decides who may run them, and the feature-switch
// overlay that can disable toggleable commands at runtime.
package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Definition describes one invocable command. Definitions are immutable
// once a Catalog is built.
type Definition struct {
	Code        string   // stable identifier, also the feature-switch key
	Keyword     string   // invocation keyword without the leading "/"
	Usage       string   // invocation pattern shown in help
	Description string   // one-line description
	DevOnly     bool     // hidden and refused unless dev mode is on
	Toggleable  bool     // subject to the feature-switch overlay
	ShowInHelp  bool     // listed in help and menus
	NeedsArgs   bool     // a bare invocation starts an interactive prompt
	RequiredAll []string // every permission must be held
	RequiredAny []string // at least one permission must be held
}

// HasRequirements reports whether the command is permission-gated.
func (d Definition) HasRequirements() bool {
	return len(d.RequiredAll) > 0 || len(d.RequiredAny) > 0
}

// Catalog is an ordered, indexed set of command definitions.
type Catalog struct {
	defs      []Definition
	byKeyword map[string]int
	byCode    map[string]int
}

// New builds a Catalog. Keywords are matched case-insensitively; duplicate
// keywords or codes are rejected.
func New(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:      make([]Definition, 0, len(defs)),
		byKeyword: make(map[string]int, len(defs)),
		byCode:    make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		if d.Code == "" || d.Keyword == "" {
			return nil, fmt.Errorf("catalog: definition %d: code and keyword are required", i)
		}
		kw := strings.ToLower(d.Keyword)
		if _, dup := c.byKeyword[kw]; dup {
			return nil, fmt.Errorf("catalog: duplicate keyword %q", d.Keyword)
		}
		if _, dup := c.byCode[d.Code]; dup {
			return nil, fmt.Errorf("catalog: duplicate code %q", d.Code)
		}
		c.byKeyword[kw] = len(c.defs)
		c.byCode[d.Code] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// MustNew is New that panics on error. Intended for static tables.
func MustNew(defs []Definition) *Catalog {
	c, err := New(defs)
	if err != nil {
		panic(err)
	}
	return c
}

// ByKeyword looks up a command by its invocation keyword.
func (c *Catalog) ByKeyword(keyword string) (Definition, bool) {
	i, ok := c.byKeyword[strings.ToLower(strings.TrimPrefix(keyword, "/"))]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// ByCode looks up a command by its code.
func (c *Catalog) ByCode(code string) (Definition, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// All returns every definition in catalog order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Access is the caller context the gate evaluates against.
type Access struct {
	Perms   PermSet
	Linked  bool
	DevMode bool
}

// Decision is the outcome of gating one command for one caller.
type Decision int

const (
	DecisionAllowed Decision = iota
	DecisionDevOnly
	DecisionDisabled
	DecisionNotLinked
	DecisionForbidden
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionDevOnly:
		return "dev-only"
	case DecisionDisabled:
		return "disabled"
	case DecisionNotLinked:
		return "not-linked"
	case DecisionForbidden:
		return "forbidden"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Switches reports whether a toggleable command is enabled.
type Switches interface {
	IsEnabled(ctx context.Context, code string) bool
}

// Invocable decides whether def may run for the caller. Visibility and
// invocation share this function so hidden commands are also refused.
func (c *Catalog) Invocable(ctx context.Context, def Definition, sw Switches, acc Access) Decision {
	if def.DevOnly && !acc.DevMode {
		return DecisionDevOnly
	}
	if def.Toggleable && sw != nil && !sw.IsEnabled(ctx, def.Code) {
		return DecisionDisabled
	}
	if def.HasRequirements() && !acc.Linked {
		return DecisionNotLinked
	}
	if !IsPermitted(def, acc.Perms, acc.Linked) {
		return DecisionForbidden
	}
	return DecisionAllowed
}

// Visible returns the commands to list in help and menus for the caller.
func (c *Catalog) Visible(ctx context.Context, sw Switches, acc Access) []Definition {
	var out []Definition
	for _, d := range c.defs {
		if !d.ShowInHelp {
			continue
		}
		if c.Invocable(ctx, d, sw, acc) != DecisionAllowed {
			continue
		}
		out = append(out, d)
	}
	return out
}
