package compiler

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// reservedWords are quoted by every dialect.
var reservedWords = []string{
	"all", "and", "any", "as", "asc", "between", "both", "by", "case", "cast",
	"check", "collate", "column", "constraint", "create", "cross", "current_date",
	"current_time", "current_timestamp", "default", "delete", "desc", "distinct",
	"drop", "else", "end", "except", "exists", "false", "for", "foreign", "from",
	"full", "grant", "group", "having", "in", "index", "inner", "insert",
	"intersect", "into", "is", "join", "key", "leading", "left", "like", "limit",
	"natural", "not", "null", "offset", "on", "or", "order", "outer", "primary",
	"references", "right", "select", "set", "some", "table", "then", "to",
	"trailing", "true", "union", "unique", "update", "user", "using", "values",
	"when", "where", "with",
}

var legalIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

// Preparer quotes identifiers for one dialect. Identifiers are quoted only
// when they are reserved words, contain illegal characters, or are not
// already in the case the database folds unquoted names to.
type Preparer struct {
	open, close string
	reserved    map[string]bool
}

// NewPreparer returns a preparer using the given quote characters and
// dialect specific reserved words.
func NewPreparer(open, close string, extra ...string) *Preparer {
	p := &Preparer{open: open, close: close, reserved: make(map[string]bool)}
	for _, w := range reservedWords {
		p.reserved[w] = true
	}
	for _, w := range extra {
		p.reserved[w] = true
	}
	return p
}

// RequiresQuotes reports whether name must be quoted.
func (p *Preparer) RequiresQuotes(name string) bool {
	// Casers keep state between calls and cannot be shared.
	folded := cases.Lower(language.Und).String(name)
	return p.reserved[folded] || !legalIdentifier.MatchString(name) || folded != name
}

// Quote returns name, quoted when required.
func (p *Preparer) Quote(name string) string {
	if name == "*" || !p.RequiresQuotes(name) {
		return name
	}
	return p.QuoteAlways(name)
}

// QuoteAlways returns name quoted.
func (p *Preparer) QuoteAlways(name string) string {
	return p.open + strings.ReplaceAll(name, p.close, p.close+p.close) + p.close
}

// Literal renders s as an SQL string literal.
func (p *Preparer) Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
