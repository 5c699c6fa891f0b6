package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kode4food/lru"
)

type (
	// Template is a parsed template string
	Template struct {
		raw    string
		parts  []part
		single bool
	}

	part struct {
		literal string
		expr    string
		path    []string
	}
)

const (
	openDelim  = "{{"
	closeDelim = "}}"

	templateCacheSize = 4096
)

var (
	ErrInvalidTemplate = errors.New("invalid template")
)

var templateCache = lru.NewCache[*Template](templateCacheSize)

// Compile parses a template string, reusing previously parsed templates
func Compile(tmpl string) (*Template, error) {
	return templateCache.Get(tmpl, func() (*Template, error) {
		return parse(tmpl)
	})
}

// HasPlaceholders reports whether s contains any template expression
func HasPlaceholders(s string) bool {
	return strings.Contains(s, openDelim)
}

// Raw returns the source text of the template
func (t *Template) Raw() string {
	return t.raw
}

// Paths returns the dotted paths referenced by the template, in order
func (t *Template) Paths() []string {
	var res []string
	for _, p := range t.parts {
		if p.path != nil {
			res = append(res, p.expr)
		}
	}
	return res
}

// IsSingle reports whether the template is exactly one placeholder, and so
// resolves to a typed value rather than a string
func (t *Template) IsSingle() bool {
	return t.single
}

func parse(tmpl string) (*Template, error) {
	res := &Template{raw: tmpl}
	rest := tmpl
	for rest != "" {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			res.parts = append(res.parts, part{literal: rest})
			break
		}
		if start > 0 {
			res.parts = append(res.parts, part{literal: rest[:start]})
		}
		rest = rest[start+len(openDelim):]
		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated placeholder in %q",
				ErrInvalidTemplate, tmpl)
		}
		expr := strings.TrimSpace(rest[:end])
		path, err := parsePath(expr)
		if err != nil {
			return nil, fmt.Errorf("%w in %q", err, tmpl)
		}
		res.parts = append(res.parts, part{expr: expr, path: path})
		rest = rest[end+len(closeDelim):]
	}
	res.single = len(res.parts) == 1 && res.parts[0].path != nil
	return res, nil
}

func parsePath(expr string) ([]string, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty placeholder", ErrInvalidTemplate)
	}
	segs := strings.Split(expr, ".")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, " \t{}") {
			return nil, fmt.Errorf("%w: bad path %q", ErrInvalidTemplate, expr)
		}
	}
	return segs, nil
}
