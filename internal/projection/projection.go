// Package projection extracts element subtrees or attribute values from the
// resolved GML of each feature in a result.
package projection

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

var ErrInvalidPath = errors.New("invalid value reference")

// trailing [@name]; predicates with a value test are left to the path
var attrSuffix = regexp.MustCompile(`^(.*)\[@([^\[\]=]*)\]$`)

// Expr is a compiled value reference.
type Expr struct {
	raw  string
	path *etree.Path // nil selects the feature root
	attr string
}

// Compile splits a trailing [@attr] selector off path and compiles the rest
// relative to the feature root.
func Compile(path string) (*Expr, error) {
	raw := strings.TrimSpace(path)
	e := &Expr{raw: raw}
	elem := raw
	if m := attrSuffix.FindStringSubmatch(raw); m != nil {
		elem, e.attr = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if e.attr == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	elem = strings.TrimPrefix(elem, "./")
	if elem == "" || elem == "." {
		return e, nil
	}
	if strings.HasPrefix(elem, "/") {
		return nil, fmt.Errorf("%w: %q must be relative to the feature", ErrInvalidPath, path)
	}
	p, err := etree.CompilePath(elem)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, path, err)
	}
	e.path = &p
	return e, nil
}

func (e *Expr) String() string { return e.raw }

// Attribute reports the selected attribute, or "" in element mode.
func (e *Expr) Attribute() string { return e.attr }

// Project resolves every feature and collects the value of path from each.
// Features where the path does not match contribute nothing.
func Project(features []*feature.Feature, path string) ([]string, error) {
	e, err := Compile(path)
	if err != nil {
		return nil, err
	}
	return e.Apply(features)
}

func (e *Expr) Apply(features []*feature.Feature) ([]string, error) {
	out := make([]string, 0, len(features))
	for _, f := range features {
		root := f.Resolve().Root()
		if root == nil {
			continue
		}
		el := root
		if e.path != nil {
			el = root.FindElementPath(*e.path)
		}
		if el == nil {
			continue
		}
		if e.attr != "" {
			if a := el.SelectAttr(e.attr); a != nil {
				out = append(out, a.Value)
			}
			continue
		}
		s, err := serialize(el)
		if err != nil {
			return nil, fmt.Errorf("serialize %s of %q: %w", e.raw, f.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// serialize writes el as a standalone document, declaring the namespace
// prefixes it inherits from its ancestors.
func serialize(el *etree.Element) (string, error) {
	cp := el.Copy()
	declared := make(map[string]bool)
	for _, a := range cp.Attr {
		if a.Space == "xmlns" {
			declared[a.Key] = true
		}
		if a.Space == "" && a.Key == "xmlns" {
			declared[""] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			switch {
			case a.Space == "xmlns" && !declared[a.Key]:
				cp.CreateAttr("xmlns:"+a.Key, a.Value)
				declared[a.Key] = true
			case a.Space == "" && a.Key == "xmlns" && !declared[""]:
				cp.CreateAttr("xmlns", a.Value)
				declared[""] = true
			}
		}
	}
	doc := etree.NewDocument()
	doc.SetRoot(cp)
	return doc.WriteToString()
}
