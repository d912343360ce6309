package filter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

var ErrMalformedFilter = errors.New("malformed filter")

type qname struct {
	space string
	local string
}

type parseFunc func(el *etree.Element) (Node, error)

var parsers map[qname]parseFunc

func init() {
	parsers = make(map[qname]parseFunc)
	// combinators are accepted with or without the ogc namespace
	register("", "And", parseAnd)
	register(feature.NSOGC, "And", parseAnd)
	register("", "Or", parseOr)
	register(feature.NSOGC, "Or", parseOr)
	register(feature.NSOGC, "GmlObjectId", parseGmlObjectID)
	register(feature.NSOGC, "BBOX", parseBBox)
	register(feature.NSOGC, "PropertyIsEqualTo", parsePropertyIsEqualTo)
	register(feature.NSOGC, "PropertyIsBetween", parsePropertyIsBetween)
}

func register(space, local string, fn parseFunc) {
	parsers[qname{space, local}] = fn
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFilter, fmt.Sprintf(format, args...))
}

// namespaceOf resolves the element namespace, falling back to the
// conventional prefixes when the document omits their declarations.
func namespaceOf(el *etree.Element) string {
	if ns := el.NamespaceURI(); ns != "" {
		return ns
	}
	switch el.Space {
	case "ogc":
		return feature.NSOGC
	case "gml":
		return feature.NSGML
	}
	return ""
}

// Parse reads a filter document. The first child element of the document
// root is the Filter container; a root that is itself a Filter element is
// used directly.
func Parse(doc []byte) (*Filter, error) {
	d := etree.NewDocument()
	if err := d.ReadFromBytes(doc); err != nil {
		return nil, malformed("%v", err)
	}
	root := d.Root()
	if root == nil {
		return nil, malformed("empty document")
	}

	container := root
	if root.Tag != "Filter" {
		children := root.ChildElements()
		if len(children) == 0 {
			return nil, malformed("no Filter element under <%s>", root.FullTag())
		}
		container = children[0]
	}

	f := &Filter{}
	for _, el := range container.ChildElements() {
		n, err := parseNode(el)
		if err != nil {
			return nil, err
		}
		f.Clauses = append(f.Clauses, n)
	}
	return f, nil
}

func parseNode(el *etree.Element) (Node, error) {
	fn, ok := parsers[qname{namespaceOf(el), el.Tag}]
	if !ok {
		return nil, malformed("unsupported element <%s>", el.FullTag())
	}
	return fn(el)
}

func parseOperands(el *etree.Element) (Node, Node, error) {
	children := el.ChildElements()
	if len(children) != 2 {
		return nil, nil, malformed("<%s> needs exactly two operands, got %d", el.FullTag(), len(children))
	}
	left, err := parseNode(children[0])
	if err != nil {
		return nil, nil, err
	}
	right, err := parseNode(children[1])
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func parseAnd(el *etree.Element) (Node, error) {
	l, r, err := parseOperands(el)
	if err != nil {
		return nil, err
	}
	return And{Left: l, Right: r}, nil
}

func parseOr(el *etree.Element) (Node, error) {
	l, r, err := parseOperands(el)
	if err != nil {
		return nil, err
	}
	return Or{Left: l, Right: r}, nil
}

func parseGmlObjectID(el *etree.Element) (Node, error) {
	for i := range el.Attr {
		a := &el.Attr[i]
		if a.Key != "id" {
			continue
		}
		if a.Space == "gml" || a.NamespaceURI() == feature.NSGML {
			id := strings.TrimSpace(a.Value)
			if id == "" {
				break
			}
			return IDEquals{ID: id}, nil
		}
	}
	return nil, malformed("GmlObjectId without gml:id")
}

func parseBBox(el *etree.Element) (Node, error) {
	env := child(el, feature.NSGML, "Envelope")
	if env == nil {
		return nil, malformed("BBOX without gml:Envelope")
	}
	lower, err := corner(env, "lowerCorner")
	if err != nil {
		return nil, err
	}
	upper, err := corner(env, "upperCorner")
	if err != nil {
		return nil, err
	}
	if lower[0] > upper[0] || lower[1] > upper[1] {
		return nil, malformed("envelope lowerCorner exceeds upperCorner")
	}
	return BBoxIntersects{
		Bound: orb.Bound{Min: lower, Max: upper},
		CRS:   env.SelectAttrValue("srsName", ""),
	}, nil
}

func corner(env *etree.Element, name string) (orb.Point, error) {
	c := child(env, feature.NSGML, name)
	if c == nil {
		return orb.Point{}, malformed("envelope without %s", name)
	}
	// extra ordinates of a 3D envelope are ignored
	parts := strings.Fields(c.Text())
	if len(parts) < 2 {
		return orb.Point{}, malformed("%s %q is not a coordinate pair", name, c.Text())
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return orb.Point{}, malformed("%s x: %v", name, err)
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return orb.Point{}, malformed("%s y: %v", name, err)
	}
	if !finite(x) || !finite(y) {
		return orb.Point{}, malformed("%s %q is not finite", name, c.Text())
	}
	return orb.Point{x, y}, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func parsePropertyIsEqualTo(el *etree.Element) (Node, error) {
	name, err := text(el, "PropertyName")
	if err != nil {
		return nil, err
	}
	lit, err := text(el, "Literal")
	if err != nil {
		return nil, err
	}
	return PropertyEquals{Name: name, Literal: lit}, nil
}

func parsePropertyIsBetween(el *etree.Element) (Node, error) {
	name, err := text(el, "PropertyName")
	if err != nil {
		return nil, err
	}
	lb := child(el, feature.NSOGC, "LowerBoundary")
	ub := child(el, feature.NSOGC, "UpperBoundary")
	if lb == nil || ub == nil {
		return nil, malformed("PropertyIsBetween needs LowerBoundary and UpperBoundary")
	}
	lower, err := text(lb, "Literal")
	if err != nil {
		return nil, err
	}
	upper, err := text(ub, "Literal")
	if err != nil {
		return nil, err
	}
	return PropertyBetween{Name: name, Lower: lower, Upper: upper}, nil
}

func child(el *etree.Element, space, local string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == local && namespaceOf(c) == space {
			return c
		}
	}
	return nil
}

func text(el *etree.Element, local string) (string, error) {
	c := child(el, feature.NSOGC, local)
	if c == nil {
		return "", malformed("<%s> without ogc:%s", el.FullTag(), local)
	}
	return strings.TrimSpace(c.Text()), nil
}
