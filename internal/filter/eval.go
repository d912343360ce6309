package filter

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

// Source is the set of lookups a filter may use.
type Source interface {
	GetByID(id string) (*feature.Feature, error)
	GetByBBox(b orb.Bound, crs string) []*feature.Feature
	GetByPropertyEquals(name, value string) []*feature.Feature
	GetByPropertyBetween(name, lower, upper string) []*feature.Feature
}

// Evaluate parses doc and returns the union of its clauses against src.
func Evaluate(src Source, doc []byte) (feature.ResultSet, error) {
	f, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	return f.Evaluate(src)
}

func (f *Filter) Evaluate(src Source) (feature.ResultSet, error) {
	out := feature.ResultSet{}
	for _, n := range f.Clauses {
		rs, err := Eval(src, n)
		if err != nil {
			return nil, err
		}
		out = out.Union(rs)
	}
	return out, nil
}

// Eval evaluates a single node. Combinators always evaluate both operands;
// when both fail the left error is returned.
func Eval(src Source, n Node) (feature.ResultSet, error) {
	switch n := n.(type) {
	case And:
		l, r, err := evalPair(src, n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return l.Intersect(r), nil
	case Or:
		l, r, err := evalPair(src, n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return l.Union(r), nil
	case IDEquals:
		f, err := src.GetByID(n.ID)
		if err != nil {
			return nil, err
		}
		return feature.NewResultSet(f), nil
	case BBoxIntersects:
		return feature.NewResultSet(src.GetByBBox(n.Bound, n.CRS)...), nil
	case PropertyEquals:
		return feature.NewResultSet(src.GetByPropertyEquals(n.Name, n.Literal)...), nil
	case PropertyBetween:
		return feature.NewResultSet(src.GetByPropertyBetween(n.Name, n.Lower, n.Upper)...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported node %T", ErrMalformedFilter, n)
	}
}

func evalPair(src Source, left, right Node) (feature.ResultSet, feature.ResultSet, error) {
	l, lerr := Eval(src, left)
	r, rerr := Eval(src, right)
	if lerr != nil {
		return nil, nil, lerr
	}
	if rerr != nil {
		return nil, nil, rerr
	}
	return l, r, nil
}
