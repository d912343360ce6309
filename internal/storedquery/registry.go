// Package storedquery is the catalog of named, parameterized queries that
// clients may call instead of sending filter XML.
package storedquery

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

var (
	ErrUnknownStoredQuery = errors.New("unknown stored query")
	ErrInvalidParameter   = errors.New("invalid stored query parameter")
	ErrMissingParameter   = errors.New("missing stored query parameter")
)

const DefaultLanguage = "urn-x:wfs:StoredQueryLanguage:WFS_QueryExpression"

type Parameter struct {
	Name string
	Type string
}

type Definition struct {
	ID                string
	Title             string
	Abstract          string
	Parameters        []Parameter
	ReturnFeatureType string
	Language          string
}

// Source is what stored queries read features from.
type Source interface {
	GetByID(id string) (*feature.Feature, error)
	GetByPropertyEquals(name, value string) []*feature.Feature
}

// Params maps lower-case parameter names to raw values.
type Params map[string]string

// Func validates and coerces its own params.
type Func func(ctx context.Context, src Source, p Params) (feature.Result, error)

type Entry struct {
	Definition Definition
	Func       Func
}

// Registry is immutable after NewRegistry.
type Registry struct {
	order   []string
	entries map[string]Entry
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		id := e.Definition.ID
		if id == "" {
			return nil, errors.New("stored query without id")
		}
		if e.Func == nil {
			return nil, fmt.Errorf("stored query %q has no function", id)
		}
		if _, dup := r.entries[id]; dup {
			return nil, fmt.Errorf("stored query %q registered twice", id)
		}
		if e.Definition.Language == "" {
			e.Definition.Language = DefaultLanguage
		}
		r.entries[id] = e
		r.order = append(r.order, id)
	}
	return r, nil
}

func (r *Registry) Lookup(id string) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownStoredQuery, id)
	}
	return e, nil
}

// Invoke runs the query. Params are passed through unchecked.
func (r *Registry) Invoke(ctx context.Context, id string, src Source, p Params) (feature.Result, error) {
	e, err := r.Lookup(id)
	if err != nil {
		return feature.Result{}, err
	}
	if p == nil {
		p = Params{}
	}
	res, err := e.Func(ctx, src, p)
	if err != nil {
		return feature.Result{}, fmt.Errorf("stored query %s: %w", id, err)
	}
	if res.Auxiliary == nil {
		res.Auxiliary = []string{}
	}
	return res, nil
}

// Definitions returns the definitions in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Definition)
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }
