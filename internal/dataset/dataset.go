// Package dataset loads feature documents from a backend and caches the
// feature stores built from them.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

var (
	ErrUnknownSource = errors.New("unknown data source")
	ErrEmptyDataset  = errors.New("dataset has no features")
)

// Document is one parsed data source.
type Document interface {
	Name() string
	CRS() string
	ListFeatures() []*feature.Feature
}

// Backend resolves a source id to its document. It may be slow.
type Backend interface {
	GetDocument(ctx context.Context, source string) (Document, error)
}

type document struct {
	name     string
	crs      string
	features []*feature.Feature
}

func NewDocument(name, crs string, feats []*feature.Feature) Document {
	if crs == "" {
		crs = "EPSG:4326"
	}
	return &document{name: name, crs: crs, features: slices.Clone(feats)}
}

func (d *document) Name() string                     { return d.name }
func (d *document) CRS() string                      { return d.crs }
func (d *document) ListFeatures() []*feature.Feature { return d.features }

// Static serves documents held in memory.
type Static map[string]Document

func (s Static) GetDocument(ctx context.Context, source string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := s[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return d, nil
}
