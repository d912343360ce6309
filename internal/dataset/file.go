package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v2"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

// FileBackend reads <Dir>/<source>.yaml.
type FileBackend struct {
	Dir string
}

type fileDocument struct {
	Name     string        `yaml:"name"`
	CRS      string        `yaml:"crs"`
	Features []fileFeature `yaml:"features"`
}

type fileFeature struct {
	ID         string              `yaml:"id"`
	Type       string              `yaml:"type"`
	Title      string              `yaml:"title"`
	Abstract   string              `yaml:"abstract"`
	CRS        string              `yaml:"crs"`
	BBox       []float64           `yaml:"bbox"`
	Location   []float64           `yaml:"location"`
	Properties map[string][]string `yaml:"properties"`
	Times      []string            `yaml:"times"`
	GML        string              `yaml:"gml"`
	Inline     map[string]string   `yaml:"inline"`
}

func validSource(source string) bool {
	if source == "" || strings.HasPrefix(source, ".") {
		return false
	}
	return !strings.ContainsAny(source, `/\`) && !strings.Contains(source, "..")
}

func (b FileBackend) GetDocument(ctx context.Context, source string) (Document, error) {
	if !validSource(source) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(b.Dir, source+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseDocument(source, raw)
}

// ParseDocument decodes the YAML dataset format. The document name defaults
// to source.
func ParseDocument(source string, raw []byte) (Document, error) {
	var fd fileDocument
	if err := yaml.Unmarshal(raw, &fd); err != nil {
		return nil, fmt.Errorf("decode dataset %q: %w", source, err)
	}
	name := fd.Name
	if name == "" {
		name = source
	}
	feats := make([]*feature.Feature, 0, len(fd.Features))
	for i, ff := range fd.Features {
		spec, err := ff.spec()
		if err != nil {
			return nil, fmt.Errorf("dataset %q feature %d: %w", source, i, err)
		}
		if spec.CRS == "" {
			spec.CRS = fd.CRS
		}
		f, err := feature.New(spec)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", source, err)
		}
		feats = append(feats, f)
	}
	return NewDocument(name, fd.CRS, feats), nil
}

func (ff fileFeature) spec() (feature.Spec, error) {
	s := feature.Spec{
		ID:         ff.ID,
		Type:       ff.Type,
		Title:      ff.Title,
		Abstract:   ff.Abstract,
		CRS:        ff.CRS,
		Properties: ff.Properties,
		Times:      ff.Times,
		GML:        ff.GML,
		Inline:     ff.Inline,
	}
	if len(ff.BBox) > 0 {
		if len(ff.BBox) != 4 {
			return s, fmt.Errorf("%w: bbox needs 4 numbers, got %d", feature.ErrInvalidFeature, len(ff.BBox))
		}
		s.BBox = &orb.Bound{
			Min: orb.Point{ff.BBox[0], ff.BBox[1]},
			Max: orb.Point{ff.BBox[2], ff.BBox[3]},
		}
	}
	if len(ff.Location) > 0 {
		if len(ff.Location) != 2 {
			return s, fmt.Errorf("%w: location needs 2 numbers, got %d", feature.ErrInvalidFeature, len(ff.Location))
		}
		s.Location = &orb.Point{ff.Location[0], ff.Location[1]}
	}
	return s, nil
}
