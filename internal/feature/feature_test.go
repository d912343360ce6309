package feature

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func bound(minX, minY, maxX, maxY float64) *orb.Bound {
	return &orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

func TestNew_RejectsBothGeometries(t *testing.T) {
	_, err := New(Spec{
		ID:       "f1",
		Type:     TypePointSeries,
		BBox:     bound(0, 0, 1, 1),
		Location: &orb.Point{0, 0},
	})
	if !errors.Is(err, ErrInvalidFeature) {
		t.Fatalf("want ErrInvalidFeature, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	cases := map[string]Spec{
		"no id":    {Type: TypePoint},
		"no type":  {ID: "x"},
		"inverted": {ID: "x", Type: TypePoint, BBox: bound(5, 5, 1, 1)},
		"bad gml":  {ID: "x", Type: TypePoint, GML: "<a><b></a>"},
		"nan bbox": {ID: "x", Type: TypePoint, BBox: bound(math.NaN(), math.NaN(), math.NaN(), math.NaN())},
		"inf bbox": {ID: "x", Type: TypePoint, BBox: bound(0, 0, math.Inf(1), 1)},
		"nan loc":  {ID: "x", Type: TypePoint, Location: &orb.Point{math.NaN(), 1}},
	}
	for name, s := range cases {
		if _, err := New(s); !errors.Is(err, ErrInvalidFeature) {
			t.Fatalf("%s: want ErrInvalidFeature, got %v", name, err)
		}
	}
}

func TestNew_NoGeometryIsLegal(t *testing.T) {
	f, err := New(Spec{ID: "g", Type: TypeGridSeries})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.BBox != nil || f.Location != nil {
		t.Fatalf("unexpected geometry")
	}
	if f.CRS != "EPSG:4326" {
		t.Fatalf("default crs = %q", f.CRS)
	}
}

func TestCanonicalGML_Content(t *testing.T) {
	f, err := New(Spec{
		ID:         "ps1",
		Type:       TypePointSeries,
		Title:      "Station A",
		Abstract:   "hourly temperature",
		Location:   &orb.Point{-1.5, 51.25},
		Properties: map[string][]string{PropParameter: {"air_temperature", "TEMP"}},
		Times:      []string{"2001-01-01T00:00:00Z", "2001-01-02T00:00:00Z"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	gml, err := f.GML()
	if err != nil {
		t.Fatalf("GML: %v", err)
	}
	for _, want := range []string{
		`<csml:PointSeriesFeature`,
		`gml:id="ps1"`,
		`<gml:name>Station A</gml:name>`,
		`<gml:pos>-1.5 51.25</gml:pos>`,
		`nonStandardName="TEMP"`,
		`<csml:timePositionList>2001-01-01T00:00:00Z 2001-01-02T00:00:00Z</csml:timePositionList>`,
	} {
		if !strings.Contains(gml, want) {
			t.Fatalf("gml missing %q:\n%s", want, gml)
		}
	}
	if el := f.Resolve().Root().FindElement(TimePositionPath); el == nil {
		t.Fatalf("time position path not found")
	}
}

func TestResolve_InlinesWithoutMutatingTemplate(t *testing.T) {
	f, err := New(Spec{
		ID:     "g1",
		Type:   TypeGridSeries,
		BBox:   bound(0, 0, 10, 10),
		Inline: map[string]string{"data1": `<csml:FileExtract><csml:fileName>a.nc</csml:fileName></csml:FileExtract>`},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := f.Resolve()
	rs := doc.Root().FindElement("csml:value/csml:GridSeriesCoverage/csml:rangeSet")
	if rs == nil {
		t.Fatalf("rangeSet missing")
	}
	if rs.SelectAttr("xlink:href") != nil {
		t.Fatalf("href should be dropped after resolution")
	}
	if fn := rs.FindElement("csml:FileExtract/csml:fileName"); fn == nil || fn.Text() != "a.nc" {
		t.Fatalf("inline content not copied: %v", fn)
	}

	again := f.doc.Root().FindElement("csml:value/csml:GridSeriesCoverage/csml:rangeSet")
	if again.SelectAttr("xlink:href") == nil {
		t.Fatalf("template was mutated")
	}
}

func TestResolve_InDocumentTarget(t *testing.T) {
	raw := `<csml:PointFeature xmlns:csml="http://ndg.nerc.ac.uk/csml" xmlns:gml="http://www.opengis.net/gml" xmlns:xlink="http://www.w3.org/1999/xlink" gml:id="p1">
  <csml:parameter xlink:href="#phen"/>
  <csml:definitions><csml:Phenomenon gml:id="phen"><gml:name>rainfall</gml:name></csml:Phenomenon></csml:definitions>
</csml:PointFeature>`
	f, err := New(Spec{ID: "p1", Type: TypePoint, GML: raw})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	name := f.Resolve().Root().FindElement("csml:parameter/gml:name")
	if name == nil || name.Text() != "rainfall" {
		t.Fatalf("reference not resolved: %v", name)
	}
}

func TestResolve_PlainTextInline(t *testing.T) {
	f, err := New(Spec{ID: "x", Type: TypePoint, Inline: map[string]string{"v": "42 43"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	el := f.Resolve().Root().FindElement("csml:value/csml:PointCoverage/csml:rangeSet")
	if el == nil || el.Text() != "42 43" {
		t.Fatalf("got %v", el)
	}
}

func TestTimeExtent_OrderIndependent(t *testing.T) {
	f, err := New(Spec{ID: "t", Type: TypePointSeries, Times: []string{"2003-05-01", "2001-01-01T00:00:00Z", "garbage", "2002-06-01T12:00:00.0"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lo, hi, ok := f.TimeExtent()
	if !ok {
		t.Fatalf("expected extent")
	}
	if !lo.Equal(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)) || !hi.Equal(time.Date(2003, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("extent = %v..%v", lo, hi)
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2001-01-01T00:00:00Z", "2001-01-01T00:00:00.0", "2001-01-01", "2001-01-01 06:00:00", "2001-01-01T00:00:00+01:00"} {
		if _, err := ParseTime(s); err != nil {
			t.Fatalf("ParseTime(%q): %v", s, err)
		}
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResultSet_Algebra(t *testing.T) {
	a, _ := New(Spec{ID: "a", Type: TypePoint})
	b, _ := New(Spec{ID: "b", Type: TypePoint})
	c, _ := New(Spec{ID: "c", Type: TypePoint})

	left := NewResultSet(a, b)
	right := NewResultSet(b, c)

	u := left.Union(right)
	if got := strings.Join(u.IDs(), ","); got != "a,b,c" {
		t.Fatalf("union = %s", got)
	}
	i := left.Intersect(right)
	if got := strings.Join(i.IDs(), ","); got != "b" {
		t.Fatalf("intersect = %s", got)
	}
	if left.Len() != 2 || !left.Has("a") || left.Has("c") {
		t.Fatalf("left mutated: %v", left.IDs())
	}
	fs := u.Features()
	if len(fs) != 3 || fs[0].ID != "a" || fs[2].ID != "c" {
		t.Fatalf("features order wrong")
	}
}
