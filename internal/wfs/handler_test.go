package wfs

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-query/internal/artifact"
	"github.com/mohammed-shakir/wfs-query/internal/dataset"
	"github.com/mohammed-shakir/wfs-query/internal/feature"
	"github.com/mohammed-shakir/wfs-query/internal/query"
	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
	"github.com/mohammed-shakir/wfs-query/internal/subset"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	specs := []feature.Spec{
		{ID: "f1", Type: "A", Title: "First", BBox: &orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}},
		{ID: "f2", Type: "B", Title: "Second", BBox: &orb.Bound{Min: orb.Point{20, 20}, Max: orb.Point{30, 30}}},
		{
			ID: "ps", Type: feature.TypePointSeries, Title: "Station",
			Location:   &orb.Point{1, 2},
			Properties: map[string][]string{feature.PropParameter: {"air_temperature", "TEMP"}},
			Times:      []string{"2001-01-01T00:00:00Z", "2001-01-02T00:00:00Z", "2001-01-03T00:00:00Z"},
		},
	}
	var feats []*feature.Feature
	for _, s := range specs {
		f, err := feature.New(s)
		if err != nil {
			t.Fatalf("feature.New: %v", err)
		}
		feats = append(feats, f)
	}
	cache, err := dataset.NewCache(dataset.Static{
		"ds":    dataset.NewDocument("ds", "", feats),
		"empty": dataset.NewDocument("empty", "", nil),
	}, dataset.CacheOptions{})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	mem, err := artifact.NewMemory(8)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	reg, err := storedquery.Builtin(subset.New(mem, nil))
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	h := NewHandler(cache, query.New(reg, nil), mem, Options{Now: func() time.Time { return fixedNow }})

	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, q url.Values) (int, *etree.Element, string) {
	t.Helper()
	u := srv.URL + path
	if q != nil {
		u += "?" + q.Encode()
	}
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	defer resp.Body.Close()
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	body, _ := doc.WriteToString()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("content-type = %q", ct)
	}
	return resp.StatusCode, doc.Root(), body
}

func kv(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}

func memberIDs(root *etree.Element, tag string) string {
	var ids []string
	for _, m := range root.SelectElements(tag) {
		if c := m.ChildElements(); len(c) > 0 {
			ids = append(ids, c[0].SelectAttrValue("gml:id", ""))
		}
	}
	return strings.Join(ids, ",")
}

func exception(t *testing.T, root *etree.Element) (code, locator string) {
	t.Helper()
	if root == nil || root.Tag != "ExceptionReport" {
		t.Fatalf("want exception report, got %v", root)
	}
	ex := root.SelectElement("ows:Exception")
	return ex.SelectAttrValue("exceptionCode", ""), ex.SelectAttrValue("locator", "")
}

func TestGetFeature_ListingWithTypeAndMax(t *testing.T) {
	srv := newServer(t)

	code, root, body := get(t, srv, "/wfs/ds", kv("SERVICE", "WFS", "REQUEST", "GetFeature", "VERSION", "2.0.0"))
	if code != http.StatusOK || root.Tag != "FeatureCollection" {
		t.Fatalf("status %d body %s", code, body)
	}
	if got := memberIDs(root, "wfs:member"); got != "f1,f2,ps" {
		t.Fatalf("members = %q", got)
	}
	if root.SelectAttrValue("numberReturned", "") != "3" || root.SelectAttrValue("timeStamp", "") != "2025-01-02T03:04:05Z" {
		t.Fatalf("attrs in %s", body)
	}

	_, root, _ = get(t, srv, "/wfs/ds", kv("request", "GetFeature", "typename", "B"))
	if got := memberIDs(root, "gml:featureMember"); got != "f2" {
		t.Fatalf("typename members = %q", got)
	}
	if root.SelectAttrValue("numberOfFeatures", "") != "1" {
		t.Fatalf("1.1.0 count attribute missing")
	}

	_, root, _ = get(t, srv, "/wfs/ds", kv("request", "GetFeature", "version", "2.0.0", "count", "2"))
	if got := memberIDs(root, "wfs:member"); got != "f1,f2" {
		t.Fatalf("count members = %q", got)
	}
}

func TestGetFeature_FilterWinsOverStoredQuery(t *testing.T) {
	srv := newServer(t)
	filter := `<wfs:Query xmlns:wfs="http://www.opengis.net/wfs" xmlns:ogc="http://www.opengis.net/ogc" xmlns:gml="http://www.opengis.net/gml"><ogc:Filter>` +
		`<ogc:BBOX><ogc:PropertyName>gml:boundedBy</ogc:PropertyName><gml:Envelope srsName="EPSG:4326"><gml:lowerCorner>5 5</gml:lowerCorner><gml:upperCorner>15 15</gml:upperCorner></gml:Envelope></ogc:BBOX>` +
		`</ogc:Filter></wfs:Query>`

	code, root, body := get(t, srv, "/wfs/ds", kv(
		"request", "GetFeature", "version", "2.0.0",
		"query", filter,
		"storedquery_id", storedquery.GetFeatureByID, "id", "f2",
	))
	if code != http.StatusOK {
		t.Fatalf("status %d: %s", code, body)
	}
	if got := memberIDs(root, "wfs:member"); got != "f1" {
		t.Fatalf("members = %q", got)
	}
}

func TestGetFeature_StoredQueryByID(t *testing.T) {
	srv := newServer(t)
	code, root, body := get(t, srv, "/wfs/ds", kv(
		"request", "GetFeature", "version", "2.0.0",
		"STOREDQUERY_ID", storedquery.GetFeatureByID, "ID", "f1",
	))
	if code != http.StatusOK {
		t.Fatalf("status %d: %s", code, body)
	}
	if got := memberIDs(root, "wfs:member"); got != "f1" {
		t.Fatalf("members = %q", got)
	}
	if root.SelectElement("wfs:additionalObjects") != nil {
		t.Fatalf("no additional objects expected: %s", body)
	}
}

func TestGetFeature_ExtractLinksDownloadableArtifact(t *testing.T) {
	srv := newServer(t)
	code, root, body := get(t, srv, "/wfs/ds", kv(
		"request", "GetFeature", "version", "2.0.0",
		"storedquery_id", storedquery.ExtractPointSeriesFromPointSeries,
		"featureid", "ps", "mintime", "2001-01-01T00:00:00Z", "maxtime", "2001-01-02T00:00:00Z",
	))
	if code != http.StatusOK {
		t.Fatalf("status %d: %s", code, body)
	}
	extra := root.SelectElement("wfs:additionalObjects")
	if extra == nil {
		t.Fatalf("missing additional objects: %s", body)
	}
	fe := extra.SelectElement("csml:FileExtract")
	if fe == nil || fe.SelectElement("csml:arraySize").Text() != "2" {
		t.Fatalf("descriptor = %s", body)
	}
	link := fe.SelectElement("csml:fileName").Text()
	if !strings.HasPrefix(link, srv.URL+"/filestore/csml") {
		t.Fatalf("link %q not under %s", link, srv.URL)
	}

	resp, err := http.Get(link)
	if err != nil {
		t.Fatalf("GET artifact: %v", err)
	}
	defer resp.Body.Close()
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(resp.Body); err != nil {
		t.Fatalf("artifact body: %v", err)
	}
	if resp.StatusCode != http.StatusOK || doc.Root().FullTag() != feature.TypePointSeries {
		t.Fatalf("artifact status %d root %v", resp.StatusCode, doc.Root())
	}
}

func TestGetPropertyValue(t *testing.T) {
	srv := newServer(t)

	code, root, body := get(t, srv, "/wfs/ds", kv("request", "GetPropertyValue", "valuereference", "gml:name", "typename", "A"))
	if code != http.StatusOK || root.Tag != "ValueCollection" {
		t.Fatalf("status %d: %s", code, body)
	}
	members := root.SelectElements("wfs:member")
	if len(members) != 1 || members[0].SelectElement("gml:name").Text() != "First" {
		t.Fatalf("values = %s", body)
	}

	_, root, body = get(t, srv, "/wfs/ds", kv(
		"request", "GetPropertyValue",
		"valueReference", "csml:parameter[@nonStandardName]",
		"storedquery_id", storedquery.PhenomenonQuery, "phenomenon", "air_temperature",
	))
	members = root.SelectElements("wfs:member")
	if len(members) != 1 || members[0].Text() != "TEMP" {
		t.Fatalf("attribute values = %s", body)
	}
}

func TestStoredQueryListings(t *testing.T) {
	srv := newServer(t)

	code, root, body := get(t, srv, "/wfs/ds", kv("request", "ListStoredQueries", "version", "2.0.0"))
	if code != http.StatusOK || len(root.SelectElements("wfs:StoredQuery")) != 6 {
		t.Fatalf("list: %d %s", code, body)
	}

	_, root, body = get(t, srv, "/wfs/ds", kv("request", "DescribeStoredQueries",
		"storedquery_id", storedquery.GetFeatureByID+","+storedquery.PhenomenonQuery))
	descs := root.SelectElements("wfs:StoredQueryDescription")
	if len(descs) != 2 || descs[0].SelectAttrValue("id", "") != storedquery.GetFeatureByID {
		t.Fatalf("describe: %s", body)
	}
	p := descs[0].SelectElement("wfs:Parameter")
	if p == nil || p.SelectAttrValue("name", "") != "id" {
		t.Fatalf("parameter: %s", body)
	}
	if qe := descs[0].SelectElement("wfs:QueryExpressionText"); qe.SelectAttrValue("language", "") != storedquery.DefaultLanguage {
		t.Fatalf("language: %s", body)
	}

	_, root, _ = get(t, srv, "/wfs/ds", kv("request", "DescribeStoredQueries"))
	if n := len(root.SelectElements("wfs:StoredQueryDescription")); n != 6 {
		t.Fatalf("describe all = %d", n)
	}
}

func TestExceptions(t *testing.T) {
	srv := newServer(t)
	cases := []struct {
		name    string
		path    string
		q       url.Values
		status  int
		code    string
		locator string
	}{
		{"missing request", "/wfs/ds", kv("service", "WFS"), 400, CodeMissingParameterValue, "request"},
		{"unknown op", "/wfs/ds", kv("request", "Transaction"), 400, CodeOperationNotSupported, "request"},
		{"bad version", "/wfs/ds", kv("request", "GetFeature", "version", "3.0"), 400, CodeInvalidParameterValue, "version"},
		{"bad service", "/wfs/ds", kv("request", "GetFeature", "service", "WMS"), 400, CodeInvalidParameterValue, "service"},
		{"malformed filter", "/wfs/ds", kv("request", "GetFeature", "query", "<wfs:Query"), 400, CodeInvalidParameterValue, "query"},
		{"unknown stored query", "/wfs/ds", kv("request", "GetFeature", "storedquery_id", "urn:nope"), 400, CodeInvalidParameterValue, "storedquery_id"},
		{"missing stored param", "/wfs/ds", kv("request", "GetFeature", "storedquery_id", storedquery.GetFeatureByID), 400, CodeMissingParameterValue, ""},
		{"feature not found", "/wfs/ds", kv("request", "GetFeature", "storedquery_id", storedquery.GetFeatureByID, "id", "missing"), 404, CodeInvalidParameterValue, "id"},
		{"bad typename", "/wfs/ds", kv("request", "GetFeature", "typename", "Z"), 400, CodeInvalidParameterValue, "typename"},
		{"bad maxfeatures", "/wfs/ds", kv("request", "GetFeature", "maxfeatures", "-1"), 400, CodeInvalidParameterValue, "maxfeatures"},
		{"missing valuereference", "/wfs/ds", kv("request", "GetPropertyValue"), 400, CodeMissingParameterValue, "valuereference"},
		{"bad valuereference", "/wfs/ds", kv("request", "GetPropertyValue", "valuereference", "/abs"), 400, CodeInvalidParameterValue, "valuereference"},
		{"unknown source", "/wfs/nope", kv("request", "GetFeature"), 404, CodeInvalidParameterValue, "source"},
		{"empty source", "/wfs/empty", kv("request", "GetFeature"), 404, CodeNoApplicableCode, "source"},
		{"describe unknown", "/wfs/ds", kv("request", "DescribeStoredQueries", "storedquery_id", "urn:nope"), 400, CodeInvalidParameterValue, "storedquery_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, root, body := get(t, srv, tc.path, tc.q)
			if status != tc.status {
				t.Fatalf("status = %d want %d: %s", status, tc.status, body)
			}
			code, locator := exception(t, root)
			if code != tc.code || locator != tc.locator {
				t.Fatalf("exception = %s/%s want %s/%s", code, locator, tc.code, tc.locator)
			}
		})
	}
}

func TestServeArtifact_Errors(t *testing.T) {
	srv := newServer(t)
	for path, want := range map[string]int{
		"/filestore/missing.xml": http.StatusNotFound,
		"/filestore/..hidden":    http.StatusBadRequest,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: status %d want %d", path, resp.StatusCode, want)
		}
	}
}

func TestParseKVP_LowercasesAndSplitsParams(t *testing.T) {
	k := parseKVP(url.Values{"StoredQuery_ID": {"x"}, "FeatureID": {" ps "}, "MAXFEATURES": {"3"}})
	if k.get("storedquery_id") != "x" {
		t.Fatalf("kvp = %v", k)
	}
	p := k.storedParams()
	if len(p) != 1 || p["featureid"] != "ps" {
		t.Fatalf("params = %v", p)
	}
	n, err := k.maxFeatures()
	if err != nil || n == nil || *n != 3 {
		t.Fatalf("maxfeatures = %v %v", n, err)
	}
}

func TestParseKVP_CollidingSpellingsAreDeterministic(t *testing.T) {
	q := url.Values{"TYPENAME": {"x"}, "TypeName": {"z"}, "typename": {"y"}}
	for range 50 {
		if got := parseKVP(q).get("typename"); got != "y" {
			t.Fatalf("typename = %q, want y", got)
		}
	}
	// an empty later spelling does not erase an earlier value
	q = url.Values{"TYPENAME": {"x"}, "typename": {""}}
	if got := parseKVP(q).get("typename"); got != "x" {
		t.Fatalf("typename = %q, want x", got)
	}
}
