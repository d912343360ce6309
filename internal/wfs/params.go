package wfs

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
)

const (
	defaultVersion = "1.1.0"
	version200     = "2.0.0"
)

var validVersions = map[string]bool{defaultVersion: true, version200: true}

// keys the protocol layer consumes; everything else goes to the stored query
var reserved = map[string]bool{
	"service":        true,
	"version":        true,
	"request":        true,
	"query":          true,
	"storedquery_id": true,
	"typename":       true,
	"typenames":      true,
	"maxfeatures":    true,
	"count":          true,
	"valuereference": true,
}

// kvp holds request parameters keyed by lower-case name.
type kvp map[string]string

// parseKVP folds keys to lower case. When spellings collide, the one that
// sorts last wins, so TYPENAME=x&typename=y always yields y.
func parseKVP(q url.Values) kvp {
	out := make(kvp, len(q))
	for _, k := range slices.Sorted(maps.Keys(q)) {
		vs := q[k]
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || len(vs) == 0 {
			continue
		}
		if _, dup := out[key]; dup && vs[0] == "" {
			continue
		}
		out[key] = strings.TrimSpace(vs[0])
	}
	return out
}

func (k kvp) get(names ...string) string {
	for _, n := range names {
		if v := k[n]; v != "" {
			return v
		}
	}
	return ""
}

func (k kvp) version() (string, error) {
	v := k.get("version")
	if v == "" {
		return defaultVersion, nil
	}
	if !validVersions[v] {
		return "", invalidParam("version", "version %s not supported", v)
	}
	return v, nil
}

func (k kvp) storedParams() storedquery.Params {
	p := storedquery.Params{}
	for name, v := range k {
		if !reserved[name] {
			p[name] = v
		}
	}
	return p
}

// maxFeatures reads maxfeatures, or count as WFS 2.0 names it.
func (k kvp) maxFeatures() (*int, error) {
	raw := k.get("maxfeatures", "count")
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, invalidParam("maxfeatures", "maxfeatures must be a non-negative integer, got %q", raw)
	}
	return &n, nil
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
