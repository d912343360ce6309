package feature

import (
	"slices"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// TimePositionPath is the point-series time domain, relative to the feature root.
const TimePositionPath = "csml:value/csml:PointSeriesCoverage/csml:pointSeriesDomain/csml:TimeSeries/csml:timePositionList"

func canonicalGML(f *Feature) *etree.Document {
	doc := etree.NewDocument()
	root := doc.CreateElement(f.Type)
	root.CreateAttr("xmlns:csml", NSCSML)
	root.CreateAttr("xmlns:gml", NSGML)
	root.CreateAttr("xmlns:xlink", NSXLink)
	root.CreateAttr("gml:id", f.ID)

	if f.Abstract != "" {
		root.CreateElement("gml:description").SetText(f.Abstract)
	}
	if f.Title != "" {
		root.CreateElement("gml:name").SetText(f.Title)
	}

	switch {
	case f.BBox != nil:
		env := root.CreateElement("gml:boundedBy").CreateElement("gml:Envelope")
		env.CreateAttr("srsName", f.CRS)
		env.CreateElement("gml:lowerCorner").SetText(coords(f.BBox.Min[0], f.BBox.Min[1]))
		env.CreateElement("gml:upperCorner").SetText(coords(f.BBox.Max[0], f.BBox.Max[1]))
	case f.Location != nil:
		pt := root.CreateElement("csml:location").CreateElement("gml:Point")
		pt.CreateAttr("srsName", f.CRS)
		pt.CreateElement("gml:pos").SetText(coords(f.Location[0], f.Location[1]))
	}

	if std, nonStd := f.Parameter(); std != "" || nonStd != "" {
		p := root.CreateElement(PropParameter)
		p.SetText(std)
		if nonStd != "" {
			p.CreateAttr("nonStandardName", nonStd)
		}
	}

	// only csml and gml properties have a declared prefix in the template
	names := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		if k == PropParameter {
			continue
		}
		if strings.HasPrefix(k, "csml:") || strings.HasPrefix(k, "gml:") {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	for _, k := range names {
		for _, v := range f.Properties[k] {
			root.CreateElement(k).SetText(v)
		}
	}

	kind := coverageKind(f.Type)
	cov := root.CreateElement("csml:value").CreateElement("csml:" + kind + "Coverage")
	if len(f.Times) > 0 {
		domain := lowerFirst(kind) + "Domain"
		cov.CreateElement("csml:" + domain).
			CreateElement("csml:TimeSeries").
			CreateElement("csml:timePositionList").
			SetText(strings.Join(f.Times, " "))
	}

	refs := make([]string, 0, len(f.inline))
	for k := range f.inline {
		refs = append(refs, k)
	}
	slices.Sort(refs)
	for _, ref := range refs {
		cov.CreateElement("csml:rangeSet").CreateAttr("xlink:href", "#"+ref)
	}

	doc.Indent(2)
	return doc
}

// coverageKind maps csml:PointSeriesFeature to PointSeries.
func coverageKind(typ string) string {
	local := typ
	if i := strings.IndexByte(local, ':'); i >= 0 {
		local = local[i+1:]
	}
	local = strings.TrimSuffix(local, "Feature")
	if local == "" {
		return "Generic"
	}
	return local
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func coords(x, y float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64) + " " + strconv.FormatFloat(y, 'f', -1, 64)
}

func isXLinkHref(a etree.Attr) bool {
	if a.Key != "href" {
		return false
	}
	return a.Space == "xlink" || a.NamespaceURI() == NSXLink
}

// resolveRefs rewrites every local xlink reference under root in place.
// Inline content wins over an in-document gml:id target.
func resolveRefs(root *etree.Element, inline map[string]string) {
	if root == nil {
		return
	}
	all := append([]*etree.Element{root}, root.FindElements(".//*")...)

	targets := make(map[string]*etree.Element)
	for _, el := range all {
		if id := el.SelectAttrValue("gml:id", ""); id != "" {
			if _, dup := targets[id]; !dup {
				targets[id] = el
			}
		}
	}

	for _, el := range all {
		var href etree.Attr
		found := false
		for _, a := range el.Attr {
			if isXLinkHref(a) {
				href, found = a, true
				break
			}
		}
		if !found || !strings.HasPrefix(href.Value, "#") {
			continue
		}
		ref := strings.TrimPrefix(href.Value, "#")

		if content, ok := inline[ref]; ok {
			el.RemoveAttr(href.FullKey())
			inlineContent(el, content)
			continue
		}
		if target, ok := targets[ref]; ok && target != el {
			el.RemoveAttr(href.FullKey())
			for _, c := range target.ChildElements() {
				el.AddChild(c.Copy())
			}
			if len(target.ChildElements()) == 0 {
				el.SetText(target.Text())
			}
		}
	}
}

// inlineContent adds content as child elements when it is an XML fragment
// and as character data otherwise.
func inlineContent(el *etree.Element, content string) {
	frag := etree.NewDocument()
	if err := frag.ReadFromString("<fragment>" + content + "</fragment>"); err != nil {
		el.SetText(content)
		return
	}
	children := frag.Root().ChildElements()
	if len(children) == 0 {
		el.SetText(frag.Root().Text())
		return
	}
	for _, c := range children {
		el.AddChild(c.Copy())
	}
}
