package wfs

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
)

const (
	NSWFS110 = "http://www.opengis.net/wfs"
	NSWFS200 = "http://www.opengis.net/wfs/2.0"
)

func wfsNamespace(version string) string {
	if version == version200 {
		return NSWFS200
	}
	return NSWFS110
}

func newResponse(tag, version string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("wfs:" + tag)
	root.CreateAttr("xmlns:wfs", wfsNamespace(version))
	root.CreateAttr("xmlns:gml", feature.NSGML)
	root.CreateAttr("xmlns:csml", feature.NSCSML)
	root.CreateAttr("xmlns:xlink", feature.NSXLink)
	return doc, root
}

// appendXML parses a finished document and attaches its root under parent.
func appendXML(parent *etree.Element, raw string) error {
	d := etree.NewDocument()
	if err := d.ReadFromString(raw); err != nil {
		return fmt.Errorf("additional object: %w", err)
	}
	if d.Root() == nil {
		return fmt.Errorf("additional object has no root element")
	}
	parent.AddChild(d.Root())
	return nil
}

func featureCollection(res feature.Result, version string, now time.Time) (*etree.Document, error) {
	doc, root := newResponse("FeatureCollection", version)
	n := strconv.Itoa(len(res.Features))
	root.CreateAttr("timeStamp", now.UTC().Format(time.RFC3339))
	if version == version200 {
		root.CreateAttr("numberMatched", n)
		root.CreateAttr("numberReturned", n)
	} else {
		root.CreateAttr("numberOfFeatures", n)
	}

	memberTag := "gml:featureMember"
	if version == version200 {
		memberTag = "wfs:member"
	}
	for _, f := range res.Features {
		root.CreateElement(memberTag).AddChild(f.Resolve().Root())
	}

	if len(res.Auxiliary) > 0 {
		extra := root.CreateElement("wfs:additionalObjects")
		for _, raw := range res.Auxiliary {
			if err := appendXML(extra, raw); err != nil {
				return nil, err
			}
		}
	}
	return doc, nil
}

// valueCollection wraps projected values. Attribute values are text; element
// values are standalone documents.
func valueCollection(values []string, attribute bool, version string, now time.Time) (*etree.Document, error) {
	doc, root := newResponse("ValueCollection", version)
	n := strconv.Itoa(len(values))
	root.CreateAttr("timeStamp", now.UTC().Format(time.RFC3339))
	root.CreateAttr("numberMatched", n)
	root.CreateAttr("numberReturned", n)
	for _, v := range values {
		member := root.CreateElement("wfs:member")
		if attribute {
			member.SetText(v)
			continue
		}
		if err := appendXML(member, v); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func listStoredQueries(defs []storedquery.Definition, version string) *etree.Document {
	doc, root := newResponse("ListStoredQueriesResponse", version)
	for _, d := range defs {
		q := root.CreateElement("wfs:StoredQuery")
		q.CreateAttr("id", d.ID)
		q.CreateElement("wfs:Title").SetText(d.Title)
		q.CreateElement("wfs:ReturnFeatureType").SetText(d.ReturnFeatureType)
	}
	return doc
}

func describeStoredQueries(defs []storedquery.Definition, version string) *etree.Document {
	doc, root := newResponse("DescribeStoredQueriesResponse", version)
	root.CreateAttr("xmlns:xsd", "http://www.w3.org/2001/XMLSchema")
	for _, d := range defs {
		q := root.CreateElement("wfs:StoredQueryDescription")
		q.CreateAttr("id", d.ID)
		q.CreateElement("wfs:Title").SetText(d.Title)
		q.CreateElement("wfs:Abstract").SetText(d.Abstract)
		for _, p := range d.Parameters {
			pe := q.CreateElement("wfs:Parameter")
			pe.CreateAttr("name", p.Name)
			pe.CreateAttr("type", p.Type)
		}
		qe := q.CreateElement("wfs:QueryExpressionText")
		qe.CreateAttr("returnFeatureTypes", d.ReturnFeatureType)
		qe.CreateAttr("language", d.Language)
		qe.CreateAttr("isPrivate", "true")
	}
	return doc
}
