package xmlfile

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"

	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// FormatVersion is the document format written by this package.
const FormatVersion = 1

// section is one top-level collection element.
type section struct {
	name string
	kind domain.Kind
}

// collections lists the top-level sections in document order and the kinds
// whose root objects each holds.
var collections = []section{
	{"Users", domain.KindUser},
	{"ActivityTypes", domain.KindActivityType},
	{"PublicActivities", domain.KindPublicActivity},
	{"PublicTasks", domain.KindPublicTask},
	{"Projects", domain.KindProject},
	{"WorkStreams", domain.KindWorkStream},
	{"Beneficiaries", domain.KindBeneficiary},
}

type document struct {
	XMLName       xml.Name     `xml:"tt3-workspace"`
	FormatVersion int          `xml:"FormatVersion,attr"`
	NextOid       int64        `xml:"NextOid,attr"`
	Collections   []collection `xml:",any"`
}

type collection struct {
	XMLName xml.Name
	Items   []element `xml:",any"`
}

type element struct {
	XMLName      xml.Name
	Oid          int64         `xml:"Oid,attr"`
	Properties   []property    `xml:"Property"`
	Associations []association `xml:"Association"`
	Aggregations []aggregation `xml:"Aggregation"`
}

type property struct {
	Name  string   `xml:"Name,attr"`
	Value string   `xml:",chardata"`
	Items []string `xml:"Item"`
}

type association struct {
	Name string `xml:"Name,attr"`
	Refs []ref  `xml:"Ref"`
}

type ref struct {
	Oid int64 `xml:"Oid,attr"`
}

type aggregation struct {
	Name  string    `xml:"Name,attr"`
	Items []element `xml:",any"`
}

// containerOf returns the link that nests rec inside another object: the
// first container link carrying a target.
func containerOf(rec db.Record) (*db.Link, domain.OID, bool) {
	for _, l := range db.ForwardLinksOf(rec.Kind) {
		if targets := rec.Links[l.Name()]; l.IsContainer() && len(targets) == 1 {
			return l, targets[0], true
		}
	}
	return nil, domain.InvalidOID, false
}

// encode renders the whole graph as a document.
func encode(nextOID domain.OID, index map[domain.OID]db.Record) ([]byte, error) {
	type childKey struct {
		parent domain.OID
		link   string
	}
	children := make(map[childKey][]domain.OID)
	roots := make(map[domain.Kind][]domain.OID)
	for oid, rec := range index {
		if l, parent, ok := containerOf(rec); ok {
			if _, exists := index[parent]; !exists {
				return nil, fmt.Errorf("%w: %s %d is nested in missing object %d", db.ErrCorrupt, rec.Kind, oid, parent)
			}
			key := childKey{parent: parent, link: l.Inverse().Name()}
			children[key] = append(children[key], oid)
			continue
		}
		roots[rec.Kind] = append(roots[rec.Kind], oid)
	}

	emitted := 0
	var build func(oid domain.OID) (element, error)
	build = func(oid domain.OID) (element, error) {
		rec := index[oid]
		emitted++
		el := element{XMLName: xml.Name{Local: string(rec.Kind)}, Oid: int64(oid)}
		for _, p := range db.PropertiesOf(rec.Kind) {
			v, ok := rec.Props[p.Name()]
			if !ok {
				v = p.Zero()
			}
			if p.IsList() {
				items, _ := v.([]string)
				el.Properties = append(el.Properties, property{Name: p.Name(), Items: items})
				continue
			}
			el.Properties = append(el.Properties, property{Name: p.Name(), Value: p.Format(v)})
		}
		used, _, _ := containerOf(rec)
		for _, l := range db.ForwardLinksOf(rec.Kind) {
			targets := rec.Links[l.Name()]
			if l == used || len(targets) == 0 {
				continue
			}
			a := association{Name: l.Name()}
			for _, t := range targets {
				a.Refs = append(a.Refs, ref{Oid: int64(t)})
			}
			el.Associations = append(el.Associations, a)
		}
		for _, l := range db.LinksOf(rec.Kind) {
			if l.IsForward() || !l.Inverse().IsContainer() {
				continue
			}
			nested := children[childKey{parent: oid, link: l.Name()}]
			if len(nested) == 0 {
				continue
			}
			slices.Sort(nested)
			agg := aggregation{Name: l.Name()}
			for _, child := range nested {
				c, err := build(child)
				if err != nil {
					return element{}, err
				}
				agg.Items = append(agg.Items, c)
			}
			el.Aggregations = append(el.Aggregations, agg)
		}
		return el, nil
	}

	doc := document{FormatVersion: FormatVersion, NextOid: int64(nextOID)}
	for _, c := range collections {
		col := collection{XMLName: xml.Name{Local: c.name}}
		oids := roots[c.kind]
		slices.Sort(oids)
		for _, oid := range oids {
			el, err := build(oid)
			if err != nil {
				return nil, err
			}
			col.Items = append(col.Items, el)
		}
		doc.Collections = append(doc.Collections, col)
	}
	if emitted != len(index) {
		return nil, fmt.Errorf("%w: %d of %d objects are unreachable from the document root", db.ErrCorrupt, len(index)-emitted, len(index))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// decode parses a document into a graph. Structural rules beyond the
// document shape are left to the database.
func decode(data []byte) (*db.Graph, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse document: %v", db.ErrCorrupt, err)
	}
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", db.ErrCorrupt, doc.FormatVersion)
	}
	if doc.NextOid < 0 {
		return nil, fmt.Errorf("%w: negative NextOid", db.ErrCorrupt)
	}
	graph := &db.Graph{NextOID: domain.OID(doc.NextOid)}
	seen := make(map[domain.OID]bool)

	var walk func(el element, parent *db.Record, aggName string) error
	walk = func(el element, parent *db.Record, aggName string) error {
		kind, ok := domain.ParseKind(el.XMLName.Local)
		if !ok || string(kind) != el.XMLName.Local {
			return fmt.Errorf("%w: unknown element <%s>", db.ErrCorrupt, el.XMLName.Local)
		}
		oid := domain.OID(el.Oid)
		if oid <= domain.InvalidOID {
			return fmt.Errorf("%w: <%s> has invalid Oid %d", db.ErrCorrupt, kind, el.Oid)
		}
		if seen[oid] {
			return fmt.Errorf("%w: duplicate Oid %d", db.ErrCorrupt, oid)
		}
		seen[oid] = true

		rec := db.Record{OID: oid, Kind: kind, Props: make(map[string]any), Links: make(map[string][]domain.OID)}
		for _, p := range el.Properties {
			desc, ok := db.PropertyByName(kind, p.Name)
			if !ok {
				return fmt.Errorf("%w: %s %d has unknown property %q", db.ErrCorrupt, kind, oid, p.Name)
			}
			if desc.IsList() {
				rec.Props[p.Name] = append([]string{}, p.Items...)
				continue
			}
			v, err := desc.Parse(p.Value)
			if err != nil {
				return fmt.Errorf("%w: %s %d: %v", db.ErrCorrupt, kind, oid, err)
			}
			rec.Props[p.Name] = v
		}
		for _, a := range el.Associations {
			l, ok := db.LinkByName(kind, a.Name)
			if !ok || !l.IsForward() {
				return fmt.Errorf("%w: %s %d has unknown association %q", db.ErrCorrupt, kind, oid, a.Name)
			}
			for _, r := range a.Refs {
				rec.Links[a.Name] = append(rec.Links[a.Name], domain.OID(r.Oid))
			}
		}
		if parent != nil {
			l := nestingLink(kind, parent.Kind, aggName)
			if l == nil {
				return fmt.Errorf("%w: %s %d cannot be nested in %s.%s", db.ErrCorrupt, kind, oid, parent.Kind, aggName)
			}
			rec.Links[l.Name()] = []domain.OID{parent.OID}
		}
		graph.Records = append(graph.Records, rec)

		for _, agg := range el.Aggregations {
			for _, child := range agg.Items {
				if err := walk(child, &rec, agg.Name); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, col := range doc.Collections {
		idx := slices.IndexFunc(collections, func(c section) bool { return c.name == col.XMLName.Local })
		if idx < 0 {
			return nil, fmt.Errorf("%w: unknown collection <%s>", db.ErrCorrupt, col.XMLName.Local)
		}
		for _, el := range col.Items {
			if el.XMLName.Local != string(collections[idx].kind) {
				return nil, fmt.Errorf("%w: <%s> in collection %s", db.ErrCorrupt, el.XMLName.Local, col.XMLName.Local)
			}
			if err := walk(el, nil, ""); err != nil {
				return nil, err
			}
		}
	}
	return graph, nil
}

// nestingLink finds the container link of kind whose reverse side, named
// aggName, belongs to parentKind.
func nestingLink(kind, parentKind domain.Kind, aggName string) *db.Link {
	for _, l := range db.ForwardLinksOf(kind) {
		if l.IsContainer() && l.Inverse().Name() == aggName && l.Inverse().AppliesTo(parentKind) {
			return l
		}
	}
	return nil
}
