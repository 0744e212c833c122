// Package persist saves and loads the customer graph as a GraphML snapshot.
//
// GraphML only carries scalar attributes, so every value is written as a
// string: times as RFC 3339 in UTC, numbers as plain decimals. The loader
// re-parses each attribute by its key name rather than by any stored type
// information, which means the key names below are part of the file format.
//
// A snapshot is written wholesale to a temporary file in the target
// directory and renamed over the previous one, so readers of the path see
// either the old or the new file. When a passphrase is configured the GraphML
// bytes are sealed with the encryption package before they reach disk.
//
// Ids and other free-text values may hold characters XML 1.0 cannot carry
// (control characters, invalid UTF-8). Those bytes, and '%' itself, are
// percent-encoded on write and decoded on read, so any string the builder
// accepts survives a round trip unchanged.
package persist

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"

// Attribute names. Node and edge keys are declared with distinct ids
// ("n_"+name, "e_"+name, "g_"+name) so an attribute name can be reused across
// element kinds.
const (
	attrKind         = "kind"
	attrID           = "id"
	attrRegisteredAt = "registered_at"
	attrLastActiveAt = "last_active_at"
	attrTotalSpent   = "total_spent"
	attrTotalOrders  = "total_orders"
	attrRegion       = "region"
	attrStatus       = "status"
	attrName         = "name"
	attrCategory     = "category"
	attrPrice        = "price"
	attrStock        = "stock"
	attrRating       = "rating"

	attrTransactionID = "transaction_id"
	attrQuantity      = "quantity"
	attrAmount        = "amount"
	attrTimestamp     = "timestamp"
	attrScore         = "score"
	attrShared        = "shared_products"

	attrBuildID = "build_id"
	attrBuiltAt = "built_at"
)

var (
	nodeAttrs  = []string{attrKind, attrID, attrRegisteredAt, attrLastActiveAt, attrTotalSpent, attrTotalOrders, attrRegion, attrStatus, attrName, attrCategory, attrPrice, attrStock, attrRating}
	edgeAttrs  = []string{attrKind, attrTransactionID, attrQuantity, attrAmount, attrTimestamp, attrStatus, attrScore, attrShared}
	graphAttrs = []string{attrBuildID, attrBuiltAt}
)

type graphML struct {
	XMLName xml.Name `xml:"graphml"`
	XMLNS   string   `xml:"xmlns,attr"`
	Keys    []gmlKey `xml:"key"`
	Graph   gmlGraph `xml:"graph"`
}

type gmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type gmlGraph struct {
	ID          string    `xml:"id,attr"`
	EdgeDefault string    `xml:"edgedefault,attr"`
	Data        []gmlData `xml:"data"`
	Nodes       []gmlNode `xml:"node"`
	Edges       []gmlEdge `xml:"edge"`
}

type gmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type gmlNode struct {
	ID   string    `xml:"id,attr"`
	Data []gmlData `xml:"data"`
}

type gmlEdge struct {
	ID     string    `xml:"id,attr"`
	Source string    `xml:"source,attr"`
	Target string    `xml:"target,attr"`
	Data   []gmlData `xml:"data"`
}

func keyID(scope, name string) string {
	return scope[:1] + "_" + name
}

func declareKeys() []gmlKey {
	var keys []gmlKey
	for _, set := range []struct {
		scope string
		names []string
	}{{"graph", graphAttrs}, {"node", nodeAttrs}, {"edge", edgeAttrs}} {
		for _, name := range set.names {
			keys = append(keys, gmlKey{ID: keyID(set.scope, name), For: set.scope, Name: name, Type: "string"})
		}
	}
	return keys
}

// attrWriter collects data elements, skipping empty values.
type attrWriter struct {
	scope string
	data  []gmlData
}

func (w *attrWriter) set(name, value string) {
	if value == "" {
		return
	}
	w.data = append(w.data, gmlData{Key: keyID(w.scope, name), Value: escapeValue(value)})
}

// attrs maps data elements back to attribute names using the key table.
func attrs(data []gmlData, names map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(data))
	for _, d := range data {
		name, ok := names[d.Key]
		if !ok {
			continue
		}
		v, err := unescapeValue(d.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %v", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// xmlChar reports whether r is a legal XML 1.0 character.
func xmlChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}

func escapeValue(s string) string {
	if !needsEscape(s) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '%' || (r == utf8.RuneError && size == 1) || !xmlChar(r) {
			for _, c := range []byte(s[i : i+size]) {
				fmt.Fprintf(&b, "%%%02X", c)
			}
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

func needsEscape(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '%' || (r == utf8.RuneError && size == 1) || !xmlChar(r) {
			return true
		}
		i += size
	}
	return false
}

func unescapeValue(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	return url.PathUnescape(s)
}
