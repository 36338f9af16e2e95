package camera

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EntityClass is the discriminator carried in a document's "__class" field
type EntityClass int

const (
	ClassUnknown EntityClass = iota
	ClassPoint
	ClassPath
	ClassPolygon
	ClassLayer
)

var entityClassTags = map[string]EntityClass{
	"PointMapEntity":   ClassPoint,
	"PathMapEntity":    ClassPath,
	"PolygonMapEntity": ClassPolygon,
	"MapLayer":         ClassLayer,
}

// ParseEntityClass maps a "__class" tag to its class; unknown tags map to ClassUnknown
func ParseEntityClass(tag string) EntityClass {
	return entityClassTags[tag]
}

func (c EntityClass) String() string {
	for tag, class := range entityClassTags {
		if class == c {
			return tag
		}
	}
	return "Unknown"
}

// TaggedNode is a document object recognised by its discriminator
type TaggedNode struct {
	Class EntityClass
	Type  string
	Raw   json.RawMessage
}

// Decode unmarshals the node's raw object into v
func (n TaggedNode) Decode(v any) error {
	return json.Unmarshal(n.Raw, v)
}

// ExtractEntities walks an arbitrarily nested JSON document depth first and
// buckets every object whose "__class" is a recognised tag by its "type" field.
// Within a bucket nodes keep document order; a matching parent precedes the
// matches nested inside it.
func ExtractEntities(doc []byte) (map[string][]TaggedNode, error) {
	if !json.Valid(doc) {
		return nil, errors.New("extracting entities: malformed JSON document")
	}
	out := make(map[string][]TaggedNode)
	if err := walkNode(doc, out); err != nil {
		return nil, fmt.Errorf("extracting entities: %w", err)
	}
	return out, nil
}

// ByClass filters a bucket to nodes of the given class
func ByClass(nodes []TaggedNode, class EntityClass) []TaggedNode {
	var out []TaggedNode
	for _, n := range nodes {
		if n.Class == class {
			out = append(out, n)
		}
	}
	return out
}

func walkNode(raw []byte, out map[string][]TaggedNode) error {
	switch firstByte(raw) {
	case '{':
		return walkObject(raw, out)
	case '[':
		return walkArray(raw, out)
	}
	return nil
}

func walkObject(raw []byte, out map[string][]TaggedNode) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return err
	}

	var tag, typ string
	var children []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return err
		}
		switch tok {
		case "__class":
			_ = json.Unmarshal(val, &tag)
		case "type":
			_ = json.Unmarshal(val, &typ)
		}
		if c := firstByte(val); c == '{' || c == '[' {
			children = append(children, val)
		}
	}

	if class := ParseEntityClass(tag); class != ClassUnknown {
		out[typ] = append(out[typ], TaggedNode{Class: class, Type: typ, Raw: json.RawMessage(raw)})
	}

	for _, child := range children {
		if err := walkNode(child, out); err != nil {
			return err
		}
	}
	return nil
}

func walkArray(raw []byte, out map[string][]TaggedNode) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	for _, item := range items {
		if err := walkNode(item, out); err != nil {
			return err
		}
	}
	return nil
}

func firstByte(raw []byte) byte {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}
