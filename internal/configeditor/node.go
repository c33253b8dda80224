package configeditor

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// rootMapping returns the top-level mapping node of a parsed document, or
// nil if the document is empty or not a mapping.
func rootMapping(doc *yaml.Node) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	return root
}

// mappingValue looks up key in a mapping node's flat [k0,v0,k1,v1,...]
// content list.
func mappingValue(mapping *yaml.Node, key string) (*yaml.Node, bool) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1], true
		}
	}
	return nil, false
}

// setMappingValue sets key to value in a mapping node, appending a new
// key/value pair if key does not already exist.
func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	mapping.Content = append(mapping.Content, keyNode, value)
}

// walkPath descends root through parts, requiring every intermediate
// segment to already exist and be a mapping unless createMissing is set.
// Returns the leaf value node, creating it (and any missing intermediate
// mappings) only when createMissing is true.
func walkPath(root *yaml.Node, parts []string, createMissing bool) (*yaml.Node, error) {
	current := root

	for i, part := range parts {
		isLeaf := i == len(parts)-1

		if current.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("segment %q: parent is not a mapping", part)
		}

		value, ok := mappingValue(current, part)
		if !ok {
			if !createMissing {
				return nil, fmt.Errorf("missing key %q", part)
			}
			if isLeaf {
				value = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str"}
			} else {
				value = &yaml.Node{Kind: yaml.MappingNode}
			}
			setMappingValue(current, part, value)
		}

		if isLeaf {
			return value, nil
		}
		current = value
	}

	return nil, fmt.Errorf("empty path")
}

// deepCopyNode clones a yaml.Node tree so mutations during a failed update
// never touch the caller's original document.
func deepCopyNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Content != nil {
		cp.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			cp.Content[i] = deepCopyNode(child)
		}
	}
	if n.Alias != nil {
		cp.Alias = deepCopyNode(n.Alias)
	}
	return &cp
}

// marshalBlockStyle re-serializes a document node with block style and
// the key order already present in the node tree (yaml.v3 preserves
// insertion order of mapping content natively).
func marshalBlockStyle(doc *yaml.Node) ([]byte, error) {
	clearStyles(doc)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// clearStyles strips any flow-style hints so re-encoding always produces
// block style, regardless of how the source file was written.
func clearStyles(n *yaml.Node) {
	if n == nil {
		return
	}
	n.Style &^= yaml.FlowStyle
	for _, child := range n.Content {
		clearStyles(child)
	}
}
