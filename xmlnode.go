package camprobe

import (
	"strings"

	"github.com/beevik/etree"
)

// Node is a namespace-agnostic view over an XML element. Lookups go by local
// tag name only, so "tds:Model", "tt:Model" and "Model" all match "Model".
// A nil *Node is valid and behaves as an empty element.
type Node struct {
	el *etree.Element
}

// ParseXML parses a document and returns its root, or nil when the payload is
// empty or not well-formed.
func ParseXML(data []byte) *Node {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil
	}
	root := doc.Root()
	if root == nil {
		return nil
	}
	return &Node{el: root}
}

// Name returns the element's local tag name
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.el.Tag
}

// Find returns the first element in n's subtree (document order, depth
// first, n included) with the given local name, or nil.
func (n *Node) Find(local string) *Node {
	if n == nil {
		return nil
	}
	if n.el.Tag == local {
		return n
	}
	if el := findFirst(n.el, local); el != nil {
		return &Node{el: el}
	}
	return nil
}

func findFirst(el *etree.Element, local string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			return child
		}
		if found := findFirst(child, local); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every element of n's subtree with the given local name in
// document order. Matches nested inside another match are not included, so a
// matching n is returned alone.
func (n *Node) FindAll(local string) []*Node {
	if n == nil {
		return nil
	}
	if n.el.Tag == local {
		return []*Node{n}
	}
	var out []*Node
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, child := range el.ChildElements() {
			if child.Tag == local {
				out = append(out, &Node{el: child})
				continue
			}
			walk(child)
		}
	}
	walk(n.el)
	return out
}

// Value returns the trimmed character data of the element itself
func (n *Node) Value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.el.Text())
}

// Text returns the trimmed text of Find(local)
func (n *Node) Text(local string) string {
	return n.Find(local).Value()
}

// Attr returns an attribute value by key, ignoring any namespace prefix
func (n *Node) Attr(key string) string {
	if n == nil {
		return ""
	}
	return n.el.SelectAttrValue(key, "")
}
