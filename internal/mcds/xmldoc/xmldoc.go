// Package xmldoc wraps an etree document with the required/optional lookup
// contract the loader needs: required lookups fail with ErrMissingNode
// naming the full path, optional lookups return an invalid Node.
package xmldoc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

var ErrMissingNode = errors.New("missing xml node")

// Node is a located element plus the path used to reach it.
type Node struct {
	el   *etree.Element
	path string
}

// ReadFile parses path and returns its root element.
func ReadFile(path string) (Node, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return Node{}, fmt.Errorf("parse %s: %w", path, err)
	}
	root := doc.Root()
	if root == nil {
		return Node{}, fmt.Errorf("%w: %s has no root element", ErrMissingNode, path)
	}
	return Node{el: root, path: root.Tag}, nil
}

// ReadBytes parses an in-memory document.
func ReadBytes(b []byte) (Node, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return Node{}, err
	}
	root := doc.Root()
	if root == nil {
		return Node{}, fmt.Errorf("%w: no root element", ErrMissingNode)
	}
	return Node{el: root, path: root.Tag}, nil
}

func (n Node) Valid() bool  { return n.el != nil }
func (n Node) Path() string { return n.path }
func (n Node) Tag() string {
	if n.el == nil {
		return ""
	}
	return n.el.Tag
}

// Find resolves an etree path relative to n. The result is invalid when
// nothing matches.
func (n Node) Find(path string) Node {
	if n.el == nil {
		return Node{}
	}
	el := n.el.FindElement(path)
	if el == nil {
		return Node{}
	}
	return Node{el: el, path: n.path + "/" + path}
}

// Require is Find that fails with ErrMissingNode.
func (n Node) Require(path string) (Node, error) {
	c := n.Find(path)
	if !c.Valid() {
		return Node{}, fmt.Errorf("%w: %s/%s", ErrMissingNode, n.path, path)
	}
	return c, nil
}

func (n Node) FindAll(path string) []Node {
	if n.el == nil {
		return nil
	}
	els := n.el.FindElements(path)
	out := make([]Node, len(els))
	for i, el := range els {
		out[i] = Node{el: el, path: fmt.Sprintf("%s/%s[%d]", n.path, path, i)}
	}
	return out
}

// Text returns the trimmed character data.
func (n Node) Text() string {
	if n.el == nil {
		return ""
	}
	return strings.TrimSpace(n.el.Text())
}

// RequireText fails when the node carries no text.
func (n Node) RequireText() (string, error) {
	s := n.Text()
	if s == "" {
		return "", fmt.Errorf("%w: %s has no text", ErrMissingNode, n.path)
	}
	return s, nil
}

func (n Node) Float() (float64, error) {
	s, err := n.RequireText()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", n.path, err)
	}
	return v, nil
}

func (n Node) Int() (int, error) {
	s, err := n.RequireText()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", n.path, err)
	}
	return v, nil
}

// Floats splits the text on the node's delimiter attribute (default a
// single space) and parses every field.
func (n Node) Floats() ([]float64, error) {
	s, err := n.RequireText()
	if err != nil {
		return nil, err
	}
	delim := n.Attr("delimiter", " ")
	var parts []string
	if strings.TrimSpace(delim) == "" {
		parts = strings.Fields(s)
	} else {
		parts = strings.Split(s, delim)
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.path, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Attr returns the attribute value or def when absent.
func (n Node) Attr(name, def string) string {
	if n.el == nil {
		return def
	}
	return n.el.SelectAttrValue(name, def)
}

func (n Node) RequireAttr(name string) (string, error) {
	if n.el != nil {
		if a := n.el.SelectAttr(name); a != nil {
			return a.Value, nil
		}
	}
	return "", fmt.Errorf("%w: %s@%s", ErrMissingNode, n.path, name)
}

func (n Node) IntAttr(name string) (int, error) {
	s, err := n.RequireAttr(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s@%s: %w", n.path, name, err)
	}
	return v, nil
}
