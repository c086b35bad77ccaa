package selector

import (
	"strings"

	"golang.org/x/net/html"
)

type htmlElement struct {
	node *html.Node
}

// FromHTML adapts a parsed HTML element node. It returns nil for anything that is
// not an element.
func FromHTML(node *html.Node) Element {
	if node == nil || node.Type != html.ElementNode {
		return nil
	}
	return htmlElement{node: node}
}

func (e htmlElement) Tag() string {
	return e.node.Data
}

func (e htmlElement) Attr(name string) (string, bool) {
	return attr(e.node, name)
}

func (e htmlElement) Classes() []string {
	class, _ := attr(e.node, "class")
	return strings.Fields(class)
}

func (e htmlElement) Parent() Element {
	return FromHTML(e.node.Parent)
}

func (e htmlElement) SameTagSiblings() ([][]string, int) {
	parent := e.node.Parent
	if parent == nil {
		return [][]string{e.Classes()}, 0
	}
	var classLists [][]string
	self := 0
	for sibling := parent.FirstChild; sibling != nil; sibling = sibling.NextSibling {
		if sibling.Type != html.ElementNode || !strings.EqualFold(sibling.Data, e.node.Data) {
			continue
		}
		if sibling == e.node {
			self = len(classLists)
		}
		class, _ := attr(sibling, "class")
		classLists = append(classLists, strings.Fields(class))
	}
	return classLists, self
}

func (e htmlElement) CountID(id string) int {
	root := e.node
	for root.Parent != nil {
		root = root.Parent
	}
	return countID(root, id)
}

func countID(node *html.Node, id string) int {
	count := 0
	if node.Type == html.ElementNode {
		if value, ok := attr(node, "id"); ok && value == id {
			count++
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		count += countID(child, id)
	}
	return count
}

func attr(node *html.Node, name string) (string, bool) {
	for _, a := range node.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
