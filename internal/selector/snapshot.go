package selector

import "strings"

// Node is one level of an element's ancestry as reported by the in-page
// instrumentation.
type Node struct {
	Tag      string            `json:"tag"`
	ID       string            `json:"id,omitempty"`
	IDCount  int               `json:"idCount,omitempty"`
	TestIDs  map[string]string `json:"testIds,omitempty"`
	Classes  []string          `json:"classes,omitempty"`
	Siblings [][]string        `json:"siblings,omitempty"`
	Position int               `json:"position"`
}

// Snapshot is the target element followed by its ancestors, up to but excluding
// the document element.
type Snapshot []Node

func (s Snapshot) Element() Element {
	if len(s) == 0 {
		return nil
	}
	return snapshotElement{nodes: s, index: 0}
}

type snapshotElement struct {
	nodes Snapshot
	index int
}

func (e snapshotElement) node() *Node {
	return &e.nodes[e.index]
}

func (e snapshotElement) Tag() string {
	return e.node().Tag
}

func (e snapshotElement) Attr(name string) (string, bool) {
	n := e.node()
	switch name {
	case "id":
		return n.ID, n.ID != ""
	case "class":
		return strings.Join(n.Classes, " "), len(n.Classes) > 0
	}
	value, ok := n.TestIDs[name]
	return value, ok
}

func (e snapshotElement) Classes() []string {
	return e.node().Classes
}

func (e snapshotElement) Parent() Element {
	if e.index+1 >= len(e.nodes) {
		return nil
	}
	return snapshotElement{nodes: e.nodes, index: e.index + 1}
}

func (e snapshotElement) SameTagSiblings() ([][]string, int) {
	n := e.node()
	if len(n.Siblings) == 0 || n.Position < 0 || n.Position >= len(n.Siblings) {
		return [][]string{n.Classes}, 0
	}
	return n.Siblings, n.Position
}

func (e snapshotElement) CountID(id string) int {
	for _, n := range e.nodes {
		if n.ID == id {
			return n.IDCount
		}
	}
	return 0
}
