// Package skeleton parses Knossos annotation files. An annotation is an
// XML document ("NML") holding tracing trees plus parameters such as the
// accumulated tracing time and the saving client version. Annotations
// arrive zipped as .k.zip archives containing an annotation.xml entry.
package skeleton

import (
	"encoding/xml"
	"fmt"
)

type Node struct {
	ID int
	X  int
	Y  int
	Z  int
}

type Edge struct {
	Source int
	Target int
}

type Tree struct {
	ID    int
	Nodes []Node
	Edges []Edge
}

// Skeleton is a parsed annotation.
type Skeleton struct {
	CreatedIn   Version
	SavedIn     Version
	TimeMS      int64
	IdleTimeMS  int64
	Trees       []Tree
	hasSavedIn  bool
	hasTimeInfo bool
}

type xmlNML struct {
	XMLName    xml.Name   `xml:"things"`
	Parameters *xmlParams `xml:"parameters"`
	Things     []xmlThing `xml:"thing"`
}

type xmlParams struct {
	Time     *xmlMS      `xml:"time"`
	IdleTime *xmlMS      `xml:"idleTime"`
	Created  *xmlVersion `xml:"createdin"`
	Saved    *xmlVersion `xml:"lastsavedin"`
}

type xmlMS struct {
	MS int64 `xml:"ms,attr"`
}

type xmlVersion struct {
	Version string `xml:"version,attr"`
}

type xmlThing struct {
	ID    int       `xml:"id,attr"`
	Nodes []xmlNode `xml:"nodes>node"`
	Edges []xmlEdge `xml:"edges>edge"`
}

type xmlNode struct {
	ID int `xml:"id,attr"`
	X  int `xml:"x,attr"`
	Y  int `xml:"y,attr"`
	Z  int `xml:"z,attr"`
}

type xmlEdge struct {
	Source int `xml:"source,attr"`
	Target int `xml:"target,attr"`
}

// Parse reads an annotation.xml document.
func Parse(data []byte) (*Skeleton, error) {
	var doc xmlNML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse annotation: %w", err)
	}
	s := &Skeleton{}
	if p := doc.Parameters; p != nil {
		if p.Time != nil {
			s.TimeMS = p.Time.MS
			s.hasTimeInfo = true
		}
		if p.IdleTime != nil {
			s.IdleTimeMS = p.IdleTime.MS
		}
		if p.Created != nil {
			v, err := ParseVersion(p.Created.Version)
			if err == nil {
				s.CreatedIn = v
			}
		}
		if p.Saved != nil {
			v, err := ParseVersion(p.Saved.Version)
			if err != nil {
				return nil, fmt.Errorf("parse annotation: %w", err)
			}
			s.SavedIn = v
			s.hasSavedIn = true
		}
	}
	for _, t := range doc.Things {
		tree := Tree{ID: t.ID}
		for _, n := range t.Nodes {
			tree.Nodes = append(tree.Nodes, Node(n))
		}
		for _, e := range t.Edges {
			tree.Edges = append(tree.Edges, Edge(e))
		}
		s.Trees = append(s.Trees, tree)
	}
	return s, nil
}

// HasSavedVersion reports whether the annotation recorded the version it
// was last saved in. Files from very old clients omit it.
func (s *Skeleton) HasSavedVersion() bool {
	return s.hasSavedIn
}

// TracedHours is the net tracing time in hours, skeleton time minus idle
// time, clamped at zero.
func (s *Skeleton) TracedHours() float64 {
	h := float64(s.TimeMS-s.IdleTimeMS) / 1000.0 / 3600.0
	if h < 0 {
		return 0
	}
	return h
}

// HasNodeAt reports whether any tree contains a node at exactly the
// given position.
func (s *Skeleton) HasNodeAt(x, y, z int) bool {
	for _, t := range s.Trees {
		for _, n := range t.Nodes {
			if n.X == x && n.Y == y && n.Z == z {
				return true
			}
		}
	}
	return false
}

// NonEmptyTrees returns the trees that contain at least one node.
func (s *Skeleton) NonEmptyTrees() []Tree {
	var out []Tree
	for _, t := range s.Trees {
		if len(t.Nodes) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// TheNonEmptyTree returns the single non-empty tree, or an error when
// the annotation has none or more than one.
func (s *Skeleton) TheNonEmptyTree() (Tree, error) {
	trees := s.NonEmptyTrees()
	if len(trees) != 1 {
		return Tree{}, fmt.Errorf("annotation has %d non-empty trees, want exactly 1", len(trees))
	}
	return trees[0], nil
}

// IsSinglyConnected reports whether every node of the tree is reachable
// from every other through its edges. A tree with zero or one node
// counts as connected. Edges referencing unknown node ids are ignored.
func IsSinglyConnected(t Tree) bool {
	if len(t.Nodes) <= 1 {
		return true
	}
	adj := make(map[int][]int, len(t.Nodes))
	for _, n := range t.Nodes {
		adj[n.ID] = nil
	}
	for _, e := range t.Edges {
		if _, ok := adj[e.Source]; !ok {
			continue
		}
		if _, ok := adj[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		adj[e.Target] = append(adj[e.Target], e.Source)
	}
	seen := make(map[int]bool, len(t.Nodes))
	stack := []int{t.Nodes[0].ID}
	seen[t.Nodes[0].ID] = true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return len(seen) == len(t.Nodes)
}
