package skeleton

import (
	"archive/zip"
	"bytes"
	"errors"
	"math"
	"testing"
)

const sampleNML = `<?xml version="1.0" encoding="UTF-8"?>
<things>
  <parameters>
    <createdin version="4.1.2"/>
    <lastsavedin version="4.1.2"/>
    <time ms="7200000"/>
    <idleTime ms="3600000"/>
  </parameters>
  <thing id="1">
    <nodes>
      <node id="1" x="100" y="200" z="300"/>
      <node id="2" x="101" y="200" z="300"/>
      <node id="3" x="102" y="200" z="300"/>
    </nodes>
    <edges>
      <edge source="1" target="2"/>
      <edge source="2" target="3"/>
    </edges>
  </thing>
  <thing id="2">
    <nodes/>
    <edges/>
  </thing>
</things>`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleNML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !s.HasSavedVersion() {
		t.Fatal("expected saved version to be present")
	}
	if got := s.SavedIn; got != (Version{4, 1, 2}) {
		t.Fatalf("SavedIn = %v", got)
	}
	if len(s.Trees) != 2 {
		t.Fatalf("got %d trees, want 2", len(s.Trees))
	}
	if len(s.Trees[0].Nodes) != 3 || len(s.Trees[0].Edges) != 2 {
		t.Fatalf("tree 1: %d nodes, %d edges", len(s.Trees[0].Nodes), len(s.Trees[0].Edges))
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("this is not xml")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTracedHours(t *testing.T) {
	s, err := Parse([]byte(sampleNML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// 7200000ms - 3600000ms = one hour
	if got := s.TracedHours(); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("TracedHours = %v, want 1.0", got)
	}
}

func TestTracedHoursClampsNegative(t *testing.T) {
	s := &Skeleton{TimeMS: 1000, IdleTimeMS: 5000}
	if got := s.TracedHours(); got != 0 {
		t.Fatalf("TracedHours = %v, want 0", got)
	}
}

func TestHasNodeAt(t *testing.T) {
	s, _ := Parse([]byte(sampleNML))
	if !s.HasNodeAt(100, 200, 300) {
		t.Fatal("expected node at seed position")
	}
	if s.HasNodeAt(1, 2, 3) {
		t.Fatal("unexpected node at (1,2,3)")
	}
}

func TestTheNonEmptyTree(t *testing.T) {
	s, _ := Parse([]byte(sampleNML))
	tree, err := s.TheNonEmptyTree()
	if err != nil {
		t.Fatalf("TheNonEmptyTree: %v", err)
	}
	if tree.ID != 1 {
		t.Fatalf("tree id = %d, want 1", tree.ID)
	}

	s.Trees = append(s.Trees, Tree{ID: 3, Nodes: []Node{{ID: 9}}})
	if _, err := s.TheNonEmptyTree(); err == nil {
		t.Fatal("expected error with two non-empty trees")
	}
}

func TestIsSinglyConnected(t *testing.T) {
	connected := Tree{
		Nodes: []Node{{ID: 1}, {ID: 2}, {ID: 3}},
		Edges: []Edge{{1, 2}, {2, 3}},
	}
	if !IsSinglyConnected(connected) {
		t.Fatal("expected connected tree")
	}
	split := Tree{
		Nodes: []Node{{ID: 1}, {ID: 2}, {ID: 3}},
		Edges: []Edge{{1, 2}},
	}
	if IsSinglyConnected(split) {
		t.Fatal("expected disconnected tree")
	}
	if !IsSinglyConnected(Tree{Nodes: []Node{{ID: 1}}}) {
		t.Fatal("single node tree should count as connected")
	}
}

func TestVersionCompare(t *testing.T) {
	cases := []struct {
		a, b Version
		want int
	}{
		{Version{4, 1, 1}, Version{4, 1, 2}, -1},
		{Version{4, 1, 2}, Version{4, 1, 2}, 0},
		{Version{4, 2, 0}, Version{4, 1, 2}, 1},
		{Version{5, 0, 0}, Version{4, 9, 9}, 1},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("4.1")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v != (Version{4, 1, 0}) {
		t.Fatalf("got %v", v)
	}
	if _, err := ParseVersion("not.a.version"); err == nil {
		t.Fatal("expected error")
	}
}

func zipWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := f.Write([]byte(body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractAnnotation(t *testing.T) {
	archive := zipWith(t, map[string]string{
		"annotation.xml": sampleNML,
		"mergelist.txt":  "",
	})
	data, err := ExtractAnnotation(archive, "tracing.k.zip")
	if err != nil {
		t.Fatalf("ExtractAnnotation: %v", err)
	}
	if string(data) != sampleNML {
		t.Fatal("extracted bytes differ from archived annotation")
	}
}

func TestExtractAnnotationRawDocument(t *testing.T) {
	// anything not named .zip is the annotation itself
	data, err := ExtractAnnotation([]byte(sampleNML), "tracing.nml")
	if err != nil {
		t.Fatalf("ExtractAnnotation: %v", err)
	}
	if string(data) != sampleNML {
		t.Fatal("raw upload not passed through")
	}
}

func TestExtractAnnotationMissingEntry(t *testing.T) {
	archive := zipWith(t, map[string]string{"readme.txt": "hi"})
	_, err := ExtractAnnotation(archive, "tracing.k.zip")
	if !errors.Is(err, ErrNoAnnotation) {
		t.Fatalf("err = %v, want ErrNoAnnotation", err)
	}
}

func TestExtractAnnotationCorruptArchive(t *testing.T) {
	if _, err := ExtractAnnotation([]byte("not a zip file"), "bad.k.zip"); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
}
