package detector

import (
	"testing"

	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/wire"
)

func TestBuildShadowFromVNodePreservesIDs(t *testing.T) {
	doc := wire.VNode{
		Kind: wire.KindElement, ID: 1, Tag: "div",
		Children: []wire.VNode{
			{Kind: wire.KindText, ID: 2, Data: "hi"},
		},
	}
	s := buildShadowFromVNode(doc)
	if s.id != 1 || s.tag != "div" {
		t.Fatalf("unexpected root: %+v", s)
	}
	if len(s.children) != 1 || s.children[0].id != 2 || s.children[0].text != "hi" {
		t.Fatalf("unexpected children: %+v", s.children)
	}
}

func TestBuildParentMapLockedRecordsAncestry(t *testing.T) {
	root := elemShadow(1, "div", elemShadow(2, "section", elemShadow(3, "p")))
	ids := nodeid.New()
	if err := ids.AdoptSubtree(idAdapter{root}); err != nil {
		t.Fatal(err)
	}
	d := New(ids, Config{})
	d.buildParentMapLocked(root, 0)

	if d.parent[1] != 0 {
		t.Fatalf("expected root's parent to be 0, got %d", d.parent[1])
	}
	if d.parent[2] != 1 {
		t.Fatalf("expected node 2's parent to be 1, got %d", d.parent[2])
	}
	if d.parent[3] != 2 {
		t.Fatalf("expected node 3's parent to be 2, got %d", d.parent[3])
	}
}

func TestMaterializeInsertReusesExistingShadowOnMove(t *testing.T) {
	root := elemShadow(1, "ul", elemShadow(2, "li"))
	ids := nodeid.New()
	if err := ids.AdoptSubtree(idAdapter{root}); err != nil {
		t.Fatal(err)
	}
	d := New(ids, Config{})

	view := &fakeView{id: 2, kind: wire.KindElement, tag: "li"}
	shadow, clone := d.materializeInsert(view)
	if shadow != root.children[0] {
		t.Fatalf("expected existing shadowNode reused for known id")
	}
	if clone.ID != 2 {
		t.Fatalf("expected wire clone to carry existing id, got %d", clone.ID)
	}
}

func TestMaterializeInsertAssignsFreshIDsForNewNode(t *testing.T) {
	root := elemShadow(1, "ul")
	ids := nodeid.New()
	if err := ids.AdoptSubtree(idAdapter{root}); err != nil {
		t.Fatal(err)
	}
	d := New(ids, Config{})

	view := &fakeView{kind: wire.KindElement, tag: "li"}
	shadow, clone := d.materializeInsert(view)
	if shadow.id == 0 {
		t.Fatalf("expected fresh id assigned to new node")
	}
	if clone.ID != shadow.id {
		t.Fatalf("expected wire clone id to match shadow id, got %d vs %d", clone.ID, shadow.id)
	}
	if got, ok := ids.GetByID(shadow.id); !ok || got.(idAdapter).s != shadow {
		t.Fatalf("expected new node registered in id map")
	}
}
