package styletrack

import (
	"testing"

	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/wire"
)

func newTestTracker() (*Tracker, *[]wire.SheetOp) {
	tr := New(nodeid.New(), Config{})
	var got []wire.SheetOp
	tr.SetEmit(func(op wire.SheetOp) { got = append(got, op) })
	return tr, &got
}

func TestOwnerBackedEventQueuedUntilAnnounced(t *testing.T) {
	tr, got := newTestTracker()
	ownerID := 5

	tr.handleEvent(jsEvent{Op: "sheet-rules-insert", OwnerID: &ownerID, Rule: "a{}", Index: 0})
	if len(*got) != 0 {
		t.Fatalf("expected event queued, not delivered, got %+v", *got)
	}

	tr.MarkEmitted(ownerID)
	if len(*got) != 1 || (*got)[0].Kind != wire.SheetRulesInsert || (*got)[0].SheetID != ownerID {
		t.Fatalf("expected flushed insert op, got %+v", *got)
	}
}

func TestOwnerBackedEventDeliveredImmediatelyOnceAnnounced(t *testing.T) {
	tr, got := newTestTracker()
	ownerID := 7
	tr.MarkEmitted(ownerID)

	tr.handleEvent(jsEvent{Op: "sheet-replace", OwnerID: &ownerID, Text: "body{color:red}"})
	if len(*got) != 1 || (*got)[0].Kind != wire.SheetReplace {
		t.Fatalf("expected immediate delivery, got %+v", *got)
	}
}

func TestOwnerQueueFlushesInArrivalOrder(t *testing.T) {
	tr, got := newTestTracker()
	ownerID := 2

	tr.handleEvent(jsEvent{Op: "sheet-rules-insert", OwnerID: &ownerID, Rule: "a{}", Index: 0})
	tr.handleEvent(jsEvent{Op: "sheet-rules-insert", OwnerID: &ownerID, Rule: "b{}", Index: 1})
	tr.handleEvent(jsEvent{Op: "sheet-rules-delete", OwnerID: &ownerID, Index: 0})
	tr.MarkEmitted(ownerID)

	if len(*got) != 3 {
		t.Fatalf("expected 3 flushed ops, got %d", len(*got))
	}
	if (*got)[0].Rule != "a{}" || (*got)[1].Rule != "b{}" || (*got)[2].Kind != wire.SheetRulesDelete {
		t.Fatalf("expected insertion order preserved, got %+v", *got)
	}
}

func TestMarkRemovedDropsQueueWithoutDelivering(t *testing.T) {
	tr, got := newTestTracker()
	ownerID := 9

	tr.handleEvent(jsEvent{Op: "sheet-rules-insert", OwnerID: &ownerID, Rule: "a{}"})
	tr.MarkRemoved(ownerID)
	tr.MarkEmitted(ownerID)

	if len(*got) != 0 {
		t.Fatalf("expected no delivery after MarkRemoved, got %+v", *got)
	}
}

func TestSheetEventMissingOwnerIDAndLocalKeyIsDropped(t *testing.T) {
	tr, got := newTestTracker()
	tr.handleEvent(jsEvent{Op: "sheet-rules-insert", Rule: "a{}"})
	if len(*got) != 0 {
		t.Fatalf("expected event with neither ownerId nor localKey to be dropped, got %+v", *got)
	}
}

func TestAdoptedSheetRuleInsertQueuedUntilSheetAdded(t *testing.T) {
	tr, got := newTestTracker()

	tr.handleEvent(jsEvent{Op: "sheet-rules-insert", LocalKey: "l1", Rule: "a{}", Index: 0})
	if len(*got) != 0 {
		t.Fatalf("expected event queued until sheet-added, got %+v", *got)
	}

	tr.handleEvent(jsEvent{Op: "sheet-added", LocalKey: "l1", Text: "a{}"})
	if len(*got) != 2 {
		t.Fatalf("expected sheet-added plus the flushed insert, got %+v", *got)
	}
	if (*got)[0].Kind != wire.SheetAdded {
		t.Fatalf("expected sheet-added delivered first, got %+v", (*got)[0])
	}
	insert := (*got)[1]
	if insert.Kind != wire.SheetRulesInsert || !insert.Adopted {
		t.Fatalf("expected flushed adopted rule-insert, got %+v", insert)
	}
	if insert.SheetID != (*got)[0].SheetID {
		t.Fatalf("expected insert to share sheet-added's resolved id, got %d vs %d", insert.SheetID, (*got)[0].SheetID)
	}
}

func TestAdoptedSheetRuleInsertDeliveredImmediatelyOnceSeeded(t *testing.T) {
	tr, got := newTestTracker()
	id := tr.resolveAdoptedID("l1")
	tr.MarkEmitted(id) // as recorder.Start (markAdoptedEmitted) does for a seeded adopted sheet

	tr.handleEvent(jsEvent{Op: "sheet-rules-insert", LocalKey: "l1", Rule: "a{}"})
	if len(*got) != 1 || (*got)[0].Kind != wire.SheetRulesInsert || (*got)[0].SheetID != id || !(*got)[0].Adopted {
		t.Fatalf("expected immediate delivery against the seeded id, got %+v", *got)
	}
}

func TestResolveAdoptedIDIsStablePerLocalKey(t *testing.T) {
	tr, _ := newTestTracker()
	a1 := tr.resolveAdoptedID("l1")
	a2 := tr.resolveAdoptedID("l2")
	a1Again := tr.resolveAdoptedID("l1")

	if a1 == 0 || a2 == 0 {
		t.Fatalf("expected nonzero ids, got %d %d", a1, a2)
	}
	if a1 != a1Again {
		t.Fatalf("expected stable id for repeated key, got %d vs %d", a1, a1Again)
	}
	if a1 == a2 {
		t.Fatalf("expected distinct ids for distinct keys, got %d == %d", a1, a2)
	}
}

func TestResolveAdoptedIDDoesNotCollideWithNodeIDs(t *testing.T) {
	ids := nodeid.New()
	tr := New(ids, Config{})

	// Simulate the detector claiming ids 1..3 for live nodes first.
	for i := 0; i < 3; i++ {
		ids.GetID(&fakeNode{})
	}
	sheetID := tr.resolveAdoptedID("l1")
	if sheetID <= 3 {
		t.Fatalf("expected adopted sheet id to come from the shared counter past 3, got %d", sheetID)
	}
}

func TestSheetAddedAndRemovedResolveSameID(t *testing.T) {
	tr, got := newTestTracker()
	tr.handleEvent(jsEvent{Op: "sheet-added", LocalKey: "l1", Text: "a{}"})
	tr.handleEvent(jsEvent{Op: "sheet-removed", LocalKey: "l1"})

	if len(*got) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(*got))
	}
	if (*got)[0].SheetID != (*got)[1].SheetID {
		t.Fatalf("expected added/removed to share a sheet id, got %d vs %d", (*got)[0].SheetID, (*got)[1].SheetID)
	}
	if !(*got)[0].Adopted || !(*got)[1].Adopted {
		t.Fatalf("expected both ops marked Adopted")
	}
}

func TestAdoptedListChangedResolvesEachKey(t *testing.T) {
	tr, got := newTestTracker()
	rootID := 1
	tr.handleEvent(jsEvent{Op: "adopted-list-changed", RootID: &rootID, SheetKeys: []string{"l1", "l2"}})

	if len(*got) != 1 || (*got)[0].Kind != wire.SheetAdoptedListChanged {
		t.Fatalf("expected one adopted-list-changed op, got %+v", *got)
	}
	if (*got)[0].DocumentOrRootID != 1 || len((*got)[0].SheetIDs) != 2 {
		t.Fatalf("unexpected op: %+v", (*got)[0])
	}
}

type fakeNode struct{ id int }

func (f *fakeNode) NodeID() int             { return f.id }
func (f *fakeNode) SetNodeID(id int)        { f.id = id }
func (f *fakeNode) Children() []nodeid.Node { return nil }
