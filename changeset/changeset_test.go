package changeset

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/pipeline"
	"github.com/hashwatch/hashwatch/logging"
)

func TestCreateThenDeleteYieldsEmptyChangeSet(t *testing.T) {
	a := New(0, nil, logging.RootLogger)
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Create, Root: "/r", Path: "/r/a"})
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Delete, Root: "/r", Path: "/r/a"})

	perRoot, _, err := a.Take()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set, ok := perRoot["/r"]; ok && !set.Empty() {
		t.Fatalf("expected empty change set, got %+v", set)
	}
}

func TestCreateThenModifyKeepsCreated(t *testing.T) {
	a := New(0, nil, logging.RootLogger)
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Create, Root: "/r", Path: "/r/a"})
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Modify, Root: "/r", Path: "/r/a"})

	perRoot, _, err := a.Take()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set := perRoot["/r"]
	if _, ok := set.Created["/r/a"]; !ok {
		t.Fatalf("expected /r/a to remain in created, got %+v", set)
	}
	if len(set.Modified) != 0 {
		t.Fatalf("expected no modified entries, got %+v", set.Modified)
	}
}

func TestModifyThenDeleteYieldsDeleted(t *testing.T) {
	a := New(0, nil, logging.RootLogger)
	// Seed into "modified" state via an initial MODIFY from absent.
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Modify, Root: "/r", Path: "/r/a"})
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Delete, Root: "/r", Path: "/r/a"})

	perRoot, _, err := a.Take()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set := perRoot["/r"]
	if _, ok := set.Deleted["/r/a"]; !ok {
		t.Fatalf("expected /r/a to be deleted, got %+v", set)
	}
}

func TestDeleteThenCreateYieldsModified(t *testing.T) {
	a := New(0, nil, logging.RootLogger)
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Delete, Root: "/r", Path: "/r/a"})
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Create, Root: "/r", Path: "/r/a"})

	perRoot, _, err := a.Take()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set := perRoot["/r"]
	if _, ok := set.Modified["/r/a"]; !ok {
		t.Fatalf("expected /r/a to be modified (re-created), got %+v", set)
	}
	if len(set.Created) != 0 || len(set.Deleted) != 0 {
		t.Fatalf("expected only modified to be populated, got %+v", set)
	}
}

func TestModifyAfterDeleteWithinWindowIsIgnored(t *testing.T) {
	a := New(0, nil, logging.RootLogger)
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Delete, Root: "/r", Path: "/r/a"})
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Modify, Root: "/r", Path: "/r/a"})

	perRoot, _, err := a.Take()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set := perRoot["/r"]
	if _, ok := set.Deleted["/r/a"]; !ok {
		t.Fatalf("expected deleted to remain untouched by the illegal MODIFY, got %+v", set)
	}
}

func TestChangeSetStructuralEquality(t *testing.T) {
	a := New(0, nil, logging.RootLogger)
	h := hash.Hash("deadbeef")
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Create, Root: "/r", Path: "/r/a", Hash: &h})
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Delete, Root: "/r", Path: "/r/b"})

	perRoot, _, err := a.Take()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]ChangeSet{
		"/r": {
			Created:  map[string]Entry{"/r/a": {Hash: &h}},
			Modified: map[string]Entry{},
			Deleted:  map[string]Entry{"/r/b": {}},
		},
	}
	if diff := cmp.Diff(want, perRoot); diff != "" {
		t.Fatalf("ChangeSet mismatch (-want +got):\n%s", diff)
	}
}

func TestOverflowIsFatalForTheBatch(t *testing.T) {
	a := New(0, nil, logging.RootLogger)
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Create, Root: "/r", Path: "/r/a"})
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Overflow, Count: 3})

	_, _, err := a.Take()
	if err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}

	// The overflow flag and accumulated state are both cleared on Take.
	_, _, err = a.Take()
	if err != nil {
		t.Fatalf("expected overflow flag to be cleared after one Take, got %v", err)
	}
}

func TestIdleFlushFiresAfterTimeout(t *testing.T) {
	flushed := make(chan map[string]ChangeSet, 1)
	a := New(20*time.Millisecond, func(perRoot map[string]ChangeSet, total int) {
		flushed <- perRoot
	}, logging.RootLogger)

	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Create, Root: "/r", Path: "/r/a"})

	select {
	case perRoot := <-flushed:
		if _, ok := perRoot["/r"].Created["/r/a"]; !ok {
			t.Fatalf("expected flushed set to contain /r/a, got %+v", perRoot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle flush")
	}
}

func TestIdleFlushRescheduledByFollowUpEvent(t *testing.T) {
	flushed := make(chan map[string]ChangeSet, 2)
	a := New(30*time.Millisecond, func(perRoot map[string]ChangeSet, total int) {
		flushed <- perRoot
	}, logging.RootLogger)

	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Create, Root: "/r", Path: "/r/a"})
	time.Sleep(15 * time.Millisecond)
	// This should cancel-and-reschedule the pending timer; without it the
	// first timer would fire with only /r/a in the set.
	a.OnEvent(pipeline.DirectoryChangeEvent{Kind: pipeline.Create, Root: "/r", Path: "/r/b"})

	select {
	case perRoot := <-flushed:
		set := perRoot["/r"]
		if _, ok := set.Created["/r/a"]; !ok {
			t.Fatalf("expected /r/a in the single flushed batch, got %+v", set)
		}
		if _, ok := set.Created["/r/b"]; !ok {
			t.Fatalf("expected /r/b in the single flushed batch, got %+v", set)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle flush")
	}

	select {
	case extra := <-flushed:
		t.Fatalf("expected exactly one flush, got a second one: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
