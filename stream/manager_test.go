package stream

import (
	"testing"
)

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("test-stream", "movies/test.mve")
	if !ok {
		t.Fatal("Create returned not-ok for new stream")
	}
	if s == nil {
		t.Fatal("Create returned nil")
	}
	if s.Name != "test-stream" {
		t.Errorf("name: got %q, want %q", s.Name, "test-stream")
	}
	if s.Source != "movies/test.mve" {
		t.Errorf("source: got %q, want %q", s.Source, "movies/test.mve")
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	streams := m.List()
	if len(streams) != 1 || streams[0].Name != "test-stream" {
		t.Error("List should return the created stream")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	_, ok1 := m.Create("test", "a.mve")
	if !ok1 {
		t.Fatal("first Create should succeed")
	}
	s2, ok2 := m.Create("test", "b.mve")

	if ok2 {
		t.Error("duplicate Create should return false")
	}
	if s2 != nil {
		t.Error("duplicate Create should return nil stream")
	}
}

func TestManagerRemove(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("test", "a.mve")
	if len(m.List()) != 1 {
		t.Errorf("count: got %d, want 1", len(m.List()))
	}

	m.Remove("test")
	if len(m.List()) != 0 {
		t.Errorf("count after remove: got %d, want 0", len(m.List()))
	}

	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed after Remove")
	}
}

func TestManagerList(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.Create("stream-a", "a.mve")
	m.Create("stream-b", "b.mve")
	m.Create("stream-c", "c.mve")

	streams := m.List()
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}

	names := make(map[string]bool)
	for _, s := range streams {
		names[s.Name] = true
	}

	for _, n := range []string{"stream-a", "stream-b", "stream-c"} {
		if !names[n] {
			t.Errorf("missing stream %q", n)
		}
	}
}

func TestManagerRemoveNonexistent(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	// Should not panic
	m.Remove("nonexistent")
}
