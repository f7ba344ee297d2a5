package session

import "testing"

func TestStoreGetOrCreate(t *testing.T) {
	st, err := NewStore(10)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	s1 := st.GetOrCreate("")
	if s1.ID == "" {
		t.Fatal("empty id should get a generated one")
	}

	s2 := st.GetOrCreate("fixed")
	if s2.ID != "fixed" {
		t.Fatalf("ID = %s, want fixed", s2.ID)
	}
	if again := st.GetOrCreate("fixed"); again != s2 {
		t.Fatal("same id should return same session")
	}
	if st.Count() != 2 {
		t.Fatalf("Count = %d, want 2", st.Count())
	}
}

func TestSessionHistory(t *testing.T) {
	st, _ := NewStore(10)
	s := st.GetOrCreate("conv")

	s.AddMessage("user", "hello", nil)
	s.AddMessage("assistant", "hi there", map[string]any{"blocked": false})
	s.AddMessage("user", "what is Go?", nil)

	all := s.History(0)
	if len(all) != 3 {
		t.Fatalf("history length = %d, want 3", len(all))
	}
	if all[0].Role != "user" || all[0].Content != "hello" {
		t.Fatalf("unexpected first message: %+v", all[0])
	}

	last := s.History(2)
	if len(last) != 2 {
		t.Fatalf("limited history length = %d, want 2", len(last))
	}
	if last[1].Content != "what is Go?" {
		t.Fatalf("limit should keep newest: %+v", last[1])
	}
}

func TestSessionClear(t *testing.T) {
	st, _ := NewStore(10)
	s := st.GetOrCreate("conv")
	s.AddMessage("user", "hello", nil)

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len after clear = %d", s.Len())
	}
	if _, ok := st.Get("conv"); !ok {
		t.Fatal("clear should not remove the session")
	}
}

func TestStoreDelete(t *testing.T) {
	st, _ := NewStore(10)
	st.GetOrCreate("gone")

	if !st.Delete("gone") {
		t.Fatal("Delete returned false for existing session")
	}
	if st.Delete("gone") {
		t.Fatal("Delete returned true for missing session")
	}
}

func TestStoreEviction(t *testing.T) {
	st, _ := NewStore(2)
	st.GetOrCreate("a")
	st.GetOrCreate("b")
	st.GetOrCreate("c")

	if st.Count() != 2 {
		t.Fatalf("Count = %d, want 2 after eviction", st.Count())
	}
	if _, ok := st.Get("a"); ok {
		t.Fatal("oldest session should have been evicted")
	}
}

func TestStoreStats(t *testing.T) {
	st, _ := NewStore(10)
	st.GetOrCreate("x").AddMessage("user", "one", nil)
	st.GetOrCreate("y").AddMessage("user", "two", nil)

	stats := st.Stats()
	if stats["active_sessions"] != 2 {
		t.Fatalf("active_sessions = %v", stats["active_sessions"])
	}
	if stats["total_messages"] != 2 {
		t.Fatalf("total_messages = %v", stats["total_messages"])
	}
}
