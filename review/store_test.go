package review

import "testing"

func TestDigestIsStableSHA256(t *testing.T) {
	d1 := Digest("hello")
	d2 := Digest("hello")
	if d1 != d2 {
		t.Fatalf("Digest is not deterministic: %s != %s", d1, d2)
	}
	if Digest("hello") == Digest("world") {
		t.Fatal("different content produced the same digest")
	}
	if len(d1) != 64 {
		t.Fatalf("digest length = %d, want 64 (hex SHA-256)", len(d1))
	}
}

func TestEncodeProjectPath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/srv/project", "srv_project"},
		{"/Users/me/repo:main", "Users_me_repo_main"},
		{"relative/path", "relative_path"},
	}
	for _, c := range cases {
		if got := EncodeProjectPath(c.in); got != c.want {
			t.Errorf("EncodeProjectPath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEncodeProjectPathIsIdempotent(t *testing.T) {
	once := EncodeProjectPath("/srv/project:main")
	twice := EncodeProjectPath(once)
	if once != twice {
		t.Fatalf("encoding is not idempotent: %q != %q", once, twice)
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	r := &Review{
		ID:          "abc123",
		ProjectPath: "/srv/project",
		Status:      StatusOpen,
		PlanContent: "plan",
		Comments:    []Comment{},
	}
	if err := s.Save(r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(r.ID, r.ProjectPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != r.ID || loaded.PlanContent != r.PlanContent {
		t.Errorf("loaded = %+v, want matching %+v", loaded, r)
	}
}

func TestStoreLoadUnknownID(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Load("does-not-exist", ""); err == nil {
		t.Fatal("expected an error loading an unknown review")
	}
}

func TestStoreListPendingExcludesApproved(t *testing.T) {
	s := NewStore(t.TempDir())
	open := &Review{ID: "open-1", ProjectPath: "/p", Status: StatusOpen, Comments: []Comment{}}
	approved := &Review{ID: "approved-1", ProjectPath: "/p", Status: StatusApproved, Comments: []Comment{}}
	if err := s.Save(open); err != nil {
		t.Fatalf("Save open: %v", err)
	}
	if err := s.Save(approved); err != nil {
		t.Fatalf("Save approved: %v", err)
	}

	pending, err := s.ListPending("/p")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "open-1" {
		t.Fatalf("pending = %+v, want only open-1", pending)
	}
}

func TestStoreListPendingEmptyProjectPathUsesGlobalNamespace(t *testing.T) {
	s := NewStore(t.TempDir())
	legacy := &Review{ID: "legacy-1", Status: StatusOpen, Comments: []Comment{}}
	partitioned := &Review{ID: "scoped-1", ProjectPath: "/p", Status: StatusOpen, Comments: []Comment{}}
	if err := s.Save(legacy); err != nil {
		t.Fatalf("Save legacy: %v", err)
	}
	if err := s.Save(partitioned); err != nil {
		t.Fatalf("Save partitioned: %v", err)
	}

	pending, err := s.ListPending("")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "legacy-1" {
		t.Fatalf("pending = %+v, want only legacy-1", pending)
	}
}
