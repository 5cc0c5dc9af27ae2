package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"
	"testing"

	"github.com/ayusman/roomguard/internal/matcher"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestStore_CreateRoom(t *testing.T) {
	s := newTestStore(t)

	created, err := s.CreateRoom("lab")
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if !created {
		t.Error("first CreateRoom should report created")
	}
	if !s.RoomExists("lab") {
		t.Error("room should exist")
	}

	if err := s.AddUser("lab", "alice", []float32{1, 0}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	created, err = s.CreateRoom("lab")
	if err != nil {
		t.Fatalf("second CreateRoom() error = %v", err)
	}
	if created {
		t.Error("second CreateRoom should report existing")
	}

	users, _ := s.ListUsers("lab")
	if !reflect.DeepEqual(users, []string{"alice"}) {
		t.Errorf("existing room contents changed: %v", users)
	}
}

func TestStore_ListRooms(t *testing.T) {
	s := newTestStore(t)

	rooms, err := s.ListRooms()
	if err != nil {
		t.Fatalf("ListRooms() error = %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("expected no rooms, got %v", rooms)
	}

	for _, r := range []string{"b-wing", "a-wing", "lab"} {
		s.CreateRoom(r)
	}

	rooms, _ = s.ListRooms()
	if want := []string{"a-wing", "b-wing", "lab"}; !reflect.DeepEqual(rooms, want) {
		t.Errorf("ListRooms() = %v, want %v", rooms, want)
	}
}

func TestStore_AddUser(t *testing.T) {
	t.Run("creates room implicitly", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.AddUser("office", "bob", []float32{0.1, 0.2}); err != nil {
			t.Fatalf("AddUser() error = %v", err)
		}
		if !s.RoomExists("office") {
			t.Error("room should have been created")
		}
	})

	t.Run("duplicate is rejected and original kept", func(t *testing.T) {
		s := newTestStore(t)
		s.AddUser("office", "bob", []float32{1, 2, 3})

		err := s.AddUser("office", "bob", []float32{9, 9, 9})
		if !errors.Is(err, ErrUserExists) {
			t.Fatalf("expected ErrUserExists, got %v", err)
		}

		got, err := s.Embedding("office", "bob")
		if err != nil {
			t.Fatalf("Embedding() error = %v", err)
		}
		if !reflect.DeepEqual(got, []float32{1, 2, 3}) {
			t.Errorf("embedding = %v, want original", got)
		}
	})

	t.Run("empty embedding", func(t *testing.T) {
		s := newTestStore(t)

		err := s.AddUser("office", "bob", nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("file naming and contents", func(t *testing.T) {
		s := newTestStore(t)
		s.AddUser("office", "carol", []float32{0.5, -0.5})

		data, err := os.ReadFile(filepath.Join(s.Root(), "office", "carol_emb.json"))
		if err != nil {
			t.Fatalf("read embedding file: %v", err)
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			t.Fatalf("decode embedding file: %v", err)
		}
		if rec.UserID != "carol" || rec.Dim != 2 || rec.CreatedAt.IsZero() {
			t.Errorf("record = %+v", rec)
		}
	})
}

func TestStore_InvalidIDs(t *testing.T) {
	s := newTestStore(t)

	bad := []string{"", ".", "..", "../etc", "a/b", `a\b`, "nul\x00", ".hidden"}
	for _, id := range bad {
		t.Run(fmt.Sprintf("%q", id), func(t *testing.T) {
			if _, err := s.CreateRoom(id); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("CreateRoom(%q) error = %v, want ErrInvalidInput", id, err)
			}
			if err := s.AddUser("room", id, []float32{1}); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("AddUser(user=%q) error = %v, want ErrInvalidInput", id, err)
			}
			if err := s.RemoveUser(id, "bob"); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("RemoveUser(room=%q) error = %v, want ErrInvalidInput", id, err)
			}
			if s.RoomExists(id) {
				t.Errorf("RoomExists(%q) = true", id)
			}
		})
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Root()))
	for _, e := range entries {
		if e.Name() == "etc" {
			t.Error("path traversal created a directory outside the store")
		}
	}
}

func TestStore_RemoveUser(t *testing.T) {
	s := newTestStore(t)
	s.AddUser("lab", "alice", []float32{1, 0})
	s.AddUser("lab", "bob", []float32{0, 1})

	if err := s.RemoveUser("lab", "alice"); err != nil {
		t.Fatalf("RemoveUser() error = %v", err)
	}

	users, _ := s.ListUsers("lab")
	if !reflect.DeepEqual(users, []string{"bob"}) {
		t.Errorf("ListUsers() = %v, want [bob]", users)
	}

	if err := s.RemoveUser("lab", "alice"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if err := s.RemoveUser("nowhere", "alice"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}

	if err := s.AddUser("lab", "alice", []float32{0.3, 0.4}); err != nil {
		t.Errorf("re-enrolling after removal should succeed, got %v", err)
	}
}

func TestStore_ListUsers(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.ListUsers("ghost"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}

	s.CreateRoom("empty")
	users, err := s.ListUsers("empty")
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected no users, got %v", users)
	}

	s.AddUser("lab", "zed", []float32{1})
	s.AddUser("lab", "amy", []float32{1})
	os.WriteFile(filepath.Join(s.Root(), "lab", "notes.txt"), []byte("x"), 0o644)

	users, _ = s.ListUsers("lab")
	if want := []string{"amy", "zed"}; !reflect.DeepEqual(users, want) {
		t.Errorf("ListUsers() = %v, want %v", users, want)
	}
}

func TestStore_Authorize(t *testing.T) {
	s := newTestStore(t)

	t.Run("unknown room", func(t *testing.T) {
		_, err := s.Authorize("ghost", []float32{1, 0}, matcher.DefaultThreshold)
		if !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("expected ErrRoomNotFound, got %v", err)
		}
		if s.RoomExists("ghost") {
			t.Error("Authorize must not create the room")
		}
	})

	t.Run("empty room", func(t *testing.T) {
		s.CreateRoom("empty")
		res, err := s.Authorize("empty", []float32{1, 0}, matcher.DefaultThreshold)
		if err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
		if res.Accepted || res.Compared != 0 {
			t.Errorf("Authorize() = %+v, want empty result", res)
		}
	})

	t.Run("best match", func(t *testing.T) {
		s.AddUser("lab", "alice", []float32{1, 0, 0})
		s.AddUser("lab", "bob", []float32{0, 1, 0})
		s.AddUser("lab", "carol", []float32{0, 0, 1})

		res, err := s.Authorize("lab", []float32{0.1, 0.9, 0.1}, matcher.DefaultThreshold)
		if err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
		if !res.Accepted || res.UserID != "bob" || res.Compared != 3 {
			t.Errorf("Authorize() = %+v, want bob", res)
		}
	})

	t.Run("tie goes to lowest user ID", func(t *testing.T) {
		s.AddUser("twins", "zara", []float32{1, 1})
		s.AddUser("twins", "mia", []float32{1, 1})

		res, _ := s.Authorize("twins", []float32{1, 1}, matcher.DefaultThreshold)
		if res.UserID != "mia" {
			t.Errorf("tie winner = %q, want mia", res.UserID)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := s.Authorize("lab", []float32{1, 0}, matcher.DefaultThreshold)
		if !errors.Is(err, matcher.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func TestStore_Reopen(t *testing.T) {
	root := t.TempDir()
	v := []float32{0.12, -0.5, 0.33, 0.9}

	s, _ := Open(root)
	if err := s.AddUser("vault", "dana", v); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	reopened, err := Open(root)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	got, err := reopened.Embedding("vault", "dana")
	if err != nil {
		t.Fatalf("Embedding() error = %v", err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("embedding = %v, want %v", got, v)
	}

	res, err := reopened.Authorize("vault", v, 0.99)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if !res.Accepted || res.UserID != "dana" {
		t.Errorf("Authorize() = %+v, want dana accepted", res)
	}
}

func TestStore_ConcurrentEnrollment(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.AddUser("lab", "same", []float32{float32(i), 1})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrUserExists) {
				t.Errorf("AddUser() error = %v", err)
			}
		}(i)
	}

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.AddUser("lab", fmt.Sprintf("user%02d", i), []float32{1, float32(i)}); err != nil {
				t.Errorf("AddUser() error = %v", err)
			}
			if _, err := s.Authorize("lab", []float32{1, 0}, matcher.DefaultThreshold); err != nil {
				t.Errorf("Authorize() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d goroutines enrolled the same user, want exactly 1", wins)
	}

	users, _ := s.ListUsers("lab")
	if len(users) != 17 {
		t.Errorf("got %d users, want 17", len(users))
	}
}

func TestStore_EnrollmentAcrossStores(t *testing.T) {
	root := t.TempDir()
	a, err := Open(root)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, err := Open(root)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for round := 0; round < 50; round++ {
		user := fmt.Sprintf("user%02d", round)
		want := map[*Store][]float32{a: {1, 0}, b: {0, 1}}

		var wg sync.WaitGroup
		errs := make(map[*Store]error)
		var mu sync.Mutex
		for s, emb := range want {
			wg.Add(1)
			go func(s *Store, emb []float32) {
				defer wg.Done()
				err := s.AddUser("lab", user, emb)
				mu.Lock()
				errs[s] = err
				mu.Unlock()
			}(s, emb)
		}
		wg.Wait()

		var winner *Store
		for s, err := range errs {
			switch {
			case err == nil:
				if winner != nil {
					t.Fatalf("round %d: both stores enrolled %s", round, user)
				}
				winner = s
			case !errors.Is(err, ErrUserExists):
				t.Fatalf("round %d: AddUser() error = %v", round, err)
			}
		}
		if winner == nil {
			t.Fatalf("round %d: no store enrolled %s", round, user)
		}

		got, err := a.Embedding("lab", user)
		if err != nil {
			t.Fatalf("Embedding() error = %v", err)
		}
		if !reflect.DeepEqual(got, want[winner]) {
			t.Fatalf("round %d: stored %v, want the winner's %v", round, got, want[winner])
		}
	}

	users, _ := b.ListUsers("lab")
	if len(users) != 50 {
		t.Errorf("got %d users, want 50", len(users))
	}
	entries, _ := os.ReadDir(filepath.Join(root, "lab"))
	if len(entries) != 50 {
		t.Errorf("room holds %d files, want 50 with no temp files left", len(entries))
	}
}

func TestStore_AddUserFileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
	s := newTestStore(t)
	if err := s.AddUser("lab", "alice", []float32{1, 0}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(s.Root(), "lab", "alice"+embeddingSuffix))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}
}
