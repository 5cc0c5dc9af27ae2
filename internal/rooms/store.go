// Package rooms persists the enrolled face embeddings of every room.
//
// Layout on disk:
//
//	<root>/<room>/<user>_emb.json
//
// A room exists exactly when its directory exists. Each user file holds one
// embedding and is never overwritten; re-enrolling requires removing first.
package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"

	"github.com/ayusman/roomguard/internal/matcher"
)

var (
	// ErrInvalidInput is returned for malformed room or user IDs and empty embeddings.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRoomNotFound is returned when a room directory does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUserExists is returned when a user already has an embedding in the room.
	ErrUserExists = errors.New("user already enrolled")
	// ErrUserNotFound is returned when removing or reading a user that is not enrolled.
	ErrUserNotFound = errors.New("user not found")
)

const embeddingSuffix = "_emb.json"

// record is the on-disk form of one enrolled user.
type record struct {
	UserID    string    `json:"user_id"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a directory of rooms.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// Open creates root if needed and returns a Store rooted there.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: root directory is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create rooms directory: %w", err)
	}
	return &Store{root: root, locks: make(map[string]*sync.RWMutex)}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// CreateRoom creates an empty room. It returns false, and logs, when the room
// already exists; that is not an error.
func (s *Store) CreateRoom(room string) (bool, error) {
	if err := validateID("room", room); err != nil {
		return false, err
	}

	lock := s.lock(room)
	lock.Lock()
	defer lock.Unlock()

	if s.roomExists(room) {
		log.Printf("Room %s already exists", room)
		return false, nil
	}
	if err := os.MkdirAll(s.roomDir(room), 0o755); err != nil {
		return false, fmt.Errorf("create room %s: %w", room, err)
	}
	return true, nil
}

// RoomExists reports whether room has been created.
func (s *Store) RoomExists(room string) bool {
	if validateID("room", room) != nil {
		return false
	}
	return s.roomExists(room)
}

// ListRooms returns all room IDs in lexical order.
func (s *Store) ListRooms() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := []string{}
	for _, e := range entries {
		if e.IsDir() && validateID("room", e.Name()) == nil {
			rooms = append(rooms, e.Name())
		}
	}
	sort.Strings(rooms)
	return rooms, nil
}

// AddUser enrols user in room with the given embedding, creating the room if
// it does not exist. An already enrolled user yields ErrUserExists and the
// stored embedding is left untouched.
func (s *Store) AddUser(room, user string, embedding []float32) error {
	if err := validateID("room", room); err != nil {
		return err
	}
	if err := validateID("user", user); err != nil {
		return err
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding for %s is empty", ErrInvalidInput, user)
	}

	lock := s.lock(room)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.roomDir(room), 0o755); err != nil {
		return fmt.Errorf("create room %s: %w", room, err)
	}

	path := s.userPath(room, user)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s in room %s", ErrUserExists, user, room)
	}

	data, err := json.Marshal(record{
		UserID:    user,
		Dim:       len(embedding),
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	return s.publish(room, user, path, data)
}

// publish writes data to a hidden temp file in the room and hard-links it to
// path. The link fails if path exists, so another Store on the same root
// cannot overwrite an enrolled user.
func (s *Store) publish(room, user, path string, data []byte) error {
	pf, err := renameio.TempFile(s.roomDir(room), path)
	if err != nil {
		return fmt.Errorf("write embedding for %s: %w", user, err)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("write embedding for %s: %w", user, err)
	}
	if err := pf.Chmod(0o644); err != nil {
		return fmt.Errorf("write embedding for %s: %w", user, err)
	}
	if err := pf.Sync(); err != nil {
		return fmt.Errorf("sync embedding for %s: %w", user, err)
	}
	if err := pf.File.Close(); err != nil {
		return fmt.Errorf("close embedding for %s: %w", user, err)
	}

	err = os.Link(pf.Name(), path)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s in room %s", ErrUserExists, user, room)
	}
	if err != nil {
		return fmt.Errorf("publish embedding for %s: %w", user, err)
	}
	return nil
}

// RemoveUser deletes user's embedding from room.
func (s *Store) RemoveUser(room, user string) error {
	if err := validateID("room", room); err != nil {
		return err
	}
	if err := validateID("user", user); err != nil {
		return err
	}

	lock := s.lock(room)
	lock.Lock()
	defer lock.Unlock()

	if !s.roomExists(room) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}

	err := os.Remove(s.userPath(room, user))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s in room %s", ErrUserNotFound, user, room)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", user, err)
	}
	return nil
}

// ListUsers returns the users enrolled in room in lexical order.
func (s *Store) ListUsers(room string) ([]string, error) {
	if err := validateID("room", room); err != nil {
		return nil, err
	}

	lock := s.lock(room)
	lock.RLock()
	defer lock.RUnlock()

	return s.listUsers(room)
}

// Embedding returns the stored embedding of user in room.
func (s *Store) Embedding(room, user string) ([]float32, error) {
	if err := validateID("room", room); err != nil {
		return nil, err
	}
	if err := validateID("user", user); err != nil {
		return nil, err
	}

	lock := s.lock(room)
	lock.RLock()
	defer lock.RUnlock()

	if !s.roomExists(room) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}

	rec, err := s.readRecord(room, user)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in room %s", ErrUserNotFound, user, room)
	}
	if err != nil {
		return nil, err
	}
	return rec.Embedding, nil
}

// Entries loads every embedding in room, ordered by user ID.
func (s *Store) Entries(room string) ([]matcher.Entry, error) {
	if err := validateID("room", room); err != nil {
		return nil, err
	}

	lock := s.lock(room)
	lock.RLock()
	defer lock.RUnlock()

	return s.entries(room)
}

// Authorize compares probe with every user in room. An empty room yields a
// result with Compared == 0. A room that was never created is an error and is
// not created as a side effect.
func (s *Store) Authorize(room string, probe []float32, threshold float64) (matcher.Result, error) {
	if err := validateID("room", room); err != nil {
		return matcher.Result{}, err
	}

	lock := s.lock(room)
	lock.RLock()
	defer lock.RUnlock()

	entries, err := s.entries(room)
	if err != nil {
		return matcher.Result{}, err
	}

	res, err := matcher.Match(probe, entries, threshold)
	if err != nil {
		return matcher.Result{}, fmt.Errorf("authorize in room %s: %w", room, err)
	}
	return res, nil
}

func (s *Store) entries(room string) ([]matcher.Entry, error) {
	users, err := s.listUsers(room)
	if err != nil {
		return nil, err
	}

	entries := make([]matcher.Entry, 0, len(users))
	for _, u := range users {
		rec, err := s.readRecord(room, u)
		if err != nil {
			return nil, err
		}
		entries = append(entries, matcher.Entry{UserID: u, Embedding: rec.Embedding})
	}
	return entries, nil
}

func (s *Store) listUsers(room string) ([]string, error) {
	files, err := os.ReadDir(s.roomDir(room))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	if err != nil {
		return nil, fmt.Errorf("list users in %s: %w", room, err)
	}

	users := []string{}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, embeddingSuffix) {
			continue
		}
		users = append(users, strings.TrimSuffix(name, embeddingSuffix))
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) readRecord(room, user string) (record, error) {
	data, err := os.ReadFile(s.userPath(room, user))
	if err != nil {
		return record{}, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode embedding for %s in %s: %w", user, room, err)
	}
	if len(rec.Embedding) == 0 {
		return record{}, fmt.Errorf("embedding for %s in %s is empty", user, room)
	}
	return rec, nil
}

func (s *Store) lock(room string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[room]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[room] = l
	}
	return l
}

func (s *Store) roomExists(room string) bool {
	info, err := os.Stat(s.roomDir(room))
	return err == nil && info.IsDir()
}

func (s *Store) roomDir(room string) string {
	return filepath.Join(s.root, room)
}

func (s *Store) userPath(room, user string) string {
	return filepath.Join(s.root, room, user+embeddingSuffix)
}

// validateID rejects IDs that could escape the store directory.
func validateID(kind, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: %s ID is empty", ErrInvalidInput, kind)
	case id == "." || strings.Contains(id, ".."):
		return fmt.Errorf("%w: %s ID %q", ErrInvalidInput, kind, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %s ID %q contains a path separator", ErrInvalidInput, kind, id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %s ID %q is hidden", ErrInvalidInput, kind, id)
	}
	return nil
}

// ValidateID reports whether id is usable as a room or user ID.
func ValidateID(id string) error {
	return validateID("id", id)
}
