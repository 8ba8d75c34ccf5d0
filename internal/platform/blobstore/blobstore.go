// Package blobstore stores generated claim artifacts. It defines the Store
// interface, a local filesystem store that bounds each write with a timeout,
// an S3 store used as an off-host mirror, and an in-memory store for tests.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrMissingName      = errors.New("artifact name is required")
	ErrInvalidName      = errors.New("artifact name must be a plain file name")
	ErrWriteTimeout     = errors.New("artifact write timed out")
)

// ContentTypeX12 is the media type recorded for 837 interchanges.
const ContentTypeX12 = "application/edi-x12"

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Artifact describes a stored object.
type Artifact struct {
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store is the contract for artifact backends. Put must either store the
// complete content under name or leave nothing behind.
type Store interface {
	Put(ctx context.Context, name string, content []byte) (*Artifact, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

// ValidateName rejects empty names and anything that could escape the store root.
func ValidateName(name string) error {
	if name == "" {
		return ErrMissingName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || path.Clean(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func hashOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedArtifact struct {
	meta    Artifact
	content []byte
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*storedArtifact
	now       func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]*storedArtifact),
		now:       time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, name string, content []byte) (*Artifact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, len(content))
	copy(buf, content)

	meta := Artifact{
		Name:        name,
		Location:    "mem://" + name,
		ContentType: ContentTypeX12,
		Size:        int64(len(buf)),
		Hash:        hashOf(buf),
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	s.artifacts[name] = &storedArtifact{meta: meta, content: buf}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[name]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	out := make([]byte, len(a.content))
	copy(out, a.content)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[name]; !ok {
		return ErrArtifactNotFound
	}
	delete(s.artifacts, name)
	return nil
}

// Names lists stored artifact names in lexical order.
func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.artifacts))
	for n := range s.artifacts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Failing implementation
// ---------------------------------------------------------------------------

// FailingStore rejects every write with Err. Reads always miss.
type FailingStore struct {
	Err error
}

func (f FailingStore) Put(context.Context, string, []byte) (*Artifact, error) {
	if f.Err == nil {
		return nil, errors.New("artifact store unavailable")
	}
	return nil, f.Err
}

func (FailingStore) Get(context.Context, string) ([]byte, error) { return nil, ErrArtifactNotFound }

func (FailingStore) Delete(context.Context, string) error { return ErrArtifactNotFound }
