package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore writes artifacts under a root directory. Content is written to a
// temporary sibling and renamed into place, so a failed or timed-out write
// never leaves a file at the target path.
type FileStore struct {
	root    string
	timeout time.Duration
	perm    os.FileMode
	now     func() time.Time

	// write is swapped in tests to simulate slow or failing disks.
	write func(path string, content []byte, perm os.FileMode) error
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithTimeout bounds each Put. Zero disables the bound.
func WithTimeout(d time.Duration) FileOption {
	return func(s *FileStore) { s.timeout = d }
}

// WithFileMode sets the permission bits of written artifacts.
func WithFileMode(perm os.FileMode) FileOption {
	return func(s *FileStore) { s.perm = perm }
}

// NewFileStore returns a store rooted at root. The directory is created on
// first write.
func NewFileStore(root string, opts ...FileOption) *FileStore {
	s := &FileStore{
		root:  root,
		perm:  0o640,
		now:   time.Now,
		write: writeSynced,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the configured root directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) Put(ctx context.Context, name string, content []byte) (*Artifact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", s.root, err)
	}
	target, err := filepath.Abs(filepath.Join(s.root, name))
	if err != nil {
		return nil, fmt.Errorf("resolve artifact path: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(target), "."+name+"."+uuid.NewString()+".tmp")

	// Exactly one side removes tmp when the deadline wins: the writer if it
	// finishes after abandonment, the caller if a result was already queued.
	var (
		mu        sync.Mutex
		abandoned bool
		done      = make(chan error, 1)
	)
	go func() {
		err := s.write(tmp, content, s.perm)
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			_ = os.Remove(tmp)
			return
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = os.Remove(tmp)
			return nil, fmt.Errorf("write artifact %s: %w", name, err)
		}
	case <-ctx.Done():
		mu.Lock()
		abandoned = true
		select {
		case <-done:
			_ = os.Remove(tmp)
		default:
		}
		mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrWriteTimeout, name, s.timeout)
		}
		return nil, fmt.Errorf("write artifact %s: %w", name, ctx.Err())
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("commit artifact %s: %w", name, err)
	}

	return &Artifact{
		Name:        name,
		Location:    target,
		ContentType: ContentTypeX12,
		Size:        int64(len(content)),
		Hash:        hashOf(content),
		CreatedAt:   s.now().UTC(),
	}, nil
}

func (s *FileStore) Get(_ context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	return b, err
}

func (s *FileStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrArtifactNotFound
	}
	return err
}

func writeSynced(path string, content []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
