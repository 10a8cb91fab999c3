// Package files is the storage collaborator for evidence documents. The
// certification core only keeps the keys returned here; bytes live behind
// this interface.
package files

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/google/uuid"

	"certflow/internal/certification/models"
	"certflow/pkg/platform/sentinel"
)

// Object is a stored evidence document.
type Object struct {
	Name        string
	ContentType string
	Content     []byte
}

// Store is the narrow put/get/delete contract. Backends (disk, object
// storage) are supplied by the host application.
type Store interface {
	Put(ctx context.Context, key string, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// NewKey builds a storage key for a slot of a record owner.
func NewKey(ownerID string, slot models.FileSlot, name string) string {
	return path.Join("certifications", ownerID, string(slot), uuid.NewString()+path.Ext(name))
}

// InMemoryStore keeps objects in process.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]Object)}
}

func (s *InMemoryStore) Put(_ context.Context, key string, obj Object) error {
	if key == "" {
		return fmt.Errorf("put object: empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj.Content = append([]byte(nil), obj.Content...)
	s.objects[key] = obj
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, sentinel.ErrNotFound
	}
	obj.Content = append([]byte(nil), obj.Content...)
	return obj, nil
}

// Delete is idempotent.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
