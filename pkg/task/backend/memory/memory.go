// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory is the in-process reference backend: a mutex-guarded map,
// no native TTL, useful for single-process deployments and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
	"github.com/tombee/taskcore/pkg/task/backend"
)

type record struct {
	blob      []byte
	version   uint64
	expiresAt *time.Time
}

func (r *record) expired(now time.Time) bool {
	return r.expiresAt != nil && !now.Before(*r.expiresAt)
}

// Store is an in-memory backend.Backend. The zero value is not usable; use
// New.
type Store struct {
	mu   sync.Mutex
	data map[string]map[string]*record // owner -> taskID -> record
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]map[string]*record)}
}

// Close releases resources. The in-memory backend holds none; Close exists
// so Store satisfies io.Closer alongside backends that do hold resources.
func (s *Store) Close() error { return nil }

func (s *Store) Get(ctx context.Context, owner, taskID string) (backend.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[owner][taskID]
	if !ok || r.expired(time.Now()) {
		return backend.Entry{}, false, nil
	}
	return entryOf(r), true, nil
}

func (s *Store) Put(ctx context.Context, owner, taskID string, blob []byte, ttl *time.Duration) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.ownerBucket(owner)
	var nextVersion uint64 = 1
	if existing, ok := owned[taskID]; ok && !existing.expired(time.Now()) {
		nextVersion = existing.version + 1
	}
	r := &record{blob: blob, version: nextVersion, expiresAt: expiresFrom(ttl)}
	owned[taskID] = r
	return r.version, nil
}

func (s *Store) PutIfVersion(ctx context.Context, owner, taskID string, blob []byte, expectedVersion uint64, ttl *time.Duration) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.ownerBucket(owner)
	existing, ok := owned[taskID]
	now := time.Now()
	var actualVersion uint64
	if ok && !existing.expired(now) {
		actualVersion = existing.version
	}
	if actualVersion != expectedVersion {
		return 0, &taskerrors.VersionConflictError{Expected: expectedVersion}
	}

	next := &record{blob: blob, version: expectedVersion + 1, expiresAt: expiresFrom(ttl)}
	owned[taskID] = next
	return next.version, nil
}

func (s *Store) Delete(ctx context.Context, owner, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owned, ok := s.data[owner]; ok {
		delete(owned, taskID)
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, owner, subPrefix, pageToken string, pageSize int) (backend.ListPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.data[owner]
	ids := make([]string, 0, len(owned))
	now := time.Now()
	for id, r := range owned {
		if r.expired(now) {
			continue
		}
		if subPrefix != "" && !strings.HasPrefix(id, subPrefix) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if pageToken != "" {
		for i, id := range ids {
			if id > pageToken {
				start = i
				break
			}
			start = i + 1
		}
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	if start > len(ids) {
		start = len(ids)
	}

	page := backend.ListPage{Entries: make([]backend.ListEntry, 0, end-start)}
	for _, id := range ids[start:end] {
		r := owned[id]
		page.Entries = append(page.Entries, backend.ListEntry{TaskID: id, Blob: r.blob, Version: r.version})
	}
	if end < len(ids) {
		page.NextToken = ids[end-1]
	}
	return page, nil
}

func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for _, owned := range s.data {
		for id, r := range owned {
			if r.expired(now) {
				delete(owned, id)
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) ownerBucket(owner string) map[string]*record {
	owned, ok := s.data[owner]
	if !ok {
		owned = make(map[string]*record)
		s.data[owner] = owned
	}
	return owned
}

func entryOf(r *record) backend.Entry {
	return backend.Entry{Blob: r.blob, Version: r.version, ExpiresAt: r.expiresAt}
}

func expiresFrom(ttl *time.Duration) *time.Time {
	if ttl == nil {
		return nil
	}
	t := time.Now().Add(*ttl)
	return &t
}

var (
	_ backend.Backend = (*Store)(nil)
)
