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

// Package backend defines the storage contract that the generic task store
// is built on: an opaque (owner, task-id) -> versioned blob map with CAS,
// TTL and owner-scoped prefix scans. Concrete adapters (memory, rkv,
// docstore) each implement the capability interfaces they can support;
// Backend is the full composite an adapter needs to back the generic store.
package backend

import (
	"context"
	"math"
	"time"
)

// Entry is a stored blob plus the version it was written at. ExpiresAt is
// nil when the record has no TTL; the rkv backend leaves it nil in every
// case, since its Get does not read the key's native Redis expiry.
type Entry struct {
	Blob      []byte
	Version   uint64
	ExpiresAt *time.Time
}

// ListEntry is one row of a ListByPrefix page.
type ListEntry struct {
	TaskID  string
	Blob    []byte
	Version uint64
}

// ListPage is a page of owner-scoped entries plus an opaque continuation
// token. NextToken is empty when there are no further pages.
type ListPage struct {
	Entries   []ListEntry
	NextToken string
}

// Getter reads a single record. The bool return is false when the key is
// absent or its TTL has elapsed; expired records MUST NOT be returned.
type Getter interface {
	Get(ctx context.Context, owner, taskID string) (Entry, bool, error)
}

// Putter performs an unconditional write. Implementations MUST preserve
// version monotonicity (read-current-then-write-current+1 is an acceptable
// two-step implementation when the backend lacks native fetch-and-increment).
type Putter interface {
	Put(ctx context.Context, owner, taskID string, blob []byte, ttl *time.Duration) (version uint64, err error)
}

// ConditionalPutter is the only mutation primitive the generic store uses.
// It succeeds iff the stored version equals expectedVersion, and writes the
// new blob at expectedVersion+1. On conflict it returns a
// *errors.VersionConflictError; implementations SHOULD NOT perform an extra
// read to populate VersionConflictError.Actual; callers that need the
// fresh version reload explicitly.
type ConditionalPutter interface {
	PutIfVersion(ctx context.Context, owner, taskID string, blob []byte, expectedVersion uint64, ttl *time.Duration) (version uint64, err error)
}

// Deleter removes a record. Deleting an absent key is not an error.
type Deleter interface {
	Delete(ctx context.Context, owner, taskID string) error
}

// Lister scans records scoped to a single owner. subPrefix further narrows
// within the owner's keyspace; an empty subPrefix lists everything the
// owner has. pageSize <= 0 means "backend default."
type Lister interface {
	ListByPrefix(ctx context.Context, owner, subPrefix, pageToken string, pageSize int) (ListPage, error)
}

// Expirer sweeps entries whose TTL has elapsed, for backends without native
// expiration. It is a valid no-op (returning 0, nil) for backends that rely
// on platform TTL.
type Expirer interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Backend is the full capability set the generic task store requires to
// operate against an adapter. Individual adapters may also satisfy broader
// interfaces (e.g. io.Closer) without those being part of this contract.
type Backend interface {
	Getter
	Putter
	ConditionalPutter
	Deleter
	Lister
	Expirer
}

// ExpiresAt converts a millisecond TTL, measured from now, into an absolute
// expiration instant using a checked narrowing: a ttlMillis value so large
// that now+ttl would overflow time.Duration's int64 nanosecond range is
// interpreted as "never expires" (nil), never as a past time. ttlMillis of 0
// also means "never expires."
func ExpiresAt(now time.Time, ttlMillis uint64) *time.Time {
	if ttlMillis == 0 {
		return nil
	}
	const maxMillisForDuration = uint64(math.MaxInt64) / uint64(time.Millisecond)
	if ttlMillis > maxMillisForDuration {
		return nil
	}
	t := now.Add(time.Duration(ttlMillis) * time.Millisecond)
	return &t
}
