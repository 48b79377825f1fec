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

// Package rkv is the remote key-value backend over Redis. Each record is a
// hash holding the blob and its version; CAS runs server-side as a Lua
// script so the version check and write are one atomic round trip.
// Expiration uses Redis's native TTL, so CleanupExpired is a no-op.
package rkv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
	"github.com/tombee/taskcore/pkg/task/backend"
)

// Key layout: OWNER#<owner_id>#TASK#<task_id>, so an owner's
// entries share a scan prefix and cross-owner access is structurally
// impossible.
const (
	ownerPrefix = "OWNER#"
	taskInfix   = "#TASK#"
)

// putIfVersionScript checks the stored version against ARGV[1] and, on
// match, writes ARGV[2] at version+1 and applies the TTL in ARGV[3]
// (milliseconds; 0 persists). Returns -1 on conflict. An absent key counts
// as version 0, which is what lets Create use expected_version = 0.
var putIfVersionScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current then current = tonumber(current) else current = 0 end
if current ~= tonumber(ARGV[1]) then
  return -1
end
local next = current + 1
redis.call('HSET', KEYS[1], 'blob', ARGV[2], 'version', next)
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
else
  redis.call('PERSIST', KEYS[1])
end
return next
`)

// putScript writes unconditionally but still preserves version
// monotonicity: read current, write current+1, in one script.
var putScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
local next
if current then next = tonumber(current) + 1 else next = 1 end
redis.call('HSET', KEYS[1], 'blob', ARGV[1], 'version', next)
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
  redis.call('PERSIST', KEYS[1])
end
return next
`)

// Store is a backend.Backend over a Redis connection.
type Store struct {
	client redis.UniversalClient
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle unless it hands it off entirely; Close closes it.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// NewFromAddr dials a single Redis node. Convenience for the daemon's
// --redis-addr flag.
func NewFromAddr(addr, password string, db int) *Store {
	return New(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}))
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Ping verifies connectivity; the daemon calls it at startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func key(owner, taskID string) string {
	return ownerPrefix + owner + taskInfix + taskID
}

func (s *Store) Get(ctx context.Context, owner, taskID string) (backend.Entry, bool, error) {
	vals, err := s.client.HMGet(ctx, key(owner, taskID), "blob", "version").Result()
	if err != nil {
		return backend.Entry{}, false, taskerrors.Wrap(err, "redis hmget")
	}
	if vals[0] == nil || vals[1] == nil {
		return backend.Entry{}, false, nil
	}

	blob, ok := vals[0].(string)
	if !ok {
		return backend.Entry{}, false, fmt.Errorf("redis blob field has unexpected type %T", vals[0])
	}
	versionStr, ok := vals[1].(string)
	if !ok {
		return backend.Entry{}, false, fmt.Errorf("redis version field has unexpected type %T", vals[1])
	}
	version, err := strconv.ParseUint(versionStr, 10, 64)
	if err != nil {
		return backend.Entry{}, false, taskerrors.Wrapf(err, "redis version field %q", versionStr)
	}
	return backend.Entry{Blob: []byte(blob), Version: version}, true, nil
}

func (s *Store) Put(ctx context.Context, owner, taskID string, blob []byte, ttl *time.Duration) (uint64, error) {
	version, err := putScript.Run(ctx, s.client, []string{key(owner, taskID)}, blob, ttlMillis(ttl)).Int64()
	if err != nil {
		return 0, taskerrors.Wrap(err, "redis put")
	}
	return uint64(version), nil
}

func (s *Store) PutIfVersion(ctx context.Context, owner, taskID string, blob []byte, expectedVersion uint64, ttl *time.Duration) (uint64, error) {
	version, err := putIfVersionScript.Run(ctx, s.client, []string{key(owner, taskID)}, expectedVersion, blob, ttlMillis(ttl)).Int64()
	if err != nil {
		return 0, taskerrors.Wrap(err, "redis put_if_version")
	}
	if version < 0 {
		// No extra read to learn the fresh version; callers reload via Get.
		return 0, &taskerrors.VersionConflictError{Expected: expectedVersion}
	}
	return uint64(version), nil
}

func (s *Store) Delete(ctx context.Context, owner, taskID string) error {
	if err := s.client.Del(ctx, key(owner, taskID)).Err(); err != nil {
		return taskerrors.Wrap(err, "redis del")
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, owner, subPrefix, pageToken string, pageSize int) (backend.ListPage, error) {
	var cursor uint64
	if pageToken != "" {
		parsed, err := strconv.ParseUint(pageToken, 10, 64)
		if err != nil {
			return backend.ListPage{}, &taskerrors.ValidationError{Field: "page_token", Message: "malformed page token"}
		}
		cursor = parsed
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	match := ownerPrefix + owner + taskInfix + subPrefix + "*"
	keys, next, err := s.client.Scan(ctx, cursor, match, int64(pageSize)).Result()
	if err != nil {
		return backend.ListPage{}, taskerrors.Wrap(err, "redis scan")
	}

	page := backend.ListPage{Entries: make([]backend.ListEntry, 0, len(keys))}
	prefix := ownerPrefix + owner + taskInfix
	for _, k := range keys {
		taskID := strings.TrimPrefix(k, prefix)
		entry, ok, err := s.Get(ctx, owner, taskID)
		if err != nil {
			return backend.ListPage{}, err
		}
		if !ok {
			// Key vanished between SCAN and HMGET; skip.
			continue
		}
		page.Entries = append(page.Entries, backend.ListEntry{TaskID: taskID, Blob: entry.Blob, Version: entry.Version})
	}
	if next != 0 {
		page.NextToken = strconv.FormatUint(next, 10)
	}
	return page, nil
}

// CleanupExpired is a no-op: Redis expires keys natively via PEXPIRE.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func ttlMillis(ttl *time.Duration) int64 {
	if ttl == nil {
		return 0
	}
	millis := ttl.Milliseconds()
	if millis <= 0 {
		// A zero-or-negative remaining TTL means the record is already due;
		// one millisecond lets Redis expire it immediately without PERSIST
		// accidentally making it immortal.
		return 1
	}
	return millis
}

var _ backend.Backend = (*Store)(nil)
