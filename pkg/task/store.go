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

package task

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
	"github.com/tombee/taskcore/pkg/observability"
	"github.com/tombee/taskcore/pkg/task/backend"
)

const (
	defaultMaxVariableSizeBytes = 350 * 1024
	defaultCASRetryBudget       = 8
)

// Config configures a Store. The zero value is usable; unset fields take
// the documented defaults.
type Config struct {
	// MaxVariableSizeBytes bounds the serialized size of a record's
	// Variables map. Zero means the default of ~350KB.
	MaxVariableSizeBytes int

	// CASRetryBudget bounds how many times a CAS-retry loop reloads and
	// retries before surfacing VersionConflict. Zero means the default.
	CASRetryBudget int

	// DefaultTTL is applied to newly created records when Create is not
	// given an explicit TTL. Zero means no TTL (records never expire).
	DefaultTTL time.Duration

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics receives store-level counters (CAS retries). Nil records
	// nothing.
	Metrics *observability.Collector
}

func (c Config) maxVariableSizeBytes() int {
	if c.MaxVariableSizeBytes > 0 {
		return c.MaxVariableSizeBytes
	}
	return defaultMaxVariableSizeBytes
}

func (c Config) casRetryBudget() int {
	if c.CASRetryBudget > 0 {
		return c.CASRetryBudget
	}
	return defaultCASRetryBudget
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Store is the generic task store: CAS-retry mutation semantics layered
// over a backend.Backend, with size enforcement at this layer rather than
// in the backend.
type Store struct {
	backend backend.Backend
	cfg     Config
}

// NewStore wires a Store on top of the given backend.
func NewStore(be backend.Backend, cfg Config) *Store {
	return &Store{backend: be, cfg: cfg}
}

// Create inserts a brand-new record. It fails if a record already exists
// (and has not expired) for (owner, taskID).
func (s *Store) Create(ctx context.Context, owner, taskID string, initial *Record) error {
	now := time.Now()
	rec := initial.clone()
	rec.TaskID = taskID
	rec.OwnerID = owner
	if rec.Variables == nil {
		rec.Variables = make(map[string]any)
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 0
	if rec.ExpiresAt == nil && s.cfg.DefaultTTL > 0 {
		t := now.Add(s.cfg.DefaultTTL)
		rec.ExpiresAt = &t
	}

	if err := s.checkSize(rec); err != nil {
		return err
	}

	blob, err := json.Marshal(rec)
	if err != nil {
		return &taskerrors.InternalError{Reason: "marshal record: " + err.Error()}
	}

	ttl := ttlFrom(rec.ExpiresAt, now)
	if _, err := s.backend.PutIfVersion(ctx, owner, taskID, blob, 0, ttl); err != nil {
		var conflict *taskerrors.VersionConflictError
		if stderrors.As(err, &conflict) {
			return &taskerrors.ValidationError{Field: "task_id", Message: "task already exists"}
		}
		return &taskerrors.BackendError{Op: "create", Cause: err}
	}
	return nil
}

// GetRecord loads and deserializes the full record, or returns
// (nil, nil) when absent or expired.
func (s *Store) GetRecord(ctx context.Context, owner, taskID string) (*Record, error) {
	entry, ok, err := s.backend.Get(ctx, owner, taskID)
	if err != nil {
		return nil, &taskerrors.BackendError{Op: "get", Cause: err}
	}
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(entry.Blob, &rec); err != nil {
		return nil, &taskerrors.InternalError{Reason: "unmarshal record: " + err.Error()}
	}
	rec.Version = entry.Version
	return &rec, nil
}

// GetResult returns the status/variables/result/error projection, or
// NotFoundError if the task is absent or expired.
func (s *Store) GetResult(ctx context.Context, owner, taskID string) (Result, error) {
	rec, err := s.GetRecord(ctx, owner, taskID)
	if err != nil {
		return Result{}, err
	}
	if rec == nil {
		return Result{}, &taskerrors.NotFoundError{Resource: "task", ID: taskID}
	}
	return rec.toResult(), nil
}

// mutate is the shared CAS-retry loop: load, apply fn, write with
// put_if_version, retry on conflict up to the configured budget.
func (s *Store) mutate(ctx context.Context, owner, taskID string, fn func(rec *Record) error) error {
	budget := s.cfg.casRetryBudget()
	var lastErr error
	for attempt := 0; attempt <= budget; attempt++ {
		rec, err := s.GetRecord(ctx, owner, taskID)
		if err != nil {
			return err
		}
		if rec == nil {
			return &taskerrors.NotFoundError{Resource: "task", ID: taskID}
		}

		if err := fn(rec); err != nil {
			if err == errNoop {
				return nil
			}
			return err
		}

		if err := s.checkSize(rec); err != nil {
			return err
		}

		rec.UpdatedAt = time.Now()
		blob, err := json.Marshal(rec)
		if err != nil {
			return &taskerrors.InternalError{Reason: "marshal record: " + err.Error()}
		}

		ttl := ttlFrom(rec.ExpiresAt, rec.UpdatedAt)
		_, err = s.backend.PutIfVersion(ctx, owner, taskID, blob, rec.Version, ttl)
		if err == nil {
			return nil
		}

		var conflict *taskerrors.VersionConflictError
		if !stderrors.As(err, &conflict) {
			return &taskerrors.BackendError{Op: "put_if_version", Cause: err}
		}
		s.cfg.Metrics.CASRetry(ctx)
		s.cfg.logger().Debug("CAS conflict, retrying",
			slog.String("task_id", taskID), slog.Int("attempt", attempt))
		lastErr = conflict
	}
	return lastErr
}

// SetVariable sets a single variable key under a CAS-retry loop.
func (s *Store) SetVariable(ctx context.Context, owner, taskID, key string, value any) error {
	return s.SetVariables(ctx, owner, taskID, map[string]any{key: value})
}

// SetVariables applies a batch of variable assignments in one CAS round.
// This is the primary mechanism the engine uses to commit progress
// atomically. A nil value deletes the key.
func (s *Store) SetVariables(ctx context.Context, owner, taskID string, batch map[string]any) error {
	return s.mutate(ctx, owner, taskID, func(rec *Record) error {
		if rec.Variables == nil {
			rec.Variables = make(map[string]any)
		}
		for k, v := range batch {
			if v == nil {
				delete(rec.Variables, k)
				continue
			}
			rec.Variables[k] = v
		}
		return nil
	})
}

// CompleteWithResult transitions the task to Completed with the given
// result. Idempotent when the task is already Completed with an equal
// result (compared via JSON equality).
func (s *Store) CompleteWithResult(ctx context.Context, owner, taskID string, result any) error {
	err := s.mutate(ctx, owner, taskID, func(rec *Record) error {
		if rec.Status == StatusCompleted && jsonEqual(rec.Result, result) {
			return errNoop
		}
		rec.Status = StatusCompleted
		rec.Result = result
		return nil
	})
	if err == nil {
		s.cfg.Metrics.TaskCompleted(ctx, string(StatusCompleted))
	}
	return err
}

// Fail transitions the task to Failed with the given structured error.
func (s *Store) Fail(ctx context.Context, owner, taskID string, taskErr *Error) error {
	err := s.mutate(ctx, owner, taskID, func(rec *Record) error {
		rec.Status = StatusFailed
		rec.Error = taskErr
		return nil
	})
	if err == nil {
		s.cfg.Metrics.TaskCompleted(ctx, string(StatusFailed))
	}
	return err
}

// Cancel transitions the task to Cancelled, or, when result is non-nil,
// to Completed with that result ("cancel with result" — a deferred
// completion handed to the server by the client). Canceling an already
// terminal task is a no-op.
func (s *Store) Cancel(ctx context.Context, owner, taskID string, result any) error {
	final := StatusCancelled
	err := s.mutate(ctx, owner, taskID, func(rec *Record) error {
		if rec.Status.IsTerminal() {
			return errNoop
		}
		if result != nil {
			rec.Status = StatusCompleted
			rec.Result = result
			final = StatusCompleted
			return nil
		}
		rec.Status = StatusCancelled
		return nil
	})
	if err == nil {
		s.cfg.Metrics.TaskCompleted(ctx, string(final))
	}
	return err
}

// errNoop lets mutate's fn signal "nothing to write" while still
// returning success from the outer call. It never escapes Store's
// exported methods.
var errNoop = noopError{}

type noopError struct{}

func (noopError) Error() string { return "noop" }

func (s *Store) checkSize(rec *Record) error {
	blob, err := json.Marshal(rec.Variables)
	if err != nil {
		return &taskerrors.InternalError{Reason: "marshal variables: " + err.Error()}
	}
	limit := s.cfg.maxVariableSizeBytes()
	if len(blob) > limit {
		return &taskerrors.SizeExceededError{Limit: limit, Size: len(blob)}
	}
	return nil
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func ttlFrom(expiresAt *time.Time, now time.Time) *time.Duration {
	if expiresAt == nil {
		return nil
	}
	d := expiresAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return &d
}
