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

// Package docstore is the cloud document-store backend over DynamoDB,
// using a single-table layout: partition key
// OWNER#<owner_id>, sort key TASK#<task_id>, the monotonic version as a
// distinct attribute for conditional-expression CAS, and the TTL as
// epoch-seconds so the platform's native expiration applies.
package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
	"github.com/tombee/taskcore/pkg/task/backend"
)

const (
	pkPrefix = "OWNER#"
	skPrefix = "TASK#"
)

// API is the slice of the DynamoDB client the store uses, so tests can fake
// it without a live table.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// item is the stored row shape.
type item struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	Blob      []byte `dynamodbav:"blob"`
	Version   uint64 `dynamodbav:"version"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
}

func (it item) expired(now time.Time) bool {
	return it.ExpiresAt > 0 && now.Unix() >= it.ExpiresAt
}

// Store is a backend.Backend over a DynamoDB table.
type Store struct {
	client API
	table  string
	now    func() time.Time
}

// New wraps a DynamoDB client against the given table.
func New(client API, table string) *Store {
	return &Store{client: client, table: table, now: time.Now}
}

func pk(owner string) string  { return pkPrefix + owner }
func sk(taskID string) string { return skPrefix + taskID }

func keyOf(owner, taskID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk(owner)},
		"sk": &types.AttributeValueMemberS{Value: sk(taskID)},
	}
}

// Get loads a single record. DynamoDB's native TTL deletes lazily, so the
// read path filters expired items itself.
func (s *Store) Get(ctx context.Context, owner, taskID string) (backend.Entry, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyOf(owner, taskID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return backend.Entry{}, false, taskerrors.Wrap(err, "dynamodb get item")
	}
	if out.Item == nil {
		return backend.Entry{}, false, nil
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return backend.Entry{}, false, taskerrors.Wrap(err, "unmarshal item")
	}
	if it.expired(s.now()) {
		return backend.Entry{}, false, nil
	}

	entry := backend.Entry{Blob: it.Blob, Version: it.Version}
	if it.ExpiresAt > 0 {
		t := time.Unix(it.ExpiresAt, 0)
		entry.ExpiresAt = &t
	}
	return entry, true, nil
}

// Put writes unconditionally while preserving version monotonicity: read
// the current version, then CAS at that version, retrying on interleaved
// writers. This is the documented two-operation rendition for backends
// without native fetch-and-increment.
func (s *Store) Put(ctx context.Context, owner, taskID string, blob []byte, ttl *time.Duration) (uint64, error) {
	for {
		entry, ok, err := s.Get(ctx, owner, taskID)
		if err != nil {
			return 0, err
		}
		var current uint64
		if ok {
			current = entry.Version
		}

		version, err := s.PutIfVersion(ctx, owner, taskID, blob, current, ttl)
		if err == nil {
			return version, nil
		}
		var conflict *taskerrors.VersionConflictError
		if !stderrors.As(err, &conflict) {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}

// PutIfVersion is the conditional-expression CAS. An expected version of 0
// is the create case: the item must be absent (or expired, which is
// observationally the same thing).
func (s *Store) PutIfVersion(ctx context.Context, owner, taskID string, blob []byte, expectedVersion uint64, ttl *time.Duration) (uint64, error) {
	now := s.now()
	it := item{
		PK:      pk(owner),
		SK:      sk(taskID),
		Blob:    blob,
		Version: expectedVersion + 1,
	}
	if ttl != nil {
		it.ExpiresAt = now.Add(*ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return 0, taskerrors.Wrap(err, "marshal item")
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	}
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String(
			"attribute_not_exists(pk) OR (attribute_exists(expires_at) AND expires_at <= :now)")
	} else {
		input.ConditionExpression = aws.String(
			"version = :expected AND (attribute_not_exists(expires_at) OR expires_at > :now)")
		input.ExpressionAttributeValues[":expected"] = &types.AttributeValueMemberN{
			Value: fmt.Sprintf("%d", expectedVersion),
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if stderrors.As(err, &ccf) {
			// No extra read to learn the fresh version; callers reload via Get.
			return 0, &taskerrors.VersionConflictError{Expected: expectedVersion}
		}
		return 0, taskerrors.Wrap(err, "dynamodb put item")
	}
	return it.Version, nil
}

func (s *Store) Delete(ctx context.Context, owner, taskID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyOf(owner, taskID),
	})
	if err != nil {
		return taskerrors.Wrap(err, "dynamodb delete item")
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, owner, subPrefix, pageToken string, pageSize int) (backend.ListPage, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk(owner)},
			":sk": &types.AttributeValueMemberS{Value: skPrefix + subPrefix},
		},
		Limit: aws.Int32(int32(pageSize)),
	}
	if pageToken != "" {
		startKey, err := decodePageToken(pageToken)
		if err != nil {
			return backend.ListPage{}, &taskerrors.ValidationError{Field: "page_token", Message: "malformed page token"}
		}
		input.ExclusiveStartKey = startKey
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return backend.ListPage{}, taskerrors.Wrap(err, "dynamodb query")
	}

	now := s.now()
	page := backend.ListPage{Entries: make([]backend.ListEntry, 0, len(out.Items))}
	for _, raw := range out.Items {
		var it item
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return backend.ListPage{}, taskerrors.Wrap(err, "unmarshal item")
		}
		if it.expired(now) {
			continue
		}
		page.Entries = append(page.Entries, backend.ListEntry{
			TaskID:  it.SK[len(skPrefix):],
			Blob:    it.Blob,
			Version: it.Version,
		})
	}
	if len(out.LastEvaluatedKey) > 0 {
		token, err := encodePageToken(out.LastEvaluatedKey)
		if err != nil {
			return backend.ListPage{}, err
		}
		page.NextToken = token
	}
	return page, nil
}

// CleanupExpired is a no-op: the expires_at attribute is registered as the
// table's TTL attribute and the platform deletes expired items.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// Page tokens are the base64 of the pk/sk pair from LastEvaluatedKey; the
// key schema has no other attributes so this round-trips losslessly.
type pageKey struct {
	PK string `json:"pk" dynamodbav:"pk"`
	SK string `json:"sk" dynamodbav:"sk"`
}

func encodePageToken(key map[string]types.AttributeValue) (string, error) {
	var pk pageKey
	if err := attributevalue.UnmarshalMap(key, &pk); err != nil {
		return "", taskerrors.Wrap(err, "encode page token")
	}
	b, err := json.Marshal(pk)
	if err != nil {
		return "", taskerrors.Wrap(err, "encode page token")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodePageToken(token string) (map[string]types.AttributeValue, error) {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var pk pageKey
	if err := json.Unmarshal(b, &pk); err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk.PK},
		"sk": &types.AttributeValueMemberS{Value: pk.SK},
	}, nil
}

var _ backend.Backend = (*Store)(nil)
