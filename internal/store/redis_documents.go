package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carzbazzar/api/internal/model"
)

const (
	docKeyPrefix = "inspection:doc:"
	docIndexKey  = "inspection:docs"
	maxTxRetries = 10
)

// RedisDocuments stores inspection documents as JSON values in Redis.
// Partial updates run in a WATCH/MULTI transaction and are retried when
// another writer changes the document in between.
type RedisDocuments struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisDocuments(redisClient *redis.Client) *RedisDocuments {
	return &RedisDocuments{redis: redisClient, now: time.Now}
}

func docKey(docID string) string {
	return docKeyPrefix + docID
}

func (r *RedisDocuments) Create(ctx context.Context, ins *model.Inspection) (string, error) {
	docID := ins.DocID
	if docID == "" {
		docID = uuid.New().String()
	}
	c := *ins
	c.DocID = docID

	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal inspection: %w", err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, docKey(docID), data, 0)
		pipe.SAdd(ctx, docIndexKey, docID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to save inspection: %w", err)
	}
	return docID, nil
}

func (r *RedisDocuments) Get(ctx context.Context, docID string) (*model.Inspection, error) {
	data, err := r.redis.Get(ctx, docKey(docID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return fromDocument(doc)
}

// List returns documents newest first. Index entries whose document is gone are skipped.
func (r *RedisDocuments) List(ctx context.Context) ([]model.Inspection, error) {
	ids, err := r.redis.SMembers(ctx, docIndexKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.Inspection, 0, len(ids))
	for _, id := range ids {
		ins, err := r.Get(ctx, id)
		if errors.Is(err, ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *ins)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *RedisDocuments) Update(ctx context.Context, docID string, fields map[string]any) error {
	key := docKey(docID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return ErrDocumentNotFound
			}
			return err
		}

		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		if err := applyUpdate(doc, fields, r.now()); err != nil {
			return err
		}
		updated, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.redis.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too many concurrent writers", docID)
}

func (r *RedisDocuments) Delete(ctx context.Context, docID string) error {
	var del *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, docKey(docID))
		pipe.SRem(ctx, docIndexKey, docID)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
