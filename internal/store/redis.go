// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store over a single Redis database. Each document
// lives at "<collection>:<id>" as a JSON value, with a per-collection set of
// ids at "idx:<collection>" maintained in the same MULTI/EXEC so Query never
// observes a half-written collection.
//
// Transactions use WATCH: every Tx.Get registers its key, and a concurrent
// write to any watched key fails EXEC, which we retry up to the budget.
// Change events are published by the store itself after each commit, so the
// subscription path has no dependency on keyspace notifications.
type RedisStore struct {
	rdb     *redis.Client
	retries int
}

// Connect initializes a Redis client and verifies connectivity.
func Connect(addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedisStore wraps an existing client. retries bounds optimistic
// transaction attempts; values below 1 are treated as 1.
func NewRedisStore(rdb *redis.Client, retries int) *RedisStore {
	if retries < 1 {
		retries = 1
	}
	return &RedisStore{rdb: rdb, retries: retries}
}

func docKey(collection, id string) string { return collection + ":" + id }

func indexKey(collection string) string { return "idx:" + collection }

func eventChannel(collection string) string { return "docs." + collection }

// stagedWrite is one pending mutation inside a Tx or Batch. A nil doc means
// delete.
type stagedWrite struct {
	collection string
	id         string
	doc        Document
}

// stagedPush is a pending RPUSH onto a queue, committed with the batch.
type stagedPush struct {
	queue   string
	payload []byte
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func decodeDoc(raw string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// Corrupt documents read as absent so one bad entry cannot poison
		// every caller that touches its collection.
		return nil, ErrNotFound
	}
	return doc, nil
}

// Get fetches one document outside any transaction.
func (s *RedisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	raw, err := s.rdb.Get(ctx, docKey(collection, id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get "+docKey(collection, id), err)
	}
	return decodeDoc(raw)
}

// Set writes one document and its index entry atomically, then announces the
// change.
func (s *RedisStore) Set(ctx context.Context, collection, id string, doc Document) error {
	writes := []stagedWrite{{collection: collection, id: id, doc: doc}}
	if err := s.commit(ctx, writes, nil); err != nil {
		return err
	}
	s.publish(ctx, writes)
	return nil
}

// Update rewrites a single field through the usual read-modify-write path.
// Documents are whole JSON values here, so even a one-field write re-reads the
// document; the field merge still only touches the named key.
func (s *RedisStore) Update(ctx context.Context, collection, id, field string, value interface{}) error {
	return s.RunTransaction(ctx, func(tx Tx) error {
		doc, err := tx.Get(collection, id)
		if err != nil {
			return err
		}
		doc[field] = value
		tx.Set(collection, id, doc)
		return nil
	})
}

// Delete removes one document and its index entry, then announces the removal.
// Deleting an absent document is a no-op that still publishes, which is
// harmless: subscribers re-fetch and observe the same absence.
func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	writes := []stagedWrite{{collection: collection, id: id}}
	if err := s.commit(ctx, writes, nil); err != nil {
		return err
	}
	s.publish(ctx, writes)
	return nil
}

// RunTransaction executes fn with optimistic concurrency. Reads inside fn
// watch their keys; staged writes apply in one MULTI/EXEC that fails if any
// watched key changed, in which case fn runs again against fresh state.
func (s *RedisStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < s.retries; attempt++ {
		tx := &redisTx{ctx: ctx}
		err := s.rdb.Watch(ctx, func(rt *redis.Tx) error {
			tx.rt = rt
			tx.writes = nil
			if err := fn(tx); err != nil {
				return err
			}
			if len(tx.writes) == 0 {
				return nil
			}
			_, err := rt.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				applyWrites(ctx, pipe, tx.writes)
				return nil
			})
			return err
		})
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return err
		}
		s.publish(ctx, tx.writes)
		return nil
	}
	return ErrConflict
}

// RunBatch stages writes across many documents and commits them as a single
// MULTI/EXEC. Batches never read, so they cannot conflict and never retry.
func (s *RedisStore) RunBatch(ctx context.Context, fn func(b Batch) error) error {
	b := &redisBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if len(b.writes) == 0 && len(b.pushes) == 0 {
		return nil
	}
	if err := s.commit(ctx, b.writes, b.pushes); err != nil {
		return err
	}
	s.publish(ctx, b.writes)
	return nil
}

// Query loads every document in a collection and keeps the ones filter
// accepts. A nil filter accepts everything. Undecodable documents are skipped.
func (s *RedisStore) Query(ctx context.Context, collection string, filter func(Document) bool) ([]Document, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey(collection)).Result()
	if err != nil {
		return nil, unavailable("smembers "+indexKey(collection), err)
	}

	var out []Document
	for _, id := range ids {
		doc, err := s.Get(ctx, collection, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter == nil || filter(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Subscribe streams change events for one document or a whole collection.
func (s *RedisStore) Subscribe(ctx context.Context, collection, id string) (<-chan Event, error) {
	pubsub := s.rdb.Subscribe(ctx, eventChannel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, unavailable("subscribe "+eventChannel(collection), err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if id != "" && ev.ID != id {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// commit applies staged writes (and queue pushes) in one MULTI/EXEC.
func (s *RedisStore) commit(ctx context.Context, writes []stagedWrite, pushes []stagedPush) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		applyWrites(ctx, pipe, writes)
		for _, p := range pushes {
			pipe.RPush(ctx, p.queue, p.payload)
		}
		return nil
	})
	if err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func applyWrites(ctx context.Context, pipe redis.Pipeliner, writes []stagedWrite) {
	for _, w := range writes {
		key := docKey(w.collection, w.id)
		if w.doc == nil {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, indexKey(w.collection), w.id)
			continue
		}
		data, err := json.Marshal(w.doc)
		if err != nil {
			// Documents are built from plain maps and primitives; a marshal
			// failure means a programming error upstream. Skip the write
			// rather than wedge the whole pipeline.
			continue
		}
		pipe.Set(ctx, key, data, 0)
		pipe.SAdd(ctx, indexKey(w.collection), w.id)
	}
}

func (s *RedisStore) publish(ctx context.Context, writes []stagedWrite) {
	for _, w := range writes {
		ev := Event{Collection: w.collection, ID: w.id, Deleted: w.doc == nil}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		s.rdb.Publish(ctx, eventChannel(w.collection), payload)
	}
}

// redisTx adapts a go-redis optimistic transaction to the Tx interface.
type redisTx struct {
	ctx    context.Context
	rt     *redis.Tx
	writes []stagedWrite
}

func (t *redisTx) Get(collection, id string) (Document, error) {
	key := docKey(collection, id)
	if err := t.rt.Watch(t.ctx, key).Err(); err != nil {
		return nil, unavailable("watch "+key, err)
	}
	raw, err := t.rt.Get(t.ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get "+key, err)
	}
	return decodeDoc(raw)
}

func (t *redisTx) Set(collection, id string, doc Document) {
	t.writes = append(t.writes, stagedWrite{collection: collection, id: id, doc: doc})
}

func (t *redisTx) Delete(collection, id string) {
	t.writes = append(t.writes, stagedWrite{collection: collection, id: id})
}

// redisBatch accumulates writes for RunBatch.
type redisBatch struct {
	writes []stagedWrite
	pushes []stagedPush
}

func (b *redisBatch) Set(collection, id string, doc Document) {
	b.writes = append(b.writes, stagedWrite{collection: collection, id: id, doc: doc})
}

func (b *redisBatch) Delete(collection, id string) {
	b.writes = append(b.writes, stagedWrite{collection: collection, id: id})
}

func (b *redisBatch) Push(queue string, payload []byte) {
	b.pushes = append(b.pushes, stagedPush{queue: queue, payload: payload})
}
