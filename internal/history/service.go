// internal/history/service.go
package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/database"
)

// Service is the asynchronous historian: it pops archive records from the
// Redis queue and persists them to Postgres in batches. It runs as its own
// process, so losing a game client (or the whole lobby engine) never loses
// already-enqueued records.
type Service struct {
	rdb        *redis.Client
	log        *logrus.Logger
	queue      string
	batchSize  int
	flushDelay time.Duration

	batchMu sync.Mutex
	batch   []ArchiveRecord
}

// NewService builds a historian over an existing Redis client.
// batchSize/flushDelay bound how long a record sits in memory before its
// insert.
func NewService(rdb *redis.Client, log *logrus.Logger, queue string, batchSize int, flushDelay time.Duration) *Service {
	if log == nil {
		log = logrus.New()
	}
	if queue == "" {
		queue = DefaultQueueName
	}
	if batchSize < 1 {
		batchSize = 20
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	return &Service{
		rdb:        rdb,
		log:        log,
		queue:      queue,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		batch:      make([]ArchiveRecord, 0, batchSize),
	}
}

// Run consumes the queue until ctx is done, flushing any tail batch on exit.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		default:
			// BLPop with a short timeout so ctx cancellation is noticed.
			res, err := s.rdb.BLPop(ctx, 3*time.Second, s.queue).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					s.flush(context.Background())
					return
				}
				s.log.WithField("error", err).Error("archive queue pop failed")
				continue
			}
			if len(res) < 2 {
				continue
			}

			var rec ArchiveRecord
			if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
				s.log.WithField("error", err).Warn("discarding invalid archive record")
				continue
			}
			s.append(ctx, rec)
		}
	}
}

func (s *Service) append(ctx context.Context, rec ArchiveRecord) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()
	if full {
		s.flush(ctx)
	}
}

// flush writes the pending batch to Postgres in one transaction. On failure
// the records are re-queued in memory for the next flush.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = make([]ArchiveRecord, 0, s.batchSize)
	s.batchMu.Unlock()

	err := pgx.BeginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range pending {
			if err := insertArchiveTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"count": len(pending), "error": err}).Error("archive flush failed, retrying next cycle")
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.log.WithField("count", len(pending)).Debug("flushed archive records")
}

// insertArchiveTx inserts a single archive row. The insert is idempotent on
// lobby id: a record replayed after a crash updates rather than duplicates.
func insertArchiveTx(ctx context.Context, tx pgx.Tx, rec ArchiveRecord) error {
	q := `
		INSERT INTO lobby_archive (
			lobby_id, host_user_id, host_username, visibility,
			max_players, round_count, player_count, status,
			created_at, destroyed_at, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			to_timestamp($9::double precision / 1000),
			to_timestamp($10::double precision / 1000), $11)
		ON CONFLICT (lobby_id)
		DO UPDATE SET destroyed_at = EXCLUDED.destroyed_at, reason = EXCLUDED.reason
	`
	_, err := tx.Exec(ctx, q,
		rec.LobbyID, rec.HostUserID, rec.HostUsername, rec.Visibility,
		rec.MaxPlayers, rec.RoundCount, rec.PlayerCount, rec.Status,
		rec.CreatedAt, rec.DestroyedAt, rec.Reason,
	)
	return err
}
