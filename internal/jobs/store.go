package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/fms-backend/internal/export"
)

const (
	jobKeyPrefix = "fms:job:"

	maxUpdateAttempts = 5
)

// ErrJobNotFound は更新対象のジョブ記録が存在しないことを表します。
var ErrJobNotFound = errors.New("job not found")

// Store はジョブ状態を Redis に保存します。記録は ttl で失効します。
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now func() time.Time
}

// NewStore は Store を作成します。
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Get はジョブ情報を取得します。存在しない場合は nil, nil を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はジョブ情報を保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	s.stamp(record)
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

// UpdateProgress は進捗を更新します。
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Progress = progress
	})
}

// MarkDone はジョブ完了時の情報を保存します。
func (s *Store) MarkDone(ctx context.Context, jobID string, downloadURL string, result *export.Result) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusSucceeded
		record.Progress = ProgressInfo{
			Percent: 100,
			Stage:   export.StageDone,
		}
		record.DownloadURL = downloadURL
		record.Result = result
		record.Error = nil
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// updatePartial は WATCH で楽観ロックしながら記録を書き換えます。
func (s *Store) updatePartial(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		s.stamp(&record)
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: too many concurrent updates", jobID)
}

func (s *Store) stamp(record *Record) {
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
