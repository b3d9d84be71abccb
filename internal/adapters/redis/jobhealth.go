package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

const (
	jobHealthPrefix = "job_health:"
	jobHealthTTL    = 30 * 24 * time.Hour
)

// JobHealthStore records the last run of each scheduler job. The health
// endpoint reads these to flag stale jobs.
type JobHealthStore struct {
	client *redis.Client
}

// NewJobHealthStore creates a Redis-backed job health store.
func NewJobHealthStore(client *redis.Client) *JobHealthStore {
	return &JobHealthStore{client: client}
}

// RecordRun stores the run outcome under the job's key.
func (s *JobHealthStore) RecordRun(ctx context.Context, rec *ports.JobRunRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "marshal job run", err)
	}
	if err := s.client.Set(ctx, jobHealthPrefix+rec.Name, payload, jobHealthTTL).Err(); err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "record job run", err)
	}
	return nil
}

// LastRuns returns the most recent record per job name; jobs that have
// never run are absent from the map.
func (s *JobHealthStore) LastRuns(ctx context.Context, names []string) (map[string]*ports.JobRunRecord, error) {
	out := make(map[string]*ports.JobRunRecord, len(names))
	for _, name := range names {
		raw, err := s.client.Get(ctx, jobHealthPrefix+name).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, domain.WrapError(domain.ErrorCodeInternalError, "read job run", err)
		}
		var rec ports.JobRunRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeInternalError, "unmarshal job run", err)
		}
		out[name] = &rec
	}
	return out, nil
}
