package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

// snapshots outlive any sane attempt duration; submission deletes them anyway
const liveTTL = 24 * time.Hour

type liveStore struct {
	rdb *redis.Client
}

var _ exam.LiveStore = (*liveStore)(nil) // interface compliance check

func NewLiveStore(conf *core.Config) *liveStore {
	return &liveStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
		}),
	}
}

func (store *liveStore) key(sessionID string) string {
	return "session:live:" + sessionID
}

func (store *liveStore) PutSnapshot(ctx context.Context, snap exam.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshaling snapshot")
	}
	return errors.Wrap(store.rdb.Set(ctx, store.key(snap.SessionID), b, liveTTL).Err(), "storing snapshot")
}

func (store *liveStore) GetSnapshot(ctx context.Context, sessionID string) (exam.Snapshot, error) {
	b, err := store.rdb.Get(ctx, store.key(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return exam.Snapshot{}, exam.ErrSessionNotFound
		}
		return exam.Snapshot{}, errors.Wrap(err, "fetching snapshot")
	}

	var snap exam.Snapshot
	if err = json.Unmarshal(b, &snap); err != nil {
		return exam.Snapshot{}, errors.Wrap(err, "unmarshaling snapshot")
	}
	return snap, nil
}

func (store *liveStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	return errors.Wrap(store.rdb.Del(ctx, store.key(sessionID)).Err(), "deleting snapshot")
}

// Ping verifies connectivity at startup.
func (store *liveStore) Ping(ctx context.Context) error {
	return errors.Wrap(store.rdb.Ping(ctx).Err(), "pinging redis")
}

func (store *liveStore) Close() error {
	return store.rdb.Close()
}
