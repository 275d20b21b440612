package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/internal/pool"
)

const (
	mirrorKeyPrefix = "console:session:"
	mirrorKeyTTL    = 24 * time.Hour // safety net; entries are withdrawn on teardown
	mirrorOpTimeout = 3 * time.Second
)

// RedisMirror publishes session presence to Redis so the panel can enumerate
// live consoles across relay replicas. All Redis I/O runs on the background
// pool; a slow or dead Redis never delays session admission or teardown.
type RedisMirror struct {
	client     *redis.Client
	workerPool *pool.Pool
	instanceID string
}

func NewRedisMirror(addr, password string, db int, workerPool *pool.Pool) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisMirror{
		client:     rdb,
		workerPool: workerPool,
		instanceID: fmt.Sprintf("consoled-%d", time.Now().UnixNano()),
	}, nil
}

var _ Mirror = (*RedisMirror)(nil)

type mirrorRecord struct {
	SessionInfo
	Instance string `json:"instance"`
}

func (m *RedisMirror) Publish(info SessionInfo) {
	err := m.workerPool.Submit(func() error {
		data, err := json.Marshal(mirrorRecord{SessionInfo: info, Instance: m.instanceID})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
		defer cancel()
		return m.client.Set(ctx, mirrorKeyPrefix+info.ID, data, mirrorKeyTTL).Err()
	})
	if err != nil {
		log.Debug().Err(err).Msgf("Dropped presence publish for session %s.", info.ID)
	}
}

func (m *RedisMirror) Withdraw(id string) {
	err := m.workerPool.Submit(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
		defer cancel()
		return m.client.Del(ctx, mirrorKeyPrefix+id).Err()
	})
	if err != nil {
		log.Debug().Err(err).Msgf("Dropped presence withdraw for session %s.", id)
	}
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
