package leader

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const DefaultLeaderKey = "auction_closer_leader"

var releaseScript = redis.NewScript(`
    if redis.call("GET", KEYS[1]) == ARGV[1] then
        return redis.call("DEL", KEYS[1])
    else
        return 0
    end
`)

var refreshScript = redis.NewScript(`
    if redis.call("GET", KEYS[1]) == ARGV[1] then
        return redis.call("PEXPIRE", KEYS[1], ARGV[2])
    else
        return 0
    end
`)

// RedisLeaderElection elects the instance that drives the closing sweep.
// Leadership only reduces duplicate work: closing stays correct without it.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLeaderElection(client *redis.Client, key string, ttl time.Duration) *RedisLeaderElection {
	if key == "" {
		key = DefaultLeaderKey
	}
	return &RedisLeaderElection{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	return r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	return currentLeader == instanceID, nil
}

// RefreshLeadership extends the lease if instanceID still holds it. The
// scheduler calls it once per tick instead of running a heartbeat goroutine.
func (r *RedisLeaderElection) RefreshLeadership(ctx context.Context, instanceID string) (bool, error) {
	n, err := refreshScript.Run(ctx, r.client, []string{r.key}, instanceID, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	return releaseScript.Run(ctx, r.client, []string{r.key}, instanceID).Err()
}
