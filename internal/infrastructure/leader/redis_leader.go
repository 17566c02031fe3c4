package leader

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketplace-bidding/pkg/logger"

	"github.com/go-redis/redis/v8"
)

var (
	releaseScript = redis.NewScript(`
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("DEL", KEYS[1])
        else
            return 0
        end
    `)
	renewScript = redis.NewScript(`
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("PEXPIRE", KEYS[1], ARGV[2])
        else
            return 0
        end
    `)
)

// RedisLeaderElection is a SETNX lease. Only the holder runs scheduled
// auction starts and ends.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    logger.Logger

	mu      sync.Mutex
	renewal context.CancelFunc // nil when no renewal goroutine runs
	gen     uint64
}

func NewRedisLeaderElection(client *redis.Client, key string, ttl time.Duration, log logger.Logger) *RedisLeaderElection {
	return &RedisLeaderElection{
		client: client,
		key:    key,
		ttl:    ttl,
		log:    log,
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	acquired, err := r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
	if err != nil {
		return false, err
	}

	if acquired {
		r.log.Info("Acquired scheduler leadership", "instance_id", instanceID, "key", r.key)
		r.startRenewal(instanceID)
		return true, nil
	}

	// We may already hold it from a previous call. Renewal can have stopped on a
	// transient error while the key still names us, so resume it.
	held, err := r.IsLeader(ctx, instanceID)
	if err != nil || !held {
		return held, err
	}
	if r.ensureRenewal(instanceID) {
		r.log.Info("Resumed scheduler lease renewal", "instance_id", instanceID, "key", r.key)
	}
	return true, nil
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return currentLeader == instanceID, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	r.stopRenewal()
	return releaseScript.Run(ctx, r.client, []string{r.key}, instanceID).Err()
}

func (r *RedisLeaderElection) startRenewal(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startRenewalLocked(instanceID)
}

// ensureRenewal starts renewal unless it is already running.
func (r *RedisLeaderElection) ensureRenewal(instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.renewal != nil {
		return false
	}
	r.startRenewalLocked(instanceID)
	return true
}

func (r *RedisLeaderElection) startRenewalLocked(instanceID string) {
	if r.renewal != nil {
		r.renewal()
	}
	r.gen++
	ctx, cancel := context.WithCancel(context.Background())
	r.renewal = cancel
	go r.maintainLeadership(ctx, instanceID, r.gen)
}

func (r *RedisLeaderElection) renewing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renewal != nil
}

// renewalExited clears the handle if gen is still the current renewal.
func (r *RedisLeaderElection) renewalExited(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen && r.renewal != nil {
		r.renewal()
		r.renewal = nil
	}
}

func (r *RedisLeaderElection) stopRenewal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.renewal != nil {
		r.renewal()
		r.renewal = nil
	}
}

// maintainLeadership refreshes the lease at a third of its TTL until it is lost,
// released or a renewal fails. BecomeLeader resumes it while the key is still ours.
func (r *RedisLeaderElection) maintainLeadership(ctx context.Context, instanceID string, gen uint64) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	defer r.renewalExited(gen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		renewCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		renewed, err := renewScript.Run(renewCtx, r.client, []string{r.key}, instanceID, r.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil || renewed == 0 {
			r.log.Warn("Stopped scheduler lease renewal", "instance_id", instanceID, "renewed", renewed, "error", err)
			return
		}
	}
}
