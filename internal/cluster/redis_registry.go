package cluster

import (
	"context"
	"time"

	"go-canal/internal/log"

	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	notifyCluster = "cluster"
	notifyRunning = "running"
)

// RunningData is stored under the running key of a destination.
type RunningData struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
	Since   int64  `json:"since"`
}

// RedisRegistry keeps the member set and the running server of each
// destination in redis:
//
//	<prefix>:<destination>:cluster   set of host:port
//	<prefix>:<destination>:running   RunningData as JSON, with a ttl
//	<prefix>:<destination>:events    pub/sub channel announcing changes
type RedisRegistry struct {
	client      redis.UniversalClient
	prefix      string
	destination string
}

func NewRedisRegistry(client redis.UniversalClient, prefix, destination string) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix, destination: destination}
}

func (r *RedisRegistry) key(suffix string) string {
	return r.prefix + ":" + r.destination + ":" + suffix
}

func (r *RedisRegistry) Register(ctx context.Context, addr string) error {
	if !validAddress(addr) {
		return errors.Errorf("cluster: bad address %q", addr)
	}
	if err := r.client.SAdd(ctx, r.key("cluster"), addr).Err(); err != nil {
		return errors.Annotatef(err, "register %s", addr)
	}
	return r.notify(ctx, notifyCluster)
}

func (r *RedisRegistry) Unregister(ctx context.Context, addr string) error {
	if err := r.client.SRem(ctx, r.key("cluster"), addr).Err(); err != nil {
		return errors.Annotatef(err, "unregister %s", addr)
	}
	return r.notify(ctx, notifyCluster)
}

func (r *RedisRegistry) Members(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key("cluster")).Result()
	return members, errors.Trace(err)
}

// Acquire tries to become the running server. It returns true when addr
// holds the running key afterwards, refreshing the ttl if it already did.
func (r *RedisRegistry) Acquire(ctx context.Context, addr string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(RunningData{Address: addr, Active: true, Since: time.Now().Unix()})
	if err != nil {
		return false, errors.Trace(err)
	}
	ok, err := r.client.SetNX(ctx, r.key("running"), data, ttl).Result()
	if err != nil {
		return false, errors.Annotate(err, "acquire running")
	}
	if ok {
		return true, r.notify(ctx, notifyRunning)
	}
	current, err := r.Running(ctx)
	if err != nil || current == nil || current.Address != addr {
		return false, err
	}
	return true, errors.Trace(r.client.Expire(ctx, r.key("running"), ttl).Err())
}

// Release deletes the running key if addr still owns it.
func (r *RedisRegistry) Release(ctx context.Context, addr string) error {
	key := r.key("running")
	released := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		var data RunningData
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		if data.Address != addr {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		released = err == nil
		return err
	}, key)
	if err != nil {
		return errors.Annotate(err, "release running")
	}
	if released {
		return r.notify(ctx, notifyRunning)
	}
	return nil
}

const releaseTimeout = 5 * time.Second

// Hold competes for the running key with addr until ctx is done,
// renewing the lease every third of ttl, then releases it. A standby
// keeps retrying so it takes over once the holder lets the lease lapse.
func (r *RedisRegistry) Hold(ctx context.Context, addr string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("cluster: bad lease ttl %s", ttl)
	}
	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	held := false
	for {
		ok, err := r.Acquire(ctx, addr, ttl)
		if err != nil {
			if ctx.Err() == nil {
				log.Log.Warn("renew running lease failed", zap.String("destination", r.destination), zap.Error(err))
			}
		} else if ok != held {
			held = ok
			log.Log.Info("running lease changed", zap.String("destination", r.destination),
				zap.String("address", addr), zap.Bool("held", held))
		}

		select {
		case <-ctx.Done():
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			return r.Release(rctx, addr)
		case <-ticker.C:
		}
	}
}

// Running returns nil when no server is running.
func (r *RedisRegistry) Running(ctx context.Context) (*RunningData, error) {
	raw, err := r.client.Get(ctx, r.key("running")).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	var data RunningData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Annotate(err, "decode running data")
	}
	return &data, nil
}

func (r *RedisRegistry) notify(ctx context.Context, what string) error {
	return errors.Trace(r.client.Publish(ctx, r.key("events"), what).Err())
}

// Refresh loads the member set and running server into res.
func (r *RedisRegistry) Refresh(ctx context.Context, res *Resolver) error {
	members, err := r.Members(ctx)
	if err != nil {
		return err
	}
	res.SetCandidates(members)
	running, err := r.Running(ctx)
	if err != nil {
		return err
	}
	if running == nil || !running.Active {
		res.ClearRunning()
	} else {
		res.SetRunning(running.Address)
	}
	return nil
}

// Watch keeps res current until ctx is done. Changes announced on the
// events channel are applied at once; the poll interval covers running
// keys that expire without an announcement.
func (r *RedisRegistry) Watch(ctx context.Context, res *Resolver, interval time.Duration) error {
	sub := r.client.Subscribe(ctx, r.key("events"))
	defer sub.Close()
	// wait for the subscription so no announcement is missed after the first refresh
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Annotate(err, "subscribe")
	}
	if err := r.Refresh(ctx, res); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return errors.New("cluster: subscription closed")
			}
		case <-ticker.C:
		}
		if err := r.Refresh(ctx, res); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Log.Warn("refresh cluster failed", zap.String("destination", r.destination), zap.Error(err))
		}
	}
}
