package position

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore keeps entries msgpack encoded under <prefix>:<destination>.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(destination string) string {
	return s.prefix + ":" + destination
}

func (s *RedisStore) Load(ctx context.Context, destination string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.key(destination)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Annotatef(err, "load position %s", destination)
	}
	var e Entry
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		return nil, errors.Annotatef(err, "decode position %s", destination)
	}
	return &e, nil
}

func (s *RedisStore) Save(ctx context.Context, destination string, e Entry) error {
	raw, err := msgpack.Marshal(&e)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.client.Set(ctx, s.key(destination), raw, 0).Err(), "save position %s", destination)
}
