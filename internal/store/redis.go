package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// Redis stores each collection under one string key and commits Update with
// WATCH/MULTI. A transaction that loses the race is retried with exponential
// backoff up to maxTries times before ErrConflict is returned.
type Redis struct {
	client   *redis.Client
	prefix   string
	maxTries uint
}

func NewRedis(client *redis.Client, prefix string, maxTries uint) *Redis {
	if prefix == "" {
		prefix = "clinic"
	}
	if maxTries == 0 {
		maxTries = 5
	}
	return &Redis{client: client, prefix: prefix, maxTries: maxTries}
}

func (s *Redis) key(k string) string {
	return fmt.Sprintf("%s:collection:%s", s.prefix, k)
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *Redis) Update(ctx context.Context, keys []string, fn func(Txn) error) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	attempt := func() (struct{}, error) {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			read := make(map[string][]byte, len(keys))
			if len(full) > 0 {
				vals, err := tx.MGet(ctx, full...).Result()
				if err != nil {
					return fmt.Errorf("read collections: %w", err)
				}
				for i, v := range vals {
					if str, ok := v.(string); ok {
						read[keys[i]] = []byte(str)
					}
				}
			}

			t := newTxn(read)
			if err := fn(t); err != nil {
				return err
			}
			if len(t.writes) == 0 {
				return nil
			}

			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for k, v := range t.writes {
					pipe.Set(ctx, s.key(k), v, 0)
				}
				return nil
			})
			return err
		}, full...)

		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, redis.TxFailedErr):
			return struct{}{}, ErrConflict
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.maxTries),
	)
	return err
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}
