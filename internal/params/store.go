package params

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
)

// ErrNotFound reports a missing parameter key.
var ErrNotFound = errors.New("parameter not found")

// Store is a Redis-backed key-value store for live-adjustable
// parameters, scoped by instance id. The risk monitor polls it once
// per evaluation cycle so a running strategy's target can be moved
// without a restart.
type Store struct {
	client   *redis.Client
	instance string
}

// Option configures the Redis connection.
type Option struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, opt Option, instance string) (*Store, error) {
	if instance == "" {
		return nil, errors.New("params: instance id is empty")
	}
	addr := opt.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis").With("addr", addr)
	}
	return &Store{client: client, instance: instance}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return fmt.Sprintf("%s_%s", s.instance, name)
}

// SetFloat stores a scalar parameter for this instance.
func (s *Store) SetFloat(ctx context.Context, name string, value float64) error {
	v := strconv.FormatFloat(value, 'f', -1, 64)
	if err := s.client.Set(ctx, s.key(name), v, 0).Err(); err != nil {
		return errors.Wrap(err, "set parameter").With("key", name)
	}
	return nil
}

// Float retrieves a scalar parameter. ErrNotFound when the key is
// absent.
func (s *Store) Float(ctx context.Context, name string) (float64, error) {
	v, err := s.client.Get(ctx, s.key(name)).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "get parameter").With("key", name)
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse parameter").With("key", name).With("value", v)
	}
	return parsed, nil
}

// Keys lists every parameter key stored for this instance.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, s.instance+"*").Result()
	if err != nil {
		return nil, errors.Wrap(err, "list parameter keys")
	}
	return keys, nil
}
