package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/airsenalops/api/internal/model"
)

const keySecrets = "secrets"

// RedisSecretStore keeps operator credentials in a single hash. Values
// pass through an optional Decoder on the way out; listing only ever
// exposes masked placeholders.
type RedisSecretStore struct {
	rdb     *redis.Client
	decoder Decoder
	logger  *slog.Logger
}

func NewRedisSecretStore(rdb *redis.Client, decoder Decoder, logger *slog.Logger) *RedisSecretStore {
	if decoder == nil {
		decoder = func(v string) (string, error) { return v, nil }
	}
	return &RedisSecretStore{rdb: rdb, decoder: decoder, logger: logger}
}

func (s *RedisSecretStore) Set(ctx context.Context, key, value string) error {
	return s.rdb.HSet(ctx, keySecrets, key, value).Err()
}

func (s *RedisSecretStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.rdb.HGet(ctx, keySecrets, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *RedisSecretStore) Delete(ctx context.Context, key string) error {
	removed, err := s.rdb.HDel(ctx, keySecrets, key).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisSecretStore) List(ctx context.Context) ([]model.SecretStatus, error) {
	values, err := s.rdb.HGetAll(ctx, keySecrets).Result()
	if err != nil {
		return nil, err
	}

	statuses := make([]model.SecretStatus, 0, len(values))
	for key, value := range values {
		status := model.SecretStatus{Key: key, IsSet: value != ""}
		if status.IsSet {
			status.MaskedValue = "***"
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses, nil
}

func (s *RedisSecretStore) EnvMap(ctx context.Context) (map[string]string, error) {
	values, err := s.rdb.HMGet(ctx, keySecrets, model.SubprocessSecretKeys...).Result()
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(model.SubprocessSecretKeys))
	for i, key := range model.SubprocessSecretKeys {
		raw, ok := values[i].(string)
		if !ok || raw == "" {
			continue
		}
		decoded, err := s.decoder(raw)
		if err != nil {
			// Fall back to the stored value so one stale credential
			// cannot block every job.
			s.logger.Warn("secret decode failed, using stored value", "secret_key", key, "error", err)
			decoded = raw
		}
		env[key] = decoded
	}
	return env, nil
}

// Decode resolves one stored value through the decoder with the same
// degrade-to-raw behaviour as EnvMap.
func (s *RedisSecretStore) Decode(ctx context.Context, key string) (string, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	decoded, err := s.decoder(raw)
	if err != nil {
		s.logger.Warn("secret decode failed, using stored value", "secret_key", key, "error", err)
		return raw, nil
	}
	return decoded, nil
}
