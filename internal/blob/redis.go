package blob

import (
	"context"
	"fmt"

	pkgredis "github.com/komodo-search/komodo/pkg/redis"
)

// RedisStore keeps blobs as plain Redis strings under a key prefix.
type RedisStore struct {
	client *pkgredis.Client
	prefix string
}

func NewRedisStore(client *pkgredis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisProvider namespaces stores as komodo:<indexGUID>:<kind>:<key>.
func NewRedisProvider(client *pkgredis.Client) Provider {
	return ProviderFunc(func(indexGUID string, kind Kind) (Store, error) {
		if err := validateKey(indexGUID); err != nil {
			return nil, err
		}
		return NewRedisStore(client, fmt.Sprintf("komodo:%s:%s:", indexGUID, kind)), nil
	})
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0); err != nil {
		return fmt.Errorf("writing blob %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.GetBytes(ctx, s.prefix+key)
	if pkgredis.IsNilError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	ok, err := s.client.Exists(ctx, s.prefix+key)
	if err != nil {
		return false, fmt.Errorf("checking blob %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if _, err := s.client.FlushByPattern(ctx, s.prefix+"*"); err != nil {
		return fmt.Errorf("clearing blobs: %w", err)
	}
	return nil
}
