package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/wfs-query/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-query/internal/cache/redisstore"
)

// Redis shares artifacts between replicas. Entries expire after ttl; a zero
// ttl keeps them until evicted by redis.
type Redis struct {
	cli       *redisstore.Client
	ttl       time.Duration
	opTimeout time.Duration
}

func NewRedis(cli *redisstore.Client, ttl, opTimeout time.Duration) *Redis {
	return &Redis{cli: cli, ttl: ttl, opTimeout: opTimeout}
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *Redis) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.cli.Set(ctx, keys.Artifact(name), data, r.ttl); err != nil {
		return fmt.Errorf("put artifact %q: %w", name, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	v, ok, err := r.cli.Get(ctx, keys.Artifact(name))
	if err != nil {
		return nil, fmt.Errorf("get artifact %q: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return v, nil
}
