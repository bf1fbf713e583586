// Package runlock provides a cross-process lease ensuring a single active
// engine per currency. The store serializes individual transactions, but the
// disbursement design assumes only one engine reads a snapshot at a time;
// the lease enforces that assumption across hosts.
package runlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "payoutd:runlock:"

// ErrHeld indicates another engine instance currently holds the lease.
var ErrHeld = errors.New("another engine instance holds the run lock")

// releaseScript deletes the lease only when the caller still owns it, so a
// slow process cannot release a lease that expired and was re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// Lock is a held lease.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the lease for the currency, failing fast with ErrHeld when
// another instance owns it. The TTL bounds how long a crashed holder can
// block the next run.
func Acquire(ctx context.Context, client *redis.Client, currency string, ttl time.Duration) (*Lock, error) {
	key := keyPrefix + currency
	token := uuid.NewString()

	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lock{client: client, key: key, token: token}, nil
}

// Release gives the lease back if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
