package acquirer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonanatree/offlinepay/models"
)

// settleScript claims the transaction id and appends it to the ledger list in one step.
// KEYS[1] = settlement record key
// KEYS[2] = ledger list key
// ARGV[1] = encoded settlement record
// ARGV[2] = transaction id
var settleScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 1 then
    redis.call("RPUSH", KEYS[2], ARGV[2])
    return 1
end
return 0
`)

const ledgerKey = "settlements:ledger"

// RedisRepository implements Store on Redis. Records are never expired.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(addr, password string, db int) *RedisRepository {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRepository{client: rdb}
}

func recordKey(txID string) string {
	return fmt.Sprintf("settlement:%s", txID)
}

func compensatedKey(txID string) string {
	return fmt.Sprintf("settlement:%s:compensated", txID)
}

func (r *RedisRepository) InsertIfAbsent(ctx context.Context, rec models.SettlementRecord) (bool, error) {
	rec.CompensatedAt = nil
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encoding settlement %s: %w", rec.TransactionID, err)
	}
	inserted, err := settleScript.Run(ctx, r.client,
		[]string{recordKey(rec.TransactionID), ledgerKey}, payload, rec.TransactionID).Int()
	if err != nil {
		return false, fmt.Errorf("redis settle %s: %w", rec.TransactionID, err)
	}
	return inserted == 1, nil
}

func (r *RedisRepository) Get(ctx context.Context, txID string) (models.SettlementRecord, error) {
	raw, err := r.client.Get(ctx, recordKey(txID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.SettlementRecord{}, ErrNotFound
	}
	if err != nil {
		return models.SettlementRecord{}, fmt.Errorf("redis get %s: %w", txID, err)
	}
	var rec models.SettlementRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.SettlementRecord{}, fmt.Errorf("decoding settlement %s: %w", txID, err)
	}

	stamp, err := r.client.Get(ctx, compensatedKey(txID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return models.SettlementRecord{}, fmt.Errorf("redis get %s: %w", compensatedKey(txID), err)
	default:
		at, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return models.SettlementRecord{}, fmt.Errorf("parsing compensation time: %w", err)
		}
		rec.CompensatedAt = &at
	}
	return rec, nil
}

func (r *RedisRepository) List(ctx context.Context) ([]models.SettlementRecord, error) {
	ids, err := r.client.LRange(ctx, ledgerKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	out := make([]models.SettlementRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisRepository) MarkCompensated(ctx context.Context, txID string, at time.Time) (bool, error) {
	if _, err := r.Get(ctx, txID); err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, compensatedKey(txID), at.UTC().Format(time.RFC3339Nano), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", compensatedKey(txID), err)
	}
	return ok, nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
