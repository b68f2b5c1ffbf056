package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyPrefix      = "inventory:warehouse:"
	generationKeyPrefix = "inventory:generation:"
)

var errStaleSnapshot = errors.New("inventory: snapshot outdated by a newer commit")

// Cache keeps read snapshots of warehouse records in Redis. Snapshots are
// dropped after every committed mutation; mutations never read from it.
// Every invalidation bumps a per-warehouse generation, and a snapshot is only
// stored when the generation it was loaded under is still current.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func cacheKey(warehouseID uuid.UUID) string {
	return cacheKeyPrefix + warehouseID.String()
}

func generationKey(warehouseID uuid.UUID) string {
	return generationKeyPrefix + warehouseID.String()
}

// Fetch returns the cached snapshot or loads and stores it. Concurrent misses
// for the same warehouse share one load.
func (c *Cache) Fetch(ctx context.Context, warehouseID uuid.UUID, loader func(context.Context) (WarehouseInventory, error)) (WarehouseInventory, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := cacheKey(warehouseID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var inv WarehouseInventory
		if err := json.Unmarshal(payload, &inv); err == nil {
			return inv, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("inventory cache get", slog.String("key", key), slog.Any("error", err))
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		gen, genErr := c.client.Get(ctx, generationKey(warehouseID)).Result()
		if errors.Is(genErr, redis.Nil) {
			genErr = nil
		}
		inv, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if genErr != nil {
			c.logger.Warn("inventory cache generation", slog.String("key", key), slog.Any("error", genErr))
			return inv, nil
		}
		raw, err := json.Marshal(inv)
		if err != nil {
			return nil, err
		}
		switch err := c.store(ctx, warehouseID, gen, raw); {
		case err == nil:
		case errors.Is(err, errStaleSnapshot), errors.Is(err, redis.TxFailedErr):
			c.logger.Debug("inventory cache skip stale snapshot", slog.String("key", key))
		default:
			c.logger.Warn("inventory cache set", slog.String("key", key), slog.Any("error", err))
		}
		return inv, nil
	})
	if err != nil {
		return WarehouseInventory{}, err
	}
	return v.(WarehouseInventory).Clone(), nil
}

// store writes raw under the snapshot key unless an invalidation moved the
// generation past gen since the load began.
func (c *Cache) store(ctx context.Context, warehouseID uuid.UUID, gen string, raw []byte) error {
	genKey := generationKey(warehouseID)
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(warehouseID), raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

// Invalidate drops the snapshots of the given warehouses and bumps their
// generations so loads already in flight are not stored.
func (c *Cache) Invalidate(ctx context.Context, warehouseIDs ...uuid.UUID) error {
	if c == nil || c.client == nil || len(warehouseIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(warehouseIDs))
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range warehouseIDs {
			pipe.Incr(ctx, generationKey(id))
			keys = append(keys, cacheKey(id))
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

// LedgerCommitted implements Observer.
func (c *Cache) LedgerCommitted(ctx context.Context, op string, warehouses []uuid.UUID) {
	if err := c.Invalidate(ctx, warehouses...); err != nil {
		c.logger.Warn("inventory cache invalidate", slog.String("op", op), slog.Any("error", err))
	}
}

// LedgerRejected implements Observer.
func (c *Cache) LedgerRejected(context.Context, string, error) {}
