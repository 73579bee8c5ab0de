package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SlotCacheTTL время жизни закэшированной доступности
const SlotCacheTTL = 60 * time.Second

// SlotCache кэш ответов GetAvailableSlots. Ошибки кэша не должны ломать
// запрос, поэтому методы их не возвращают.
type SlotCache interface {
	Get(ctx context.Context, serviceID, date string) ([]model.Slot, bool)
	Set(ctx context.Context, serviceID, date string, slots []model.Slot)
	// InvalidateDate сбрасывает кэш всех услуг на дату
	InvalidateDate(ctx context.Context, date string)
}

func slotCacheKey(serviceID, date string) string {
	return fmt.Sprintf("availability:%s:%s", serviceID, date)
}

// RedisSlotCache кэш в Redis
type RedisSlotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisSlotCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSlotCache {
	if ttl <= 0 {
		ttl = SlotCacheTTL
	}
	return &RedisSlotCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisSlotCache) Get(ctx context.Context, serviceID, date string) ([]model.Slot, bool) {
	data, err := c.client.Get(ctx, slotCacheKey(serviceID, date)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Slot cache read failed", zap.String("service_id", serviceID), zap.Error(err))
		}
		return nil, false
	}

	var slots []model.Slot
	if err := json.Unmarshal(data, &slots); err != nil {
		c.logger.Warn("Slot cache entry is corrupted", zap.String("service_id", serviceID), zap.Error(err))
		return nil, false
	}
	return slots, true
}

func (c *RedisSlotCache) Set(ctx context.Context, serviceID, date string, slots []model.Slot) {
	data, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, slotCacheKey(serviceID, date), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Slot cache write failed", zap.String("service_id", serviceID), zap.Error(err))
	}
}

func (c *RedisSlotCache) InvalidateDate(ctx context.Context, date string) {
	iter := c.client.Scan(ctx, 0, slotCacheKey("*", date), 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("Slot cache scan failed", zap.String("date", date), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Slot cache invalidation failed", zap.String("date", date), zap.Error(err))
	}
}

// NopSlotCache отключённый кэш
type NopSlotCache struct{}

func (NopSlotCache) Get(context.Context, string, string) ([]model.Slot, bool) { return nil, false }
func (NopSlotCache) Set(context.Context, string, string, []model.Slot)        {}
func (NopSlotCache) InvalidateDate(context.Context, string)                   {}
