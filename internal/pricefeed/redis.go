// Package pricefeed is the concrete venue.PriceSource backing store spec
// §6 describes: a polled Redis key whose value is a JSON object carrying
// an IndexPrice field. Structured like the teacher's
// internal/ingest/marketdata/binance_pub.go poller (logs.Info/Error,
// errors.Wrap boundary style) with the transport swapped from a
// websocket subscription to go-redis GET polling, since this worker's
// contract is explicitly a polled-key read, not a push feed.
package pricefeed

import (
	"context"
	"time"

	"marketmaker/internal/calc"
	"marketmaker/internal/schema"
	"marketmaker/internal/venue"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// indexPricePayload is the expected shape of the JSON object stored at
// redis_index_key, mirroring the teacher's own pattern of decoding a
// price field straight into decimal.Decimal (internal/ingest/marketdata_old/btcc_pub.go).
type indexPricePayload struct {
	IndexPrice decimal.Decimal `json:"IndexPrice"`
}

// RedisSource implements venue.PriceSource by polling one Redis key.
type RedisSource struct {
	client          *redis.Client
	tradingDecimals uint32
}

// NewRedisSource returns a RedisSource against an already-constructed
// client (built from redis_connection_string by the caller).
func NewRedisSource(client *redis.Client, tradingDecimals uint32) *RedisSource {
	return &RedisSource{client: client, tradingDecimals: tradingDecimals}
}

// Subscribe implements venue.PriceSource.Subscribe: polls key every
// pollInterval, emits only on value change, continues through transient
// parse errors, and completes cleanly on context cancellation.
func (s *RedisSource) Subscribe(ctx context.Context, key string, pollInterval time.Duration) (<-chan venue.PriceTick, error) {
	out := make(chan venue.PriceTick)

	go func() {
		defer close(out)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		var lastPrice schema.Price
		haveLast := false

		for {
			select {
			case <-ctx.Done():
				logs.Info("price feed subscription cancelled: key=%s", key)
				return
			case <-ticker.C:
				price, ts, err := s.readOnce(ctx, key)
				if err != nil {
					logs.Error("price feed read failed: key=%s err=%v", key, err)
					continue
				}
				if haveLast && price == lastPrice {
					continue
				}
				lastPrice, haveLast = price, true

				select {
				case out <- venue.PriceTick{Price: price, Timestamp: ts}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *RedisSource) readOnce(ctx context.Context, key string) (schema.Price, time.Time, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, "redis get")
	}

	var payload indexPricePayload
	if err := sonic.ConfigFastest.Unmarshal(raw, &payload); err != nil {
		return 0, time.Time{}, errors.Wrap(err, "decode index price payload")
	}

	base, err := calc.ToBase(payload.IndexPrice, s.tradingDecimals)
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, "index price to base units")
	}

	return schema.Price(base), time.Now().UTC(), nil
}
