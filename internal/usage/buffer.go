package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyBufferGlobal   = "usage:buffer:global"
	keyBufferCustomer = "usage:buffer:customer:%s"

	globalCap   = 5000
	customerCap = 1000

	bufferTimeout = 100 * time.Millisecond
)

// Buffer absorbs one write per admitted request without blocking the
// caller on the durable store. Records beyond the caps are dropped;
// usage capture is best-effort observability, billing reads the
// durable table.
type Buffer interface {
	Push(ctx context.Context, record Record)
	// Recent returns the newest buffered records for a customer.
	Recent(ctx context.Context, customerID snowflake.ID, limit int) ([]Record, error)
}

type buffer struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBuffer(client *redis.Client, log *zap.Logger) Buffer {
	return &buffer{client: client, log: log.Named("usage.buffer")}
}

func (b *buffer) Push(ctx context.Context, record Record) {
	payload, err := json.Marshal(record)
	if err != nil {
		b.log.Warn("marshal usage record failed", zap.Error(err))
		return
	}

	cctx, cancel := context.WithTimeout(ctx, bufferTimeout)
	defer cancel()

	customerKey := fmt.Sprintf(keyBufferCustomer, record.CustomerID)

	pipe := b.client.Pipeline()
	pipe.LPush(cctx, customerKey, payload)
	pipe.LTrim(cctx, customerKey, 0, customerCap-1)
	pipe.LPush(cctx, keyBufferGlobal, payload)
	pipe.LTrim(cctx, keyBufferGlobal, 0, globalCap-1)
	if _, err := pipe.Exec(cctx); err != nil {
		b.log.Warn("usage buffer push failed", zap.Error(err))
	}
}

func (b *buffer) Recent(ctx context.Context, customerID snowflake.ID, limit int) ([]Record, error) {
	if limit <= 0 || limit > customerCap {
		limit = customerCap
	}
	entries, err := b.client.LRange(ctx, fmt.Sprintf(keyBufferCustomer, customerID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		var record Record
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
