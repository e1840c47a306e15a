package usage

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/metergate/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	drainInterval  = 30 * time.Second
	drainBatchSize = 100
)

// Drainer periodically flushes the oldest buffered records into the
// durable store. The buffer is LIFO (head newest), so a batch is the
// list tail; it is only trimmed after a successful insert.
type Drainer struct {
	client *redis.Client
	db     *gorm.DB
	log    *zap.Logger
}

func NewDrainer(client *redis.Client, db *gorm.DB, log *zap.Logger) *Drainer {
	return &Drainer{client: client, db: db, log: log.Named("usage.drain")}
}

// Run drains every 30 seconds until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.log.Warn("drain tick failed", zap.Error(err))
			}
		}
	}
}

// DrainOnce flushes up to one batch and returns how many records were
// persisted.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	entries, err := d.client.LRange(ctx, keyBufferGlobal, -drainBatchSize, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		var record Record
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			d.log.Warn("skipping malformed buffered record", zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	if len(records) > 0 {
		err = d.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&records).Error
		if err != nil {
			// Leave the batch in the buffer for the next tick.
			return 0, err
		}
	}

	if err := d.client.LTrim(ctx, keyBufferGlobal, 0, int64(-(len(entries) + 1))).Err(); err != nil {
		d.log.Warn("trim after drain failed", zap.Error(err))
	}

	metrics.DrainedRecords.Add(float64(len(records)))
	d.log.Debug("drained usage batch", zap.Int("records", len(records)))
	return len(records), nil
}
