package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newUsageWorld(t *testing.T) (*gorm.DB, *redis.Client, *miniredis.Miniredis, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return db, client, mr, node
}

func makeRecord(node *snowflake.Node, customerID snowflake.ID, endpoint string) Record {
	keyID := node.Generate()
	return Record{
		ID:             node.Generate(),
		CustomerID:     customerID,
		APIKeyID:       &keyID,
		Endpoint:       endpoint,
		Method:         "GET",
		StatusCode:     200,
		ResponseTimeMs: 12,
		OccurredAt:     time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestBufferPushAndRecent(t *testing.T) {
	_, client, mr, node := newUsageWorld(t)
	buffer := NewBuffer(client, zap.NewNop())
	customerID := node.Generate()

	for i := 0; i < 3; i++ {
		buffer.Push(context.Background(), makeRecord(node, customerID, fmt.Sprintf("/e%d", i)))
	}

	recent, err := buffer.Recent(context.Background(), customerID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	// Head is newest.
	assert.Equal(t, "/e2", recent[0].Endpoint)
	assert.Equal(t, "/e0", recent[2].Endpoint)

	globalLen, err := client.LLen(context.Background(), "usage:buffer:global").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), globalLen)

	_ = mr
}

func TestDrainPersistsOldestBatchAndTrims(t *testing.T) {
	db, client, _, node := newUsageWorld(t)
	buffer := NewBuffer(client, zap.NewNop())
	drainer := NewDrainer(client, db, zap.NewNop())
	customerID := node.Generate()

	for i := 0; i < 150; i++ {
		buffer.Push(context.Background(), makeRecord(node, customerID, fmt.Sprintf("/e%d", i)))
	}

	n, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	var persisted int64
	require.NoError(t, db.Model(&Record{}).Count(&persisted).Error)
	assert.Equal(t, int64(100), persisted)

	// The oldest 100 were flushed; the newest 50 remain buffered.
	left, err := client.LLen(context.Background(), "usage:buffer:global").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(50), left)

	// The tail that drained is the oldest pushes (/e0 .. /e99).
	var oldest Record
	require.NoError(t, db.Where("endpoint = ?", "/e0").First(&oldest).Error)

	n, err = drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	require.NoError(t, db.Model(&Record{}).Count(&persisted).Error)
	assert.Equal(t, int64(150), persisted)
}

func TestDrainSkipsMalformedEntries(t *testing.T) {
	db, client, _, node := newUsageWorld(t)
	buffer := NewBuffer(client, zap.NewNop())
	drainer := NewDrainer(client, db, zap.NewNop())

	require.NoError(t, client.LPush(context.Background(), "usage:buffer:global", "not-json").Err())
	buffer.Push(context.Background(), makeRecord(node, node.Generate(), "/ok"))

	n, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := client.LLen(context.Background(), "usage:buffer:global").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), left)
}

func TestDrainKeepsBatchOnStoreError(t *testing.T) {
	db, client, _, node := newUsageWorld(t)
	buffer := NewBuffer(client, zap.NewNop())
	drainer := NewDrainer(client, db, zap.NewNop())

	buffer.Push(context.Background(), makeRecord(node, node.Generate(), "/kept"))
	require.NoError(t, db.Migrator().DropTable(&Record{}))

	_, err := drainer.DrainOnce(context.Background())
	require.Error(t, err)

	// Nothing was trimmed; the record waits for the next tick.
	left, lerr := client.LLen(context.Background(), "usage:buffer:global").Result()
	require.NoError(t, lerr)
	assert.Equal(t, int64(1), left)
}

func TestDrainIsIdempotentAcrossReruns(t *testing.T) {
	db, client, _, node := newUsageWorld(t)
	drainer := NewDrainer(client, db, zap.NewNop())

	record := makeRecord(node, node.Generate(), "/dup")
	require.NoError(t, db.Create(&record).Error)

	// The same record still sits in the buffer (simulated crash
	// between insert and trim); the rerun skips the duplicate.
	payload := `{"id":"` + record.ID.String() + `","customer_id":"` + record.CustomerID.String() + `","endpoint":"/dup","method":"GET","status_code":200,"response_time_ms":12,"timestamp":"2024-01-10T12:00:00Z"}`
	require.NoError(t, client.LPush(context.Background(), "usage:buffer:global", payload).Err())

	_, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&Record{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestBufferCapsPerCustomerList(t *testing.T) {
	_, client, _, node := newUsageWorld(t)
	buffer := NewBuffer(client, zap.NewNop())
	customerID := node.Generate()

	for i := 0; i < customerCap+50; i++ {
		buffer.Push(context.Background(), makeRecord(node, customerID, "/x"))
	}

	length, err := client.LLen(context.Background(), fmt.Sprintf("usage:buffer:customer:%s", customerID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(customerCap), length)
}
