package position

import (
	"context"
	"os"
	"testing"

	"go-canal/internal/binlog"
	"go-canal/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var sampleEntry = Entry{
	Position:  binlog.LogPosition{File: "mysql-bin.000002", Offset: 1089},
	GTID:      "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-12",
	ServerID:  1,
	Timestamp: 1700000000,
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Load(ctx, "orders")
	require.Equal(t, ErrNotFound, errors.Cause(err))

	require.NoError(t, s.Save(ctx, "orders", sampleEntry))
	got, err := s.Load(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, sampleEntry, *got)

	next := sampleEntry
	next.Position.Offset = 2000
	next.GTID = ""
	require.NoError(t, s.Save(ctx, "orders", next))
	got, err = s.Load(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, next, *got)

	// destinations are independent
	_, err = s.Load(ctx, "billing")
	require.Equal(t, ErrNotFound, errors.Cause(err))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "canal:position")
	testStore(t, s)
	require.True(t, mr.Exists("canal:position:orders"))
}

func TestRedisStoreCorrupt(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set("canal:position:orders", "\xc1"))
	_, err := NewRedisStore(client, "canal:position").Load(context.Background(), "orders")
	require.Error(t, err)
	require.NotEqual(t, ErrNotFound, errors.Cause(err))
}

func TestGormStore(t *testing.T) {
	dsn := os.Getenv("GO_CANAL_TEST_DSN")
	if dsn == "" {
		t.Skip("GO_CANAL_TEST_DSN not set")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.CDCMeta{}))

	s := NewGormStore(db)
	dest := "test-" + uuid.NewString()[:8]
	ctx := context.Background()

	_, err = s.Load(ctx, dest)
	require.Equal(t, ErrNotFound, errors.Cause(err))
	require.NoError(t, s.Save(ctx, dest, sampleEntry))
	got, err := s.Load(ctx, dest)
	require.NoError(t, err)
	require.Equal(t, sampleEntry, *got)
}
