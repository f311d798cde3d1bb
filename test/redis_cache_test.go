//go:build integration_test || all_tests

package test

import (
	"time"

	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/cache"
	testingpkg "github.com/2beens/liftlog/pkg/testing"
)

func (s *IntegrationTestSuite) TestRedisStore_SaveLoadClear() {
	ctx, rdb := testingpkg.GetRedisClientAndCtx(s.T(), s.redisAddr)
	store := cache.NewRedisStore(rdb, time.Minute)
	key := cache.Key{UserID: "redis-user", DeviceID: "tablet"}

	loaded, err := store.Load(ctx, key)
	s.Require().NoError(err)
	s.Empty(loaded.Entries)

	snapshot := cache.EmptySnapshot()
	snapshot.Entries = append(snapshot.Entries, workouts.Entry{
		Record: storeRecord("redis-user", "ref-1", 95, workouts.NewDate(2024, 3, 1)),
		Status: workouts.StatusPending,
	})
	snapshot.Tombstones = append(snapshot.Tombstones, workouts.Tombstone{ID: "gone-1"})
	s.Require().NoError(store.Save(ctx, key, snapshot))

	ttl, err := rdb.TTL(ctx, key.String()).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))

	loaded, err = store.Load(ctx, key)
	s.Require().NoError(err)
	s.Require().Len(loaded.Entries, 1)
	s.Equal(workouts.StatusPending, loaded.Entries[0].Status)
	s.Equal("ref-1", loaded.Entries[0].Record.ClientRef)
	s.Equal([]workouts.Tombstone{{ID: "gone-1"}}, loaded.Tombstones)

	// other devices of the same user do not share the snapshot
	other, err := store.Load(ctx, cache.Key{UserID: "redis-user", DeviceID: "phone"})
	s.Require().NoError(err)
	s.Empty(other.Entries)

	s.Require().NoError(store.Clear(ctx, key))
	loaded, err = store.Load(ctx, key)
	s.Require().NoError(err)
	s.Empty(loaded.Entries)
}
