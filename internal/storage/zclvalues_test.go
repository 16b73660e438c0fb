package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZCLStatementKeyStripsTimestamp(t *testing.T) {
	v := ZCLValue{DeviceID: 1, Endpoint: 2, Cluster: 0x0402, Attribute: 0, Data: 2150}
	v.Timestamp = time.Unix(1000, 0)
	a := zclInsertSQL(v)
	v.Timestamp = time.Unix(2000, 0)
	b := zclInsertSQL(v)

	require.NotEqual(t, a, b)
	assert.Equal(t, zclStatementKey(a), zclStatementKey(b),
		"samples differing only in timestamp must share a queue key")

	v.Data = 2200
	c := zclInsertSQL(v)
	assert.NotEqual(t, zclStatementKey(a), zclStatementKey(c),
		"different data is a different sample")
}

func TestZCLTrimStatementShape(t *testing.T) {
	stmt := zclTrimSQL(3600, time.Unix(10000, 0))
	assert.True(t, isZCLTrimStatement(stmt))
	assert.Contains(t, stmt, "LIMIT 1000", "eviction passes are bounded")
	assert.Contains(t, stmt, "timestamp < 6400")

	assert.False(t, isZCLTrimStatement(zclInsertSQL(ZCLValue{Timestamp: time.Unix(1, 0)})))
}

func TestPushZCLValueDroppedWhenHistoryDisabled(t *testing.T) {
	store := newMigratedStore(t)
	sched := NewScheduler(store, NewCache())
	store.SetZCLValueMaxAge(0)

	sched.PushZCLValue(ZCLValue{DeviceID: 1, Data: 42})

	sched.mu.Lock()
	depth := len(sched.queryQueue)
	sched.mu.Unlock()
	assert.Zero(t, depth, "samples must be dropped while history is disabled")
}

func TestPushZCLValueDeduplicatesQueue(t *testing.T) {
	store := newMigratedStore(t)
	store.SetZCLValueMaxAge(3600)
	sched := NewScheduler(store, NewCache())

	id, _, err := store.UpsertDevice(0x0011223344556677, 1)
	require.NoError(t, err)

	sample := ZCLValue{DeviceID: id, Endpoint: 1, Cluster: 0x0402, Attribute: 0, Data: 2150}
	sample.Timestamp = time.Now().Add(-time.Minute)
	sched.PushZCLValue(sample)
	sample.Timestamp = time.Now()
	sched.PushZCLValue(sample)

	sched.mu.Lock()
	depth := len(sched.queryQueue)
	sched.mu.Unlock()
	require.Equal(t, 1, depth, "identical samples must collapse to one queued statement")

	other := sample
	other.Data = 2300
	sched.PushZCLValue(other)
	sched.mu.Lock()
	depth = len(sched.queryQueue)
	sched.mu.Unlock()
	require.Equal(t, 2, depth)

	sched.Flush()
	assert.Equal(t, 2, countRows(t, store, `SELECT COUNT(*) FROM zcl_values`))
}

func TestFlushTrimsAgedSamplesOnce(t *testing.T) {
	store := newMigratedStore(t)
	store.SetZCLValueMaxAge(60)
	sched := NewScheduler(store, NewCache())

	id, _, err := store.UpsertDevice(0x0011223344556677, 1)
	require.NoError(t, err)

	// An hour-old sample, well past the 60 second bound.
	mustExec(t, store, `INSERT INTO zcl_values (device_id, endpoint, cluster, attribute, data, timestamp)
	    VALUES (?, 1, 1026, 0, 1000, ?)`, id, time.Now().Add(-time.Hour).Unix())

	sched.PushZCLValue(ZCLValue{DeviceID: id, Endpoint: 1, Cluster: 0x0402, Attribute: 0, Data: 2150})
	sched.Flush()

	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM zcl_values`),
		"the aged sample must be trimmed, the fresh one kept")
}

func TestLoadZCLValuesNewestFirst(t *testing.T) {
	store := newMigratedStore(t)
	id, _, err := store.UpsertDevice(0x0011223344556677, 1)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i, data := range []int64{10, 20, 30} {
		mustExec(t, store, `INSERT INTO zcl_values (device_id, endpoint, cluster, attribute, data, timestamp)
		    VALUES (?, 1, 1026, 0, ?, ?)`, id, data, base.Add(time.Duration(i)*time.Minute).Unix())
	}

	values, err := store.LoadZCLValues(id, 1, 1026, 0, base.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, values, 2, "samples before the cutoff must be excluded")
	assert.Equal(t, int64(30), values[0].Data, "newest sample first")
	assert.Equal(t, int64(20), values[1].Data)
}
