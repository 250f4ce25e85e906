package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryUpsertMarksFirstSeenAsNew(t *testing.T) {
	reg := newRegistry()
	now := time.Now()

	_, isNew := reg.upsert("tcp://host:1234", "svc-a", []string{"svc-a"}, now)
	require.True(t, isNew)

	_, isNew = reg.upsert("tcp://host:1234", "svc-a", []string{"svc-a"}, now.Add(time.Second))
	require.False(t, isNew)
}

func TestRegistrySnapshotFiltersByServiceSubstring(t *testing.T) {
	reg := newRegistry()
	now := time.Now()
	reg.upsert("tcp://host:1", "a", []string{"scene-A"}, now)
	reg.upsert("tcp://host:2", "b", []string{"scene-B"}, now)

	all := reg.snapshot("")
	require.Len(t, all, 2)

	onlyA := reg.snapshot("scene-A")
	require.Len(t, onlyA, 1)
	require.Equal(t, "tcp://host:1", onlyA[0].URI)
}

func TestRegistryEvictOlderThanProducesExactlyOneRemovalPerEntry(t *testing.T) {
	reg := newRegistry()
	old := time.Now().Add(-time.Hour)
	reg.upsert("tcp://host:1", "a", []string{"a"}, old)
	reg.upsert("tcp://host:2", "b", []string{"b"}, time.Now())

	evicted := reg.evictOlderThan(10*time.Minute, time.Now())
	require.Len(t, evicted, 1)
	require.Equal(t, "tcp://host:1", evicted[0].URI)
	require.False(t, evicted[0].Status)

	require.Len(t, reg.snapshot(""), 1)
}

func TestAddressRecordHasServiceSubstringMatch(t *testing.T) {
	rec := AddressRecord{ServiceNames: []string{"scene-loader", "other"}}
	require.True(t, rec.HasService(""))
	require.True(t, rec.HasService("scene"))
	require.False(t, rec.HasService("missing"))
}

func TestReceiverRegistrySnapshotAfterUpsert(t *testing.T) {
	r := New(Options{MaxAge: 50 * time.Millisecond})
	reg := newRegistry()
	now := time.Now()
	reg.upsert("tcp://host:1234", "svc-x", []string{"svc-x"}, now)

	got := reg.snapshot("svc-x")
	require.Len(t, got, 1)
	require.Equal(t, "tcp://host:1234", got[0].URI)
	_ = r // Get() is served by the Start() loop, which needs live sockets; only the registry snapshot it returns is checked here.
}
