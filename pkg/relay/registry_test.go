package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucpcloud/consoled/pkg/hypervisor"
)

func testSession(vmid int) *Session {
	return newSession(nil, hypervisor.Resource{Node: "n1", Kind: hypervisor.KindVM, VMID: vmid})
}

func TestRegistryInsertRemove(t *testing.T) {
	registry := NewRegistry()
	sess := testSession(101)

	registry.Insert(sess)
	assert.Equal(t, 1, registry.Len())

	got, exists := registry.Get(sess.ID)
	require.True(t, exists)
	assert.Same(t, sess, got)

	registry.Remove(sess.ID)
	assert.Equal(t, 0, registry.Len())
	_, exists = registry.Get(sess.ID)
	assert.False(t, exists)

	// Removing twice is harmless.
	registry.Remove(sess.ID)
}

func TestRegistryList(t *testing.T) {
	registry := NewRegistry()
	first := testSession(101)
	second := testSession(102)
	registry.Insert(first)
	registry.Insert(second)

	infos := registry.List()
	require.Len(t, infos, 2)

	ids := map[string]bool{}
	for _, info := range infos {
		ids[info.ID] = true
		assert.Equal(t, "n1", info.Node)
		assert.Equal(t, "qemu", info.Kind)
	}
	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])
}

func TestRegistryForceCloseUnknownSession(t *testing.T) {
	registry := NewRegistry()
	err := registry.ForceClose("nope")
	require.Error(t, err)
}

func TestRegistryForceCloseRecordsReason(t *testing.T) {
	registry := NewRegistry()
	sess := testSession(101)
	registry.Insert(sess)

	require.NoError(t, registry.ForceClose(sess.ID))
	assert.Equal(t, ReasonForced, sess.Reason())

	select {
	case <-sess.Done():
	default:
		t.Fatal("forced session should have been torn down")
	}
}

type recordingMirror struct {
	mu        sync.Mutex
	published []string
	withdrawn []string
}

func (m *recordingMirror) Publish(info SessionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, info.ID)
}

func (m *recordingMirror) Withdraw(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawn = append(m.withdrawn, id)
}

func TestRegistryNotifiesMirror(t *testing.T) {
	registry := NewRegistry()
	mirror := &recordingMirror{}
	registry.SetMirror(mirror)

	sess := testSession(101)
	registry.Insert(sess)
	registry.Remove(sess.ID)
	registry.Remove(sess.ID) // must not produce a second withdraw

	assert.Equal(t, []string{sess.ID}, mirror.published)
	assert.Equal(t, []string{sess.ID}, mirror.withdrawn)
}

func TestRegistryCloseAll(t *testing.T) {
	registry := NewRegistry()
	first := testSession(101)
	second := testSession(102)
	registry.Insert(first)
	registry.Insert(second)

	registry.CloseAll(time.Second)

	assert.Equal(t, ReasonShutdown, first.Reason())
	assert.Equal(t, ReasonShutdown, second.Reason())
}
