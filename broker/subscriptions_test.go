package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/squawkbus/auth"
	"github.com/c360/squawkbus/pkg/buffer"
	"github.com/c360/squawkbus/wire"
)

func testManagers(t *testing.T, specs []auth.Spec) (*SubscriptionManager, *NotificationManager) {
	t.Helper()
	authz, err := auth.NewRepository(specs)
	require.NoError(t, err)
	return NewSubscriptionManager(authz, nil), NewNotificationManager(nil)
}

func mustRing(t *testing.T, capacity int) *buffer.Ring[[]byte] {
	t.Helper()
	ring, err := buffer.NewRing[[]byte](capacity, buffer.Reject)
	require.NoError(t, err)
	return ring
}

func authedSession(id uint64, host string, port int, user string) *Interactor {
	sess := NewInteractor(id, host, port, 64, nil)
	sess.user = user
	sess.authenticated = true
	return sess
}

func TestSubscriptionRefCounting(t *testing.T) {
	sm, nm := testManagers(t, nil)
	sess := authedSession(1, "10.0.0.1", 1000, "nobody")

	sm.OnSubscription(sess, "quotes", true, nm)
	sm.OnSubscription(sess, "quotes", true, nm)
	require.True(t, sm.HasSubscription("quotes"))

	sm.OnSubscription(sess, "quotes", false, nm)
	assert.True(t, sm.HasSubscription("quotes"), "one reference remains")

	sm.OnSubscription(sess, "quotes", false, nm)
	assert.False(t, sm.HasSubscription("quotes"))
}

func TestUnsubscribeWithoutSubscriptionIsBenign(t *testing.T) {
	sm, nm := testManagers(t, nil)
	sess := authedSession(1, "10.0.0.1", 1000, "nobody")

	sm.OnSubscription(sess, "ghost", false, nm)
	assert.False(t, sm.HasSubscription("ghost"))
}

func TestFanOutInsertionOrder(t *testing.T) {
	sm, nm := testManagers(t, nil)

	first := authedSession(1, "10.0.0.1", 1000, "nobody")
	second := authedSession(2, "10.0.0.2", 1000, "nobody")
	third := authedSession(3, "10.0.0.3", 1000, "nobody")

	sm.OnSubscription(second, "t", true, nm)
	sm.OnSubscription(first, "t", true, nm)
	sm.OnSubscription(third, "t", true, nm)

	subscribers := sm.Subscribers("t")
	require.Len(t, subscribers, 3)
	assert.Equal(t, uint64(2), subscribers[0].ID())
	assert.Equal(t, uint64(1), subscribers[1].ID())
	assert.Equal(t, uint64(3), subscribers[2].ID())
}

func TestOnPublishNoSubscribers(t *testing.T) {
	sm, _ := testManagers(t, nil)
	publisher := authedSession(1, "10.0.0.1", 1000, "nobody")

	result := sm.OnPublish(publisher, "empty", []wire.DataPacket{{Entitlement: 0, Body: []byte("x")}})
	assert.Equal(t, 0, result.Delivered)
	assert.Empty(t, result.Overflowed)
}

func TestOnPublishReportsOverflow(t *testing.T) {
	sm, nm := testManagers(t, nil)

	slow := authedSession(1, "10.0.0.1", 1000, "nobody")
	healthy := authedSession(2, "10.0.0.2", 1000, "nobody")
	publisher := authedSession(3, "10.0.0.3", 1000, "nobody")

	// A one-slot queue that is already full.
	slow.out = mustRing(t, 1)
	require.NoError(t, slow.out.Write([]byte{0}))

	sm.OnSubscription(slow, "t", true, nm)
	sm.OnSubscription(healthy, "t", true, nm)

	result := sm.OnPublish(publisher, "t", []wire.DataPacket{{Entitlement: 0, Body: []byte("x")}})
	assert.Equal(t, 1, result.Delivered)
	require.Len(t, result.Overflowed, 1)
	assert.Equal(t, slow.ID(), result.Overflowed[0].ID())
}

func TestOnDisconnectRemovesAllTopics(t *testing.T) {
	sm, nm := testManagers(t, nil)

	leaving := authedSession(1, "10.0.0.1", 1000, "nobody")
	staying := authedSession(2, "10.0.0.2", 1000, "nobody")

	sm.OnSubscription(leaving, "a", true, nm)
	sm.OnSubscription(leaving, "a", true, nm) // refcount 2: one disconnect still clears it
	sm.OnSubscription(leaving, "b", true, nm)
	sm.OnSubscription(staying, "a", true, nm)

	sm.OnDisconnect(leaving, nm)

	assert.True(t, sm.HasSubscription("a"))
	assert.False(t, sm.HasSubscription("b"))
	subscribers := sm.Subscribers("a")
	require.Len(t, subscribers, 1)
	assert.Equal(t, staying.ID(), subscribers[0].ID())
}
