package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/squawkbus/auth"
	"github.com/c360/squawkbus/wire"
)

func testHub(t *testing.T, specs []auth.Spec) *Hub {
	t.Helper()
	authz, err := auth.NewRepository(specs)
	require.NoError(t, err)
	return NewHub(auth.NewAuthenticator(nil, nil), authz, nil, nil)
}

// connectSession registers and PLAIN-authenticates a session, driving
// the hub synchronously the way the hub goroutine would.
func connectSession(t *testing.T, h *Hub, id uint64, host string, port int, user string) *Interactor {
	t.Helper()
	sess := NewInteractor(id, host, port, 64, nil)
	h.handleConnect(sess)
	h.handleMessage(sess, &wire.AuthenticationRequest{Method: auth.MethodPlain, Data: []byte(user)})
	require.True(t, sess.Authenticated())
	require.Equal(t, user, sess.User())
	return sess
}

func entitlementSpec(t *testing.T, user, topic string, roles auth.Role, entitlements ...int32) auth.Spec {
	t.Helper()
	spec, err := auth.NewSpec(user, topic, roles, auth.NewEntitlementSet(entitlements...))
	require.NoError(t, err)
	return spec
}

func TestPublicPublish(t *testing.T) {
	h := testHub(t, nil)

	subscriber := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")
	publisher := connectSession(t, h, 2, "10.0.0.2", 40002, "nobody")

	h.handleMessage(subscriber, &wire.SubscriptionRequest{Topic: "quotes", IsAdd: true})
	h.handleMessage(publisher, &wire.MulticastData{
		Topic:       "quotes",
		DataPackets: []wire.DataPacket{{Entitlement: 0, ContentType: "text/plain", Body: []byte("hi")}},
	})

	got := drainMessages(t, subscriber)
	require.Len(t, got, 1)
	assert.Equal(t, &wire.ForwardedMulticastData{
		User:        "nobody",
		Host:        "10.0.0.2",
		Feed:        "",
		Topic:       "quotes",
		ContentType: "",
		DataPackets: []wire.DataPacket{{Entitlement: 0, ContentType: "text/plain", Body: []byte("hi")}},
	}, got[0])

	// The publisher itself receives nothing.
	assert.Empty(t, drainMessages(t, publisher))
}

func TestEntitlementFilter(t *testing.T) {
	h := testHub(t, []auth.Spec{
		entitlementSpec(t, "alice", "prices", auth.RoleSubscriber, 1),
		entitlementSpec(t, "bob", "prices", auth.RolePublisher, 1, 2),
	})

	alice := connectSession(t, h, 1, "10.0.0.1", 40001, "alice")
	bob := connectSession(t, h, 2, "10.0.0.2", 40002, "bob")

	h.handleMessage(alice, &wire.SubscriptionRequest{Topic: "prices", IsAdd: true})
	h.handleMessage(bob, &wire.MulticastData{
		Topic: "prices",
		DataPackets: []wire.DataPacket{
			{Entitlement: 1, ContentType: "", Body: []byte("p1")},
			{Entitlement: 2, ContentType: "", Body: []byte("p2")},
		},
	})

	got := drainMessages(t, alice)
	require.Len(t, got, 1)
	forwarded := got[0].(*wire.ForwardedMulticastData)
	require.Len(t, forwarded.DataPackets, 1)
	assert.Equal(t, []byte("p1"), forwarded.DataPackets[0].Body)
	assert.Equal(t, int32(1), forwarded.DataPackets[0].Entitlement)
}

func TestPublisherEntitlementDropsPackets(t *testing.T) {
	h := testHub(t, []auth.Spec{
		entitlementSpec(t, "alice", "prices", auth.RoleSubscriber, 1, 2),
		entitlementSpec(t, "bob", "prices", auth.RolePublisher, 1),
	})

	alice := connectSession(t, h, 1, "10.0.0.1", 40001, "alice")
	bob := connectSession(t, h, 2, "10.0.0.2", 40002, "bob")

	h.handleMessage(alice, &wire.SubscriptionRequest{Topic: "prices", IsAdd: true})
	h.handleMessage(bob, &wire.MulticastData{
		Topic: "prices",
		DataPackets: []wire.DataPacket{
			{Entitlement: 1, Body: []byte("allowed")},
			{Entitlement: 2, Body: []byte("not bob's to publish")},
		},
	})

	got := drainMessages(t, alice)
	require.Len(t, got, 1)
	forwarded := got[0].(*wire.ForwardedMulticastData)
	require.Len(t, forwarded.DataPackets, 1)
	assert.Equal(t, []byte("allowed"), forwarded.DataPackets[0].Body)
}

func TestNotificationLifecycle(t *testing.T) {
	h := testHub(t, nil)

	listener := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")
	subscriber := connectSession(t, h, 2, "10.0.0.2", 40002, "nobody")

	h.handleMessage(listener, &wire.NotificationRequest{Pattern: ".*stocks.*", IsAdd: true})
	h.handleMessage(subscriber, &wire.SubscriptionRequest{Topic: "eu.stocks.de", IsAdd: true})

	got := drainMessages(t, listener)
	require.Len(t, got, 1)
	assert.Equal(t, &wire.ForwardedSubscriptionRequest{
		User:     "nobody",
		Host:     "10.0.0.2",
		ClientID: "10.0.0.2:40002",
		Topic:    "eu.stocks.de",
		IsAdd:    true,
	}, got[0])

	// A non-matching topic stays silent.
	h.handleMessage(subscriber, &wire.SubscriptionRequest{Topic: "fx.eurusd", IsAdd: true})
	assert.Empty(t, drainMessages(t, listener))

	// Disconnect fires the matching unsubscribe record.
	h.handleDisconnect(subscriber)
	got = drainMessages(t, listener)
	require.Len(t, got, 1)
	assert.Equal(t, &wire.ForwardedSubscriptionRequest{
		User:     "nobody",
		Host:     "10.0.0.2",
		ClientID: "10.0.0.2:40002",
		Topic:    "eu.stocks.de",
		IsAdd:    false,
	}, got[0])
}

func TestListenerNotNotifiedOfOwnSubscriptions(t *testing.T) {
	h := testHub(t, nil)

	listener := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")

	h.handleMessage(listener, &wire.NotificationRequest{Pattern: ".*", IsAdd: true})
	h.handleMessage(listener, &wire.SubscriptionRequest{Topic: "quotes", IsAdd: true})

	assert.Empty(t, drainMessages(t, listener))
}

func TestListenerInitialImage(t *testing.T) {
	h := testHub(t, nil)

	subscriber := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")
	h.handleMessage(subscriber, &wire.SubscriptionRequest{Topic: "eu.stocks.de", IsAdd: true})

	listener := connectSession(t, h, 2, "10.0.0.2", 40002, "nobody")
	h.handleMessage(listener, &wire.NotificationRequest{Pattern: ".*stocks.*", IsAdd: true})

	got := drainMessages(t, listener)
	require.Len(t, got, 1)
	assert.Equal(t, &wire.ForwardedSubscriptionRequest{
		User:     "nobody",
		Host:     "10.0.0.1",
		ClientID: "10.0.0.1:40001",
		Topic:    "eu.stocks.de",
		IsAdd:    true,
	}, got[0])
}

func TestAuthGateClosesSession(t *testing.T) {
	h := testHub(t, nil)

	sess := NewInteractor(1, "10.0.0.1", 40001, 64, nil)
	h.handleConnect(sess)
	require.Equal(t, 1, h.Sessions())

	h.handleMessage(sess, &wire.SubscriptionRequest{Topic: "x", IsAdd: true})

	assert.Equal(t, 0, h.Sessions())
	assert.True(t, sess.Outbound().Closed())
	assert.False(t, h.subs.HasSubscription("x"))
}

func TestRepeatAuthenticationIsProtocolViolation(t *testing.T) {
	h := testHub(t, nil)

	sess := connectSession(t, h, 1, "10.0.0.1", 40001, "mary")
	h.handleMessage(sess, &wire.AuthenticationRequest{Method: auth.MethodPlain, Data: []byte("mary")})

	assert.Equal(t, 0, h.Sessions())
}

func TestForwardedKindsFromClientAreViolations(t *testing.T) {
	msgs := []wire.Message{
		&wire.ForwardedSubscriptionRequest{User: "u", Host: "h", ClientID: "c", Topic: "t", IsAdd: true},
		&wire.ForwardedMulticastData{User: "u", Host: "h", Topic: "t"},
		&wire.ForwardedUnicastData{User: "u", Host: "h", ClientID: "c", Topic: "t"},
		&wire.AuthenticationResponse{ClientID: "c", User: "u"},
	}

	for _, msg := range msgs {
		t.Run(msg.Kind().String(), func(t *testing.T) {
			h := testHub(t, nil)
			sess := connectSession(t, h, 1, "10.0.0.1", 40001, "mary")
			h.handleMessage(sess, msg)
			assert.Equal(t, 0, h.Sessions())
		})
	}
}

func TestDefaultPolicyAnonymousExchange(t *testing.T) {
	h := testHub(t, nil)

	a := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")
	b := connectSession(t, h, 2, "10.0.0.2", 40002, "nobody")

	h.handleMessage(a, &wire.SubscriptionRequest{Topic: "any.topic.at.all", IsAdd: true})
	h.handleMessage(b, &wire.MulticastData{
		Topic:       "any.topic.at.all",
		DataPackets: []wire.DataPacket{{Entitlement: 0, Body: []byte("public")}},
	})

	got := drainMessages(t, a)
	require.Len(t, got, 1)

	// A non-public packet is refused under the default policy.
	h.handleMessage(b, &wire.MulticastData{
		Topic:       "any.topic.at.all",
		DataPackets: []wire.DataPacket{{Entitlement: 5, Body: []byte("private")}},
	})
	assert.Empty(t, drainMessages(t, a))
}

func TestUnicastRouting(t *testing.T) {
	h := testHub(t, nil)

	sender := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")
	target := connectSession(t, h, 2, "10.0.0.2", 40002, "nobody")

	h.handleMessage(sender, &wire.UnicastData{
		ClientID:    target.ClientID(),
		Topic:       "direct",
		DataPackets: []wire.DataPacket{{Entitlement: 0, Body: []byte("psst")}},
	})

	got := drainMessages(t, target)
	require.Len(t, got, 1)
	assert.Equal(t, &wire.ForwardedUnicastData{
		User:        "nobody",
		Host:        "10.0.0.1",
		ClientID:    "10.0.0.1:40001",
		Feed:        "",
		Topic:       "direct",
		ContentType: "",
		DataPackets: []wire.DataPacket{{Entitlement: 0, Body: []byte("psst")}},
	}, got[0])

	// Unknown target: dropped silently, sender survives.
	h.handleMessage(sender, &wire.UnicastData{
		ClientID:    "1.2.3.4:1",
		Topic:       "direct",
		DataPackets: []wire.DataPacket{{Entitlement: 0, Body: []byte("void")}},
	})
	assert.Equal(t, 2, h.Sessions())
}

func TestSubscribeUnsubscribeSymmetry(t *testing.T) {
	h := testHub(t, nil)
	sess := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")

	const n = 3
	for i := 0; i < n; i++ {
		h.handleMessage(sess, &wire.SubscriptionRequest{Topic: "quotes", IsAdd: true})
	}
	require.True(t, h.subs.HasSubscription("quotes"))

	for i := 0; i < n; i++ {
		h.handleMessage(sess, &wire.SubscriptionRequest{Topic: "quotes", IsAdd: false})
	}
	assert.False(t, h.subs.HasSubscription("quotes"))
}

func TestDisconnectPurgesRoutingTables(t *testing.T) {
	h := testHub(t, nil)
	sess := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")

	h.handleMessage(sess, &wire.SubscriptionRequest{Topic: "a", IsAdd: true})
	h.handleMessage(sess, &wire.SubscriptionRequest{Topic: "b", IsAdd: true})
	h.handleMessage(sess, &wire.NotificationRequest{Pattern: "a.*", IsAdd: true})

	h.handleDisconnect(sess)

	assert.Equal(t, 0, h.Sessions())
	assert.False(t, h.subs.HasSubscription("a"))
	assert.False(t, h.subs.HasSubscription("b"))
	assert.Empty(t, h.notif.Listeners("a.*"))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := testHub(t, nil)

	slow := NewInteractor(1, "10.0.0.1", 40001, 2, nil)
	h.handleConnect(slow)
	h.handleMessage(slow, &wire.AuthenticationRequest{Method: auth.MethodPlain, Data: []byte("slow")})
	publisher := connectSession(t, h, 2, "10.0.0.2", 40002, "nobody")

	h.handleMessage(slow, &wire.SubscriptionRequest{Topic: "firehose", IsAdd: true})

	packet := []wire.DataPacket{{Entitlement: 0, Body: []byte("x")}}
	for i := 0; i < 3; i++ {
		h.handleMessage(publisher, &wire.MulticastData{Topic: "firehose", DataPackets: packet})
	}

	assert.Equal(t, 1, h.Sessions(), "slow subscriber must be dropped")
	assert.False(t, h.subs.HasSubscription("firehose"))
}

func TestStaleTopicNotification(t *testing.T) {
	h := testHub(t, nil)

	subscriber := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")
	publisher := connectSession(t, h, 2, "10.0.0.2", 40002, "nobody")

	h.handleMessage(subscriber, &wire.SubscriptionRequest{Topic: "quotes", IsAdd: true})
	h.handleMessage(publisher, &wire.MulticastData{
		Topic:       "quotes",
		DataPackets: []wire.DataPacket{{Entitlement: 0, Body: []byte("hi")}},
	})
	drainMessages(t, subscriber)

	h.handleDisconnect(publisher)

	got := drainMessages(t, subscriber)
	require.Len(t, got, 1)
	stale := got[0].(*wire.ForwardedMulticastData)
	assert.Equal(t, "quotes", stale.Topic)
	assert.Equal(t, StaleContentType, stale.ContentType)
	assert.Empty(t, stale.DataPackets)
}

func TestInvalidNotificationPatternClosesSession(t *testing.T) {
	h := testHub(t, nil)
	sess := connectSession(t, h, 1, "10.0.0.1", 40001, "nobody")

	h.handleMessage(sess, &wire.NotificationRequest{Pattern: "(", IsAdd: true})

	assert.Equal(t, 0, h.Sessions())
}

func TestReloadSwapsAuthorizations(t *testing.T) {
	h := testHub(t, []auth.Spec{
		entitlementSpec(t, ".*", "prices", auth.RoleAll, 1),
	})

	alice := connectSession(t, h, 1, "10.0.0.1", 40001, "alice")
	bob := connectSession(t, h, 2, "10.0.0.2", 40002, "bob")
	h.handleMessage(alice, &wire.SubscriptionRequest{Topic: "prices", IsAdd: true})

	packet := []wire.DataPacket{{Entitlement: 1, Body: []byte("tick")}}
	h.handleMessage(bob, &wire.MulticastData{Topic: "prices", DataPackets: packet})
	require.Len(t, drainMessages(t, alice), 1)

	h.handle(event{specs: []auth.Spec{
		entitlementSpec(t, ".*", "prices", auth.RoleAll, 2),
	}})

	h.handleMessage(bob, &wire.MulticastData{Topic: "prices", DataPackets: packet})
	assert.Empty(t, drainMessages(t, alice), "entitlement 1 was revoked by the reload")
}
