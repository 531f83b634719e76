package broker_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/squawkbus/auth"
	"github.com/c360/squawkbus/broker"
	"github.com/c360/squawkbus/client"
	"github.com/c360/squawkbus/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func startBroker(t *testing.T, specs []auth.Spec) string {
	t.Helper()

	authz, err := auth.NewRepository(specs)
	require.NoError(t, err)

	hub := broker.NewHub(auth.NewAuthenticator(nil, nil), authz, nil, nil)
	port := freePort(t)
	server := broker.NewServer(broker.Config{Port: port}, hub, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	// Run binds the listener asynchronously; wait until it accepts.
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond, "broker did not start listening")

	return addr
}

func dialClient(t *testing.T, addr, user string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, client.Config{
		Addr:       addr,
		AuthMethod: auth.MethodPlain,
		AuthData:   client.PlainCredentials(user),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitMessage(t *testing.T, c *client.Client) wire.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "session ended unexpectedly")
		return msg
	case <-time.After(10 * time.Second):
		t.Fatal("no message arrived")
		return nil
	}
}

func TestEndToEndPublishSubscribe(t *testing.T) {
	addr := startBroker(t, nil)

	publisher := dialClient(t, addr, "pub")
	subscriber := dialClient(t, addr, "sub")

	// The publisher listens for subscription events so the publish can
	// be ordered after the broker has processed the subscribe.
	require.NoError(t, publisher.AddNotification("quotes"))
	require.NoError(t, subscriber.Subscribe("quotes"))

	notice := waitMessage(t, publisher)
	forwarded, ok := notice.(*wire.ForwardedSubscriptionRequest)
	require.True(t, ok)
	assert.Equal(t, "quotes", forwarded.Topic)
	assert.Equal(t, "sub", forwarded.User)
	assert.True(t, forwarded.IsAdd)

	packet := wire.DataPacket{Entitlement: 0, ContentType: "text/plain", Body: []byte("hi")}
	require.NoError(t, publisher.Publish("quotes", packet))

	msg := waitMessage(t, subscriber)
	data, ok := msg.(*wire.ForwardedMulticastData)
	require.True(t, ok)
	assert.Equal(t, "pub", data.User)
	assert.Equal(t, "quotes", data.Topic)
	require.Len(t, data.DataPackets, 1)
	assert.Equal(t, packet, data.DataPackets[0])
}

func TestEndToEndUnsubscribeNotice(t *testing.T) {
	addr := startBroker(t, nil)

	listener := dialClient(t, addr, "listener")
	subscriber := dialClient(t, addr, "sub")

	require.NoError(t, listener.AddNotification(".*stocks.*"))
	require.NoError(t, subscriber.Subscribe("eu.stocks.de"))

	added := waitMessage(t, listener).(*wire.ForwardedSubscriptionRequest)
	assert.True(t, added.IsAdd)

	// Closing the subscriber fires the is_add=false record.
	require.NoError(t, subscriber.Close())

	removed := waitMessage(t, listener).(*wire.ForwardedSubscriptionRequest)
	assert.Equal(t, "eu.stocks.de", removed.Topic)
	assert.False(t, removed.IsAdd)
	assert.Equal(t, added.ClientID, removed.ClientID)
}

func TestEndToEndAuthGate(t *testing.T) {
	addr := startBroker(t, nil)

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// A subscription before authentication must close the connection
	// with no in-band error message.
	_, err = conn.Write(wire.Frame(&wire.SubscriptionRequest{Topic: "x", IsAdd: true}))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "expected EOF after protocol violation")
}
