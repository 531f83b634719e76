// Package client is the Go client library for the squawkbus broker.
// It dials the broker over TCP or TLS, authenticates, and exposes
// subscribe, notification and publish operations plus a channel of
// forwarded messages.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/c360/squawkbus/auth"
	"github.com/c360/squawkbus/errors"
	"github.com/c360/squawkbus/pkg/retry"
	"github.com/c360/squawkbus/wire"
)

// Config carries the client's connection settings.
type Config struct {
	Addr       string        // broker "host:port"
	TLS        *tls.Config   // nil for plaintext
	AuthMethod string        // auth.MethodNone when empty
	AuthData   []byte        // method-specific credential blob
	Retry      *retry.Config // connect backoff; defaults when nil
	BufferSize int           // inbound channel capacity; 64 when zero
}

// Client is one authenticated broker session.
type Client struct {
	conn      net.Conn
	writeMu   sync.Mutex
	msgs      chan wire.Message
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// PlainCredentials builds the AuthData blob for the PLAIN method.
func PlainCredentials(user string) []byte {
	return []byte(user)
}

// HtpasswdCredentials builds the AuthData blob for the HTPASSWD
// method: one frame holding "string user, string password".
func HtpasswdCredentials(user, password string) []byte {
	body := wire.NewBuffer()
	body.PutString(user)
	body.PutString(password)
	out := binary.BigEndian.AppendUint32(nil, uint32(body.Len()))
	return append(out, body.Bytes()...)
}

// Dial connects and authenticates. The returned client's read loop is
// already running; messages arrive on Messages.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "client", "addr", cfg.Addr)

	retryConfig := retry.DefaultConfig()
	if cfg.Retry != nil {
		retryConfig = *cfg.Retry
	}

	var conn net.Conn
	connect := func() error {
		dialer := &net.Dialer{Timeout: 10 * time.Second}
		var err error
		if cfg.TLS != nil {
			conn, err = tls.DialWithDialer(dialer, "tcp", cfg.Addr, cfg.TLS)
		} else {
			conn, err = dialer.DialContext(ctx, "tcp", cfg.Addr)
		}
		return err
	}
	if err := retry.Do(ctx, retryConfig, connect); err != nil {
		return nil, errors.WrapTransient(err, "client", "Dial", "connect")
	}

	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = 64
	}

	c := &Client{
		conn:   conn,
		msgs:   make(chan wire.Message, bufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}

	method := cfg.AuthMethod
	if method == "" {
		method = auth.MethodNone
	}
	if err := c.send(&wire.AuthenticationRequest{Method: method, Data: cfg.AuthData}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// Messages returns the inbound message channel. It closes when the
// session ends.
func (c *Client) Messages() <-chan wire.Message { return c.msgs }

// Done returns a channel closed when the session ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Subscribe adds a subscription to topic.
func (c *Client) Subscribe(topic string) error {
	return c.send(&wire.SubscriptionRequest{Topic: topic, IsAdd: true})
}

// Unsubscribe removes one subscription reference from topic.
func (c *Client) Unsubscribe(topic string) error {
	return c.send(&wire.SubscriptionRequest{Topic: topic, IsAdd: false})
}

// AddNotification registers a listener for subscription changes on
// topics matching pattern.
func (c *Client) AddNotification(pattern string) error {
	return c.send(&wire.NotificationRequest{Pattern: pattern, IsAdd: true})
}

// RemoveNotification removes one listener reference for pattern.
func (c *Client) RemoveNotification(pattern string) error {
	return c.send(&wire.NotificationRequest{Pattern: pattern, IsAdd: false})
}

// Publish sends packets to every subscriber of topic.
func (c *Client) Publish(topic string, packets ...wire.DataPacket) error {
	return c.send(&wire.MulticastData{Topic: topic, DataPackets: packets})
}

// Send directs packets at one client session by its "host:port" id.
func (c *Client) Send(clientID, topic string, packets ...wire.DataPacket) error {
	return c.send(&wire.UnicastData{ClientID: clientID, Topic: topic, DataPackets: packets})
}

// Close ends the session.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(msg wire.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(wire.Frame(msg)); err != nil {
		return errors.WrapTransient(err, "client", "send", "write frame")
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.msgs)

	reader := bufio.NewReader(c.conn)
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(reader, lenBuf); err != nil {
			c.finish(err)
			return
		}
		length := binary.BigEndian.Uint32(lenBuf)
		if length > wire.DefaultMaxFrameSize {
			c.finish(errors.ErrFrameTooLarge)
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			c.finish(err)
			return
		}
		msg, err := wire.DecodeBytes(body)
		if err != nil {
			c.finish(err)
			return
		}

		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) finish(err error) {
	select {
	case <-c.done:
		// Deliberate close; the read error is expected.
	default:
		if err != io.EOF {
			c.logger.Info("Session ended", "error", err)
		}
		_ = c.Close()
	}
}
