package broker

import (
	"fmt"
	"log/slog"

	"github.com/c360/squawkbus/auth"
	"github.com/c360/squawkbus/errors"
	"github.com/c360/squawkbus/pkg/buffer"
	"github.com/c360/squawkbus/wire"
)

// DefaultQueueCapacity bounds a session's outbound queue, in frames.
const DefaultQueueCapacity = 1024

// Interactor is the broker-side state for one client session. Routing
// tables key it by its stable numeric id; the wire-visible client id
// is "host:port" of the peer.
type Interactor struct {
	id       uint64
	clientID string
	host     string

	user          string
	authenticated bool

	reader *wire.FrameReader
	out    *buffer.Ring[[]byte]
	logger *slog.Logger
}

// NewInteractor creates session state for a connection from host:port.
func NewInteractor(id uint64, host string, port int, queueCapacity int, logger *slog.Logger) *Interactor {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	out, err := buffer.NewRing[[]byte](queueCapacity, buffer.Reject)
	if err != nil {
		panic(err) // capacity is validated above
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientID := fmt.Sprintf("%s:%d", host, port)
	return &Interactor{
		id:       id,
		clientID: clientID,
		host:     host,
		reader:   wire.NewFrameReader(),
		out:      out,
		logger:   logger.With("component", "interactor", "client", clientID),
	}
}

// ID returns the stable session id used as a routing key.
func (i *Interactor) ID() uint64 { return i.id }

// ClientID returns the wire-visible "host:port" identity.
func (i *Interactor) ClientID() string { return i.clientID }

// Host returns the peer host.
func (i *Interactor) Host() string { return i.host }

// User returns the authenticated user, or "" before authentication.
func (i *Interactor) User() string { return i.user }

// Authenticated reports whether the session has completed the
// authentication handshake.
func (i *Interactor) Authenticated() bool { return i.authenticated }

// Receive appends inbound bytes and returns every whole message now
// decodable. A framing or decoding error poisons the session.
func (i *Interactor) Receive(chunk []byte) ([]wire.Message, error) {
	i.reader.Write(chunk)

	var msgs []wire.Message
	for i.reader.HasFrame() {
		frame, err := i.reader.Read()
		if err != nil {
			return msgs, err
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Apply advances the session state machine for one inbound message.
// It returns true when the message should be dispatched by the hub:
// before authentication only an AuthenticationRequest is legal, and it
// is consumed here.
func (i *Interactor) Apply(msg wire.Message, authenticator *auth.Authenticator) (bool, error) {
	if i.authenticated {
		return true, nil
	}

	request, ok := msg.(*wire.AuthenticationRequest)
	if !ok {
		return false, errors.Wrap(errors.ErrProtocolViolation,
			"interactor", "Apply", "message before authentication")
	}

	user, ok := authenticator.Authenticate(request.Method, request.Data)
	if !ok {
		return false, errors.ErrAuthenticationFailed
	}

	i.user = user
	i.authenticated = true
	i.logger.Info("Authenticated", "user", user, "method", request.Method)
	return false, nil
}

// Send frames a message onto the outbound queue. ErrOutboundOverflow
// means the session must be dropped.
func (i *Interactor) Send(msg wire.Message) error {
	return i.out.Write(wire.Frame(msg))
}

// Outbound returns the session's outbound frame queue, drained by the
// transport writer.
func (i *Interactor) Outbound() *buffer.Ring[[]byte] { return i.out }

// Close closes the outbound queue, letting the writer flush and exit.
func (i *Interactor) Close() { i.out.Close() }
