package broker

import (
	"context"
	"log/slog"

	"github.com/c360/squawkbus/auth"
	"github.com/c360/squawkbus/errors"
	"github.com/c360/squawkbus/metric"
	"github.com/c360/squawkbus/wire"
)

// event is the hub's inbound work unit. All mutation of routing state
// happens on the hub goroutine consuming these.
type event struct {
	sess   *Interactor
	msg    wire.Message // parsed inbound message when non-nil
	closed bool         // disconnect when true
	err    error        // reason for a disconnect
	specs  []auth.Spec  // authorization reload when non-nil
}

// Hub owns the session map and the routing managers, and routes every
// parsed message by kind.
type Hub struct {
	sessions   map[uint64]*Interactor
	byClientID map[string]*Interactor
	authn      *auth.Authenticator
	authz      *auth.Repository
	subs       *SubscriptionManager
	notif      *NotificationManager
	publishers *PublisherManager
	events     chan event
	done       chan struct{}
	metrics    *metric.Metrics
	logger     *slog.Logger
}

// NewHub creates a hub over the given policy components. metrics may
// be nil.
func NewHub(authn *auth.Authenticator, authz *auth.Repository, metrics *metric.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hub")
	return &Hub{
		sessions:   make(map[uint64]*Interactor),
		byClientID: make(map[string]*Interactor),
		authn:      authn,
		authz:      authz,
		subs:       NewSubscriptionManager(authz, logger),
		notif:      NewNotificationManager(logger),
		publishers: NewPublisherManager(logger),
		events:     make(chan event, 256),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger,
	}
}

// Connect registers a freshly accepted session with the hub.
func (h *Hub) Connect(sess *Interactor) {
	h.post(event{sess: sess})
}

// Deliver hands a parsed inbound message to the hub.
func (h *Hub) Deliver(sess *Interactor, msg wire.Message) {
	h.post(event{sess: sess, msg: msg})
}

// Disconnect reports that a session's transport has ended.
func (h *Hub) Disconnect(sess *Interactor, err error) {
	h.post(event{sess: sess, closed: true, err: err})
}

// Reload swaps the authorization specs, clearing the memo cache.
func (h *Hub) Reload(specs []auth.Spec) {
	if specs == nil {
		specs = auth.DefaultSpecs()
	}
	h.post(event{specs: specs})
}

// post enqueues an event unless the hub has already stopped.
func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

// Run consumes events until ctx ends, then closes every session.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub stopping", "sessions", len(h.sessions))
			for _, sess := range h.sessions {
				sess.Close()
			}
			return nil
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev event) {
	switch {
	case ev.specs != nil:
		h.authz.Reload(ev.specs)
		h.logger.Info("Authorizations reloaded", "specs", len(ev.specs))
	case ev.closed:
		if ev.err != nil && errors.IsSessionError(ev.err) {
			h.logger.Debug("Session transport ended", "client", ev.sess.ClientID(), "error", ev.err)
		}
		h.handleDisconnect(ev.sess)
	case ev.msg != nil:
		h.handleMessage(ev.sess, ev.msg)
	case ev.sess != nil:
		h.handleConnect(ev.sess)
	}
}

func (h *Hub) handleConnect(sess *Interactor) {
	h.sessions[sess.ID()] = sess
	h.byClientID[sess.ClientID()] = sess
	if h.metrics != nil {
		h.metrics.SessionsActive.Inc()
		h.metrics.SessionsTotal.Inc()
	}
	h.logger.Debug("Session connected", "client", sess.ClientID())
}

// handleMessage drives the session state machine and dispatches by
// kind. Errors close the offending session only.
func (h *Hub) handleMessage(sess *Interactor, msg wire.Message) {
	if _, ok := h.sessions[sess.ID()]; !ok {
		return // already disconnected
	}
	if h.metrics != nil {
		h.metrics.MessagesReceived.WithLabelValues(msg.Kind().String()).Inc()
	}

	deliver, err := sess.Apply(msg, h.authn)
	if err != nil {
		if errors.Is(err, errors.ErrAuthenticationFailed) && h.metrics != nil {
			h.metrics.AuthFailures.Inc()
		}
		h.logger.Info("Closing session", "client", sess.ClientID(), "error", err)
		h.handleDisconnect(sess)
		return
	}
	if !deliver {
		return
	}

	switch m := msg.(type) {
	case *wire.SubscriptionRequest:
		h.subs.OnSubscription(sess, m.Topic, m.IsAdd, h.notif)

	case *wire.NotificationRequest:
		if err := h.notif.OnListen(sess, m.Pattern, m.IsAdd, h.subs); err != nil {
			h.logger.Info("Closing session", "client", sess.ClientID(), "error", err)
			h.handleDisconnect(sess)
		}

	case *wire.MulticastData:
		h.publishers.Record(sess, m.Topic)
		result := h.subs.OnPublish(sess, m.Topic, m.DataPackets)
		if h.metrics != nil {
			h.metrics.MessagesDelivered.WithLabelValues(wire.KindForwardedMulticastData.String()).
				Add(float64(result.Delivered))
			h.metrics.PacketsFiltered.Add(float64(result.Filtered))
		}
		for _, slow := range result.Overflowed {
			h.dropForOverflow(slow)
		}

	case *wire.UnicastData:
		h.handleUnicast(sess, m)

	default:
		// Forwarded* and AuthenticationResponse are server-emitted only;
		// a repeat AuthenticationRequest lands here too.
		h.logger.Info("Closing session",
			"client", sess.ClientID(), "kind", msg.Kind().String(),
			"error", errors.ErrProtocolViolation)
		h.handleDisconnect(sess)
	}
}

// handleUnicast routes directed data to the named client. Unknown
// targets and unauthorized packets are dropped silently; the sender's
// session stays up.
func (h *Hub) handleUnicast(sender *Interactor, m *wire.UnicastData) {
	target, ok := h.byClientID[m.ClientID]
	if !ok {
		h.logger.Debug("Unicast to unknown client", "client_id", m.ClientID)
		return
	}
	if !target.Authenticated() {
		return
	}

	senderSet := h.authz.Entitlements(sender.User(), m.Topic, auth.RolePublisher)
	permitted := wire.FilterAuthorized(m.DataPackets, map[int32]struct{}(senderSet))

	targetSet := h.authz.Entitlements(target.User(), m.Topic, auth.RoleSubscriber)
	authorized := wire.FilterAuthorized(permitted, map[int32]struct{}(targetSet))
	if h.metrics != nil {
		h.metrics.PacketsFiltered.Add(float64(len(m.DataPackets) - len(authorized)))
	}
	if len(authorized) == 0 {
		return
	}

	h.publishers.Record(sender, m.Topic)

	msg := &wire.ForwardedUnicastData{
		User:        sender.User(),
		Host:        sender.Host(),
		ClientID:    sender.ClientID(),
		Feed:        "",
		Topic:       m.Topic,
		ContentType: "",
		DataPackets: authorized,
	}
	if err := target.Send(msg); err != nil {
		h.dropForOverflow(target)
		return
	}
	if h.metrics != nil {
		h.metrics.MessagesDelivered.WithLabelValues(wire.KindForwardedUnicastData.String()).Inc()
	}
}

func (h *Hub) dropForOverflow(sess *Interactor) {
	if h.metrics != nil {
		h.metrics.OverflowDrops.Inc()
	}
	h.logger.Warn("Dropping slow session", "client", sess.ClientID(),
		"error", errors.ErrOutboundOverflow)
	h.handleDisconnect(sess)
}

// handleDisconnect removes the session from every routing table and
// releases it. Safe to call more than once per session.
func (h *Hub) handleDisconnect(sess *Interactor) {
	if _, ok := h.sessions[sess.ID()]; !ok {
		return
	}
	delete(h.sessions, sess.ID())
	delete(h.byClientID, sess.ClientID())

	h.subs.OnDisconnect(sess, h.notif)
	h.notif.OnDisconnect(sess)
	h.publishers.OnDisconnect(sess, h.subs)

	sess.Close()
	if h.metrics != nil {
		h.metrics.SessionsActive.Dec()
	}
	h.logger.Debug("Session closed", "client", sess.ClientID())
}

// Sessions returns the number of registered sessions. Only meaningful
// from the hub goroutine; tests drive the hub synchronously.
func (h *Hub) Sessions() int { return len(h.sessions) }
