package broker

import (
	"log/slog"

	"github.com/c360/squawkbus/auth"
	"github.com/c360/squawkbus/wire"
)

// topicBucket holds the subscribers of one topic in insertion order,
// each with a subscription reference count.
type topicBucket struct {
	order  []*Interactor
	counts map[uint64]uint32
}

func newTopicBucket() *topicBucket {
	return &topicBucket{counts: make(map[uint64]uint32)}
}

func (b *topicBucket) add(i *Interactor) uint32 {
	count := b.counts[i.ID()] + 1
	b.counts[i.ID()] = count
	if count == 1 {
		b.order = append(b.order, i)
	}
	return count
}

// remove decrements and reports the remaining count. drop forces the
// count to zero regardless of its value.
func (b *topicBucket) remove(i *Interactor, drop bool) (uint32, bool) {
	count, ok := b.counts[i.ID()]
	if !ok {
		return 0, false
	}
	if drop || count == 1 {
		delete(b.counts, i.ID())
		for n, s := range b.order {
			if s.ID() == i.ID() {
				b.order = append(b.order[:n], b.order[n+1:]...)
				break
			}
		}
		return 0, true
	}
	b.counts[i.ID()] = count - 1
	return count - 1, true
}

// SubscriptionManager maintains topic → subscriber routing and fans
// published packets out to entitled subscribers. It is owned by the
// hub goroutine and is not safe for concurrent use.
type SubscriptionManager struct {
	subscriptions   map[string]*topicBucket
	topicsBySession map[uint64]map[string]struct{}
	authz           *auth.Repository
	logger          *slog.Logger
}

// NewSubscriptionManager creates an empty routing table.
func NewSubscriptionManager(authz *auth.Repository, logger *slog.Logger) *SubscriptionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionManager{
		subscriptions:   make(map[string]*topicBucket),
		topicsBySession: make(map[uint64]map[string]struct{}),
		authz:           authz,
		logger:          logger.With("component", "subscriptions"),
	}
}

// OnSubscription adds or removes one subscription reference and tells
// the notification manager about the change.
func (m *SubscriptionManager) OnSubscription(i *Interactor, topic string, isAdd bool, notifications *NotificationManager) {
	if isAdd {
		bucket, ok := m.subscriptions[topic]
		if !ok {
			bucket = newTopicBucket()
			m.subscriptions[topic] = bucket
		}
		bucket.add(i)

		topics, ok := m.topicsBySession[i.ID()]
		if !ok {
			topics = make(map[string]struct{})
			m.topicsBySession[i.ID()] = topics
		}
		topics[topic] = struct{}{}

		m.logger.Debug("Subscribed", "client", i.ClientID(), "topic", topic)
	} else {
		bucket, ok := m.subscriptions[topic]
		if !ok {
			return
		}
		remaining, ok := bucket.remove(i, false)
		if !ok {
			return
		}
		if remaining == 0 {
			if topics, ok := m.topicsBySession[i.ID()]; ok {
				delete(topics, topic)
				if len(topics) == 0 {
					delete(m.topicsBySession, i.ID())
				}
			}
		}
		if len(bucket.counts) == 0 {
			delete(m.subscriptions, topic)
		}
		m.logger.Debug("Unsubscribed", "client", i.ClientID(), "topic", topic, "remaining", remaining)
	}

	notifications.OnSubscriptionChanged(i, topic, isAdd)
}

// PublishResult reports one fan-out: how many subscribers received a
// forward, how many packets the entitlement filters dropped across all
// recipients, and which sessions must be disconnected because their
// outbound queue refused the frame.
type PublishResult struct {
	Delivered  int
	Filtered   int
	Overflowed []*Interactor
}

// OnPublish fans packets out to the topic's subscribers. The
// publisher's own Publisher entitlements drop unauthorized packets
// first; each subscriber then receives only the packets its
// Subscriber entitlements admit.
func (m *SubscriptionManager) OnPublish(publisher *Interactor, topic string, packets []wire.DataPacket) PublishResult {
	var result PublishResult

	publisherSet := m.authz.Entitlements(publisher.User(), topic, auth.RolePublisher)
	permitted := wire.FilterAuthorized(packets, map[int32]struct{}(publisherSet))
	if dropped := len(packets) - len(permitted); dropped > 0 {
		result.Filtered += dropped
		m.logger.Debug("Dropped unauthorized packets from publisher",
			"client", publisher.ClientID(), "topic", topic, "dropped", dropped)
	}
	if len(permitted) == 0 {
		return result
	}

	bucket, ok := m.subscriptions[topic]
	if !ok {
		return result
	}

	for _, subscriber := range bucket.order {
		subscriberSet := m.authz.Entitlements(subscriber.User(), topic, auth.RoleSubscriber)
		authorized := wire.FilterAuthorized(permitted, map[int32]struct{}(subscriberSet))
		result.Filtered += len(permitted) - len(authorized)
		if len(authorized) == 0 {
			continue
		}

		msg := &wire.ForwardedMulticastData{
			User:        publisher.User(),
			Host:        publisher.Host(),
			Feed:        "",
			Topic:       topic,
			ContentType: "",
			DataPackets: authorized,
		}
		if err := subscriber.Send(msg); err != nil {
			result.Overflowed = append(result.Overflowed, subscriber)
			continue
		}
		result.Delivered++
	}
	return result
}

// OnDisconnect drops every subscription held by the session, firing an
// unsubscribe notification for each topic.
func (m *SubscriptionManager) OnDisconnect(i *Interactor, notifications *NotificationManager) {
	topics := m.topicsBySession[i.ID()]
	delete(m.topicsBySession, i.ID())

	for topic := range topics {
		bucket, ok := m.subscriptions[topic]
		if !ok {
			continue
		}
		if _, ok := bucket.remove(i, true); !ok {
			continue
		}
		if len(bucket.counts) == 0 {
			delete(m.subscriptions, topic)
		}
		notifications.OnSubscriptionChanged(i, topic, false)
	}
}

// Subscribers returns the topic's subscribers in insertion order.
func (m *SubscriptionManager) Subscribers(topic string) []*Interactor {
	bucket, ok := m.subscriptions[topic]
	if !ok {
		return nil
	}
	return bucket.order
}

// EachMatching visits every (topic, subscribers) pair whose topic the
// predicate accepts, in unspecified topic order. Used to build the
// initial image for a new notification listener.
func (m *SubscriptionManager) EachMatching(match func(topic string) bool, visit func(topic string, subscribers []*Interactor)) {
	for topic, bucket := range m.subscriptions {
		if match(topic) {
			visit(topic, bucket.order)
		}
	}
}

// HasSubscription reports whether the topic has any subscriber.
func (m *SubscriptionManager) HasSubscription(topic string) bool {
	_, ok := m.subscriptions[topic]
	return ok
}
