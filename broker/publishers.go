package broker

import (
	"log/slog"

	"github.com/c360/squawkbus/wire"
)

// StaleContentType marks the empty ForwardedMulticastData sent when a
// topic loses its last publisher.
const StaleContentType = "application/octet-stream"

// PublisherManager tracks which sessions have published to which
// topics so subscribers can be told when a topic goes stale. Owned by
// the hub goroutine.
type PublisherManager struct {
	topicsByPublisher map[uint64]map[string]struct{}
	publishersByTopic map[string]map[uint64]struct{}
	logger            *slog.Logger
}

// NewPublisherManager creates an empty publisher index.
func NewPublisherManager(logger *slog.Logger) *PublisherManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublisherManager{
		topicsByPublisher: make(map[uint64]map[string]struct{}),
		publishersByTopic: make(map[string]map[uint64]struct{}),
		logger:            logger.With("component", "publishers"),
	}
}

// Record notes that the session has published to the topic.
func (m *PublisherManager) Record(publisher *Interactor, topic string) {
	topics, ok := m.topicsByPublisher[publisher.ID()]
	if !ok {
		topics = make(map[string]struct{})
		m.topicsByPublisher[publisher.ID()] = topics
	}
	topics[topic] = struct{}{}

	publishers, ok := m.publishersByTopic[topic]
	if !ok {
		publishers = make(map[uint64]struct{})
		m.publishersByTopic[topic] = publishers
	}
	publishers[publisher.ID()] = struct{}{}
}

// OnDisconnect removes the session from the publisher index and sends
// the stale-topic notice to subscribers of every topic left with no
// publisher at all.
func (m *PublisherManager) OnDisconnect(publisher *Interactor, subscriptions *SubscriptionManager) {
	topics := m.topicsByPublisher[publisher.ID()]
	delete(m.topicsByPublisher, publisher.ID())

	var staleTopics []string
	for topic := range topics {
		publishers, ok := m.publishersByTopic[topic]
		if !ok {
			continue
		}
		delete(publishers, publisher.ID())
		if len(publishers) == 0 {
			delete(m.publishersByTopic, topic)
			staleTopics = append(staleTopics, topic)
		}
	}

	for _, topic := range staleTopics {
		msg := &wire.ForwardedMulticastData{
			User:        publisher.User(),
			Host:        publisher.Host(),
			Topic:       topic,
			ContentType: StaleContentType,
		}
		for _, subscriber := range subscriptions.Subscribers(topic) {
			_ = subscriber.Send(msg)
		}
		m.logger.Debug("Topic stale", "topic", topic, "last_publisher", publisher.ClientID())
	}
}

// Publishers returns the number of live publishers recorded for topic.
func (m *PublisherManager) Publishers(topic string) int {
	return len(m.publishersByTopic[topic])
}
