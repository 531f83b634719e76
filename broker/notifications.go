package broker

import (
	"log/slog"
	"regexp"

	"github.com/c360/squawkbus/errors"
	"github.com/c360/squawkbus/wire"
)

// patternBucket holds the listeners of one pattern in insertion order,
// with the regex compiled once and shared across listeners.
type patternBucket struct {
	re     *regexp.Regexp
	order  []*Interactor
	counts map[uint64]uint32
}

// NotificationManager maintains pattern → listener routing and fans
// ForwardedSubscriptionRequest events out to listeners whose pattern
// matches a changed topic. Owned by the hub goroutine.
type NotificationManager struct {
	notifications     map[string]*patternBucket
	patternsBySession map[uint64]map[string]struct{}
	logger            *slog.Logger
}

// NewNotificationManager creates an empty listener table.
func NewNotificationManager(logger *slog.Logger) *NotificationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationManager{
		notifications:     make(map[string]*patternBucket),
		patternsBySession: make(map[uint64]map[string]struct{}),
		logger:            logger.With("component", "notifications"),
	}
}

// OnListen adds or removes a listener reference for a pattern source.
// On a listener's first registration it receives an initial image of
// the existing matching subscriptions. An uncompilable pattern is a
// protocol violation.
func (m *NotificationManager) OnListen(i *Interactor, pattern string, isAdd bool, subscriptions *SubscriptionManager) error {
	if isAdd {
		bucket, ok := m.notifications[pattern]
		if !ok {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return errors.Wrap(errors.ErrProtocolViolation,
					"notifications", "OnListen", "pattern compilation")
			}
			bucket = &patternBucket{re: re, counts: make(map[uint64]uint32)}
			m.notifications[pattern] = bucket
		}

		count := bucket.counts[i.ID()] + 1
		bucket.counts[i.ID()] = count
		if count == 1 {
			bucket.order = append(bucket.order, i)

			patterns, ok := m.patternsBySession[i.ID()]
			if !ok {
				patterns = make(map[string]struct{})
				m.patternsBySession[i.ID()] = patterns
			}
			patterns[pattern] = struct{}{}

			m.sendInitialImage(i, bucket.re, subscriptions)
		}
		m.logger.Debug("Listener added", "client", i.ClientID(), "pattern", pattern)
		return nil
	}

	m.removeListener(i, pattern, false)
	return nil
}

// sendInitialImage tells a new listener about every existing
// subscription its pattern matches.
func (m *NotificationManager) sendInitialImage(listener *Interactor, re *regexp.Regexp, subscriptions *SubscriptionManager) {
	subscriptions.EachMatching(re.MatchString, func(topic string, subscribers []*Interactor) {
		for _, subscriber := range subscribers {
			if subscriber.ID() == listener.ID() {
				continue
			}
			_ = listener.Send(&wire.ForwardedSubscriptionRequest{
				User:     subscriber.User(),
				Host:     subscriber.Host(),
				ClientID: subscriber.ClientID(),
				Topic:    topic,
				IsAdd:    true,
			})
		}
	})
}

func (m *NotificationManager) removeListener(i *Interactor, pattern string, drop bool) {
	bucket, ok := m.notifications[pattern]
	if !ok {
		return
	}
	count, ok := bucket.counts[i.ID()]
	if !ok {
		return
	}

	if drop || count == 1 {
		delete(bucket.counts, i.ID())
		for n, s := range bucket.order {
			if s.ID() == i.ID() {
				bucket.order = append(bucket.order[:n], bucket.order[n+1:]...)
				break
			}
		}
		if patterns, ok := m.patternsBySession[i.ID()]; ok {
			delete(patterns, pattern)
			if len(patterns) == 0 {
				delete(m.patternsBySession, i.ID())
			}
		}
	} else {
		bucket.counts[i.ID()] = count - 1
	}

	if len(bucket.counts) == 0 {
		delete(m.notifications, pattern)
	}
	m.logger.Debug("Listener removed", "client", i.ClientID(), "pattern", pattern)
}

// OnSubscriptionChanged notifies every listener whose pattern matches
// the changed topic. A listener is never told about its own
// subscription changes.
func (m *NotificationManager) OnSubscriptionChanged(subscriber *Interactor, topic string, isAdd bool) {
	for _, bucket := range m.notifications {
		if !bucket.re.MatchString(topic) {
			continue
		}
		msg := &wire.ForwardedSubscriptionRequest{
			User:     subscriber.User(),
			Host:     subscriber.Host(),
			ClientID: subscriber.ClientID(),
			Topic:    topic,
			IsAdd:    isAdd,
		}
		for _, listener := range bucket.order {
			if listener.ID() == subscriber.ID() {
				continue
			}
			_ = listener.Send(msg)
		}
	}
}

// OnDisconnect drops every listener registration held by the session.
func (m *NotificationManager) OnDisconnect(i *Interactor) {
	patterns := m.patternsBySession[i.ID()]
	for pattern := range patterns {
		m.removeListener(i, pattern, true)
	}
	delete(m.patternsBySession, i.ID())
}

// Listeners returns the listeners registered for the exact pattern
// source, in insertion order.
func (m *NotificationManager) Listeners(pattern string) []*Interactor {
	bucket, ok := m.notifications[pattern]
	if !ok {
		return nil
	}
	return bucket.order
}
