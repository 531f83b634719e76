// Package auth implements client authentication and per-topic
// authorization for the broker.
//
// Authentication supports the NONE, PLAIN and HTPASSWD methods; the
// password file uses the familiar "user:hash" line format.
//
// Authorization resolves (user, topic, role) to an entitlement set by
// scanning an ordered list of regex-scoped specs, first match wins,
// memoized in a bounded LRU cache. With no configured specs every user
// may publish and subscribe to public (entitlement 0) packets on any
// topic.
package auth
