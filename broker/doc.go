// Package broker implements the squawkbus message dispatch core: the
// per-session interactor, the subscription, notification and publisher
// routing tables, the hub that owns them, and the TCP/TLS/WebSocket
// server front end.
//
// All routing state is confined to the hub goroutine. Session reader
// goroutines frame and decode inbound bytes and hand parsed messages to
// the hub over a channel; the hub routes them and enqueues outbound
// frames on bounded per-session queues drained by writer goroutines.
// A subscriber that cannot drain its socket is disconnected rather than
// allowed to grow broker memory.
package broker
