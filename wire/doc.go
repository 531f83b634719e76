// Package wire implements the squawkbus binary wire protocol: a typed
// big-endian codec over a growable byte buffer, the nine-kind message
// taxonomy with per-kind encoders and decoders, and a length-prefixed
// framer that reassembles whole frames from an arbitrary byte stream.
//
// Every message travels as one frame:
//
//	[u32 big-endian length][1-byte kind][body]
//
// where length covers the kind byte and the body but not the 4-byte
// header itself. Serialization is bijective: for any well-formed
// message m, DecodeBytes(Encode(m)) yields a message equal to m.
package wire
