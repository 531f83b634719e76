package wire

import (
	"encoding/binary"

	"github.com/c360/squawkbus/errors"
)

// Message is one of the nine wire message variants. Each variant
// encodes its body fields in wire order; the kind byte is handled by
// Encode and Decode.
type Message interface {
	Kind() Kind
	encodeBody(b *Buffer)
	decodeBody(b *Buffer) error
}

// AuthenticationRequest opens a session: method names the mechanism,
// data carries the method-specific credential blob.
type AuthenticationRequest struct {
	Method string
	Data   []byte
}

func (m *AuthenticationRequest) Kind() Kind { return KindAuthenticationRequest }

func (m *AuthenticationRequest) encodeBody(b *Buffer) {
	b.PutString(m.Method)
	b.PutBinary(m.Data)
}

func (m *AuthenticationRequest) decodeBody(b *Buffer) (err error) {
	if m.Method, err = b.String(); err != nil {
		return err
	}
	m.Data, err = b.Binary()
	return err
}

// AuthenticationResponse is reserved for forward compatibility. The
// codec round-trips it; no runtime behavior depends on it.
type AuthenticationResponse struct {
	ClientID string
	User     string
}

func (m *AuthenticationResponse) Kind() Kind { return KindAuthenticationResponse }

func (m *AuthenticationResponse) encodeBody(b *Buffer) {
	b.PutString(m.ClientID)
	b.PutString(m.User)
}

func (m *AuthenticationResponse) decodeBody(b *Buffer) (err error) {
	if m.ClientID, err = b.String(); err != nil {
		return err
	}
	m.User, err = b.String()
	return err
}

// SubscriptionRequest adds or removes a subscription to a topic.
type SubscriptionRequest struct {
	Topic string
	IsAdd bool
}

func (m *SubscriptionRequest) Kind() Kind { return KindSubscriptionRequest }

func (m *SubscriptionRequest) encodeBody(b *Buffer) {
	b.PutString(m.Topic)
	b.PutBool(m.IsAdd)
}

func (m *SubscriptionRequest) decodeBody(b *Buffer) (err error) {
	if m.Topic, err = b.String(); err != nil {
		return err
	}
	m.IsAdd, err = b.Bool()
	return err
}

// NotificationRequest adds or removes a listener on a topic regex
// pattern.
type NotificationRequest struct {
	Pattern string
	IsAdd   bool
}

func (m *NotificationRequest) Kind() Kind { return KindNotificationRequest }

func (m *NotificationRequest) encodeBody(b *Buffer) {
	b.PutString(m.Pattern)
	b.PutBool(m.IsAdd)
}

func (m *NotificationRequest) decodeBody(b *Buffer) (err error) {
	if m.Pattern, err = b.String(); err != nil {
		return err
	}
	m.IsAdd, err = b.Bool()
	return err
}

// MulticastData publishes packets to every subscriber of a topic.
type MulticastData struct {
	Topic       string
	DataPackets []DataPacket
}

func (m *MulticastData) Kind() Kind { return KindMulticastData }

func (m *MulticastData) encodeBody(b *Buffer) {
	b.PutString(m.Topic)
	b.PutDataPackets(m.DataPackets)
}

func (m *MulticastData) decodeBody(b *Buffer) (err error) {
	if m.Topic, err = b.String(); err != nil {
		return err
	}
	m.DataPackets, err = b.DataPackets()
	return err
}

// UnicastData publishes packets to one named client session.
type UnicastData struct {
	ClientID    string
	Topic       string
	DataPackets []DataPacket
}

func (m *UnicastData) Kind() Kind { return KindUnicastData }

func (m *UnicastData) encodeBody(b *Buffer) {
	b.PutString(m.ClientID)
	b.PutString(m.Topic)
	b.PutDataPackets(m.DataPackets)
}

func (m *UnicastData) decodeBody(b *Buffer) (err error) {
	if m.ClientID, err = b.String(); err != nil {
		return err
	}
	if m.Topic, err = b.String(); err != nil {
		return err
	}
	m.DataPackets, err = b.DataPackets()
	return err
}

// ForwardedSubscriptionRequest notifies a listener that a client
// subscribed to or unsubscribed from a matching topic.
type ForwardedSubscriptionRequest struct {
	User     string
	Host     string
	ClientID string
	Topic    string
	IsAdd    bool
}

func (m *ForwardedSubscriptionRequest) Kind() Kind { return KindForwardedSubscriptionRequest }

func (m *ForwardedSubscriptionRequest) encodeBody(b *Buffer) {
	b.PutString(m.User)
	b.PutString(m.Host)
	b.PutString(m.ClientID)
	b.PutString(m.Topic)
	b.PutBool(m.IsAdd)
}

func (m *ForwardedSubscriptionRequest) decodeBody(b *Buffer) (err error) {
	if m.User, err = b.String(); err != nil {
		return err
	}
	if m.Host, err = b.String(); err != nil {
		return err
	}
	if m.ClientID, err = b.String(); err != nil {
		return err
	}
	if m.Topic, err = b.String(); err != nil {
		return err
	}
	m.IsAdd, err = b.Bool()
	return err
}

// ForwardedMulticastData delivers published packets to a subscriber,
// stamped with the publisher's identity.
type ForwardedMulticastData struct {
	User        string
	Host        string
	Feed        string
	Topic       string
	ContentType string
	DataPackets []DataPacket
}

func (m *ForwardedMulticastData) Kind() Kind { return KindForwardedMulticastData }

func (m *ForwardedMulticastData) encodeBody(b *Buffer) {
	b.PutString(m.User)
	b.PutString(m.Host)
	b.PutString(m.Feed)
	b.PutString(m.Topic)
	b.PutString(m.ContentType)
	b.PutDataPackets(m.DataPackets)
}

func (m *ForwardedMulticastData) decodeBody(b *Buffer) (err error) {
	if m.User, err = b.String(); err != nil {
		return err
	}
	if m.Host, err = b.String(); err != nil {
		return err
	}
	if m.Feed, err = b.String(); err != nil {
		return err
	}
	if m.Topic, err = b.String(); err != nil {
		return err
	}
	if m.ContentType, err = b.String(); err != nil {
		return err
	}
	m.DataPackets, err = b.DataPackets()
	return err
}

// ForwardedUnicastData delivers unicast packets to the target client,
// stamped with the sender's identity.
type ForwardedUnicastData struct {
	User        string
	Host        string
	ClientID    string
	Feed        string
	Topic       string
	ContentType string
	DataPackets []DataPacket
}

func (m *ForwardedUnicastData) Kind() Kind { return KindForwardedUnicastData }

func (m *ForwardedUnicastData) encodeBody(b *Buffer) {
	b.PutString(m.User)
	b.PutString(m.Host)
	b.PutString(m.ClientID)
	b.PutString(m.Feed)
	b.PutString(m.Topic)
	b.PutString(m.ContentType)
	b.PutDataPackets(m.DataPackets)
}

func (m *ForwardedUnicastData) decodeBody(b *Buffer) (err error) {
	if m.User, err = b.String(); err != nil {
		return err
	}
	if m.Host, err = b.String(); err != nil {
		return err
	}
	if m.ClientID, err = b.String(); err != nil {
		return err
	}
	if m.Feed, err = b.String(); err != nil {
		return err
	}
	if m.Topic, err = b.String(); err != nil {
		return err
	}
	if m.ContentType, err = b.String(); err != nil {
		return err
	}
	m.DataPackets, err = b.DataPackets()
	return err
}

// newMessage returns a zero message of the given kind.
func newMessage(k Kind) Message {
	switch k {
	case KindAuthenticationRequest:
		return &AuthenticationRequest{}
	case KindAuthenticationResponse:
		return &AuthenticationResponse{}
	case KindMulticastData:
		return &MulticastData{}
	case KindUnicastData:
		return &UnicastData{}
	case KindForwardedSubscriptionRequest:
		return &ForwardedSubscriptionRequest{}
	case KindNotificationRequest:
		return &NotificationRequest{}
	case KindSubscriptionRequest:
		return &SubscriptionRequest{}
	case KindForwardedMulticastData:
		return &ForwardedMulticastData{}
	case KindForwardedUnicastData:
		return &ForwardedUnicastData{}
	default:
		return nil
	}
}

// Encode serializes a message as [kind][body].
func Encode(m Message) []byte {
	b := NewBuffer()
	b.PutKind(m.Kind())
	m.encodeBody(b)
	return b.Bytes()
}

// Decode deserializes one message from a frame body. Trailing bytes
// after the body are an encoding error.
func Decode(b *Buffer) (Message, error) {
	k, err := b.MessageKind()
	if err != nil {
		return nil, err
	}
	m := newMessage(k)
	if err := m.decodeBody(b); err != nil {
		return nil, errors.Wrap(err, "wire", "Decode", k.String())
	}
	if b.Remaining() != 0 {
		return nil, errors.Wrap(errors.ErrInvalidEncoding, "wire", "Decode", k.String())
	}
	return m, nil
}

// DecodeBytes deserializes one message from raw frame body bytes.
func DecodeBytes(frame []byte) (Message, error) {
	return Decode(BufferFrom(frame))
}

// Frame serializes a message as a complete wire frame:
// [u32 big-endian length][kind][body].
func Frame(m Message) []byte {
	body := Encode(m)
	out := make([]byte, 0, 4+len(body))
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}
