package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/squawkbus/errors"
)

func samplePackets() []DataPacket {
	return []DataPacket{
		{Entitlement: 1, ContentType: "text/plain", Body: []byte("Hello, World!")},
		{Entitlement: 0, ContentType: "application/json", Body: []byte(`{"bid":42}`)},
	}
}

func TestMessageRoundTrips(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"authentication request", &AuthenticationRequest{Method: "PLAIN", Data: []byte("mary")}},
		{"authentication request empty data", &AuthenticationRequest{Method: "NONE", Data: []byte{}}},
		{"authentication response", &AuthenticationResponse{ClientID: "10.0.0.1:45123", User: "mary"}},
		{"subscription request add", &SubscriptionRequest{Topic: "VOD.LSE", IsAdd: true}},
		{"subscription request remove", &SubscriptionRequest{Topic: "VOD.LSE", IsAdd: false}},
		{"notification request", &NotificationRequest{Pattern: `.*\.LSE`, IsAdd: true}},
		{"multicast data", &MulticastData{Topic: "VOD.LSE", DataPackets: samplePackets()}},
		{"multicast data no packets", &MulticastData{Topic: "VOD.LSE", DataPackets: []DataPacket{}}},
		{"unicast data", &UnicastData{ClientID: "10.0.0.2:50000", Topic: "VOD.LSE", DataPackets: samplePackets()}},
		{"forwarded subscription request", &ForwardedSubscriptionRequest{
			User: "mary", Host: "host1", ClientID: "10.0.0.1:45123", Topic: "VOD.LSE", IsAdd: true,
		}},
		{"forwarded multicast data", &ForwardedMulticastData{
			User: "mary", Host: "host1", Feed: "", Topic: "VOD.LSE", ContentType: "",
			DataPackets: samplePackets(),
		}},
		{"forwarded unicast data", &ForwardedUnicastData{
			User: "mary", Host: "host1", ClientID: "10.0.0.2:50000", Feed: "feed1",
			Topic: "VOD.LSE", ContentType: "text/plain", DataPackets: samplePackets(),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := Encode(tt.msg)
			got, err := DecodeBytes(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestEncodeLeadsWithKind(t *testing.T) {
	raw := Encode(&SubscriptionRequest{Topic: "x", IsAdd: true})
	require.NotEmpty(t, raw)
	assert.Equal(t, byte(KindSubscriptionRequest), raw[0])
}

func TestFrameLayout(t *testing.T) {
	msg := &SubscriptionRequest{Topic: "x", IsAdd: true}
	frame := Frame(msg)

	body := Encode(msg)
	require.Equal(t, 4+len(body), len(frame))

	// Length prefix covers kind + body, not itself.
	assert.Equal(t, []byte{0, 0, 0, byte(len(body))}, frame[:4])
	assert.Equal(t, body, frame[4:])
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := DecodeBytes([]byte{0x2a})
	assert.ErrorIs(t, err, errors.ErrUnknownMessageKind)
}

func TestDecodeRejectsTruncatedBody(t *testing.T) {
	raw := Encode(&MulticastData{Topic: "VOD.LSE", DataPackets: samplePackets()})
	for _, cut := range []int{1, 2, len(raw) / 2, len(raw) - 1} {
		_, err := DecodeBytes(raw[:cut])
		assert.ErrorIs(t, err, errors.ErrTruncated, "cut at %d", cut)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	raw := Encode(&SubscriptionRequest{Topic: "x", IsAdd: true})
	raw = append(raw, 0x00)

	_, err := DecodeBytes(raw)
	assert.ErrorIs(t, err, errors.ErrInvalidEncoding)
}
