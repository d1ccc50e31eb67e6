package signal

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SB-IM/camlink/internal/session"
)

// Envelope is the payload of an MQTT signaling message.
type Envelope struct {
	// ID identifies the sender, the answer goes to AnswerTopic/ID.
	ID    string
	Type  session.SDPType
	SDP   string
	Error string
}

// Description returns the session description carried by e.
func (e Envelope) Description() session.Description {
	return session.Description{Type: e.Type, SDP: e.SDP}
}

// EncodeEnvelope encodes e to protobuf wire format.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"id":    e.ID,
		"type":  string(e.Type),
		"sdp":   e.SDP,
		"error": e.Error,
	})
	if err != nil {
		return nil, fmt.Errorf("could not build envelope: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodeEnvelope decodes a protobuf payload produced by EncodeEnvelope.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return Envelope{}, fmt.Errorf("could not unmarshal envelope: %w", err)
	}
	fields := msg.GetFields()
	str := func(key string) string {
		return fields[key].GetStringValue()
	}
	e := Envelope{
		ID:    str("id"),
		Type:  session.SDPType(str("type")),
		SDP:   str("sdp"),
		Error: str("error"),
	}
	if e.ID == "" {
		return Envelope{}, errors.New("envelope without id")
	}
	return e, nil
}
