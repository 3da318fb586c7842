package mqttv3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

// ErrNotProtoMessage is returned by ProtoCodec for values that are not
// protocol buffer messages.
var ErrNotProtoMessage = errors.New("value is not a proto.Message")

// PayloadCodec converts application values to and from message payloads.
type PayloadCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	ContentType() string
}

// JSONCodec encodes payloads as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) ContentType() string                { return "application/json" }

// YAMLCodec encodes payloads as YAML.
type YAMLCodec struct{}

func (YAMLCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
func (YAMLCodec) ContentType() string                { return "application/yaml" }

// ProtoCodec encodes payloads in the protocol buffer wire format. Values
// must implement proto.Message.
type ProtoCodec struct{}

func (ProtoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return proto.Marshal(m)
}

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return proto.Unmarshal(data, m)
}

func (ProtoCodec) ContentType() string { return "application/x-protobuf" }

// Publisher is the part of Client needed by PublishValue.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos QoS, retain bool) error
}

// PublishValue encodes value with codec and publishes it.
func PublishValue[T any](ctx context.Context, p Publisher, codec PayloadCodec, topic string, value T, qos QoS, retain bool) error {
	payload, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	return p.Publish(ctx, topic, payload, qos, retain)
}

// DecodeMessage decodes the payload of msg into a new T.
//
// For protocol buffer types T must be the pointer type, e.g.
// DecodeMessage[*pb.Reading]; the message is allocated here.
func DecodeMessage[T any](codec PayloadCodec, msg *Message) (T, error) {
	var value T

	target := any(&value)
	if m, ok := any(value).(proto.Message); ok {
		m = m.ProtoReflect().Type().New().Interface()
		value = m.(T)
		target = m
	}

	if err := codec.Unmarshal(msg.Payload, target); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload from %s: %w", msg.Topic, err)
	}
	return value, nil
}
