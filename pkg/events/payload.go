package events

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MarshalPayload encodes an event body as a protobuf Struct. Values must be
// representable by structpb (strings, numbers, bools, nil, []any, map[string]any).
func MarshalPayload(fields map[string]any) ([]byte, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build event payload: %w", err)
	}

	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return payload, nil
}

// UnmarshalPayload decodes a payload produced by MarshalPayload.
func UnmarshalPayload(payload []byte) (map[string]any, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	return msg.AsMap(), nil
}
