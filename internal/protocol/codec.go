package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"blobarena/server/internal/game"
)

// MaxIDLength bounds client supplied identifiers.
const MaxIDLength = 64

var (
	// ErrEmptyFrame is returned for zero-length payloads.
	ErrEmptyFrame = errors.New("protocol: empty frame")
	// ErrMissingType is returned when a frame decodes but carries no type.
	ErrMissingType = errors.New("protocol: missing message type")
	// ErrInvalidID is returned for identifiers that exceed MaxIDLength.
	ErrInvalidID = errors.New("protocol: invalid player id")
)

// Encode serialises an outbound message as a MessagePack map.
func Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeClient parses an inbound frame without converting it.
func DecodeClient(data []byte) (ClientMessage, error) {
	if len(data) == 0 {
		return ClientMessage{}, ErrEmptyFrame
	}
	var frame ClientMessage
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client frame: %w", err)
	}
	frame.Type = strings.TrimSpace(frame.Type)
	frame.ID = strings.TrimSpace(frame.ID)
	frame.TargetID = strings.TrimSpace(frame.TargetID)
	if frame.Type == "" {
		return ClientMessage{}, ErrMissingType
	}
	if len(frame.ID) > MaxIDLength || len(frame.TargetID) > MaxIDLength {
		return ClientMessage{}, ErrInvalidID
	}
	return frame, nil
}

// Decode parses an inbound frame into the validator's message representation.
func Decode(data []byte) (game.Message, error) {
	frame, err := DecodeClient(data)
	if err != nil {
		return game.Message{}, err
	}
	return frame.ToMessage(), nil
}

// DecodeOutbound parses a server frame back into its typed struct. It is used by tests
// and tooling that consume the broadcast stream.
func DecodeOutbound(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	var envelope struct {
		Type string `msgpack:"type"`
	}
	if err := msgpack.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var target any
	switch envelope.Type {
	case TypeWelcome:
		target = &Welcome{}
	case TypeJoin:
		target = &Join{}
	case TypePlayerEaten:
		target = &PlayerEaten{}
	case TypeState:
		target = &State{}
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("decode outbound: unknown type %q", envelope.Type)
	}
	if err := msgpack.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	switch msg := target.(type) {
	case *Welcome:
		return *msg, nil
	case *Join:
		return *msg, nil
	case *PlayerEaten:
		return *msg, nil
	default:
		return *target.(*State), nil
	}
}
