package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// TagSize is the size of the version tag that prefixes tagged data frames.
const TagSize = 4

// Frame errors.
var (
	ErrShortFrame      = errors.New("protocol: frame shorter than version tag")
	ErrUnknownOp       = errors.New("protocol: unknown control op")
	ErrInvalidVersion  = errors.New("protocol: invalid dictionary version")
	ErrUnsupportedType = errors.New("protocol: unsupported message type")
)

// Kind classifies an inbound WebSocket message.
type Kind uint8

const (
	KindText    Kind = iota // Application text, forwarded as-is
	KindControl             // Dictionary announcement
	KindData                // Compressed batch
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "Text"
	case KindControl:
		return "Control"
	case KindData:
		return "Data"
	default:
		return "Unknown"
	}
}

// Framing selects how data frames identify their dictionary version.
type Framing uint8

const (
	FramingTagged    Framing = iota // [4-byte version][payload]
	FramingOutOfBand                // payload only
)

// ParseFraming parses "tagged" or "out-of-band".
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "", "tagged":
		return FramingTagged, nil
	case "out-of-band", "oob":
		return FramingOutOfBand, nil
	default:
		return 0, fmt.Errorf("protocol: unknown framing %q", s)
	}
}

// String returns the configuration name of the framing.
func (f Framing) String() string {
	switch f {
	case FramingTagged:
		return "tagged"
	case FramingOutOfBand:
		return "out-of-band"
	default:
		return "unknown"
	}
}

// EncodeData builds the binary data frame for a payload compressed with
// the given dictionary version. Out-of-band framing ignores the version.
func (f Framing) EncodeData(version uint32, payload []byte) []byte {
	if f == FramingOutOfBand {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		return buf
	}
	buf := make([]byte, TagSize+len(payload))
	binary.BigEndian.PutUint32(buf, version)
	copy(buf[TagSize:], payload)
	return buf
}

// DecodeData splits a binary data frame into version and payload.
// Out-of-band frames report version 0; the receiver supplies the version.
// The returned payload aliases data.
func (f Framing) DecodeData(data []byte) (uint32, []byte, error) {
	if f == FramingOutOfBand {
		return 0, data, nil
	}
	if len(data) < TagSize {
		return 0, nil, ErrShortFrame
	}
	return binary.BigEndian.Uint32(data), data[TagSize:], nil
}

// Frame is a classified inbound message.
type Frame struct {
	Kind Kind

	// Control is set for KindControl.
	Control Control

	// Version is the data frame's dictionary version (tagged framing).
	Version uint32

	// Payload holds compressed bytes for KindData and raw text for KindText.
	Payload []byte
}

// Classify sorts an inbound message into control, data or text.
//
// Text that is not a recognised control object is returned as KindText with
// the original bytes. A text message naming the dict_update op with a bad
// version is an error.
func (f Framing) Classify(messageType int, data []byte) (Frame, error) {
	switch messageType {
	case websocket.BinaryMessage:
		version, payload, err := f.DecodeData(data)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindData, Version: version, Payload: payload}, nil

	case websocket.TextMessage:
		c, err := DecodeControl(data)
		switch {
		case err == nil:
			return Frame{Kind: KindControl, Control: c, Version: c.Version}, nil
		case errors.Is(err, ErrInvalidVersion):
			return Frame{}, err
		default:
			return Frame{Kind: KindText, Payload: data}, nil
		}

	default:
		return Frame{}, ErrUnsupportedType
	}
}
