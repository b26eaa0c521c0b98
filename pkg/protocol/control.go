package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// OpDictUpdate announces a new dictionary version.
const OpDictUpdate = "dict_update"

// Control is a control frame.
type Control struct {
	Op      string `json:"op"`
	Version uint32 `json:"ver"`
}

// DictUpdate returns the announcement for version.
func DictUpdate(version uint32) Control {
	return Control{Op: OpDictUpdate, Version: version}
}

// Encode returns the text wire form of the control frame.
func (c Control) Encode() []byte {
	// Fixed shape; built by hand so encoding never fails.
	buf := make([]byte, 0, 32)
	buf = append(buf, `{"op":`...)
	buf = strconv.AppendQuote(buf, c.Op)
	buf = append(buf, `,"ver":`...)
	buf = strconv.AppendUint(buf, uint64(c.Version), 10)
	buf = append(buf, '}')
	return buf
}

// DecodeControl parses a text message as a control frame.
//
// It returns ErrUnknownOp for text that is not a single JSON object with a
// known op, and ErrInvalidVersion when a known op carries a missing,
// fractional, negative, zero or out-of-range version.
func DecodeControl(data []byte) (Control, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Control{}, ErrUnknownOp
	}

	var raw struct {
		Op  string      `json:"op"`
		Ver json.Number `json:"ver"`
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Control{}, ErrUnknownOp
	}
	if len(bytes.TrimSpace(trimmed[dec.InputOffset():])) != 0 {
		// More than one JSON value: application text.
		return Control{}, ErrUnknownOp
	}
	if raw.Op != OpDictUpdate {
		return Control{}, ErrUnknownOp
	}

	v, err := strconv.ParseUint(raw.Ver.String(), 10, 32)
	if err != nil || v == 0 {
		return Control{}, ErrInvalidVersion
	}
	return Control{Op: raw.Op, Version: uint32(v)}, nil
}
