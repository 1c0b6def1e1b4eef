package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic spells "HUSK" and doubles as a byte-order check.
	Magic       uint32 = 0x4855534B
	WireVersion uint16 = 1

	HeaderLen = 28
)

// Kind discriminates the three frame shapes on a channel.
type Kind uint16

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

var (
	ErrShortHeader     = errors.New("rpc: short fixed header")
	ErrBadMagic        = errors.New("rpc: bad magic")
	ErrBadVersion      = errors.New("rpc: unsupported wire version")
	ErrUnknownKind     = errors.New("rpc: unknown frame kind")
	ErrPayloadTooLarge = errors.New("rpc: payload too large")
)

// Message is one complete wire frame. Payload bytes are opaque to the
// transport; method numbers give them meaning at the endpoints.
type Message struct {
	Kind    Kind
	ID      uint64
	Method  uint32
	Payload []byte
}

func (m Message) Validate() error {
	switch m.Kind {
	case KindRequest, KindResponse, KindError:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint16(m.Kind))
	}
}

// IsReply reports whether the frame completes a pending call.
func (m Message) IsReply() bool {
	return m.Kind == KindResponse || m.Kind == KindError
}

// Limits constrains decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

// ReadMessage reads exactly one frame. A clean EOF before any header byte
// surfaces as io.EOF so read loops can tell peer close from a torn frame;
// a close after the header but before the full payload surfaces as
// io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader, limits Limits) (Message, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortHeader
		}
		return Message{}, err
	}

	m, payloadLen, err := DecodeHeader(fixed[:])
	if err != nil {
		return Message{}, err
	}
	if payloadLen > limits.MaxPayloadBytes {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLen)
	}

	if payloadLen > 0 {
		m.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			// A close with zero payload bytes read yields bare io.EOF,
			// which would pass for a clean frame boundary.
			if errors.Is(err, io.EOF) {
				return Message{}, io.ErrUnexpectedEOF
			}
			return Message{}, err
		}
	}
	return m, nil
}

// EncodeMessage renders a frame as a single contiguous byte slice so a
// sender can hand it to the connection in one write.
func EncodeMessage(m Message, limits Limits) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	payloadLen := uint64(len(m.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLen)
	}

	buf := make([]byte, HeaderLen+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], WireVersion)
	binary.BigEndian.PutUint16(buf[6:8], uint16(m.Kind))
	binary.BigEndian.PutUint64(buf[8:16], m.ID)
	binary.BigEndian.PutUint32(buf[16:20], m.Method)
	binary.BigEndian.PutUint64(buf[20:28], payloadLen)
	copy(buf[HeaderLen:], m.Payload)
	return buf, nil
}

// DecodeHeader parses the fixed header, returning the frame skeleton and
// the declared payload length.
func DecodeHeader(b []byte) (Message, uint64, error) {
	if len(b) != HeaderLen {
		return Message{}, 0, fmt.Errorf("rpc: invalid fixed header length: %d", len(b))
	}
	if binary.BigEndian.Uint32(b[0:4]) != Magic {
		return Message{}, 0, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(b[4:6]); v != WireVersion {
		return Message{}, 0, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	m := Message{
		Kind:   Kind(binary.BigEndian.Uint16(b[6:8])),
		ID:     binary.BigEndian.Uint64(b[8:16]),
		Method: binary.BigEndian.Uint32(b[16:20]),
	}
	if err := m.Validate(); err != nil {
		return Message{}, 0, err
	}
	return m, binary.BigEndian.Uint64(b[20:28]), nil
}
