// Package qtransport implements component 6 of the core (spec §2 and
// §3's "Connection state" paragraph): the aggregate of negotiated
// transport parameters, the stream map, and the loss-state record that
// sits alongside the outstanding-packet set the ackhandler already owns.
package qtransport

import (
	"bytes"
	"fmt"

	"github.com/quicclient/quicclient/internal/protocol"
)

// Transport parameter IDs, per RFC 9000 §18.2. IDs ≥ 0x3fff are reserved
// for private use (spec §4.3's "custom transport parameters").
const (
	paramMaxIdleTimeout              = 0x01
	paramMaxUDPPayloadSize           = 0x03
	paramInitialMaxData              = 0x04
	paramInitialMaxStreamDataBidiLoc = 0x05
	paramInitialMaxStreamDataBidiRem = 0x06
	paramInitialMaxStreamDataUni     = 0x07
	paramInitialMaxStreamsBidi       = 0x08
	paramInitialMaxStreamsUni        = 0x09
	paramActiveConnectionIDLimit     = 0x0e

	minCustomParameterID = 0x3fff
)

// TransportParameters is the bag of negotiated parameters from spec §3's
// data model, plus the custom parameters (ID ≥ 0x3fff) the client may
// register to be emitted in ClientHello (spec §4.3).
type TransportParameters struct {
	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64
	MaxIdleTimeoutMillis           uint64
	MaxUDPPayloadSize              uint64
	ActiveConnectionIDLimit        uint64

	custom map[uint64][]byte
}

// NewTransportParameters returns a TransportParameters with the defaults
// a freshly-constructed, not-yet-negotiated connection state uses.
func NewTransportParameters() *TransportParameters {
	return &TransportParameters{
		MaxUDPPayloadSize:       uint64(protocol.DefaultUDPSendPacketLen),
		ActiveConnectionIDLimit: 2,
		custom:                  make(map[uint64][]byte),
	}
}

// RegisterCustomParameter files a private-use parameter (ID ≥ 0x3fff) to
// be emitted alongside the standard ones. Duplicate IDs are rejected at
// registration time (spec §4.3).
func (p *TransportParameters) RegisterCustomParameter(id uint64, value []byte) error {
	if id < minCustomParameterID {
		return fmt.Errorf("qtransport: custom transport parameter ID %#x is below the private-use range (>= %#x)", id, minCustomParameterID)
	}
	if p.custom == nil {
		p.custom = make(map[uint64][]byte)
	}
	if _, exists := p.custom[id]; exists {
		return fmt.Errorf("qtransport: duplicate custom transport parameter ID %#x", id)
	}
	p.custom[id] = value
	return nil
}

// CustomParameter returns a previously registered or decoded custom
// parameter's value.
func (p *TransportParameters) CustomParameter(id uint64) ([]byte, bool) {
	v, ok := p.custom[id]
	return v, ok
}

// Encode serializes the parameter set as the (id, length, value) TLV
// sequence ClientHello's QUIC transport-parameters extension carries.
func (p *TransportParameters) Encode() ([]byte, error) {
	var buf bytes.Buffer
	write := func(id uint64, value uint64) error {
		var valBuf bytes.Buffer
		if err := writeVarint(&valBuf, value); err != nil {
			return err
		}
		return writeTLV(&buf, id, valBuf.Bytes())
	}
	if err := write(paramInitialMaxData, p.InitialMaxData); err != nil {
		return nil, err
	}
	if err := write(paramInitialMaxStreamDataBidiLoc, p.InitialMaxStreamDataBidiLocal); err != nil {
		return nil, err
	}
	if err := write(paramInitialMaxStreamDataBidiRem, p.InitialMaxStreamDataBidiRemote); err != nil {
		return nil, err
	}
	if err := write(paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni); err != nil {
		return nil, err
	}
	if err := write(paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi); err != nil {
		return nil, err
	}
	if err := write(paramInitialMaxStreamsUni, p.InitialMaxStreamsUni); err != nil {
		return nil, err
	}
	if err := write(paramMaxIdleTimeout, p.MaxIdleTimeoutMillis); err != nil {
		return nil, err
	}
	if err := write(paramMaxUDPPayloadSize, p.MaxUDPPayloadSize); err != nil {
		return nil, err
	}
	if err := write(paramActiveConnectionIDLimit, p.ActiveConnectionIDLimit); err != nil {
		return nil, err
	}
	for id, value := range p.custom {
		if err := writeTLV(&buf, id, value); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeTLV(buf *bytes.Buffer, id uint64, value []byte) error {
	if err := writeVarint(buf, id); err != nil {
		return err
	}
	if err := writeVarint(buf, uint64(len(value))); err != nil {
		return err
	}
	buf.Write(value)
	return nil
}

// DecodeTransportParameters parses the TLV sequence Encode produces. It
// round-trips identically for every parameter, including custom IDs ≥
// 0x3fff (spec §8's round-trip property).
func DecodeTransportParameters(data []byte) (*TransportParameters, error) {
	p := NewTransportParameters()
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		id, err := readVarint(r)
		if err != nil {
			return nil, fmt.Errorf("qtransport: reading parameter ID: %w", err)
		}
		length, err := readVarint(r)
		if err != nil {
			return nil, fmt.Errorf("qtransport: reading parameter length: %w", err)
		}
		value := make([]byte, length)
		if _, err := r.Read(value); err != nil && length > 0 {
			return nil, fmt.Errorf("qtransport: reading parameter %#x value: %w", id, err)
		}
		switch id {
		case paramInitialMaxData:
			p.InitialMaxData, err = decodeVarintValue(value)
		case paramInitialMaxStreamDataBidiLoc:
			p.InitialMaxStreamDataBidiLocal, err = decodeVarintValue(value)
		case paramInitialMaxStreamDataBidiRem:
			p.InitialMaxStreamDataBidiRemote, err = decodeVarintValue(value)
		case paramInitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni, err = decodeVarintValue(value)
		case paramInitialMaxStreamsBidi:
			p.InitialMaxStreamsBidi, err = decodeVarintValue(value)
		case paramInitialMaxStreamsUni:
			p.InitialMaxStreamsUni, err = decodeVarintValue(value)
		case paramMaxIdleTimeout:
			p.MaxIdleTimeoutMillis, err = decodeVarintValue(value)
		case paramMaxUDPPayloadSize:
			p.MaxUDPPayloadSize, err = decodeVarintValue(value)
		case paramActiveConnectionIDLimit:
			p.ActiveConnectionIDLimit, err = decodeVarintValue(value)
		default:
			p.custom[id] = value
		}
		if err != nil {
			return nil, fmt.Errorf("qtransport: decoding parameter %#x: %w", id, err)
		}
	}
	return p, nil
}

func decodeVarintValue(value []byte) (uint64, error) {
	return readVarint(bytes.NewReader(value))
}
