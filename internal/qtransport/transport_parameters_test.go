package qtransport

import (
	"bytes"
	"testing"
)

func TestTransportParametersRoundTrip(t *testing.T) {
	p := NewTransportParameters()
	p.InitialMaxData = 1 << 20
	p.InitialMaxStreamDataBidiLocal = 1 << 16
	p.InitialMaxStreamDataBidiRemote = 1 << 16
	p.InitialMaxStreamDataUni = 1 << 15
	p.InitialMaxStreamsBidi = 100
	p.InitialMaxStreamsUni = 3
	p.MaxIdleTimeoutMillis = 30000
	p.MaxUDPPayloadSize = 1452
	p.ActiveConnectionIDLimit = 4

	if err := p.RegisterCustomParameter(0x3fff, []byte("private")); err != nil {
		t.Fatalf("RegisterCustomParameter: %v", err)
	}
	if err := p.RegisterCustomParameter(0xff00, []byte{1, 2, 3}); err != nil {
		t.Fatalf("RegisterCustomParameter: %v", err)
	}

	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeTransportParameters(encoded)
	if err != nil {
		t.Fatalf("DecodeTransportParameters: %v", err)
	}

	if decoded.InitialMaxData != p.InitialMaxData ||
		decoded.InitialMaxStreamDataBidiLocal != p.InitialMaxStreamDataBidiLocal ||
		decoded.InitialMaxStreamDataBidiRemote != p.InitialMaxStreamDataBidiRemote ||
		decoded.InitialMaxStreamDataUni != p.InitialMaxStreamDataUni ||
		decoded.InitialMaxStreamsBidi != p.InitialMaxStreamsBidi ||
		decoded.InitialMaxStreamsUni != p.InitialMaxStreamsUni ||
		decoded.MaxIdleTimeoutMillis != p.MaxIdleTimeoutMillis ||
		decoded.MaxUDPPayloadSize != p.MaxUDPPayloadSize ||
		decoded.ActiveConnectionIDLimit != p.ActiveConnectionIDLimit {
		t.Fatalf("standard parameters did not round-trip: got %+v", decoded)
	}

	v, ok := decoded.CustomParameter(0x3fff)
	if !ok || string(v) != "private" {
		t.Fatalf("custom parameter 0x3fff did not round-trip: %v %v", v, ok)
	}
	v, ok = decoded.CustomParameter(0xff00)
	if !ok || len(v) != 3 || v[0] != 1 || v[1] != 2 || v[2] != 3 {
		t.Fatalf("custom parameter 0xff00 did not round-trip: %v %v", v, ok)
	}
}

func TestTransportParametersEmptyRoundTrip(t *testing.T) {
	p := NewTransportParameters()
	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeTransportParameters(encoded)
	if err != nil {
		t.Fatalf("DecodeTransportParameters: %v", err)
	}
	if decoded.MaxUDPPayloadSize != p.MaxUDPPayloadSize {
		t.Fatalf("defaults did not round-trip: got %+v, want %+v", decoded, p)
	}
}

func TestRegisterCustomParameterRejectsBelowPrivateRange(t *testing.T) {
	p := NewTransportParameters()
	if err := p.RegisterCustomParameter(0x0a, []byte("x")); err == nil {
		t.Fatalf("expected error registering an ID below the private-use range")
	}
}

func TestRegisterCustomParameterRejectsDuplicateID(t *testing.T) {
	p := NewTransportParameters()
	if err := p.RegisterCustomParameter(0x4000, []byte("first")); err != nil {
		t.Fatalf("RegisterCustomParameter: %v", err)
	}
	if err := p.RegisterCustomParameter(0x4000, []byte("second")); err == nil {
		t.Fatalf("expected error registering a duplicate custom parameter ID")
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, 4611686018427387903}
	for _, v := range values {
		var buf bytes.Buffer
		if err := writeVarint(&buf, v); err != nil {
			t.Fatalf("writeVarint(%d): %v", v, err)
		}
		got, err := readVarint(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("readVarint(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("varint round-trip mismatch: want %d, got %d", v, got)
		}
	}
}

func TestWriteVarintRejectsOutOfRange(t *testing.T) {
	var buf bytes.Buffer
	if err := writeVarint(&buf, 1<<62); err == nil {
		t.Fatalf("expected error encoding a value outside the 62-bit range")
	}
}
