package protocol

import "testing"

func TestGetPacketNumberLengthForHeader(t *testing.T) {
	tests := []struct {
		pn, lowestUnacked PacketNumber
		want              PacketNumberLen
	}{
		{pn: 10, lowestUnacked: 10, want: PacketNumberLen1},
		{pn: 200, lowestUnacked: 10, want: PacketNumberLen2},
		{pn: 1<<16 + 10, lowestUnacked: 10, want: PacketNumberLen3},
		{pn: 1<<24 + 10, lowestUnacked: 10, want: PacketNumberLen4},
	}
	for _, tt := range tests {
		if got := GetPacketNumberLengthForHeader(tt.pn, tt.lowestUnacked); got != tt.want {
			t.Errorf("GetPacketNumberLengthForHeader(%d, %d) = %d, want %d", tt.pn, tt.lowestUnacked, got, tt.want)
		}
	}
}

func TestECNTOSRoundTrip(t *testing.T) {
	for _, ecn := range []ECN{ECNNon, ECT1, ECT0, ECNCE} {
		if got := ecn.ToTOS().ECN(); got != ecn {
			t.Errorf("ECN(%d).ToTOS().ECN() = %d, want %d", ecn, got, ecn)
		}
	}
}

func TestParseConnectionID(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	id, err := ParseConnectionID(b)
	if err != nil {
		t.Fatalf("ParseConnectionID: %v", err)
	}
	if id.Len() != len(b) {
		t.Errorf("Len() = %d, want %d", id.Len(), len(b))
	}
	if string(id.Bytes()) != string(b) {
		t.Errorf("Bytes() = %v, want %v", id.Bytes(), b)
	}

	if _, err := ParseConnectionID(make([]byte, 21)); err == nil {
		t.Error("expected an error for a connection ID longer than 20 bytes")
	}
}
