package quicclient

import "testing"

func TestGenerateConnectionIDLength(t *testing.T) {
	id, err := generateConnectionID(defaultConnIDLen)
	if err != nil {
		t.Fatalf("generateConnectionID: %v", err)
	}
	if id.Len() != defaultConnIDLen {
		t.Errorf("Len() = %d, want %d", id.Len(), defaultConnIDLen)
	}
}

func TestGenerateConnectionIDIsRandom(t *testing.T) {
	a, err := generateConnectionID(defaultConnIDLen)
	if err != nil {
		t.Fatalf("generateConnectionID: %v", err)
	}
	b, err := generateConnectionID(defaultConnIDLen)
	if err != nil {
		t.Fatalf("generateConnectionID: %v", err)
	}
	if a == b {
		t.Error("two generated connection IDs collided; rand.Read is not being used")
	}
}
