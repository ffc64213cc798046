package icrypto

import (
	"bytes"
	"testing"
)

func TestAADRecord(t *testing.T) {
	aad1 := AADRecord("eduportal", "credentials", "default", 1)
	aad2 := AADRecord("eduportal", "credentials", "default", 1)
	if !bytes.Equal(aad1, aad2) {
		t.Error("AADRecord should be deterministic")
	}

	if bytes.Equal(aad1, AADRecord("eduportal", "credentials", "other", 1)) {
		t.Error("AADRecord should differ for different record ids")
	}
	if bytes.Equal(aad1, AADRecord("eduportal", "credentials", "default", 2)) {
		t.Error("AADRecord should differ for different versions")
	}

	// Length prefixes keep shifted boundaries apart.
	if bytes.Equal(AADRecord("ab", "c", "d", 1), AADRecord("a", "bc", "d", 1)) {
		t.Error("AADRecord should not be ambiguous across field boundaries")
	}
}

func TestDeriveRecordKey(t *testing.T) {
	master := bytes.Repeat([]byte{7}, 32)

	k1, err := DeriveRecordKey(master, "credentials")
	if err != nil {
		t.Fatalf("DeriveRecordKey failed: %v", err)
	}
	if len(k1) != 32 {
		t.Fatalf("expected 32 byte key, got %d", len(k1))
	}

	k2, _ := DeriveRecordKey(master, "credentials")
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveRecordKey should be deterministic")
	}

	k3, _ := DeriveRecordKey(master, "other")
	if bytes.Equal(k1, k3) {
		t.Error("record types should get distinct keys")
	}
}
