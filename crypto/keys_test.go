package crypto

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	var raw [AddressLength]byte
	copy(raw[:], bytes.Repeat([]byte{0x42}, AddressLength))
	encoded := FromRaw(raw).String()
	if !strings.HasPrefix(encoded, "vtx1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	decoded, err := ParseIdentity(encoded)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if decoded != raw {
		t.Fatalf("round trip mismatch: %x != %x", decoded, raw)
	}
}

func TestParseIdentityRejectsForeignPrefix(t *testing.T) {
	var raw [AddressLength]byte
	raw[0] = 1
	foreign := NewAddress("nhb", raw[:]).String()
	if _, err := ParseIdentity(foreign); err == nil {
		t.Fatalf("expected prefix error")
	}
}

func TestParseIdentityRejectsZero(t *testing.T) {
	zero := FromRaw([AddressLength]byte{}).String()
	if _, err := ParseIdentity(zero); err == nil {
		t.Fatalf("expected zero address error")
	}
	if _, err := ParseIdentity("garbage"); err == nil {
		t.Fatalf("expected bech32 error")
	}
}

func TestIdentityKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "party.json")
	addr, err := WriteIdentity(path, key, "secret")
	if err != nil {
		t.Fatalf("write identity: %v", err)
	}
	if addr.String() != key.PubKey().Address().String() {
		t.Fatalf("unexpected address %s", addr)
	}
	loaded, err := ReadIdentity(path, "secret")
	if err != nil {
		t.Fatalf("read identity: %v", err)
	}
	if loaded.PubKey().Address().String() != addr.String() {
		t.Fatalf("loaded identity mismatch")
	}
	if _, err := ReadIdentity(path, "wrong"); err == nil {
		t.Fatalf("expected decrypt failure with wrong passphrase")
	}
}
