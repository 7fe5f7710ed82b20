package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5A}, AddressLength)
	addr, err := NewAddress(raw)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}

	encoded := addr.String()
	if !strings.HasPrefix(encoded, AddressPrefix+"1") {
		t.Fatalf("unexpected bech32 rendering %q", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("round trip mismatch: %x", decoded.Bytes())
	}
}

func TestNewAddressLength(t *testing.T) {
	if _, err := NewAddress(make([]byte, AddressLength-1)); err == nil {
		t.Fatalf("expected error for short input")
	}
	if _, err := NewAddress(make([]byte, AddressLength+1)); err == nil {
		t.Fatalf("expected error for long input")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := DecodeAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"); err == nil {
		t.Fatalf("expected rejection of a foreign prefix")
	}
	if _, err := DecodeAddress("not bech32 at all"); err == nil {
		t.Fatalf("expected rejection of malformed input")
	}
}

func TestKeyToAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	if restored.PubKey().Address() != key.PubKey().Address() {
		t.Fatalf("restored key derives a different address")
	}

	other, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	if other.PubKey().Address() == key.PubKey().Address() {
		t.Fatalf("two fresh keys derived the same address")
	}
}
