package crypto

import (
	"bytes"
	"fmt"
	"testing"
)

func TestSecureZero(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	SecureZero(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureZero: byte %d = %d; want 0", i, b)
		}
	}
}

func TestSecureZeroEmpty(t *testing.T) {
	SecureZero(nil)
	SecureZero([]byte{})
}

func TestSecureZeroLarge(t *testing.T) {
	data := make([]byte, 1024*1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	SecureZero(data)

	zeros := make([]byte, len(data))
	if !bytes.Equal(data, zeros) {
		t.Error("SecureZero did not zero all bytes in large buffer")
	}
}

func TestSecureZeroMultiple(t *testing.T) {
	slice1 := []byte{1, 2, 3}
	slice2 := []byte{4, 5, 6, 7}
	slice3 := []byte{8, 9}

	SecureZeroMultiple(slice1, slice2, slice3)

	for _, s := range [][]byte{slice1, slice2, slice3} {
		for i, b := range s {
			if b != 0 {
				t.Errorf("slice[%d] = %d; want 0", i, b)
			}
		}
	}
}

func TestSecureZeroMultipleEmpty(t *testing.T) {
	SecureZeroMultiple()
	SecureZeroMultiple(nil)
	SecureZeroMultiple(nil, []byte{}, nil)
}

func TestSecureZeroHash(t *testing.T) {
	SecureZeroHash(nil)

	keys, err := NewMasterKeyContext(make([]byte, KeySize))
	if err != nil {
		t.Fatalf("NewMasterKeyContext: %v", err)
	}
	defer keys.Close()

	h, err := NewFileHash("v2", keys, false)
	if err != nil {
		t.Fatalf("NewFileHash: %v", err)
	}
	h.Write([]byte("test data"))
	SecureZeroHash(h)
}

func TestNewMasterKeyContextDerivesHMACSubkey(t *testing.T) {
	masterKey := make([]byte, KeySize)
	for i := range masterKey {
		masterKey[i] = byte(i)
	}

	mc, err := NewMasterKeyContext(append([]byte(nil), masterKey...))
	if err != nil {
		t.Fatalf("NewMasterKeyContext: %v", err)
	}
	defer mc.Close()

	if !bytes.Equal(mc.MasterKey, masterKey) {
		t.Error("MasterKey must hold the bytes it was given ownership of")
	}

	want, err := DeriveHMACSubkey(masterKey)
	if err != nil {
		t.Fatalf("DeriveHMACSubkey: %v", err)
	}
	if !bytes.Equal(mc.HMACSubkey, want) {
		t.Error("HMACSubkey must match a direct derivation from the master key")
	}
}

func TestMasterKeyContextClose(t *testing.T) {
	mc, err := NewMasterKeyContext(append([]byte(nil), []byte("0123456789abcdef0123456789abcdef")...))
	if err != nil {
		t.Fatalf("NewMasterKeyContext: %v", err)
	}

	keyRef := mc.MasterKey
	hmacRef := mc.HMACSubkey

	mc.Close()

	if mc.MasterKey != nil || mc.HMACSubkey != nil {
		t.Error("all fields should be nil after Close()")
	}
	if !bytes.Equal(keyRef, make([]byte, len(keyRef))) {
		t.Error("MasterKey data should be zeroed")
	}
	if !bytes.Equal(hmacRef, make([]byte, len(hmacRef))) {
		t.Error("HMACSubkey data should be zeroed")
	}
}

func TestMasterKeyContextCloseIdempotent(t *testing.T) {
	mc := &MasterKeyContext{MasterKey: []byte{1, 2, 3, 4}}

	mc.Close()
	mc.Close()
	mc.Close()
}

func TestMasterKeyContextNilSafe(t *testing.T) {
	var mc *MasterKeyContext
	mc.Close()

	(&MasterKeyContext{}).Close()
}

func TestMasterKeyContextStringRedacted(t *testing.T) {
	mc, err := NewMasterKeyContext(append([]byte(nil), []byte("0123456789abcdef0123456789abcdef")...))
	if err != nil {
		t.Fatalf("NewMasterKeyContext: %v", err)
	}
	defer mc.Close()

	if got := fmt.Sprintf("%v", mc); got != "[REDACTED]" {
		t.Errorf("String() = %q; key material must never be printable", got)
	}
}
