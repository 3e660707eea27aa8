package crypto

import (
	"bytes"
	"testing"
)

func testParams(t *testing.T, memoryCost, timeCost uint32) KDFParams {
	t.Helper()
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	return KDFParams{
		Algorithm:   "Argon2id",
		MemoryCost:  memoryCost,
		TimeCost:    timeCost,
		Parallelism: 1,
		Salt:        salt,
		OutputLen:   KeySize,
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	password := []byte("correct horse battery staple")
	params := testParams(t, MemoryCostFloorKiB, TimeCostFloor)

	key1, err := DeriveKey(password, params)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if len(key1) != KeySize {
		t.Fatalf("key length = %d; want %d", len(key1), KeySize)
	}

	key2, err := DeriveKey(password, params)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("same password+params must derive the same key")
	}

	otherParams := params
	otherParams.TimeCost = TimeCostFloor + 1
	key3, err := DeriveKey(password, otherParams)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if bytes.Equal(key1, key3) {
		t.Error("different params must derive different keys")
	}
}

func TestValidateParamsRejectsDowngrade(t *testing.T) {
	ok := testParams(t, MemoryCostFloorKiB, TimeCostFloor)
	if err := ValidateParams(ok); err != nil {
		t.Fatalf("floor params should validate: %v", err)
	}

	lowMemory := ok
	lowMemory.MemoryCost = MemoryCostFloorKiB - 1
	if err := ValidateParams(lowMemory); err == nil {
		t.Error("memory_cost below floor must be rejected")
	}

	lowTime := ok
	lowTime.TimeCost = TimeCostFloor - 1
	if err := ValidateParams(lowTime); err == nil {
		t.Error("time_cost below floor must be rejected")
	}
}

func TestChunkCipherRoundTrip(t *testing.T) {
	blockKey := make([]byte, KeySize)
	for i := range blockKey {
		blockKey[i] = byte(i)
	}
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	aad := AADString("backup_20250112_020000", "v2", "/home/user/a.txt")

	for _, paranoid := range []bool{false, true} {
		enc, err := NewChunkCipher(blockKey, paranoid)
		if err != nil {
			t.Fatalf("NewChunkCipher(paranoid=%v): %v", paranoid, err)
		}

		wire, err := enc.EncryptChunk(plaintext, 0, aad)
		if err != nil {
			t.Fatalf("EncryptChunk: %v", err)
		}
		if bytes.Contains(wire, plaintext) {
			t.Error("wire chunk must not contain plaintext")
		}

		dec, err := NewChunkCipher(blockKey, paranoid)
		if err != nil {
			t.Fatalf("NewChunkCipher: %v", err)
		}
		got, err := dec.DecryptChunk(wire, 0, aad)
		if err != nil {
			t.Fatalf("DecryptChunk: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
		}

		// Wrong AAD must fail.
		dec2, _ := NewChunkCipher(blockKey, paranoid)
		if _, err := dec2.DecryptChunk(wire, 0, AADString("other", "v2", "/home/user/a.txt")); err == nil {
			t.Error("decryption with wrong AAD should fail")
		}

		// Wrong chunk index must fail (nonce mismatch).
		dec3, _ := NewChunkCipher(blockKey, paranoid)
		if _, err := dec3.DecryptChunk(wire, 1, aad); err == nil {
			t.Error("decryption with wrong chunk index should fail")
		}
	}
}

func TestDeriveChunkNonceUniqueness(t *testing.T) {
	blockKey := make([]byte, KeySize)

	n1, err := DeriveChunkNonce(blockKey, []byte("chunk A"), 0)
	if err != nil {
		t.Fatalf("DeriveChunkNonce: %v", err)
	}
	n2, err := DeriveChunkNonce(blockKey, []byte("chunk A"), 1)
	if err != nil {
		t.Fatalf("DeriveChunkNonce: %v", err)
	}
	n3, err := DeriveChunkNonce(blockKey, []byte("chunk B"), 0)
	if err != nil {
		t.Fatalf("DeriveChunkNonce: %v", err)
	}

	if bytes.Equal(n1, n2) {
		t.Error("different chunk index must produce different nonce")
	}
	if bytes.Equal(n1, n3) {
		t.Error("different chunk content must produce different nonce")
	}
	if len(n1) != NonceSize {
		t.Errorf("nonce length = %d; want %d", len(n1), NonceSize)
	}
}

func TestNewFileHashV1V2Differ(t *testing.T) {
	masterKey := make([]byte, KeySize)
	for i := range masterKey {
		masterKey[i] = byte(i)
	}
	keys, err := NewMasterKeyContext(append([]byte(nil), masterKey...))
	if err != nil {
		t.Fatalf("NewMasterKeyContext: %v", err)
	}
	defer keys.Close()

	h1, err := NewFileHash("v1", nil, false)
	if err != nil {
		t.Fatalf("NewFileHash(v1): %v", err)
	}
	h1.Write([]byte("payload"))
	sum1 := h1.Sum(nil)

	h2, err := NewFileHash("v2", keys, false)
	if err != nil {
		t.Fatalf("NewFileHash(v2): %v", err)
	}
	h2.Write([]byte("payload"))
	sum2 := h2.Sum(nil)

	if bytes.Equal(sum1, sum2) {
		t.Error("v1 plain SHA-256 and v2 HMAC-SHA256 must differ for the same key/payload")
	}

	h3, err := NewFileHash("v2", keys, true)
	if err != nil {
		t.Fatalf("NewFileHash(v2 paranoid): %v", err)
	}
	h3.Write([]byte("payload"))
	sum3 := h3.Sum(nil)
	if bytes.Equal(sum2, sum3) {
		t.Error("paranoid HMAC-SHA3-512 must differ from HMAC-SHA256")
	}

	if _, err := NewFileHash("v2", nil, false); err == nil {
		t.Error("v2 without key material must be rejected")
	}
}

func TestVerifyHashConstantTime(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{1, 2, 3, 4}
	c := []byte{1, 2, 3, 5}

	if !VerifyHash(a, b) {
		t.Error("identical hashes should verify")
	}
	if VerifyHash(a, c) {
		t.Error("differing hashes should not verify")
	}
	if VerifyHash(a, []byte{1, 2, 3}) {
		t.Error("differing lengths should not verify")
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter()

	if c.Add(1000) {
		t.Error("small amounts should not trigger rekey")
	}
	if !c.Add(RekeyThreshold) {
		t.Error("crossing the threshold should trigger rekey")
	}

	c.Reset()
	if c.Count() != 0 {
		t.Error("counter should be 0 after reset")
	}
}

func TestChunkCipherRekeyLockstep(t *testing.T) {
	blockKey := make([]byte, KeySize)
	for i := range blockKey {
		blockKey[i] = byte(i * 3)
	}
	aad := AADString("backup_20250112_020000", "v2", "/home/user/b.bin")
	chunks := [][]byte{
		[]byte("first chunk payload"),
		[]byte("second chunk payload"),
		[]byte("third chunk payload"),
	}

	newLowThreshold := func() *ChunkCipher {
		cc, err := NewChunkCipher(blockKey, false)
		if err != nil {
			t.Fatalf("NewChunkCipher: %v", err)
		}
		cc.counter = &Counter{threshold: 16}
		return cc
	}

	enc := newLowThreshold()
	dec := newLowThreshold()
	var wires [][]byte
	for i, p := range chunks {
		wire, err := enc.EncryptChunk(p, uint64(i), aad)
		if err != nil {
			t.Fatalf("EncryptChunk(%d): %v", i, err)
		}
		wires = append(wires, wire)

		got, err := dec.DecryptChunk(wire, uint64(i), aad)
		if err != nil {
			t.Fatalf("DecryptChunk(%d) after rekey: %v", i, err)
		}
		if !bytes.Equal(got, chunks[i]) {
			t.Fatalf("chunk %d round trip mismatch", i)
		}
	}
	if enc.generation == 0 {
		t.Fatal("encryptor never rotated; threshold override ineffective")
	}

	// A decryptor that never rotates (default threshold) opens the first
	// chunk but falls out of sync once the encryptor has rekeyed.
	stale, err := NewChunkCipher(blockKey, false)
	if err != nil {
		t.Fatalf("NewChunkCipher: %v", err)
	}
	if _, err := stale.DecryptChunk(wires[0], 0, aad); err != nil {
		t.Fatalf("pre-rotation chunk must open under the original key: %v", err)
	}
	if _, err := stale.DecryptChunk(wires[1], 1, aad); err == nil {
		t.Fatal("post-rotation chunk opened under a non-rotated key")
	}
}

func TestLegacyChunkCipherRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	lc, err := NewLegacyChunkCipher(key)
	if err != nil {
		t.Fatalf("NewLegacyChunkCipher: %v", err)
	}

	nonce, err := RandomBytes(12)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	plaintext := []byte("legacy v1 payload")

	wire, err := lc.EncryptChunk(plaintext, nonce)
	if err != nil {
		t.Fatalf("EncryptChunk: %v", err)
	}

	lc2, _ := NewLegacyChunkCipher(key)
	got, err := lc2.DecryptChunk(wire)
	if err != nil {
		t.Fatalf("DecryptChunk: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("legacy round trip mismatch: got %q want %q", got, plaintext)
	}
}
