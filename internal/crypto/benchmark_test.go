package crypto

import "testing"

// BenchmarkDeriveKeyBalanced measures Argon2id key derivation at the
// balanced profile. This is intentionally slow for security.
func BenchmarkDeriveKeyBalanced(b *testing.B) {
	password := []byte("test-password-123")
	params, err := NewBalancedParams()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DeriveKey(password, params)
	}
}

// BenchmarkDeriveKeyParanoid measures Argon2id key derivation at the
// paranoid profile.
func BenchmarkDeriveKeyParanoid(b *testing.B) {
	password := []byte("test-password-123")
	params, err := NewParanoidParams()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DeriveKey(password, params)
	}
}

// BenchmarkChunkCipherEncrypt measures v2 chunk sealing throughput.
func BenchmarkChunkCipherEncrypt(b *testing.B) {
	blockKey := make([]byte, KeySize)
	cc, err := NewChunkCipher(blockKey, false)
	if err != nil {
		b.Fatal(err)
	}
	plaintext := make([]byte, MaxChunkSize)
	aad := AADString("backup_x", "v2", "/a")

	b.ResetTimer()
	b.SetBytes(int64(len(plaintext)))
	for i := 0; i < b.N; i++ {
		_, _ = cc.EncryptChunk(plaintext, uint64(i), aad)
	}
}

// BenchmarkChunkCipherEncryptParanoid measures the Serpent-cascaded path.
func BenchmarkChunkCipherEncryptParanoid(b *testing.B) {
	blockKey := make([]byte, KeySize)
	cc, err := NewChunkCipher(blockKey, true)
	if err != nil {
		b.Fatal(err)
	}
	plaintext := make([]byte, MaxChunkSize)
	aad := AADString("backup_x", "v2", "/a")

	b.ResetTimer()
	b.SetBytes(int64(len(plaintext)))
	for i := 0; i < b.N; i++ {
		_, _ = cc.EncryptChunk(plaintext, uint64(i), aad)
	}
}

// BenchmarkNewFileHashV2 measures HMAC-SHA256 initialization.
func BenchmarkNewFileHashV2(b *testing.B) {
	keys, _ := NewMasterKeyContext(make([]byte, KeySize))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = NewFileHash("v2", keys, false)
	}
}

// BenchmarkFileHashWrite measures HMAC-SHA256 data processing.
func BenchmarkFileHashWrite(b *testing.B) {
	keys, _ := NewMasterKeyContext(make([]byte, KeySize))
	h, _ := NewFileHash("v2", keys, false)
	data := make([]byte, MaxChunkSize)

	b.ResetTimer()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		h.Reset()
		h.Write(data)
		_ = h.Sum(nil)
	}
}

// BenchmarkSecureZero measures secure memory zeroing performance.
func BenchmarkSecureZero(b *testing.B) {
	data := make([]byte, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SecureZero(data)
	}
}

// BenchmarkSecureZeroLarge measures secure zeroing of larger buffers.
func BenchmarkSecureZeroLarge(b *testing.B) {
	data := make([]byte, MaxChunkSize)

	b.ResetTimer()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		SecureZero(data)
	}
}
