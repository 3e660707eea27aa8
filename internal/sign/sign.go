// Package sign implements Ed25519 manifest signing and canonical
// serialization.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	skerrors "github.com/nullmedev/skylock/internal/errors"

	"github.com/google/uuid"
)

// FingerprintSize is the number of bytes kept from sha256(public_key).
const FingerprintSize = 8

// KeyPair holds an Ed25519 signing key pair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new Ed25519 key pair using the OS CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, skerrors.NewCryptoError("sign", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// GenerateKeyID returns a random key identifier for a manifest's signature
// block, used whenever a caller signs without assigning its own stable
// key_id (e.g. a key management system tracking keys by name).
func GenerateKeyID() string {
	return uuid.NewString()
}

// Fingerprint returns sha256(public_key)[0:8] as lowercase hex.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:FingerprintSize])
}

// Sign produces a 64-byte Ed25519 signature over canonical, encoded as hex.
func Sign(priv ed25519.PrivateKey, canonical []byte) string {
	sig := ed25519.Sign(priv, canonical)
	return hex.EncodeToString(sig)
}

// Verify checks a hex-encoded signature over canonical against pub.
func Verify(pub ed25519.PublicKey, canonical []byte, signatureHex string) error {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return skerrors.NewCryptoError("sign", skerrors.ErrSigningFailed)
	}
	if len(sig) != ed25519.SignatureSize {
		return skerrors.NewCryptoError("sign", skerrors.ErrSigningFailed)
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return skerrors.NewCryptoError("sign", skerrors.ErrSigningFailed)
	}
	return nil
}

// Canonicalize produces the deterministic byte form of a JSON document used
// for signing: object keys sorted recursively, LF line endings, no trailing
// whitespace, and (if present) the top-level "signature" field removed
// before encoding. doc must unmarshal to a JSON object.
func Canonicalize(doc []byte) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, skerrors.NewValidationError("manifest", "not a JSON object")
	}
	delete(raw, "signature")

	var value any
	if err := json.Unmarshal(doc, &value); err != nil {
		return nil, skerrors.NewValidationError("manifest", "not valid JSON")
	}
	if obj, ok := value.(map[string]any); ok {
		delete(obj, "signature")
	}

	var buf []byte
	buf = appendCanonical(buf, value)
	return buf, nil
}

// appendCanonical recursively renders v with object keys sorted, matching
// encoding/json's representation for scalars and arrays.
func appendCanonical(buf []byte, v any) []byte {
	switch val := v.(type) {
	case map[string]any:
		buf = append(buf, '{')
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyBytes, _ := json.Marshal(k)
			buf = append(buf, keyBytes...)
			buf = append(buf, ':')
			buf = appendCanonical(buf, val[k])
		}
		buf = append(buf, '}')
	case []any:
		buf = append(buf, '[')
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, elem)
		}
		buf = append(buf, ']')
	default:
		encoded, _ := json.Marshal(val)
		buf = append(buf, encoded...)
	}
	return buf
}
