package ecstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/offlinefirst/synccore/model"
)

// Algorithm identifies the AEAD cipher used to seal a blob, persisted in
// its metadata sidecar so readers can decrypt without guessing.
type Algorithm string

// Algorithm tags, per spec section 3/4.A.
const (
	AlgorithmAES256GCM        Algorithm = "aes256gcm"
	AlgorithmChaCha20Poly1305 Algorithm = "chacha20poly1305"
)

const (
	keySize   = 32 // 256-bit master/derived key
	nonceSize = 12 // standard AEAD nonce size for both ciphers here

	// pbkdf2SaltSize is the minimum salt size required by spec section 4.A.
	pbkdf2SaltSize = 32
	// pbkdf2Iterations is the minimum iteration count required by spec
	// section 4.A.
	pbkdf2Iterations = 100_000

	hkdfInfo = "OfflineFirst-Encryption"
)

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, model.StorageIO(Error.Wrap(err))
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, model.UnsupportedFormat(Error.New("unknown algorithm tag %q", alg))
	}
}

// seal encrypts plaintext with a random nonce under key using alg, and
// returns nonce||ciphertext||tag.
func seal(alg Algorithm, key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, model.StorageIO(Error.Wrap(err))
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// open decrypts nonce||ciphertext||tag under key using alg. Authentication
// failure is reported as model.Corrupted per spec section 4.A's failure
// modes ("decryption/authentication failures surface as Corrupted").
func open(alg Algorithm, key, blob []byte) ([]byte, error) {
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, model.Corrupted(Error.New("ciphertext shorter than nonce"))
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, model.Corrupted(Error.Wrap(err))
	}
	return plaintext, nil
}

// generateMasterKey returns 256 random bits, the master key material
// generated once per store and stored in the secret vault (spec section
// 4.A).
func generateMasterKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, model.StorageIO(Error.Wrap(err))
	}
	return key, nil
}

// DerivePBKDF2 derives a 256-bit key from password and a freshly-generated
// salt (at least 32 bytes), using PBKDF2-HMAC-SHA256 with at least 100,000
// iterations, per spec section 4.A.
func DerivePBKDF2(password []byte) (key, salt []byte, err error) {
	salt = make([]byte, pbkdf2SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, model.StorageIO(Error.Wrap(err))
	}
	key = pbkdf2.Key(password, salt, pbkdf2Iterations, keySize, sha256.New)
	return key, salt, nil
}

// DerivePBKDF2WithSalt re-derives a key from a previously-generated salt,
// for reopening a password-keyed store.
func DerivePBKDF2WithSalt(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdf2Iterations, keySize, sha256.New)
}

// DeriveHKDF derives a 256-bit key from secret material using HKDF-SHA256
// with the literal info string required by spec section 4.A.
func DeriveHKDF(secret, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, model.StorageIO(Error.Wrap(err))
	}
	return key, nil
}
