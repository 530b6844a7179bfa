package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
)

var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

// Prover holds a plugin's private key and answers challenges.
type Prover struct {
	key     *rsa.PrivateKey
	address string
}

// NewProver builds a Prover from a PEM encoded private key.
func NewProver(privatePEM []byte) (*Prover, error) {
	key, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	address, err := Address(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Prover{key: key, address: address}, nil
}

// Address is the digest of the prover's public key.
func (p *Prover) Address() string {
	return p.address
}

// PublicKey returns the public half of the prover's key.
func (p *Prover) PublicKey() *rsa.PublicKey {
	return &p.key.PublicKey
}

// Unlock decrypts a base64 challenge and returns the base64 PSS signature of
// the recovered plaintext.
func (p *Prover) Unlock(challenge string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return "", errspkg.Wrap(errspkg.KindCrypto, "decode challenge", err)
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, p.key, ciphertext, nil)
	if err != nil {
		return "", errspkg.Wrap(errspkg.KindCrypto, "decrypt challenge", err)
	}
	digest := sha256.Sum256(plaintext)
	sig, err := rsa.SignPSS(rand.Reader, p.key, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return "", errspkg.Wrap(errspkg.KindCrypto, "sign challenge", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verifier holds a plugin's public key and checks its answers. One challenge
// is outstanding at a time and every verification attempt consumes it.
type Verifier struct {
	pub     *rsa.PublicKey
	address string

	mu            sync.Mutex
	lastChallenge []byte
}

// NewVerifier builds a Verifier from a PEM encoded public key.
func NewVerifier(publicPEM []byte) (*Verifier, error) {
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}
	address, err := Address(pub)
	if err != nil {
		return nil, err
	}
	return &Verifier{pub: pub, address: address}, nil
}

// Address is the digest of the verifier's public key.
func (v *Verifier) Address() string {
	return v.address
}

// Lock encrypts nonce under the public key, remembers it as the outstanding
// challenge and returns the base64 ciphertext.
func (v *Verifier) Lock(nonce string) (string, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, v.pub, []byte(nonce), nil)
	if err != nil {
		return "", errspkg.Wrap(errspkg.KindCrypto, "encrypt challenge", err)
	}

	v.mu.Lock()
	v.lastChallenge = []byte(nonce)
	v.mu.Unlock()

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Verify reports whether response answers the outstanding challenge.
func (v *Verifier) Verify(response string) bool {
	return v.Check(response) == nil
}

// Check is Verify with the reason for failure. It returns an error wrapping
// ErrVerificationFailed for a missing challenge, malformed input or a bad
// signature.
func (v *Verifier) Check(response string) error {
	v.mu.Lock()
	challenge := v.lastChallenge
	v.lastChallenge = nil
	v.mu.Unlock()

	if challenge == nil {
		return fmt.Errorf("%w: no outstanding challenge", errspkg.ErrVerificationFailed)
	}
	sig, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		return fmt.Errorf("%w: decode response: %v", errspkg.ErrVerificationFailed, err)
	}
	digest := sha256.Sum256(challenge)
	if err := rsa.VerifyPSS(v.pub, crypto.SHA256, digest[:], sig, pssOptions); err != nil {
		return fmt.Errorf("%w: %v", errspkg.ErrVerificationFailed, err)
	}
	return nil
}
