package notification

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/oasisprotocol/curve25519-voi/primitives/x25519"
	"github.com/spf13/afero"

	"github.com/peerpull/go-peerpull/hash"
)

const (
	// KeySize is the size of both halves of an identity or ephemeral key pair.
	KeySize = x25519.PointSize
	// KeyIDSize is the size of the hashed public key carried inside beacons.
	KeyIDSize = 16
)

// PublicKey is an X25519 public key.
type PublicKey [KeySize]byte

// PrivateKey is an X25519 scalar.
type PrivateKey [KeySize]byte

// KeyID is the truncated hash of a public key. It is what a beacon reveals to
// its intended recipient about the sender.
type KeyID [KeyIDSize]byte

// KeyID returns the key id of the public key.
func (pk PublicKey) KeyID() KeyID {
	sum := hash.Blake3(pk[:])
	var id KeyID
	copy(id[:], sum[:KeyIDSize])
	return id
}

// String returns the hex encoded key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// ParsePublicKey parses a hex encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	if hex.DecodedLen(len(s)) != KeySize {
		return pk, fmt.Errorf("invalid public key length %d", hex.DecodedLen(len(s)))
	}
	if _, err := hex.Decode(pk[:], []byte(s)); err != nil {
		return pk, fmt.Errorf("decode public key: %w", err)
	}
	return pk, nil
}

// String returns the hex encoded key id.
func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// KeyPair is a local identity or an ephemeral key.
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
}

// GenerateKeyPair creates a key pair using randomness from rng.
// If rng is nil crypto/rand is used.
func GenerateKeyPair(rng io.Reader) (KeyPair, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var priv PrivateKey
	if _, err := io.ReadFull(rng, priv[:]); err != nil {
		return KeyPair{}, fmt.Errorf("read random scalar: %w", err)
	}
	return KeyPairFromPrivate(priv)
}

// KeyPairFromPrivate derives the public half of priv.
func KeyPairFromPrivate(priv PrivateKey) (KeyPair, error) {
	pub, err := x25519.X25519(priv[:], x25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	kp := KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// LoadOrCreateKeyPair reads a hex encoded private key from path, creating and
// persisting a fresh one if the file does not exist.
func LoadOrCreateKeyPair(fsys afero.Fs, path string) (KeyPair, error) {
	data, err := afero.ReadFile(fsys, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return createKeyPair(fsys, path)
	case err != nil:
		return KeyPair{}, fmt.Errorf("read identity file %s: %w", filepath.Base(path), err)
	}
	data = bytes.TrimSpace(data)
	if n := hex.DecodedLen(len(data)); n != KeySize {
		return KeyPair{}, fmt.Errorf("invalid key size %d/%d for %s", n, KeySize, filepath.Base(path))
	}
	var priv PrivateKey
	if _, err := hex.Decode(priv[:], data); err != nil {
		return KeyPair{}, fmt.Errorf("decoding private key in %s: %w", filepath.Base(path), err)
	}
	return KeyPairFromPrivate(priv)
}

func createKeyPair(fsys afero.Fs, path string) (KeyPair, error) {
	kp, err := GenerateKeyPair(nil)
	if err != nil {
		return KeyPair{}, err
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return KeyPair{}, fmt.Errorf("create identity dir: %w", err)
	}
	dst := make([]byte, hex.EncodedLen(KeySize))
	hex.Encode(dst, kp.Private[:])
	tmp := path + ".tmp"
	if err := afero.WriteFile(fsys, tmp, dst, 0o600); err != nil {
		return KeyPair{}, fmt.Errorf("write identity file: %w", err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		return KeyPair{}, fmt.Errorf("rename identity file: %w", err)
	}
	return kp, nil
}
