// Package notification implements the privacy preserving beacons peers use to
// announce that they hold data for somebody, and the endpoint serving them.
//
// A beacon stream is a preamble (ephemeral public key Ke and expiration)
// followed by one beacon per target. Only the holder of a target private key
// can open its beacon and learn the key id of the sender; everybody else sees
// random looking bytes.
package notification

import (
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oasisprotocol/curve25519-voi/primitives/x25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/peerpull/go-peerpull/codec"
	"github.com/peerpull/go-peerpull/hash"
)

const (
	// MaxExpirationAhead is how far in the future a preamble may expire.
	// Anything further is treated as a forged or broken clock and never matches.
	MaxExpirationAhead = 24 * time.Hour

	beaconKeyInfo = "peerpull/beacon/key"
	beaconMacInfo = "peerpull/beacon/mac"
	pskInfo       = "peerpull/psk/"
	pskSecretSize = 32
)

// ErrNoTargets is returned when encoding is requested for an empty target list.
var ErrNoTargets = errors.New("no beacon targets")

// AddressBook resolves a key id to the full public key of a peer we know about.
type AddressBook func(KeyID) (PublicKey, bool)

// DecodeResult is a successful match of a beacon against the local key.
type DecodeResult struct {
	UnencryptedKeyID KeyID
	SenderPublicKey  PublicKey
	// PskIdentity and PskSecret are shared with the sender of the beacon and
	// authenticate the replication connection that follows.
	PskIdentity string
	PskSecret   []byte
}

// PskEntry is the pre-shared key material generated for one target.
type PskEntry struct {
	PublicKey PublicKey
	Secret    []byte
}

// Encoded is a beacon stream together with the pre-shared keys generated for its targets.
type Encoded struct {
	Data []byte
	Psks map[string]PskEntry
}

// CodecOpt configures a Codec.
type CodecOpt func(*Codec)

// WithClock sets the clock used for expiration.
func WithClock(clock clockwork.Clock) CodecOpt {
	return func(c *Codec) {
		c.clock = clock
	}
}

// WithRand sets the randomness source for ephemeral keys.
func WithRand(rng io.Reader) CodecOpt {
	return func(c *Codec) {
		c.rng = rng
	}
}

// Codec encodes and decodes beacon streams. It holds no state besides its clock
// and randomness source and is safe for concurrent use.
type Codec struct {
	clock clockwork.Clock
	rng   io.Reader
}

// NewCodec creates a codec.
func NewCodec(opts ...CodecOpt) *Codec {
	c := &Codec{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCodec = NewCodec()

// Encode creates a beacon stream for targets using the default codec.
func Encode(targets []PublicKey, local KeyPair, ttl time.Duration) ([]byte, error) {
	return defaultCodec.Encode(targets, local, ttl)
}

// Decode matches a beacon stream against the local key using the default codec.
func Decode(data []byte, local KeyPair, book AddressBook) (*DecodeResult, error) {
	return defaultCodec.Decode(data, local, book)
}

// Encode creates a beacon stream announcing local to every target.
func (c *Codec) Encode(targets []PublicKey, local KeyPair, ttl time.Duration) ([]byte, error) {
	encoded, err := c.EncodeBeacons(targets, local, ttl)
	if err != nil {
		return nil, err
	}
	return encoded.Data, nil
}

// EncodeBeacons creates a beacon stream and the pre-shared keys each target
// will derive after decoding it.
func (c *Codec) EncodeBeacons(targets []PublicKey, local KeyPair, ttl time.Duration) (*Encoded, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if len(targets) > MaxBeacons {
		return nil, fmt.Errorf("too many targets: %d > %d", len(targets), MaxBeacons)
	}
	ephemeral, err := GenerateKeyPair(c.rng)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	msg := message{
		EphemeralKey: ephemeral.Public,
		Expiration:   uint64(c.clock.Now().Add(ttl).UnixMilli()),
		Beacons:      make([]beacon, len(targets)),
	}
	preamble := msg.preamble()
	salt := msg.expirationBytes()
	keyID := local.Public.KeyID()
	psks := make(map[string]PskEntry, len(targets))

	for i, target := range targets {
		sey, err := x25519.X25519(ephemeral.Private[:], target[:])
		if err != nil {
			return nil, fmt.Errorf("ephemeral exchange with target %d: %w", i, err)
		}
		aead, nonce, err := beaconCipher(sey, salt)
		if err != nil {
			return nil, err
		}
		sealed := aead.Seal(nil, nonce, keyID[:], preamble)
		copy(msg.Beacons[i].ciphertext(), sealed)

		sxy, err := x25519.X25519(local.Private[:], target[:])
		if err != nil {
			return nil, fmt.Errorf("static exchange with target %d: %w", i, err)
		}
		mac, err := beaconMac(sxy, salt)
		if err != nil {
			return nil, err
		}
		copy(msg.Beacons[i].mac(), mac)

		identity := pskIdentity(&msg.Beacons[i])
		secret, err := pskSecret(sxy, identity)
		if err != nil {
			return nil, err
		}
		psks[identity] = PskEntry{PublicKey: target, Secret: secret}
	}

	data, err := codec.Encode(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode beacons: %w", err)
	}
	return &Encoded{Data: data, Psks: psks}, nil
}

// Decode looks for a beacon addressed to local. A nil result without error
// means no beacon matched; an error is returned only for malformed input.
// An expired preamble never matches and no beacon is inspected.
func (c *Codec) Decode(data []byte, local KeyPair, book AddressBook) (*DecodeResult, error) {
	var msg message
	if err := codec.Decode(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.Expiration > uint64(1<<63-1) {
		return nil, nil
	}
	now := c.clock.Now()
	expiration := time.UnixMilli(int64(msg.Expiration))
	if expiration.Before(now) || expiration.After(now.Add(MaxExpirationAhead)) {
		return nil, nil
	}

	sey, err := x25519.X25519(local.Private[:], msg.EphemeralKey[:])
	if err != nil {
		// low order ephemeral key, can't be addressed to anybody
		return nil, nil
	}
	salt := msg.expirationBytes()
	aead, nonce, err := beaconCipher(sey, salt)
	if err != nil {
		return nil, err
	}
	preamble := msg.preamble()
	for i := range msg.Beacons {
		plain, err := aead.Open(nil, nonce, msg.Beacons[i].ciphertext(), preamble)
		if err != nil {
			continue
		}
		var id KeyID
		copy(id[:], plain)
		sender, ok := book(id)
		if !ok {
			return nil, nil
		}
		sxy, err := x25519.X25519(local.Private[:], sender[:])
		if err != nil {
			return nil, nil
		}
		mac, err := beaconMac(sxy, salt)
		if err != nil {
			return nil, err
		}
		if !hmac.Equal(mac, msg.Beacons[i].mac()) {
			return nil, nil
		}
		identity := pskIdentity(&msg.Beacons[i])
		secret, err := pskSecret(sxy, identity)
		if err != nil {
			return nil, err
		}
		return &DecodeResult{
			UnencryptedKeyID: id,
			SenderPublicKey:  sender,
			PskIdentity:      identity,
			PskSecret:        secret,
		}, nil
	}
	return nil, nil
}

func derive(secret, salt []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(hash.New, secret, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf %s: %w", info, err)
	}
	return out, nil
}

type aeadCipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func beaconCipher(sey, salt []byte) (aeadCipher, []byte, error) {
	km, err := derive(sey, salt, beaconKeyInfo, chacha20poly1305.KeySize+chacha20poly1305.NonceSize)
	if err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.New(km[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, nil, fmt.Errorf("create beacon cipher: %w", err)
	}
	return aead, km[chacha20poly1305.KeySize:], nil
}

func beaconMac(sxy, salt []byte) ([]byte, error) {
	key, err := derive(sxy, salt, beaconMacInfo, hash.Size)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(hash.New, key)
	mac.Write(salt)
	return mac.Sum(nil)[:macSize], nil
}

func pskIdentity(b *beacon) string {
	return hex.EncodeToString(b[:16])
}

func pskSecret(sxy []byte, identity string) ([]byte, error) {
	return derive(sxy, nil, pskInfo+identity, pskSecretSize)
}
