package notification

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

const (
	// keyIDCiphertextSize is the sealed key id: key id plus poly1305 tag.
	keyIDCiphertextSize = KeyIDSize + 16
	macSize             = 16
	// BeaconSize is the size of a single encoded beacon.
	BeaconSize = keyIDCiphertextSize + macSize
	// MaxBeacons bounds the number of beacons a single preamble may carry.
	MaxBeacons = 1 << 12
)

// ErrMalformed is returned when a beacon stream can't be parsed.
var ErrMalformed = errors.New("malformed beacon stream")

// beacon is a single sealed key id followed by the sender mac.
type beacon [BeaconSize]byte

func (b *beacon) ciphertext() []byte { return b[:keyIDCiphertextSize] }
func (b *beacon) mac() []byte        { return b[keyIDCiphertextSize:] }

// message is the preamble (ephemeral key and expiration) followed by the beacons.
type message struct {
	EphemeralKey PublicKey
	// Expiration is in milliseconds since unix epoch.
	Expiration uint64
	Beacons    []beacon
}

// preamble returns the bytes that every beacon is bound to.
func (m *message) preamble() []byte {
	buf := make([]byte, 0, KeySize+8)
	buf = append(buf, m.EphemeralKey[:]...)
	return binary.BigEndian.AppendUint64(buf, m.Expiration)
}

func (m *message) expirationBytes() []byte {
	return binary.BigEndian.AppendUint64(nil, m.Expiration)
}

// EncodeScale implements scale codec interface.
func (m *message) EncodeScale(enc *scale.Encoder) (int, error) {
	var total int
	{
		n, err := scale.EncodeByteArray(enc, m.EphemeralKey[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, m.Expiration)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		if len(m.Beacons) > MaxBeacons {
			return total, fmt.Errorf("too many beacons: %d > %d", len(m.Beacons), MaxBeacons)
		}
		n, err := scale.EncodeCompact32(enc, uint32(len(m.Beacons)))
		if err != nil {
			return total, err
		}
		total += n
	}
	for i := range m.Beacons {
		n, err := scale.EncodeByteArray(enc, m.Beacons[i][:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale codec interface.
func (m *message) DecodeScale(dec *scale.Decoder) (int, error) {
	var total int
	{
		n, err := scale.DecodeByteArray(dec, m.EphemeralKey[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		m.Expiration = field
		total += n
	}
	count, n, err := scale.DecodeCompact32(dec)
	if err != nil {
		return total, err
	}
	total += n
	if count == 0 || count > MaxBeacons {
		return total, fmt.Errorf("invalid number of beacons %d", count)
	}
	m.Beacons = make([]beacon, count)
	for i := range m.Beacons {
		n, err := scale.DecodeByteArray(dec, m.Beacons[i][:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
