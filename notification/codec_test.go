package notification

import (
	"bytes"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func genKey(tb testing.TB) KeyPair {
	tb.Helper()
	kp, err := GenerateKeyPair(nil)
	require.NoError(tb, err)
	return kp
}

func bookOf(keys ...KeyPair) AddressBook {
	byID := make(map[KeyID]PublicKey, len(keys))
	for _, k := range keys {
		byID[k.Public.KeyID()] = k.Public
	}
	return func(id KeyID) (PublicKey, bool) {
		pk, ok := byID[id]
		return pk, ok
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	sender := genKey(t)
	targets := []KeyPair{genKey(t), genKey(t), genKey(t)}
	pubs := make([]PublicKey, 0, len(targets))
	for _, target := range targets {
		pubs = append(pubs, target.Public)
	}

	encoded, err := NewCodec().EncodeBeacons(pubs, sender, time.Minute)
	require.NoError(t, err)
	require.Len(t, encoded.Psks, len(targets))

	for _, target := range targets {
		result, err := Decode(encoded.Data, target, bookOf(sender))
		require.NoError(t, err)
		require.NotNil(t, result)
		require.Equal(t, sender.Public.KeyID(), result.UnencryptedKeyID)
		require.Equal(t, sender.Public, result.SenderPublicKey)

		psk, ok := encoded.Psks[result.PskIdentity]
		require.True(t, ok, "psk identity must match on both sides")
		require.Equal(t, target.Public, psk.PublicKey)
		require.Equal(t, psk.Secret, result.PskSecret)
	}
}

func TestCodec_NotTargeted(t *testing.T) {
	sender := genKey(t)
	data, err := Encode([]PublicKey{genKey(t).Public, genKey(t).Public}, sender, time.Minute)
	require.NoError(t, err)

	result, err := Decode(data, genKey(t), bookOf(sender))
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestCodec_UnknownSender(t *testing.T) {
	sender := genKey(t)
	target := genKey(t)
	data, err := Encode([]PublicKey{target.Public}, sender, time.Minute)
	require.NoError(t, err)

	result, err := Decode(data, target, bookOf(genKey(t)))
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestCodec_ForgedSender(t *testing.T) {
	// attacker knows the key id of the victim but not the private key
	victim := genKey(t)
	attacker := genKey(t)
	target := genKey(t)
	forged := KeyPair{Private: attacker.Private, Public: victim.Public}

	data, err := Encode([]PublicKey{target.Public}, forged, time.Minute)
	require.NoError(t, err)

	result, err := Decode(data, target, bookOf(victim))
	require.NoError(t, err)
	require.Nil(t, result, "mac must not verify")
}

func TestCodec_Expired(t *testing.T) {
	sender := genKey(t)
	target := genKey(t)
	data, err := Encode([]PublicKey{target.Public}, sender, -time.Second)
	require.NoError(t, err)

	result, err := Decode(data, target, func(KeyID) (PublicKey, bool) {
		require.FailNow(t, "address book must not be consulted")
		return PublicKey{}, false
	})
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestCodec_ExpirationWindow(t *testing.T) {
	sender := genKey(t)
	target := genKey(t)
	clock := clockwork.NewFakeClock()
	codec := NewCodec(WithClock(clock))

	data, err := codec.Encode([]PublicKey{target.Public}, sender, time.Minute)
	require.NoError(t, err)

	result, err := codec.Decode(data, target, bookOf(sender))
	require.NoError(t, err)
	require.NotNil(t, result)

	clock.Advance(2 * time.Minute)
	result, err = codec.Decode(data, target, bookOf(sender))
	require.NoError(t, err)
	require.Nil(t, result)

	data, err = codec.Encode([]PublicKey{target.Public}, sender, MaxExpirationAhead+time.Hour)
	require.NoError(t, err)
	result, err = codec.Decode(data, target, bookOf(sender))
	require.NoError(t, err)
	require.Nil(t, result, "expiration too far ahead")
}

func TestCodec_Deterministic(t *testing.T) {
	sender := genKey(t)
	target := genKey(t)
	clock := clockwork.NewFakeClock()
	seed := bytes.Repeat([]byte{7}, KeySize)

	first, err := NewCodec(WithClock(clock), WithRand(bytes.NewReader(seed))).
		Encode([]PublicKey{target.Public}, sender, time.Minute)
	require.NoError(t, err)
	second, err := NewCodec(WithClock(clock), WithRand(bytes.NewReader(seed))).
		Encode([]PublicKey{target.Public}, sender, time.Minute)
	require.NoError(t, err)
	require.Equal(t, first, second)

	third, err := NewCodec(WithClock(clock)).Encode([]PublicKey{target.Public}, sender, time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

func TestCodec_EncodeErrors(t *testing.T) {
	sender := genKey(t)
	_, err := Encode(nil, sender, time.Minute)
	require.ErrorIs(t, err, ErrNoTargets)

	_, err = Encode(make([]PublicKey, MaxBeacons+1), sender, time.Minute)
	require.Error(t, err)
}

func TestCodec_Malformed(t *testing.T) {
	sender := genKey(t)
	target := genKey(t)
	data, err := Encode([]PublicKey{target.Public}, sender, time.Minute)
	require.NoError(t, err)

	for _, tc := range []struct {
		desc string
		data []byte
	}{
		{"empty", nil},
		{"short preamble", data[:KeySize/2]},
		{"truncated beacon", data[:len(data)-1]},
		{"trailing bytes", append(append([]byte{}, data...), 0)},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			result, err := Decode(tc.data, target, bookOf(sender))
			require.ErrorIs(t, err, ErrMalformed)
			require.Nil(t, result)
		})
	}
}

func TestCodec_Size(t *testing.T) {
	sender := genKey(t)
	targets := make([]PublicKey, 10)
	for i := range targets {
		targets[i] = genKey(t).Public
	}
	data, err := Encode(targets, sender, time.Minute)
	require.NoError(t, err)
	// preamble key, compact expiration and compact count, then fixed size beacons
	require.Greater(t, len(data), KeySize+len(targets)*BeaconSize)
	require.Less(t, len(data), KeySize+len(targets)*BeaconSize+16)
}

func BenchmarkDecode(b *testing.B) {
	sender := genKey(b)
	target := genKey(b)
	targets := make([]PublicKey, 100)
	for i := range targets {
		targets[i] = genKey(b).Public
	}
	targets[len(targets)-1] = target.Public
	data, err := Encode(targets, sender, time.Hour)
	require.NoError(b, err)
	book := bookOf(sender)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		result, err := Decode(data, target, book)
		if err != nil || result == nil {
			b.Fatal("decode failed")
		}
	}
}
