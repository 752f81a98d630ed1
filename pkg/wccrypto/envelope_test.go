package wccrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyAgreementIsSymmetric(t *testing.T) {
	a, err := GenerateX25519()
	require.NoError(t, err)
	b, err := GenerateX25519()
	require.NoError(t, err)

	ab, err := DeriveSymKey(a.PrivateKey, b.PublicKey[:])
	require.NoError(t, err)
	ba, err := DeriveSymKey(b.PrivateKey, a.PublicKey[:])
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, TopicFromKey(ab), 64)
}

func TestKeyPairFromHex(t *testing.T) {
	kp, err := GenerateX25519()
	require.NoError(t, err)
	again, err := KeyPairFromHex(kp.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, again.PublicKey)

	_, err = KeyPairFromHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSealOpenType0(t *testing.T) {
	key, err := GenerateRandomBytes(KeyLength)
	require.NoError(t, err)
	msg, err := Seal(key, []byte(`{"id":1}`), TypeSymmetric, nil)
	require.NoError(t, err)

	plain, env, err := Open(key, msg)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(plain))
	assert.Equal(t, TypeSymmetric, env.Type)

	other, _ := GenerateRandomBytes(KeyLength)
	_, _, err = Open(other, msg)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestSealOpenType1CarriesSenderKey(t *testing.T) {
	sender, _ := GenerateX25519()
	receiver, _ := GenerateX25519()
	key, err := DeriveSymKey(sender.PrivateKey, receiver.PublicKey[:])
	require.NoError(t, err)

	msg, err := Seal(key, []byte("hello"), TypeAsymmetric, sender.PublicKey[:])
	require.NoError(t, err)

	env, err := ParseEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, sender.PublicKey[:], env.SenderPublicKey)

	derived, err := DeriveSymKey(receiver.PrivateKey, env.SenderPublicKey)
	require.NoError(t, err)
	plain, err := env.Open(derived)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	for _, msg := range []string{"", "!!!", "AA==", "Ag=="} {
		_, err := ParseEnvelope(msg)
		assert.ErrorIs(t, err, ErrMalformedEnvelope, msg)
	}
}
