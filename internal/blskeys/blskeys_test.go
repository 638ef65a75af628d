package blskeys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp := NewKeypair()
	msg := []byte("op-id:deadbeef")

	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	err = Verify(kp.Public, msg, sig)
	assert.NoError(t, err)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp := NewKeypair()
	other := NewKeypair()
	msg := []byte("op-id:deadbeef")

	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	err = Verify(other.Public, msg, sig)
	assert.Error(t, err)
}

func TestEncodeDecodePublicKeyRoundTrip(t *testing.T) {
	kp := NewKeypair()

	b, err := EncodePublicKey(kp.Public)
	require.NoError(t, err)

	decoded, err := DecodePublicKey(b)
	require.NoError(t, err)

	assert.True(t, EqualPublicKeys(kp.Public, decoded))
}

func TestSpentProofThresholdTiedToElderCount(t *testing.T) {
	assert.Equal(t, 3, SpentProofThreshold(7))
	assert.Equal(t, 2, SpentProofThreshold(4))
}

func TestRecoverSpentProofInsufficientShares(t *testing.T) {
	_, err := RecoverSpentProof(nil, []byte("msg"), nil, 5, 7)
	assert.ErrorIs(t, err, ErrInsufficientShares)
}
