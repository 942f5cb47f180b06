package services

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWallet(t *testing.T) {
	data, err := GenerateWallet()
	require.NoError(t, err)

	assert.Len(t, strings.Fields(data.Mnemonic), 12, "128 bits of entropy yields a 12-word mnemonic")

	_, err = solana.PublicKeyFromBase58(data.PublicKey)
	assert.NoError(t, err, "public key should be valid base58")

	require.NotEmpty(t, data.PrivateKey)
}

func TestGenerateWallet_Unique(t *testing.T) {
	seenKeys := map[string]bool{}
	seenMnemonics := map[string]bool{}

	for i := 0; i < 1000; i++ {
		data, err := GenerateWallet()
		require.NoError(t, err)
		assert.False(t, seenKeys[data.PublicKey], "duplicate public key on iteration %d", i)
		assert.False(t, seenMnemonics[data.Mnemonic], "duplicate mnemonic on iteration %d", i)
		seenKeys[data.PublicKey] = true
		seenMnemonics[data.Mnemonic] = true
	}
}

func TestRecreateKeypair_RoundTrip(t *testing.T) {
	data, err := GenerateWallet()
	require.NoError(t, err)

	keypair, err := RecreateKeypair(data.PrivateKey)
	require.NoError(t, err)

	assert.Equal(t, data.PublicKey, keypair.PublicKey().String(),
		"recovered keypair must sign for the stored public key")

	sig, err := keypair.Sign([]byte("transfer"))
	require.NoError(t, err)
	assert.True(t, sig.Verify(keypair.PublicKey(), []byte("transfer")))
}

func TestRecreateKeypair_InvalidEncoding(t *testing.T) {
	_, err := RecreateKeypair("not-base64!!!")
	assert.Error(t, err)
}
