package services

import (
	"encoding/base64"
	"fmt"

	"github.com/anyproto/go-slip10"
	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"
)

// Standard Solana derivation path (coin type 501, first account).
const solanaDerivationPath = "m/44'/501'/0'/0'"

// WalletData is freshly generated key material. The private key is the raw
// 64-byte ed25519 secret key, base64-encoded for storage.
type WalletData struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	Mnemonic   string `json:"mnemonic"`
}

// GenerateWallet produces a new 12-word mnemonic from fresh entropy and
// derives the signing keypair from it. Pure function, no I/O; an entropy
// failure aborts wallet creation upstream.
func GenerateWallet() (WalletData, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return WalletData{}, fmt.Errorf("generating entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return WalletData{}, fmt.Errorf("generating mnemonic: %w", err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	node, err := slip10.DeriveForPath(solanaDerivationPath, seed)
	if err != nil {
		return WalletData{}, fmt.Errorf("deriving keypair: %w", err)
	}

	_, priv := node.Keypair()
	key := solana.PrivateKey(priv)

	return WalletData{
		PublicKey:  key.PublicKey().String(),
		PrivateKey: base64.StdEncoding.EncodeToString(key),
		Mnemonic:   mnemonic,
	}, nil
}

// RecreateKeypair decodes a stored base64 private key back into a signing key.
// Exactly inverts the encoding used by GenerateWallet.
func RecreateKeypair(privateKeyBase64 string) (solana.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	return solana.PrivateKey(raw), nil
}
