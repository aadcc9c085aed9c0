package services

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Keypair is a freshly generated chain keypair
type Keypair struct {
	Address       string
	PrivateKeyHex string
}

// KeyGenerator mints chain keypairs for ephemeral deposit wallets
type KeyGenerator interface {
	Generate() (Keypair, error)
}

// secpKeyGenerator generates secp256k1 keypairs
type secpKeyGenerator struct{}

// NewKeyGenerator creates the production key generator
func NewKeyGenerator() KeyGenerator {
	return secpKeyGenerator{}
}

func (secpKeyGenerator) Generate() (Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to generate wallet key: %w", err)
	}

	return Keypair{
		Address:       crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}
