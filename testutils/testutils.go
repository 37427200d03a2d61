package testutils

import (
	"crypto/ecdsa"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Key struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

func CreateKey(rand io.Reader) Key {
	privateKey, err := ecdsa.GenerateKey(crypto.S256(), rand)
	if err != nil {
		panic(err)
	}
	return Key{
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		PrivateKey: privateKey,
	}
}
