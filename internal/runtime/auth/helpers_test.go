package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
)

func pemEncode(typ string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
}

func marshalPKCS1Private(key *rsa.PrivateKey) []byte {
	return x509.MarshalPKCS1PrivateKey(key)
}

func marshalPKCS1Public(key *rsa.PublicKey) []byte {
	return x509.MarshalPKCS1PublicKey(key)
}
