package encryption

import (
	"bytes"
	"fmt"
)

// testHeader is prepended by TestSealer so sealed output differs from the
// plaintext while staying deterministic.
var testHeader = []byte("SONEENC\x00")

// TestSealer is a deterministic, reversible Sealer for tests. It requires no keys.
type TestSealer struct{}

var _ Sealer = (*TestSealer)(nil)

func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (*TestSealer) Seal(plaintext []byte) ([]byte, error) {
	return append(append([]byte(nil), testHeader...), plaintext...), nil
}

func (*TestSealer) Open(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return append([]byte(nil), ciphertext[len(testHeader):]...), nil
}
