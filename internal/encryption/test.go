package encryption

import (
	"bytes"
	"fmt"
)

// testHeader is prepended by TestSealer so sealed output differs from the
// plaintext while staying deterministic and reversible.
var testHeader = []byte("OPSENC\x00\x00")

// TestSealer is a deterministic sealer for tests. It needs no keys.
type TestSealer struct{}

func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (e *TestSealer) EnsureSetup() error { return nil }

func (e *TestSealer) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, 0, len(testHeader)+len(plaintext))
	out = append(out, testHeader...)
	return append(out, plaintext...), nil
}

func (e *TestSealer) Open(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return bytes.Clone(ciphertext[len(testHeader):]), nil
}
