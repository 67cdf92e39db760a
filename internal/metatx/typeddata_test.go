package metatx

import (
	"math/big"
	"testing"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDomain = Domain{
	Name:              "MedicalForwarder",
	ChainID:           31337,
	VerifyingContract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
}

func newTestSigner(t *testing.T) *PrivateKeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewPrivateKeySigner(key)
}

func sampleForward(s Signer) domain.ForwardRequest {
	return domain.ForwardRequest{
		From:     s.Address().Hex(),
		To:       "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Value:    big.NewInt(0),
		Gas:      big.NewInt(200_000),
		Nonce:    big.NewInt(7),
		Deadline: big.NewInt(1_700_003_600),
		Data:     []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestSignRequest_RecoversSigner(t *testing.T) {
	s := newTestSigner(t)
	req := sampleForward(s)

	sig, err := SignRequest(testDomain, req, s)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	addr, err := Recover(testDomain, req, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
	assert.NoError(t, VerifySignature(testDomain, req, sig))
}

func TestRecover_AcceptsZeroOneV(t *testing.T) {
	s := newTestSigner(t)
	req := sampleForward(s)
	sig, err := SignRequest(testDomain, req, s)
	require.NoError(t, err)

	sig[64] -= 27
	assert.NoError(t, VerifySignature(testDomain, req, sig))
}

func TestVerifySignature_TamperedFields(t *testing.T) {
	s := newTestSigner(t)
	req := sampleForward(s)
	sig, err := SignRequest(testDomain, req, s)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*domain.ForwardRequest)
	}{
		{"to", func(r *domain.ForwardRequest) { r.To = "0xcccccccccccccccccccccccccccccccccccccccc" }},
		{"value", func(r *domain.ForwardRequest) { r.Value = big.NewInt(1) }},
		{"gas", func(r *domain.ForwardRequest) { r.Gas = big.NewInt(200_001) }},
		{"nonce", func(r *domain.ForwardRequest) { r.Nonce = big.NewInt(8) }},
		{"deadline", func(r *domain.ForwardRequest) { r.Deadline = big.NewInt(1_700_003_601) }},
		{"data", func(r *domain.ForwardRequest) { r.Data = []byte{0xde, 0xad, 0xbe, 0xee} }},
		{"from", func(r *domain.ForwardRequest) { r.From = "0x1111111111111111111111111111111111111111" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := req.Clone()
			tt.mutate(&tampered)
			err := VerifySignature(testDomain, tampered, sig)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestVerifySignature_OtherDomain(t *testing.T) {
	s := newTestSigner(t)
	req := sampleForward(s)
	sig, err := SignRequest(testDomain, req, s)
	require.NoError(t, err)

	other := testDomain
	other.ChainID = 1
	assert.ErrorIs(t, VerifySignature(other, req, sig), ErrInvalidSignature)

	other = testDomain
	other.VerifyingContract = "0x0000000000000000000000000000000000000001"
	assert.ErrorIs(t, VerifySignature(other, req, sig), ErrInvalidSignature)
}

func TestRecover_BadLength(t *testing.T) {
	s := newTestSigner(t)
	_, err := Recover(testDomain, sampleForward(s), make([]byte, 64))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDigest_Deterministic(t *testing.T) {
	s := newTestSigner(t)
	req := sampleForward(s)
	d1, err := Digest(testDomain, req)
	require.NoError(t, err)
	d2, err := Digest(testDomain, req.Clone())
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 32)
}
