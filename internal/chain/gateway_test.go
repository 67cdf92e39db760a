package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"
)

const (
	patientAddr  = "0x1111111111111111111111111111111111111111"
	hospitalAddr = "0x2222222222222222222222222222222222222222"
	doctorAddr   = "0x3333333333333333333333333333333333333333"
)

func testContracts() Contracts {
	return Contracts{
		IdentityRegistry: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		AccessControl:    common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		HospitalRegistry: common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"),
	}
}

func newTestGateway(t *testing.T, backend *fakeBackend, withWallet bool) *Gateway {
	t.Helper()
	var tr *Transactor
	if withWallet {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		tr = NewTransactor(backend, key, 31337)
	}
	return NewGateway(backend, testContracts(), tr, time.Second, zap.NewNop())
}

func TestParseContracts(t *testing.T) {
	c, err := ParseContracts(patientAddr, hospitalAddr, doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(hospitalAddr), c.AccessControl)

	_, err = ParseContracts(patientAddr, "nope", doctorAddr)
	assert.Error(t, err)
}

func TestGateway_Reads(t *testing.T) {
	backend := newFakeBackend()
	hash := crypto.Keccak256Hash([]byte("record"))

	backend.respond(IdentityRegistryABI, "isRegistered", true)
	backend.respond(IdentityRegistryABI, "getPatient", patientTuple{
		Wallet: common.HexToAddress(patientAddr), RegisteredAt: big.NewInt(1700000000), Registered: true,
	})
	backend.respond(IdentityRegistryABI, "getMedicalRecords", []recordTuple{{
		Cid: "Qm123", ContentHash: hash, Hospital: common.HexToAddress(hospitalAddr),
		Timestamp: big.NewInt(1700000100), DiagnosisCode: "J20.9", RecordType: domain.RecordTypeMedical, Verified: true,
	}})
	backend.respond(AccessControlABI, "hasAccess", true)
	backend.respond(AccessControlABI, "getActiveAccessors", []common.Address{common.HexToAddress(doctorAddr)})
	backend.respond(AccessControlABI, "getAccessGrant", grantTuple{
		Accessor: common.HexToAddress(doctorAddr), AccessType: "read",
		GrantedAt: big.NewInt(10), ExpiresAt: big.NewInt(0), IsGranted: true,
	})
	backend.respond(AccessControlABI, "getPendingRequests", []requestTuple{{
		Requester: common.HexToAddress(doctorAddr), AccessType: "read", RequestedAt: big.NewInt(20), Status: 0,
	}})
	backend.respond(AccessControlABI, "getAllRequests", []requestTuple{
		{Requester: common.HexToAddress(doctorAddr), AccessType: "read", RequestedAt: big.NewInt(20), Status: 0},
		{Requester: common.HexToAddress(hospitalAddr), AccessType: "write", RequestedAt: big.NewInt(5), Status: 2},
	})
	backend.respond(HospitalRegistryABI, "isWhitelisted", true)
	backend.respond(HospitalRegistryABI, "getHospitalInfo", hospitalTuple{
		Name: "RS Sehat", LicenseNumber: "LIC-1", Whitelisted: true, RegisteredAt: big.NewInt(99),
	})

	g := newTestGateway(t, backend, false)
	ctx := context.Background()

	assert.True(t, g.IsRegistered(ctx, patientAddr))

	p := g.GetPatient(ctx, patientAddr)
	require.NotNil(t, p)
	assert.Equal(t, common.HexToAddress(patientAddr).Hex(), p.Wallet)
	assert.Equal(t, int64(1700000000), p.RegisteredAt)

	recs := g.GetMedicalRecords(ctx, patientAddr)
	require.Len(t, recs, 1)
	assert.Equal(t, "Qm123", recs[0].ContentID)
	assert.Equal(t, [32]byte(hash), recs[0].ContentHash)
	assert.Equal(t, "J20.9", recs[0].DiagnosisCode)
	assert.True(t, recs[0].Verified)

	assert.True(t, g.HasAccess(ctx, patientAddr, doctorAddr))
	assert.Equal(t, []string{common.HexToAddress(doctorAddr).Hex()}, g.GetActiveAccessors(ctx, patientAddr))

	grant := g.GetAccessGrant(ctx, patientAddr, doctorAddr)
	require.NotNil(t, grant)
	assert.True(t, grant.IsGranted)
	assert.Equal(t, "read", grant.AccessType)

	pending := g.GetPendingRequests(ctx, patientAddr)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.RequestPending, pending[0].Status)

	all := g.GetAllRequests(ctx, patientAddr)
	require.Len(t, all, 2)
	assert.Equal(t, domain.RequestRejected, all[1].Status)

	assert.True(t, g.IsWhitelistedHospital(ctx, hospitalAddr))
	info := g.GetHospitalInfo(ctx, hospitalAddr)
	require.NotNil(t, info)
	assert.Equal(t, "RS Sehat", info.Name)
}

func TestGateway_ReadsDegradeToDefaults(t *testing.T) {
	backend := newFakeBackend()
	backend.callErr = errors.New("connection refused")
	g := newTestGateway(t, backend, false)
	ctx := context.Background()

	assert.False(t, g.IsRegistered(ctx, patientAddr))
	assert.Nil(t, g.GetPatient(ctx, patientAddr))
	assert.Empty(t, g.GetMedicalRecords(ctx, patientAddr))
	assert.NotNil(t, g.GetMedicalRecords(ctx, patientAddr))
	assert.False(t, g.HasAccess(ctx, patientAddr, doctorAddr))
	assert.Empty(t, g.GetActiveAccessors(ctx, patientAddr))
	assert.Nil(t, g.GetAccessGrant(ctx, patientAddr, doctorAddr))
	assert.Empty(t, g.GetPendingRequests(ctx, patientAddr))
	assert.Empty(t, g.GetAllRequests(ctx, patientAddr))
	assert.False(t, g.IsWhitelistedHospital(ctx, hospitalAddr))
	assert.Nil(t, g.GetHospitalInfo(ctx, hospitalAddr))

	// 非法地址同样降级
	assert.False(t, g.IsRegistered(ctx, "not-an-address"))
	assert.Empty(t, g.GetMedicalRecords(ctx, "0x12"))
}

func TestGateway_WriteSuccess(t *testing.T) {
	backend := newFakeBackend()
	g := newTestGateway(t, backend, true)

	res := g.GrantAccess(context.Background(), doctorAddr, "read", 0)
	require.True(t, res.Success)
	require.Nil(t, res.Error)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), res.TxHash)
	assert.Equal(t, testContracts().AccessControl, *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas(), "estimate plus 20% headroom")

	args, err := AccessControlABI.Methods["grantAccess"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(doctorAddr), args[0])
	assert.Equal(t, "read", args[1])
}

func TestGateway_WriteRevertIsNormalized(t *testing.T) {
	backend := newFakeBackend()
	backend.gasErr = errors.New("execution reverted: Already registered")
	g := newTestGateway(t, backend, true)

	res := g.RegisterPatient(context.Background())
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, AlreadyRegistered, res.Error.Category)
	assert.Empty(t, backend.sent)
}

func TestGateway_WriteWithoutWallet(t *testing.T) {
	g := newTestGateway(t, newFakeBackend(), false)
	res := g.WhitelistHospital(context.Background(), hospitalAddr)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, Unknown, res.Error.Category)
}

func TestGateway_WriteEncodingError(t *testing.T) {
	g := newTestGateway(t, newFakeBackend(), true)
	res := g.RevokeAccess(context.Background(), "bad")
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
}

func TestEncodeAddMedicalRecord(t *testing.T) {
	var h [32]byte
	h[0] = 0xab
	data, err := EncodeAddMedicalRecord(patientAddr, "Qm123", h, "J20.9", domain.RecordTypeMedical)
	require.NoError(t, err)

	m := IdentityRegistryABI.Methods["addMedicalRecord"]
	assert.Equal(t, m.ID, data[:4])
	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, "Qm123", args[1])
	assert.Equal(t, h, args[2])

	_, err = EncodeAddMedicalRecord(patientAddr, "", h, "", "")
	assert.Error(t, err)
	_, err = EncodeGrantAccess(doctorAddr, "read", -1)
	assert.Error(t, err)
	_, err = EncodeRegisterHospital("", "x")
	assert.Error(t, err)
}

func TestTransactor_SendWithGasLimitSkipsEstimate(t *testing.T) {
	backend := newFakeBackend()
	backend.gasErr = errors.New("execution reverted: ERC2771ForwarderInvalidSigner")
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tr := NewTransactor(backend, key, 31337)
	to := testContracts().AccessControl

	_, err = tr.Send(context.Background(), to, []byte{0x01, 0x02, 0x03, 0x04}, nil)
	require.Error(t, err, "Send estimates against latest state")

	hash, err := tr.SendWithGasLimit(context.Background(), to, []byte{0x01, 0x02, 0x03, 0x04}, nil, 250_000)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, hash, backend.sent[0].Hash())
	assert.Equal(t, uint64(250_000), backend.sent[0].Gas())
}
