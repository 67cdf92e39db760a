package metatx

import (
	"context"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/chain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"
)

// 各调用的 gas 上限（保守上界，不是估算值）
const (
	GasGrantAccess          uint64 = 200_000
	GasRevokeAccess         uint64 = 150_000
	GasAddMedicalRecord     uint64 = 500_000
	GasRegisterHospital     uint64 = 300_000
	GasRegisterPatient      uint64 = 150_000
	GasRequestAccess        uint64 = 200_000
	GasApproveAccessRequest uint64 = 200_000
	GasRejectAccessRequest  uint64 = 200_000
)

func (c *Client) run(ctx context.Context, signer Signer, call Call, encErr error) (*Request, error) {
	if encErr != nil {
		return nil, encErr
	}
	return c.Execute(ctx, signer, call)
}

// GrantAccess 患者授权 accessor；expiresAt 为 0 表示不过期
func (c *Client) GrantAccess(ctx context.Context, signer Signer, accessor, accessType string, expiresAt int64) (*Request, error) {
	data, err := chain.EncodeGrantAccess(accessor, accessType, expiresAt)
	return c.run(ctx, signer, Call{To: c.contracts.AccessControl, Data: data, Gas: GasGrantAccess}, err)
}

// RevokeAccess 患者撤销授权
func (c *Client) RevokeAccess(ctx context.Context, signer Signer, accessor string) (*Request, error) {
	data, err := chain.EncodeRevokeAccess(accessor)
	return c.run(ctx, signer, Call{To: c.contracts.AccessControl, Data: data, Gas: GasRevokeAccess}, err)
}

// AddMedicalRecord 医院锚定 {cid, hash}
func (c *Client) AddMedicalRecord(ctx context.Context, signer Signer, patient string, ref domain.ContentReference) (*Request, error) {
	data, err := chain.EncodeAddMedicalRecord(patient, ref.ContentID, ref.ContentHash, ref.DiagnosisCode, ref.RecordType)
	return c.run(ctx, signer, Call{To: c.contracts.IdentityRegistry, Data: data, Gas: GasAddMedicalRecord}, err)
}

// RegisterHospital 医院自注册
func (c *Client) RegisterHospital(ctx context.Context, signer Signer, name, licenseNumber string) (*Request, error) {
	data, err := chain.EncodeRegisterHospital(name, licenseNumber)
	return c.run(ctx, signer, Call{To: c.contracts.HospitalRegistry, Data: data, Gas: GasRegisterHospital}, err)
}

// RegisterPatient 患者自注册身份
func (c *Client) RegisterPatient(ctx context.Context, signer Signer) (*Request, error) {
	data, err := chain.EncodeRegisterPatient()
	return c.run(ctx, signer, Call{To: c.contracts.IdentityRegistry, Data: data, Gas: GasRegisterPatient}, err)
}

// RequestAccess 医生 / 医院申请访问
func (c *Client) RequestAccess(ctx context.Context, signer Signer, patient, accessType string) (*Request, error) {
	data, err := chain.EncodeRequestAccess(patient, accessType)
	return c.run(ctx, signer, Call{To: c.contracts.AccessControl, Data: data, Gas: GasRequestAccess}, err)
}

// ApproveAccessRequest 患者批准第 index 个申请
func (c *Client) ApproveAccessRequest(ctx context.Context, signer Signer, index uint64) (*Request, error) {
	data, err := chain.EncodeApproveAccessRequest(index)
	return c.run(ctx, signer, Call{To: c.contracts.AccessControl, Data: data, Gas: GasApproveAccessRequest}, err)
}

// RejectAccessRequest 患者拒绝第 index 个申请
func (c *Client) RejectAccessRequest(ctx context.Context, signer Signer, index uint64) (*Request, error) {
	data, err := chain.EncodeRejectAccessRequest(index)
	return c.run(ctx, signer, Call{To: c.contracts.AccessControl, Data: data, Gas: GasRejectAccessRequest}, err)
}
