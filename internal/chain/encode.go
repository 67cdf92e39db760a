package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress 校验并解析 hex 地址
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// 以下 Encode* 返回 calldata，供直接写链和 meta-tx 共用

func EncodeRegisterPatient() ([]byte, error) {
	return IdentityRegistryABI.Pack("registerPatient")
}

func EncodeAddMedicalRecord(patient, cid string, contentHash [32]byte, diagnosisCode, recordType string) ([]byte, error) {
	p, err := ParseAddress(patient)
	if err != nil {
		return nil, err
	}
	if cid == "" {
		return nil, fmt.Errorf("content id is required")
	}
	return IdentityRegistryABI.Pack("addMedicalRecord", p, cid, contentHash, diagnosisCode, recordType)
}

func EncodeRequestAccess(patient, accessType string) ([]byte, error) {
	p, err := ParseAddress(patient)
	if err != nil {
		return nil, err
	}
	return AccessControlABI.Pack("requestAccess", p, accessType)
}

func EncodeApproveAccessRequest(index uint64) ([]byte, error) {
	return AccessControlABI.Pack("approveAccessRequest", new(big.Int).SetUint64(index))
}

func EncodeRejectAccessRequest(index uint64) ([]byte, error) {
	return AccessControlABI.Pack("rejectAccessRequest", new(big.Int).SetUint64(index))
}

// EncodeGrantAccess expiresAt == 0 表示不过期
func EncodeGrantAccess(accessor, accessType string, expiresAt int64) ([]byte, error) {
	a, err := ParseAddress(accessor)
	if err != nil {
		return nil, err
	}
	if expiresAt < 0 {
		return nil, fmt.Errorf("expiresAt must not be negative")
	}
	return AccessControlABI.Pack("grantAccess", a, accessType, big.NewInt(expiresAt))
}

func EncodeRevokeAccess(accessor string) ([]byte, error) {
	a, err := ParseAddress(accessor)
	if err != nil {
		return nil, err
	}
	return AccessControlABI.Pack("revokeAccess", a)
}

func EncodeRegisterHospital(name, licenseNumber string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("hospital name is required")
	}
	return HospitalRegistryABI.Pack("registerHospital", name, licenseNumber)
}

func EncodeWhitelistHospital(hospital string) ([]byte, error) {
	h, err := ParseAddress(hospital)
	if err != nil {
		return nil, err
	}
	return HospitalRegistryABI.Pack("whitelistHospital", h)
}
