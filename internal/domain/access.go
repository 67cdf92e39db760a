package domain

import "time"

// AccessGrant 链上访问授权（本服务只读取）
// ExpiresAt == 0 表示在显式撤销前一直有效
type AccessGrant struct {
	Accessor   string `json:"accessor"`
	AccessType string `json:"accessType"`
	GrantedAt  int64  `json:"grantedAt"`
	ExpiresAt  int64  `json:"expiresAt"`
	IsGranted  bool   `json:"isGranted"`
}

// ActiveAt 授权在 now 时刻是否有效
func (g AccessGrant) ActiveAt(now time.Time) bool {
	if !g.IsGranted {
		return false
	}
	return g.ExpiresAt == 0 || now.Unix() < g.ExpiresAt
}

// AccessRequestStatus 访问申请状态（与合约 uint8 对齐）
type AccessRequestStatus uint8

const (
	RequestPending AccessRequestStatus = iota
	RequestApproved
	RequestRejected
)

func (s AccessRequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestApproved:
		return "approved"
	case RequestRejected:
		return "rejected"
	}
	return "unknown"
}

// AccessRequest 访问申请
type AccessRequest struct {
	Requester   string              `json:"requester"`
	AccessType  string              `json:"accessType"`
	RequestedAt int64               `json:"requestedAt"`
	Status      AccessRequestStatus `json:"status"`
}

// HospitalInfo 医院注册信息
type HospitalInfo struct {
	Name          string `json:"name"`
	LicenseNumber string `json:"licenseNumber"`
	Whitelisted   bool   `json:"whitelisted"`
	RegisteredAt  int64  `json:"registeredAt"`
}

// PatientProfile 链上身份
type PatientProfile struct {
	Wallet       string `json:"wallet"`
	RegisteredAt int64  `json:"registeredAt"`
	Registered   bool   `json:"registered"`
}
