// Package chain 链上网关：身份 / 病历 / 访问控制 / 医院注册合约的只读调用和直接写入。
// 读操作从不向调用方返回错误：失败时记录日志并返回安全默认值（空列表 / false / nil）。
// 写操作返回 WriteResult，错误经过 Normalize 分类。
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Contracts 合约地址
type Contracts struct {
	IdentityRegistry common.Address
	AccessControl    common.Address
	HospitalRegistry common.Address
}

// ParseContracts 从配置字符串解析合约地址
func ParseContracts(identity, access, hospital string) (Contracts, error) {
	var c Contracts
	var err error
	if c.IdentityRegistry, err = ParseAddress(identity); err != nil {
		return c, fmt.Errorf("identity registry: %w", err)
	}
	if c.AccessControl, err = ParseAddress(access); err != nil {
		return c, fmt.Errorf("access control: %w", err)
	}
	if c.HospitalRegistry, err = ParseAddress(hospital); err != nil {
		return c, fmt.Errorf("hospital registry: %w", err)
	}
	return c, nil
}

// WriteResult 写链结果
type WriteResult struct {
	Success bool        `json:"success"`
	TxHash  string      `json:"txHash,omitempty"`
	Error   *WriteError `json:"error,omitempty"`
}

// Gateway 链上网关
type Gateway struct {
	backend    Backend
	contracts  Contracts
	transactor *Transactor // nil 时只读
	timeout    time.Duration
	logger     *zap.Logger
}

// NewGateway transactor 可为 nil
func NewGateway(backend Backend, contracts Contracts, transactor *Transactor, timeout time.Duration, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		backend:    backend,
		contracts:  contracts,
		transactor: transactor,
		timeout:    timeout,
		logger:     logger,
	}
}

// Contracts 返回合约地址
func (g *Gateway) Contracts() Contracts { return g.contracts }

func (g *Gateway) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (g *Gateway) readFailed(method string, err error, fields ...zap.Field) {
	g.logger.Warn("chain read failed, returning default",
		append([]zap.Field{zap.String("method", method), zap.Error(err)}, fields...)...)
}

func (g *Gateway) readBool(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) bool {
	out, err := g.call(ctx, to, parsed, method, args...)
	if err != nil {
		g.readFailed(method, err)
		return false
	}
	v, ok := out[0].(bool)
	if !ok {
		g.readFailed(method, fmt.Errorf("unexpected type %T", out[0]))
		return false
	}
	return v
}

func parseOrLog(g *Gateway, method, addr string) (common.Address, bool) {
	a, err := ParseAddress(addr)
	if err != nil {
		g.readFailed(method, err)
		return common.Address{}, false
	}
	return a, true
}

// --- reads ---

// IsRegistered 身份是否存在
func (g *Gateway) IsRegistered(ctx context.Context, user string) bool {
	a, ok := parseOrLog(g, "isRegistered", user)
	if !ok {
		return false
	}
	return g.readBool(ctx, g.contracts.IdentityRegistry, IdentityRegistryABI, "isRegistered", a)
}

type patientTuple struct {
	Wallet       common.Address
	RegisteredAt *big.Int
	Registered   bool
}

// GetPatient 患者档案，失败或未注册返回 nil
func (g *Gateway) GetPatient(ctx context.Context, patient string) *domain.PatientProfile {
	a, ok := parseOrLog(g, "getPatient", patient)
	if !ok {
		return nil
	}
	out, err := g.call(ctx, g.contracts.IdentityRegistry, IdentityRegistryABI, "getPatient", a)
	if err != nil {
		g.readFailed("getPatient", err, zap.String("patient", patient))
		return nil
	}
	t := *abi.ConvertType(out[0], new(patientTuple)).(*patientTuple)
	if !t.Registered {
		return nil
	}
	return &domain.PatientProfile{
		Wallet:       t.Wallet.Hex(),
		RegisteredAt: bigToInt64(t.RegisteredAt),
		Registered:   t.Registered,
	}
}

type recordTuple struct {
	Cid           string
	ContentHash   [32]byte
	Hospital      common.Address
	Timestamp     *big.Int
	DiagnosisCode string
	RecordType    string
	Verified      bool
}

// GetMedicalRecords 患者的病历锚定列表（只追加）
func (g *Gateway) GetMedicalRecords(ctx context.Context, patient string) []domain.ContentReference {
	a, ok := parseOrLog(g, "getMedicalRecords", patient)
	if !ok {
		return []domain.ContentReference{}
	}
	out, err := g.call(ctx, g.contracts.IdentityRegistry, IdentityRegistryABI, "getMedicalRecords", a)
	if err != nil {
		g.readFailed("getMedicalRecords", err, zap.String("patient", patient))
		return []domain.ContentReference{}
	}
	tuples := *abi.ConvertType(out[0], new([]recordTuple)).(*[]recordTuple)
	refs := make([]domain.ContentReference, 0, len(tuples))
	for _, t := range tuples {
		refs = append(refs, domain.ContentReference{
			ContentID:       t.Cid,
			ContentHash:     t.ContentHash,
			HospitalAddress: t.Hospital.Hex(),
			Timestamp:       bigToInt64(t.Timestamp),
			DiagnosisCode:   t.DiagnosisCode,
			RecordType:      t.RecordType,
			Verified:        t.Verified,
		})
	}
	return refs
}

// HasAccess accessor 是否有 patient 的访问权限
func (g *Gateway) HasAccess(ctx context.Context, patient, accessor string) bool {
	p, ok := parseOrLog(g, "hasAccess", patient)
	if !ok {
		return false
	}
	a, ok := parseOrLog(g, "hasAccess", accessor)
	if !ok {
		return false
	}
	return g.readBool(ctx, g.contracts.AccessControl, AccessControlABI, "hasAccess", p, a)
}

// GetActiveAccessors 当前有权限的地址
func (g *Gateway) GetActiveAccessors(ctx context.Context, patient string) []string {
	p, ok := parseOrLog(g, "getActiveAccessors", patient)
	if !ok {
		return []string{}
	}
	out, err := g.call(ctx, g.contracts.AccessControl, AccessControlABI, "getActiveAccessors", p)
	if err != nil {
		g.readFailed("getActiveAccessors", err, zap.String("patient", patient))
		return []string{}
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		g.readFailed("getActiveAccessors", fmt.Errorf("unexpected type %T", out[0]))
		return []string{}
	}
	res := make([]string, 0, len(addrs))
	for _, a := range addrs {
		res = append(res, a.Hex())
	}
	return res
}

type grantTuple struct {
	Accessor   common.Address
	AccessType string
	GrantedAt  *big.Int
	ExpiresAt  *big.Int
	IsGranted  bool
}

// GetAccessGrant 授权详情，失败返回 nil
func (g *Gateway) GetAccessGrant(ctx context.Context, patient, accessor string) *domain.AccessGrant {
	p, ok := parseOrLog(g, "getAccessGrant", patient)
	if !ok {
		return nil
	}
	a, ok := parseOrLog(g, "getAccessGrant", accessor)
	if !ok {
		return nil
	}
	out, err := g.call(ctx, g.contracts.AccessControl, AccessControlABI, "getAccessGrant", p, a)
	if err != nil {
		g.readFailed("getAccessGrant", err)
		return nil
	}
	t := *abi.ConvertType(out[0], new(grantTuple)).(*grantTuple)
	return &domain.AccessGrant{
		Accessor:   t.Accessor.Hex(),
		AccessType: t.AccessType,
		GrantedAt:  bigToInt64(t.GrantedAt),
		ExpiresAt:  bigToInt64(t.ExpiresAt),
		IsGranted:  t.IsGranted,
	}
}

type requestTuple struct {
	Requester   common.Address
	AccessType  string
	RequestedAt *big.Int
	Status      uint8
}

func (g *Gateway) readRequests(ctx context.Context, method, patient string) []domain.AccessRequest {
	p, ok := parseOrLog(g, method, patient)
	if !ok {
		return []domain.AccessRequest{}
	}
	out, err := g.call(ctx, g.contracts.AccessControl, AccessControlABI, method, p)
	if err != nil {
		g.readFailed(method, err, zap.String("patient", patient))
		return []domain.AccessRequest{}
	}
	tuples := *abi.ConvertType(out[0], new([]requestTuple)).(*[]requestTuple)
	res := make([]domain.AccessRequest, 0, len(tuples))
	for _, t := range tuples {
		res = append(res, domain.AccessRequest{
			Requester:   t.Requester.Hex(),
			AccessType:  t.AccessType,
			RequestedAt: bigToInt64(t.RequestedAt),
			Status:      domain.AccessRequestStatus(t.Status),
		})
	}
	return res
}

// GetPendingRequests 待处理的访问申请；合约侧的数组下标即 approve/reject 的 index
func (g *Gateway) GetPendingRequests(ctx context.Context, patient string) []domain.AccessRequest {
	return g.readRequests(ctx, "getPendingRequests", patient)
}

// GetAllRequests 所有访问申请
func (g *Gateway) GetAllRequests(ctx context.Context, patient string) []domain.AccessRequest {
	return g.readRequests(ctx, "getAllRequests", patient)
}

// IsWhitelistedHospital 医院是否在白名单
func (g *Gateway) IsWhitelistedHospital(ctx context.Context, hospital string) bool {
	h, ok := parseOrLog(g, "isWhitelisted", hospital)
	if !ok {
		return false
	}
	return g.readBool(ctx, g.contracts.HospitalRegistry, HospitalRegistryABI, "isWhitelisted", h)
}

type hospitalTuple struct {
	Name          string
	LicenseNumber string
	Whitelisted   bool
	RegisteredAt  *big.Int
}

// GetHospitalInfo 医院注册信息，失败或未注册返回 nil
func (g *Gateway) GetHospitalInfo(ctx context.Context, hospital string) *domain.HospitalInfo {
	h, ok := parseOrLog(g, "getHospitalInfo", hospital)
	if !ok {
		return nil
	}
	out, err := g.call(ctx, g.contracts.HospitalRegistry, HospitalRegistryABI, "getHospitalInfo", h)
	if err != nil {
		g.readFailed("getHospitalInfo", err, zap.String("hospital", hospital))
		return nil
	}
	t := *abi.ConvertType(out[0], new(hospitalTuple)).(*hospitalTuple)
	if t.Name == "" && bigToInt64(t.RegisteredAt) == 0 {
		return nil
	}
	return &domain.HospitalInfo{
		Name:          t.Name,
		LicenseNumber: t.LicenseNumber,
		Whitelisted:   t.Whitelisted,
		RegisteredAt:  bigToInt64(t.RegisteredAt),
	}
}

// --- writes ---

func (g *Gateway) send(ctx context.Context, method string, to common.Address, data []byte, encErr error) WriteResult {
	if encErr != nil {
		return WriteResult{Error: &WriteError{Category: Unknown, Message: encErr.Error()}}
	}
	if g.transactor == nil {
		return WriteResult{Error: &WriteError{Category: Unknown, Message: "no wallet configured for direct writes"}}
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	hash, err := g.transactor.Send(ctx, to, data, nil)
	if err != nil {
		we := NewWriteError(err)
		g.logger.Error("chain write failed",
			zap.String("method", method),
			zap.String("category", string(we.Category)),
			zap.Error(err),
		)
		return WriteResult{Error: we}
	}
	g.logger.Info("chain write submitted", zap.String("method", method), zap.String("tx_hash", hash.Hex()))
	return WriteResult{Success: true, TxHash: hash.Hex()}
}

// RegisterPatient 钱包自注册身份
func (g *Gateway) RegisterPatient(ctx context.Context) WriteResult {
	data, err := EncodeRegisterPatient()
	return g.send(ctx, "registerPatient", g.contracts.IdentityRegistry, data, err)
}

// AddMedicalRecord 锚定 {cid, hash}
func (g *Gateway) AddMedicalRecord(ctx context.Context, patient string, ref domain.ContentReference) WriteResult {
	data, err := EncodeAddMedicalRecord(patient, ref.ContentID, ref.ContentHash, ref.DiagnosisCode, ref.RecordType)
	return g.send(ctx, "addMedicalRecord", g.contracts.IdentityRegistry, data, err)
}

// RequestAccess 申请访问 patient
func (g *Gateway) RequestAccess(ctx context.Context, patient, accessType string) WriteResult {
	data, err := EncodeRequestAccess(patient, accessType)
	return g.send(ctx, "requestAccess", g.contracts.AccessControl, data, err)
}

// ApproveAccessRequest 批准第 index 个申请
func (g *Gateway) ApproveAccessRequest(ctx context.Context, index uint64) WriteResult {
	data, err := EncodeApproveAccessRequest(index)
	return g.send(ctx, "approveAccessRequest", g.contracts.AccessControl, data, err)
}

// RejectAccessRequest 拒绝第 index 个申请
func (g *Gateway) RejectAccessRequest(ctx context.Context, index uint64) WriteResult {
	data, err := EncodeRejectAccessRequest(index)
	return g.send(ctx, "rejectAccessRequest", g.contracts.AccessControl, data, err)
}

// GrantAccess 授权
func (g *Gateway) GrantAccess(ctx context.Context, accessor, accessType string, expiresAt int64) WriteResult {
	data, err := EncodeGrantAccess(accessor, accessType, expiresAt)
	return g.send(ctx, "grantAccess", g.contracts.AccessControl, data, err)
}

// RevokeAccess 撤销
func (g *Gateway) RevokeAccess(ctx context.Context, accessor string) WriteResult {
	data, err := EncodeRevokeAccess(accessor)
	return g.send(ctx, "revokeAccess", g.contracts.AccessControl, data, err)
}

// RegisterHospital 医院注册
func (g *Gateway) RegisterHospital(ctx context.Context, name, licenseNumber string) WriteResult {
	data, err := EncodeRegisterHospital(name, licenseNumber)
	return g.send(ctx, "registerHospital", g.contracts.HospitalRegistry, data, err)
}

// WhitelistHospital 管理员加白名单
func (g *Gateway) WhitelistHospital(ctx context.Context, hospital string) WriteResult {
	data, err := EncodeWhitelistHospital(hospital)
	return g.send(ctx, "whitelistHospital", g.contracts.HospitalRegistry, data, err)
}

func bigToInt64(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}
