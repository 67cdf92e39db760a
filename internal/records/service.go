// Package records 病历提交与取回：加密、上传、上链锚定；取回后解密并校验哈希。
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/codec"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/contentstore"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/metatx"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

var (
	// ErrIntegrityMismatch 解密后重新计算的哈希与链上锚定值不一致
	ErrIntegrityMismatch = errors.New("record integrity mismatch")
	// ErrNotAnchored 链上没有该 contentId
	ErrNotAnchored = errors.New("record is not anchored on chain")
)

// Store contentstore.Client 满足此接口
type Store interface {
	Upload(ctx context.Context, env domain.EncryptedEnvelope, name string, tags map[string]string) (*contentstore.UploadResult, error)
	FetchEnvelope(ctx context.Context, contentID string) (domain.EncryptedEnvelope, error)
}

// Anchorer metatx.Client 满足此接口
type Anchorer interface {
	AddMedicalRecord(ctx context.Context, signer metatx.Signer, patient string, ref domain.ContentReference) (*metatx.Request, error)
}

// Ledger chain.Gateway 满足此接口
type Ledger interface {
	GetMedicalRecords(ctx context.Context, patient string) []domain.ContentReference
}

// SubmitResult 提交结果
type SubmitResult struct {
	ContentID   string
	ContentHash [32]byte
	TxHash      string
}

// Service 编排 codec / contentstore / metatx / chain
type Service struct {
	codec    *codec.Codec
	store    Store
	anchorer Anchorer
	ledger   Ledger
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(c *codec.Codec, store Store, anchorer Anchorer, ledger Ledger, logger *zap.Logger) *Service {
	return &Service{codec: c, store: store, anchorer: anchorer, ledger: ledger, now: time.Now, logger: logger}
}

// Submit 医院提交病历。上传成功但锚定失败时返回的错误中带 contentId，调用方不应重新上传。
func (s *Service) Submit(ctx context.Context, signer metatx.Signer, rec domain.MedicalRecord) (*SubmitResult, error) {
	if rec.RecordType == "" {
		rec.RecordType = domain.RecordTypeMedical
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().Unix()
	}
	if rec.DischargeOutcome == "" {
		rec.DischargeOutcome = domain.OutcomeUnknown
	}
	if err := Validate(rec); err != nil {
		return nil, err
	}

	env, hash, err := s.codec.Seal(rec)
	if err != nil {
		return nil, err
	}
	tags := map[string]string{
		"patient":    codec.NormalizePatientID(rec.PatientID),
		"hospital":   rec.HospitalID,
		"recordType": rec.RecordType,
	}
	up, err := s.store.Upload(ctx, env, "record-"+rec.RecordNumber, tags)
	if err != nil {
		return nil, err
	}

	ref := domain.ContentReference{
		ContentID:       up.ContentID,
		ContentHash:     hash,
		HospitalAddress: signer.Address().Hex(),
		Timestamp:       rec.CreatedAt,
		DiagnosisCode:   rec.DiagnosisCode,
		RecordType:      rec.RecordType,
	}
	req, err := s.anchorer.AddMedicalRecord(ctx, signer, rec.PatientID, ref)
	if err != nil {
		s.logger.Error("record uploaded but not anchored",
			zap.String("content_id", up.ContentID),
			zap.String("content_hash", ref.HashHex()),
			zap.Error(err),
		)
		return &SubmitResult{ContentID: up.ContentID, ContentHash: hash}, fmt.Errorf("anchor %s: %w", up.ContentID, err)
	}

	s.logger.Info("record submitted",
		zap.String("content_id", up.ContentID),
		zap.String("content_hash", ref.HashHex()),
		zap.String("tx_hash", req.TxHash),
	)
	return &SubmitResult{ContentID: up.ContentID, ContentHash: hash, TxHash: req.TxHash}, nil
}

// Verify 取回信封、解密并与给定的锚定哈希比较
func (s *Service) Verify(ctx context.Context, patientID string, ref domain.ContentReference) (domain.MedicalRecord, error) {
	env, err := s.store.FetchEnvelope(ctx, ref.ContentID)
	if err != nil {
		return domain.MedicalRecord{}, err
	}
	rec, err := s.codec.Open(env, patientID)
	if err != nil {
		return domain.MedicalRecord{}, err
	}
	got := codec.HashRecord(rec)
	if got != ref.ContentHash {
		s.logger.Error("record integrity mismatch",
			zap.String("content_id", ref.ContentID),
			zap.String("anchored_hash", ref.HashHex()),
			zap.String("computed_hash", hexutil.Encode(got[:])),
		)
		return domain.MedicalRecord{}, fmt.Errorf("%w: content %s", ErrIntegrityMismatch, ref.ContentID)
	}
	return rec, nil
}

// Retrieve 按 contentId 查链上锚定后 Verify
func (s *Service) Retrieve(ctx context.Context, patientID, contentID string) (domain.MedicalRecord, error) {
	for _, ref := range s.ledger.GetMedicalRecords(ctx, patientID) {
		if ref.ContentID == contentID {
			return s.Verify(ctx, patientID, ref)
		}
	}
	return domain.MedicalRecord{}, fmt.Errorf("%w: %s", ErrNotAnchored, contentID)
}

// List 患者的链上锚定列表
func (s *Service) List(ctx context.Context, patientID string) []domain.ContentReference {
	return s.ledger.GetMedicalRecords(ctx, strings.TrimSpace(patientID))
}
