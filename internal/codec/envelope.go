package codec

import (
	"encoding/json"
	"fmt"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"
)

// EnvelopeVersion 当前信封格式
const EnvelopeVersion = 1

// Seal 序列化 + 加密整条病历，返回信封和内容哈希
func (c *Codec) Seal(rec domain.MedicalRecord) (domain.EncryptedEnvelope, [32]byte, error) {
	var env domain.EncryptedEnvelope
	key, err := c.DeriveKey(rec.PatientID)
	if err != nil {
		return env, [32]byte{}, err
	}
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return env, [32]byte{}, fmt.Errorf("marshal record: %w", err)
	}
	ct, iv, err := Encrypt(plaintext, key)
	if err != nil {
		return env, [32]byte{}, err
	}
	env = domain.EncryptedEnvelope{
		Version:    EnvelopeVersion,
		Ciphertext: ct,
		IV:         iv,
		PublicMetadata: domain.PublicMetadata{
			PatientID:     rec.PatientID,
			HospitalID:    rec.HospitalID,
			Timestamp:     rec.CreatedAt,
			RecordType:    rec.RecordType,
			DiagnosisCode: rec.DiagnosisCode,
		},
	}
	return env, HashRecord(rec), nil
}

// Open 用 patientID 派生的密钥解密信封
func (c *Codec) Open(env domain.EncryptedEnvelope, patientID string) (domain.MedicalRecord, error) {
	var rec domain.MedicalRecord
	if env.Version != EnvelopeVersion {
		return rec, fmt.Errorf("%w: unsupported envelope version %d", ErrDecryptionFailed, env.Version)
	}
	key, err := c.DeriveKey(patientID)
	if err != nil {
		return rec, err
	}
	plaintext, err := Decrypt(env.Ciphertext, env.IV, key)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return domain.MedicalRecord{}, fmt.Errorf("%w: payload is not a record: %v", ErrDecryptionFailed, err)
	}
	return rec, nil
}
