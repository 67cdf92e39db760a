package codec

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"
)

// HashVersion 哈希字段顺序的版本标签；修改 CanonicalPayload 的字段或顺序必须升级
const HashVersion = "medvault-record-v1"

// CanonicalPayload 固定顺序序列化：版本标签、PatientID、12 个临床字段。
// 用 JSON 字符串数组保证转义无歧义。
// HospitalID / HospitalName / CreatedAt / RecordType 不参与哈希。
func CanonicalPayload(rec domain.MedicalRecord) []byte {
	fields := []string{
		HashVersion,
		NormalizePatientID(rec.PatientID),
		rec.RecordNumber,
		rec.AdmissionDate,
		rec.DischargeDate,
		rec.PrimaryDiagnosis,
		rec.SecondaryDiagnosis,
		rec.DiagnosisCode,
		rec.ChiefComplaint,
		rec.AllergyHistory,
		rec.Procedures,
		rec.Prescriptions,
		string(rec.DischargeOutcome),
		rec.AttendingPhysician,
	}
	// []string 的 Marshal 不会失败
	b, _ := json.Marshal(fields)
	return b
}

// Hash SHA-256
func Hash(canonical []byte) [32]byte {
	return sha256.Sum256(canonical)
}

// HashRecord Hash(CanonicalPayload(rec))
func HashRecord(rec domain.MedicalRecord) [32]byte {
	return Hash(CanonicalPayload(rec))
}
