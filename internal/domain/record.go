package domain

import "fmt"

// DischargeOutcome 出院结局（封闭枚举）
type DischargeOutcome string

const (
	OutcomeCured       DischargeOutcome = "cured"
	OutcomeImproved    DischargeOutcome = "improved"
	OutcomeNotYetCured DischargeOutcome = "not_yet_cured"
	OutcomeDeceased    DischargeOutcome = "deceased"
	OutcomeUnknown     DischargeOutcome = "unknown"
)

// Valid 是否为已知枚举值
func (o DischargeOutcome) Valid() bool {
	switch o {
	case OutcomeCured, OutcomeImproved, OutcomeNotYetCured, OutcomeDeceased, OutcomeUnknown:
		return true
	}
	return false
}

// ParseDischargeOutcome 解析 OCR / 表单输入，空串视为 unknown
func ParseDischargeOutcome(s string) (DischargeOutcome, error) {
	if s == "" {
		return OutcomeUnknown, nil
	}
	o := DischargeOutcome(s)
	if !o.Valid() {
		return "", fmt.Errorf("invalid discharge outcome %q", s)
	}
	return o, nil
}

// RecordTypeMedical 默认记录类型
const RecordTypeMedical = "medical_record"

// MedicalRecord 加密前的病历（医院提交时创建，上链后不可修改，更正必须是新记录）
// 整个结构体都进入密文，所有字段（包括 HospitalName）解密后完全还原。
// 内容哈希只覆盖 PatientID + 临床字段，见 codec.CanonicalPayload。
type MedicalRecord struct {
	RecordNumber       string           `json:"recordNumber"`
	AdmissionDate      string           `json:"admissionDate"`
	DischargeDate      string           `json:"dischargeDate"`
	PrimaryDiagnosis   string           `json:"primaryDiagnosis"`
	SecondaryDiagnosis string           `json:"secondaryDiagnosis"`
	DiagnosisCode      string           `json:"diagnosisCode"`
	ChiefComplaint     string           `json:"chiefComplaint"`
	AllergyHistory     string           `json:"allergyHistory"`
	Procedures         string           `json:"procedures"`
	Prescriptions      string           `json:"prescriptions"`
	DischargeOutcome   DischargeOutcome `json:"dischargeOutcome"`
	AttendingPhysician string           `json:"attendingPhysician"`

	// linkage
	PatientID    string `json:"patientId"`
	HospitalID   string `json:"hospitalId"`
	HospitalName string `json:"hospitalName"`
	CreatedAt    int64  `json:"createdAt"`
	RecordType   string `json:"recordType"`
}
