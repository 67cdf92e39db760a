package domain

import "encoding/hex"

// PublicMetadata 不加密的索引字段，不含任何临床细节
type PublicMetadata struct {
	PatientID     string `json:"patientId"`
	HospitalID    string `json:"hospitalId"`
	Timestamp     int64  `json:"timestamp"`
	RecordType    string `json:"recordType"`
	DiagnosisCode string `json:"diagnosisCode"`
}

// EncryptedEnvelope 存入内容寻址存储的对象
// Ciphertext 已包含 GCM tag；IV 为 12 字节。[]byte 在 JSON 中为 base64。
type EncryptedEnvelope struct {
	Version        int            `json:"version"`
	Ciphertext     []byte         `json:"ciphertext"`
	IV             []byte         `json:"iv"`
	PublicMetadata PublicMetadata `json:"publicMetadata"`
}

// ContentReference 上链锚定单元，每次提交创建一次，只追加
type ContentReference struct {
	ContentID       string   `json:"contentId"`
	ContentHash     [32]byte `json:"contentHash"`
	HospitalAddress string   `json:"hospitalAddress"`
	Timestamp       int64    `json:"timestamp"`
	DiagnosisCode   string   `json:"diagnosisCode"`
	RecordType      string   `json:"recordType"`
	Verified        bool     `json:"verified"`
}

// HashHex 0x 前缀的十六进制哈希，用于日志 / 导出
func (r ContentReference) HashHex() string {
	return "0x" + hex.EncodeToString(r.ContentHash[:])
}
