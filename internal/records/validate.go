package records

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/medical_record.json
var medicalRecordSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(medicalRecordSchema)

// ErrInvalidRecord 提交前校验失败
var ErrInvalidRecord = errors.New("invalid medical record")

// Validate JSON schema + 日期先后
func Validate(rec domain.MedicalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(msgs, "; "))
	}
	// YYYY-MM-DD 可以直接按字符串比较
	if rec.AdmissionDate != "" && rec.DischargeDate != "" && rec.DischargeDate < rec.AdmissionDate {
		return fmt.Errorf("%w: dischargeDate is before admissionDate", ErrInvalidRecord)
	}
	return nil
}
