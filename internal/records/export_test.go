package records

import (
	"bytes"
	"testing"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportXLSX(t *testing.T) {
	refs := []domain.ContentReference{
		{
			ContentID:       "Qm123",
			ContentHash:     [32]byte{0xab},
			HospitalAddress: "0x1111111111111111111111111111111111111111",
			Timestamp:       1_709_251_200,
			DiagnosisCode:   "J20.9",
			RecordType:      domain.RecordTypeMedical,
			Verified:        true,
		},
		{ContentID: "Qm456", DiagnosisCode: "K35.8"},
	}

	data, err := ExportXLSX(refs)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ExportHeader, rows[0])
	assert.Equal(t, "Qm123", rows[1][0])
	assert.Equal(t, refs[0].HashHex(), rows[1][1])
	assert.Equal(t, "2024-03-01 00:00:00", rows[1][3])
	assert.Equal(t, "J20.9", rows[1][4])
	assert.Equal(t, "yes", rows[1][6])
	assert.Equal(t, "Qm456", rows[2][0])
	assert.Equal(t, "", rows[2][3])
	assert.Equal(t, "no", rows[2][6])
}

func TestExportXLSX_Empty(t *testing.T) {
	data, err := ExportXLSX(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
