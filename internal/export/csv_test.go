package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

func sampleRow() models.RiskAssessment {
	return models.RiskAssessment{
		Username:              "user01",
		Score:                 5,
		Level:                 models.RiskLevelMedium,
		Reasons:               []string{"shared payment instrument with 1 other user(s)", "fast withdrawal (2.0h) after first deposit"},
		DepositTotal:          1000,
		WithdrawalTotal:       1500,
		Net:                   -500,
		DepositCount:          1,
		WithdrawalCount:       1,
		UniqueInstrumentCount: 1,
		SharedInstrumentUsers: 2,
		FastWithdrawal:        true,
		AccountStatus:         "active",
		VIPTier:               "2",
		FirstDepositAt:        "2024-03-01 10:00:00",
		FirstWithdrawalAt:     "2024-03-01 12:00:00",
	}
}

func TestWriteCSVRejectsEmptySet(t *testing.T) {
	var buf strings.Builder
	err := WriteCSV(&buf, nil, DefaultColumns)
	require.ErrorIs(t, err, ErrNoRows)
	assert.Empty(t, buf.String())
}

func TestWriteCSVHeaderAndRow(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, []models.RiskAssessment{sampleRow()}, DefaultColumns))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(DefaultColumns, ","), lines[0])

	assert.True(t, strings.HasPrefix(lines[1], "user01,MEDIUM,5,"), lines[1])
	assert.Contains(t, lines[1], "1000,1500,-500")
	assert.Contains(t, lines[1], "true")
}

func TestWriteCSVJoinsReasonsWithSeparator(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, []models.RiskAssessment{sampleRow()}, []string{"reasons"}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"shared payment instrument with 1 other user(s) | fast withdrawal (2.0h) after first deposit",
		lines[1])
}

func TestWriteCSVQuotesSpecialCharacters(t *testing.T) {
	row := sampleRow()
	row.Username = `we,ird"name`
	row.Reasons = []string{"line\nbreak"}

	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, []models.RiskAssessment{row}, []string{"username", "reasons"}))

	lines := strings.SplitN(buf.String(), "\n", 2)
	require.Len(t, lines, 2)
	// Comma and quote force quoting; the internal quote doubles.
	assert.Equal(t, `"we,ird""name","line`, strings.SplitN(lines[1], "\n", 2)[0])
	assert.Contains(t, buf.String(), "\"line\nbreak\"")
}

func TestWriteCSVCustomColumnSubset(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, []models.RiskAssessment{sampleRow()}, []string{"username", "riskScore"}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "username,riskScore", lines[0])
	assert.Equal(t, "user01,5", lines[1])
}

func TestWriteCSVEmptyColumnsFallBackToDefaults(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteCSV(&buf, []models.RiskAssessment{sampleRow()}, nil))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(DefaultColumns, ",")+"\n"))
}

func TestFileName(t *testing.T) {
	date := time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "fraud_alerts_2024-03-01.csv", FileName(date))
}
