// Package export serializes assessment rows to CSV.
package export

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// ErrNoRows is returned when an export is requested over an empty filtered
// set. A header-only file is not a valid export.
var ErrNoRows = errors.New("no rows to export")

// ReasonSeparator flattens the reasons list into one CSV field.
const ReasonSeparator = " | "

// DefaultColumns is the full visible-column set, in wire-key order.
var DefaultColumns = []string{
	"username", "riskLevel", "riskScore", "reasons",
	"totalDeposit", "totalWithdrawal", "net",
	"depositCnt", "withdrawCnt", "uniqueBanks",
	"sharedBankUsers", "sharedIpUsers", "fastWithdraw",
	"accountStatus", "vip", "firstDepositAt", "firstWithdrawalAt",
}

// FileName returns the conventional export file name for a date.
func FileName(date time.Time) string {
	return "fraud_alerts_" + date.Format("2006-01-02") + ".csv"
}

// WriteCSV writes the rows with the given column configuration. Any field
// containing a comma, quote or newline is quoted with internal quotes
// doubled. An empty row set is rejected with ErrNoRows.
func WriteCSV(w io.Writer, rows []models.RiskAssessment, columns []string) error {
	if len(rows) == 0 {
		return ErrNoRows
	}
	if len(columns) == 0 {
		columns = DefaultColumns
	}

	line := make([]string, len(columns))
	for i, col := range columns {
		line[i] = quoteField(col)
	}
	if _, err := io.WriteString(w, strings.Join(line, ",")+"\n"); err != nil {
		return err
	}

	for _, row := range rows {
		for i, col := range columns {
			line[i] = quoteField(fieldValue(row, col))
		}
		if _, err := io.WriteString(w, strings.Join(line, ",")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func fieldValue(row models.RiskAssessment, column string) string {
	switch column {
	case "username":
		return row.Username
	case "riskLevel":
		return row.Level
	case "riskScore":
		return strconv.Itoa(row.Score)
	case "reasons":
		return strings.Join(row.Reasons, ReasonSeparator)
	case "totalDeposit":
		return formatNumber(row.DepositTotal)
	case "totalWithdrawal":
		return formatNumber(row.WithdrawalTotal)
	case "net":
		return formatNumber(row.Net)
	case "depositCnt":
		return strconv.Itoa(row.DepositCount)
	case "withdrawCnt":
		return strconv.Itoa(row.WithdrawalCount)
	case "uniqueBanks":
		return strconv.Itoa(row.UniqueInstrumentCount)
	case "sharedBankUsers":
		return strconv.Itoa(row.SharedInstrumentUsers)
	case "sharedIpUsers":
		return strconv.Itoa(row.SharedOriginUsers)
	case "fastWithdraw":
		return strconv.FormatBool(row.FastWithdrawal)
	case "accountStatus":
		return row.AccountStatus
	case "vip":
		return row.VIPTier
	case "firstDepositAt":
		return row.FirstDepositAt
	case "firstWithdrawalAt":
		return row.FirstWithdrawalAt
	default:
		return ""
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func quoteField(v string) string {
	if !strings.ContainsAny(v, ",\"\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}
