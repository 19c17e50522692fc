package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents an API user
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// RecordKind enum values
const (
	RecordKindDeposit    = "deposit"
	RecordKindWithdrawal = "withdrawal"
)

// TransactionRecord is a single normalized deposit or withdrawal row.
// Only the fields feeding aggregation are retained.
type TransactionRecord struct {
	Username   string     `json:"username"`
	Amount     float64    `json:"amount"`
	Instrument string     `json:"instrument"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// MemberRecord is a normalized member row. At most one logically-current
// record per username is consumed; the last one in the input stream wins.
type MemberRecord struct {
	Username      string `json:"username"`
	NetworkOrigin string `json:"network_origin"`
	VIPTier       string `json:"vip_tier"`
	AccountStatus string `json:"account_status"`
}

// UserAggregate is the per-username fold of all records in a scoring pass.
// It is owned by the aggregator while the pass runs and read-only afterwards.
type UserAggregate struct {
	Username            string
	DepositTotal        float64
	DepositCount        int
	FirstDepositTime    *time.Time
	WithdrawalTotal     float64
	WithdrawalCount     int
	FirstWithdrawalTime *time.Time
	Instruments         map[string]struct{}
	NetworkOrigin       string
	VIPTier             string
	AccountStatus       string
}

// NewUserAggregate creates a zero-valued aggregate for a username.
func NewUserAggregate(username string) *UserAggregate {
	return &UserAggregate{
		Username:    username,
		Instruments: make(map[string]struct{}),
	}
}

// Net returns total deposits minus total withdrawals. Negative means the
// platform paid out more than it received from this user.
func (a *UserAggregate) Net() float64 {
	return a.DepositTotal - a.WithdrawalTotal
}

// RiskLevel enum values
const (
	RiskLevelLow    = "LOW"
	RiskLevelMedium = "MEDIUM"
	RiskLevelHigh   = "HIGH"
)

// RiskAssessment is one scored candidate row. The JSON keys are the wire
// schema served by the alerts endpoint and consumed by the pager.
type RiskAssessment struct {
	Username              string   `json:"username"`
	Score                 int      `json:"riskScore"`
	Level                 string   `json:"riskLevel"`
	Reasons               []string `json:"reasons"`
	DepositTotal          float64  `json:"totalDeposit"`
	WithdrawalTotal       float64  `json:"totalWithdrawal"`
	Net                   float64  `json:"net"`
	DepositCount          int      `json:"depositCnt"`
	WithdrawalCount       int      `json:"withdrawCnt"`
	UniqueInstrumentCount int      `json:"uniqueBanks"`
	SharedInstrumentUsers int      `json:"sharedBankUsers"`
	SharedOriginUsers     int      `json:"sharedIpUsers"`
	FastWithdrawal        bool     `json:"fastWithdraw"`
	AccountStatus         string   `json:"accountStatus"`
	VIPTier               string   `json:"vip"`
	FirstDepositAt        string   `json:"firstDepositAt,omitempty"`
	FirstWithdrawalAt     string   `json:"firstWithdrawalAt,omitempty"`
}

// PageResponse is one page of the alert source.
type PageResponse struct {
	OK           bool             `json:"ok"`
	Rows         []RiskAssessment `json:"rows"`
	TotalMatches int              `json:"total_matches"`
	Error        string           `json:"error,omitempty"`
}

// Query parameter defaults
const (
	DefaultDays     = 3
	DefaultMinScore = 3
	DefaultLimit    = 300
)

// QueryParams are the alert source query parameters.
type QueryParams struct {
	Days     int `json:"days"`
	MinScore int `json:"min_score"`
	Limit    int `json:"limit"`
	Offset   int `json:"offset"`
}

// Normalized replaces out-of-range values with the documented defaults.
func (p QueryParams) Normalized() QueryParams {
	if p.Days <= 0 {
		p.Days = DefaultDays
	}
	if p.MinScore < 0 {
		p.MinScore = DefaultMinScore
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SameQuery reports whether two parameter sets address the same upstream
// query. Offset is excluded: it only positions within a fixed query.
func (p QueryParams) SameQuery(other QueryParams) bool {
	return p.Days == other.Days && p.MinScore == other.MinScore && p.Limit == other.Limit
}

// RawRecord is a spreadsheet-style row keyed by source header names.
// Values may be strings, numbers or absent; the normalizer sorts that out.
type RawRecord map[string]interface{}

// ScanEvent is the event published to the scan-request stream.
type ScanEvent struct {
	ScanID       string    `json:"scan_id"`
	Trigger      string    `json:"trigger"` // ingestion, api, kafka
	LookbackDays int       `json:"lookback_days"`
	RequestedAt  time.Time `json:"requested_at"`
	RetryCount   int       `json:"retry_count"`
}

// ScanSummary is the cached outcome of the latest completed scoring pass.
type ScanSummary struct {
	ScanID       string         `json:"scan_id"`
	LookbackDays int            `json:"lookback_days"`
	CompletedAt  time.Time      `json:"completed_at"`
	UsersSeen    int            `json:"users_seen"`
	Emitted      int            `json:"emitted"`
	ByLevel      map[string]int `json:"by_level"`
}
