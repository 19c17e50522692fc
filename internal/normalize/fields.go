package normalize

import (
	"strings"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// Canonical record fields.
const (
	FieldUsername      = "username"
	FieldAmount        = "amount"
	FieldInstrument    = "instrument"
	FieldTimestamp     = "timestamp"
	FieldNetworkOrigin = "network_origin"
	FieldVIPTier       = "vip_tier"
	FieldAccountStatus = "account_status"
)

// fieldAliases maps each canonical field to the accepted source header
// aliases, in priority order. Version 1 covers the header variants seen in
// the platform's deposit, withdrawal and member exports. Unknown or missing
// aliases normalize to the record's default rather than raising.
var fieldAliases = map[string][]string{
	FieldUsername:      {"username", "member", "member_name", "user", "account", "login"},
	FieldAmount:        {"amount", "money", "cash", "amt", "value"},
	FieldInstrument:    {"bank_account", "bank", "bank_no", "wallet", "account_no", "card_no"},
	FieldTimestamp:     {"time", "timestamp", "created_at", "order_time", "date"},
	FieldNetworkOrigin: {"ip", "last_ip", "login_ip", "last_login_ip"},
	FieldVIPTier:       {"vip", "vip_level", "member_level"},
	FieldAccountStatus: {"status", "state", "account_status"},
}

// FieldMap binds canonical fields to the actual headers of one source batch.
// It is resolved once per batch, not per row.
type FieldMap struct {
	bindings map[string]string
}

// NewFieldMap resolves the alias table against a batch's header set.
func NewFieldMap(headers []string) *FieldMap {
	canonical := make(map[string]string, len(headers))
	for _, h := range headers {
		canonical[canonicalHeader(h)] = h
	}

	bindings := make(map[string]string, len(fieldAliases))
	for field, aliases := range fieldAliases {
		for _, alias := range aliases {
			if actual, ok := canonical[alias]; ok {
				bindings[field] = actual
				break
			}
		}
	}
	return &FieldMap{bindings: bindings}
}

// FieldMapFor resolves the alias table against the keys of a single row.
// Convenient for feeds where every row carries its own headers.
func FieldMapFor(row models.RawRecord) *FieldMap {
	headers := make([]string, 0, len(row))
	for k := range row {
		headers = append(headers, k)
	}
	return NewFieldMap(headers)
}

func canonicalHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

func (m *FieldMap) value(row models.RawRecord, field string) interface{} {
	header, ok := m.bindings[field]
	if !ok {
		return nil
	}
	return row[header]
}

// DecodeTransaction converts a raw deposit or withdrawal row. The second
// return is false when the row carries no username and must be skipped.
func (m *FieldMap) DecodeTransaction(row models.RawRecord) (models.TransactionRecord, bool) {
	username := NormalizeKey(m.value(row, FieldUsername))
	if username == "" {
		return models.TransactionRecord{}, false
	}
	return models.TransactionRecord{
		Username:   username,
		Amount:     ParseAmount(m.value(row, FieldAmount)),
		Instrument: NormalizeKey(m.value(row, FieldInstrument)),
		Timestamp:  ParseTimestamp(m.value(row, FieldTimestamp)),
	}, true
}

// DecodeMember converts a raw member row.
func (m *FieldMap) DecodeMember(row models.RawRecord) (models.MemberRecord, bool) {
	username := NormalizeKey(m.value(row, FieldUsername))
	if username == "" {
		return models.MemberRecord{}, false
	}
	return models.MemberRecord{
		Username:      username,
		NetworkOrigin: NormalizeKey(m.value(row, FieldNetworkOrigin)),
		VIPTier:       NormalizeKey(m.value(row, FieldVIPTier)),
		AccountStatus: NormalizeKey(m.value(row, FieldAccountStatus)),
	}, true
}
