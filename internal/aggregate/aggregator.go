// Package aggregate folds normalized records into per-user aggregates and
// builds the shared-resource indexes consumed by the scorer.
package aggregate

import (
	"time"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// Aggregator folds deposit, withdrawal and member record streams into one
// aggregate per username. Records may arrive in any order and any
// interleaving; the result is order-independent except for member rows,
// where the last row per username wins.
//
// An Aggregator is for a single scoring pass. It performs no I/O.
type Aggregator struct {
	users map[string]*models.UserAggregate
	order []string
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		users: make(map[string]*models.UserAggregate),
	}
}

func (a *Aggregator) get(username string) *models.UserAggregate {
	agg, ok := a.users[username]
	if !ok {
		agg = models.NewUserAggregate(username)
		a.users[username] = agg
		a.order = append(a.order, username)
	}
	return agg
}

// AddDeposit folds one deposit record. Records with an empty username are
// skipped silently.
func (a *Aggregator) AddDeposit(rec models.TransactionRecord) {
	if rec.Username == "" {
		return
	}
	agg := a.get(rec.Username)
	agg.DepositTotal += rec.Amount
	agg.DepositCount++
	agg.FirstDepositTime = earliest(agg.FirstDepositTime, rec.Timestamp)
	if rec.Instrument != "" {
		agg.Instruments[rec.Instrument] = struct{}{}
	}
}

// AddWithdrawal folds one withdrawal record. The withdrawal instrument counts
// toward the same per-user instrument set as deposits.
func (a *Aggregator) AddWithdrawal(rec models.TransactionRecord) {
	if rec.Username == "" {
		return
	}
	agg := a.get(rec.Username)
	agg.WithdrawalTotal += rec.Amount
	agg.WithdrawalCount++
	agg.FirstWithdrawalTime = earliest(agg.FirstWithdrawalTime, rec.Timestamp)
	if rec.Instrument != "" {
		agg.Instruments[rec.Instrument] = struct{}{}
	}
}

// AddMember folds one member record. Attributes overwrite any previously
// seen values for the username: last write wins when duplicates occur.
func (a *Aggregator) AddMember(rec models.MemberRecord) {
	if rec.Username == "" {
		return
	}
	agg := a.get(rec.Username)
	agg.NetworkOrigin = rec.NetworkOrigin
	agg.VIPTier = rec.VIPTier
	agg.AccountStatus = rec.AccountStatus
}

// Users returns the aggregate map. The aggregates are finalized once all
// input records have been folded; callers must treat them as read-only.
func (a *Aggregator) Users() map[string]*models.UserAggregate {
	return a.users
}

// Order returns usernames in first-seen order. The scorer uses it as the
// deterministic final sort key.
func (a *Aggregator) Order() []string {
	return a.order
}

// Len returns the number of distinct usernames seen.
func (a *Aggregator) Len() int {
	return len(a.users)
}

func earliest(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.Before(*current) {
		return candidate
	}
	return current
}
