package scoring

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
	"github.com/Newcityvip/bdt-fraud-radar/internal/aggregate"
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
	"github.com/Newcityvip/bdt-fraud-radar/internal/normalize"
)

const timestampFormat = "2006-01-02 15:04:05"

// Thresholds are the numeric settings driving the rule set and the level
// cut points. None of them are hard-coded into the rules.
type Thresholds struct {
	MinSharedInstrumentUsers int
	MinSharedOriginUsers     int
	FastWithdrawHours        float64
	NetLossThreshold         float64
	HighThreshold            int
	MediumThreshold          int
	MinScoreFilter           int
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSharedInstrumentUsers: 2,
		MinSharedOriginUsers:     3,
		FastWithdrawHours:        6,
		NetLossThreshold:         5000,
		HighThreshold:            6,
		MediumThreshold:          3,
		MinScoreFilter:           3,
	}
}

// ThresholdsFromConfig maps the configuration surface onto Thresholds.
func ThresholdsFromConfig(cfg configs.ScoringConfig) Thresholds {
	return Thresholds{
		MinSharedInstrumentUsers: cfg.MinSharedInstrumentUsers,
		MinSharedOriginUsers:     cfg.MinSharedOriginUsers,
		FastWithdrawHours:        cfg.FastWithdrawHours,
		NetLossThreshold:         cfg.NetLossThreshold,
		HighThreshold:            cfg.HighThreshold,
		MediumThreshold:          cfg.MediumThreshold,
		MinScoreFilter:           cfg.MinScoreFilter,
	}
}

// RelationCounts carries a user's shared-resource counts from the index.
type RelationCounts struct {
	SharedInstrumentUsers int
	SharedOriginUsers     int
}

// Rule is one additive scoring rule. Evaluate returns whether the rule
// triggered and, if so, the human-readable reason line.
type Rule struct {
	ID       string
	Name     string
	Score    int
	Evaluate func(agg *models.UserAggregate, rel RelationCounts, t Thresholds) (bool, string)
}

// Engine scores finalized user aggregates. It is a pure function of its
// inputs: no I/O, no retained state between passes.
type Engine struct {
	thresholds Thresholds
	rules      []Rule
}

// NewEngine creates a scoring engine with the given thresholds.
func NewEngine(thresholds Thresholds) *Engine {
	e := &Engine{thresholds: thresholds}
	e.initializeRules()
	return e
}

// Thresholds returns the engine's active thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

func (e *Engine) initializeRules() {
	e.rules = []Rule{
		{
			ID:    "RULE_SHARED_INSTRUMENT",
			Name:  "Shared Payment Instrument",
			Score: 3,
			Evaluate: func(agg *models.UserAggregate, rel RelationCounts, t Thresholds) (bool, string) {
				if rel.SharedInstrumentUsers >= t.MinSharedInstrumentUsers && rel.SharedInstrumentUsers > 1 {
					return true, fmt.Sprintf("shared payment instrument with %d other user(s)", rel.SharedInstrumentUsers-1)
				}
				return false, ""
			},
		},
		{
			ID:    "RULE_SHARED_ORIGIN",
			Name:  "Shared Network Origin",
			Score: 2,
			Evaluate: func(agg *models.UserAggregate, rel RelationCounts, t Thresholds) (bool, string) {
				if rel.SharedOriginUsers >= t.MinSharedOriginUsers && rel.SharedOriginUsers > 1 {
					return true, fmt.Sprintf("shared network origin with %d other user(s)", rel.SharedOriginUsers-1)
				}
				return false, ""
			},
		},
		{
			ID:    "RULE_FAST_WITHDRAWAL",
			Name:  "Fast Withdrawal",
			Score: 2,
			Evaluate: func(agg *models.UserAggregate, rel RelationCounts, t Thresholds) (bool, string) {
				hours, ok := normalize.HoursBetween(agg.FirstDepositTime, agg.FirstWithdrawalTime)
				if ok && hours <= t.FastWithdrawHours {
					return true, fmt.Sprintf("fast withdrawal (%.1fh) after first deposit", hours)
				}
				return false, ""
			},
		},
		{
			ID:    "RULE_NET_NEGATIVE",
			Name:  "Net Negative Beyond Threshold",
			Score: 3,
			Evaluate: func(agg *models.UserAggregate, rel RelationCounts, t Thresholds) (bool, string) {
				net := agg.Net()
				if net <= -t.NetLossThreshold {
					return true, fmt.Sprintf("net negative beyond threshold (%s)", formatAmount(net))
				}
				return false, ""
			},
		},
		{
			ID:    "RULE_WITHDRAWAL_HEAVY",
			Name:  "Withdrawal Heavy",
			Score: 2,
			Evaluate: func(agg *models.UserAggregate, rel RelationCounts, t Thresholds) (bool, string) {
				if agg.WithdrawalCount >= 3 && agg.DepositCount <= 1 {
					return true, "many withdrawals with low deposit count"
				}
				return false, ""
			},
		},
	}
}

// ScoreUser applies the rule set to one aggregate plus its relation counts
// and produces the full assessment, regardless of the min-score filter.
func (e *Engine) ScoreUser(agg *models.UserAggregate, rel RelationCounts) models.RiskAssessment {
	var totalScore int
	var reasons []string

	for _, rule := range e.rules {
		if triggered, reason := rule.Evaluate(agg, rel, e.thresholds); triggered {
			totalScore += rule.Score
			reasons = append(reasons, reason)
		}
	}

	hours, hasCycle := normalize.HoursBetween(agg.FirstDepositTime, agg.FirstWithdrawalTime)
	fastWithdrawal := hasCycle && hours <= e.thresholds.FastWithdrawHours

	return models.RiskAssessment{
		Username:              agg.Username,
		Score:                 totalScore,
		Level:                 e.determineRiskLevel(totalScore),
		Reasons:               reasons,
		DepositTotal:          agg.DepositTotal,
		WithdrawalTotal:       agg.WithdrawalTotal,
		Net:                   agg.Net(),
		DepositCount:          agg.DepositCount,
		WithdrawalCount:       agg.WithdrawalCount,
		UniqueInstrumentCount: len(agg.Instruments),
		SharedInstrumentUsers: rel.SharedInstrumentUsers,
		SharedOriginUsers:     rel.SharedOriginUsers,
		FastWithdrawal:        fastWithdrawal,
		AccountStatus:         agg.AccountStatus,
		VIPTier:               agg.VIPTier,
		FirstDepositAt:        formatTimestamp(agg.FirstDepositTime),
		FirstWithdrawalAt:     formatTimestamp(agg.FirstWithdrawalTime),
	}
}

// ScoreAll scores every aggregate against the shared index and returns the
// qualifying rows sorted by score descending, then net descending. Users
// below the min-score filter still participate fully in the index counts;
// the filter is a presentation cut applied after scoring. Full ties keep
// first-seen order so identical input yields identical row order.
func (e *Engine) ScoreAll(users map[string]*models.UserAggregate, order []string, idx *aggregate.SharedIndex) []models.RiskAssessment {
	assessments := make([]models.RiskAssessment, 0, len(order))
	for _, username := range order {
		agg, ok := users[username]
		if !ok {
			continue
		}
		rel := RelationCounts{
			SharedInstrumentUsers: idx.SharedInstrumentCount(agg),
			SharedOriginUsers:     idx.SharedOriginCount(agg),
		}
		assessment := e.ScoreUser(agg, rel)
		if assessment.Score >= e.thresholds.MinScoreFilter {
			assessments = append(assessments, assessment)
		}
	}

	sort.SliceStable(assessments, func(i, j int) bool {
		if assessments[i].Score != assessments[j].Score {
			return assessments[i].Score > assessments[j].Score
		}
		return assessments[i].Net > assessments[j].Net
	})

	return assessments
}

// determineRiskLevel buckets a score by the configured cut points.
func (e *Engine) determineRiskLevel(score int) string {
	switch {
	case score >= e.thresholds.HighThreshold:
		return models.RiskLevelHigh
	case score >= e.thresholds.MediumThreshold:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timestampFormat)
}
