package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Newcityvip/bdt-fraud-radar/internal/aggregate"
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

func ts(s string) *time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestScoreUserSharedInstrumentAndFastWithdrawal(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	agg := models.NewUserAggregate("user01")
	agg.DepositTotal = 1000
	agg.DepositCount = 1
	agg.FirstDepositTime = ts("2024-03-01 10:00:00")
	agg.WithdrawalTotal = 1500
	agg.WithdrawalCount = 1
	agg.FirstWithdrawalTime = ts("2024-03-01 12:00:00")
	agg.Instruments["ACC123"] = struct{}{}

	got := engine.ScoreUser(agg, RelationCounts{SharedInstrumentUsers: 2})

	// Shared instrument (+3) and fast withdrawal (+2).
	assert.Equal(t, 5, got.Score)
	assert.Equal(t, models.RiskLevelMedium, got.Level)
	assert.Contains(t, got.Reasons, "shared payment instrument with 1 other user(s)")
	assert.Contains(t, got.Reasons, "fast withdrawal (2.0h) after first deposit")
	assert.True(t, got.FastWithdrawal)
	assert.Equal(t, -500.0, got.Net)
	assert.Equal(t, "2024-03-01 10:00:00", got.FirstDepositAt)
	assert.Equal(t, "2024-03-01 12:00:00", got.FirstWithdrawalAt)
}

func TestScoreUserNetNegativeRule(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	agg := models.NewUserAggregate("whale")
	agg.DepositTotal = 1000
	agg.DepositCount = 2
	agg.WithdrawalTotal = 7000
	agg.WithdrawalCount = 2

	got := engine.ScoreUser(agg, RelationCounts{})

	assert.Equal(t, 3, got.Score)
	assert.Contains(t, got.Reasons, "net negative beyond threshold (-6000)")
	assert.Equal(t, models.RiskLevelMedium, got.Level)
}

func TestScoreUserWithdrawalHeavyRule(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	agg := models.NewUserAggregate("churner")
	agg.DepositCount = 1
	agg.DepositTotal = 100
	agg.WithdrawalCount = 3
	agg.WithdrawalTotal = 90

	got := engine.ScoreUser(agg, RelationCounts{})
	assert.Equal(t, 2, got.Score)
	assert.Contains(t, got.Reasons, "many withdrawals with low deposit count")

	// Two deposits disarm the rule.
	agg.DepositCount = 2
	got = engine.ScoreUser(agg, RelationCounts{})
	assert.Zero(t, got.Score)
	assert.Empty(t, got.Reasons)
}

func TestScoreUserMissingTimestampsNeverFastWithdrawal(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	agg := models.NewUserAggregate("no-times")
	agg.DepositTotal = 100
	agg.DepositCount = 1
	agg.WithdrawalTotal = 100
	agg.WithdrawalCount = 1

	got := engine.ScoreUser(agg, RelationCounts{})
	assert.False(t, got.FastWithdrawal)
	for _, reason := range got.Reasons {
		assert.NotContains(t, reason, "fast withdrawal")
	}
}

func TestScoreUserSharedOriginRule(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	agg := models.NewUserAggregate("clustered")

	// Two sharers is below the origin threshold of three.
	got := engine.ScoreUser(agg, RelationCounts{SharedOriginUsers: 2})
	assert.Zero(t, got.Score)

	got = engine.ScoreUser(agg, RelationCounts{SharedOriginUsers: 3})
	assert.Equal(t, 2, got.Score)
	assert.Contains(t, got.Reasons, "shared network origin with 2 other user(s)")
}

func TestDetermineRiskLevelCutPoints(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	assert.Equal(t, models.RiskLevelLow, engine.determineRiskLevel(0))
	assert.Equal(t, models.RiskLevelLow, engine.determineRiskLevel(2))
	assert.Equal(t, models.RiskLevelMedium, engine.determineRiskLevel(3))
	assert.Equal(t, models.RiskLevelMedium, engine.determineRiskLevel(5))
	assert.Equal(t, models.RiskLevelHigh, engine.determineRiskLevel(6))
	assert.Equal(t, models.RiskLevelHigh, engine.determineRiskLevel(12))
}

func buildPassAggregation() *aggregate.Aggregator {
	agg := aggregate.NewAggregator()

	// Two users share ACC123; one cycles money out fast.
	agg.AddDeposit(models.TransactionRecord{Username: "user01", Amount: 1000, Instrument: "ACC123", Timestamp: ts("2024-03-01 10:00:00")})
	agg.AddWithdrawal(models.TransactionRecord{Username: "user01", Amount: 1500, Instrument: "ACC123", Timestamp: ts("2024-03-01 12:00:00")})
	agg.AddDeposit(models.TransactionRecord{Username: "user02", Amount: 600, Instrument: "ACC123", Timestamp: ts("2024-03-01 09:00:00")})

	// Big net loser, no sharing.
	agg.AddDeposit(models.TransactionRecord{Username: "user03", Amount: 500, Instrument: "SOLO1", Timestamp: ts("2024-03-01 08:00:00")})
	agg.AddWithdrawal(models.TransactionRecord{Username: "user03", Amount: 9000, Instrument: "SOLO1", Timestamp: ts("2024-03-02 08:00:00")})

	// Quiet user who should fall under the presentation cut.
	agg.AddDeposit(models.TransactionRecord{Username: "user04", Amount: 50, Instrument: "SOLO2", Timestamp: ts("2024-03-01 11:00:00")})

	return agg
}

func TestScoreAllFiltersAndSorts(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	agg := buildPassAggregation()
	idx := aggregate.BuildIndex(agg.Users())

	rows := engine.ScoreAll(agg.Users(), agg.Order(), idx)

	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Username
	}
	// user01: shared (+3) + fast withdrawal (+2) = 5.
	// user02: shared (+3) = 3. user03: net negative (+3) = 3.
	// user04: 0, cut by the filter.
	require.Equal(t, []string{"user01", "user02", "user03"}, names)

	// Scores descend; within the tie the larger net sorts first
	// (user02 net +600 before user03 net -8500).
	assert.Equal(t, 5, rows[0].Score)
	assert.Equal(t, 3, rows[1].Score)
	assert.Equal(t, 3, rows[2].Score)
	assert.Greater(t, rows[1].Net, rows[2].Net)
}

func TestScoreAllDeterministicAcrossRuns(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	first := func() []models.RiskAssessment {
		agg := buildPassAggregation()
		idx := aggregate.BuildIndex(agg.Users())
		return engine.ScoreAll(agg.Users(), agg.Order(), idx)
	}

	a, b := first(), first()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Username, b[i].Username)
		assert.Equal(t, a[i].Score, b[i].Score)
	}
}

func TestScoreAllFilteredUsersStillFeedIndex(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	agg := aggregate.NewAggregator()

	// user02 scores too low to be emitted but still makes ACC9 shared.
	agg.AddDeposit(models.TransactionRecord{Username: "user01", Amount: 1000, Instrument: "ACC9", Timestamp: ts("2024-03-01 10:00:00")})
	agg.AddWithdrawal(models.TransactionRecord{Username: "user01", Amount: 900, Instrument: "ACC9", Timestamp: ts("2024-03-01 11:00:00")})
	agg.AddDeposit(models.TransactionRecord{Username: "user02", Amount: 10, Instrument: "ACC9", Timestamp: ts("2024-02-01 10:00:00")})

	idx := aggregate.BuildIndex(agg.Users())
	rows := engine.ScoreAll(agg.Users(), agg.Order(), idx)

	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].SharedInstrumentUsers)
}

func TestRaisingMinScoreFilterOnlyShrinksOutput(t *testing.T) {
	agg := buildPassAggregation()
	idx := aggregate.BuildIndex(agg.Users())

	loose := DefaultThresholds()
	loose.MinScoreFilter = 0
	strict := DefaultThresholds()
	strict.MinScoreFilter = 5

	looseRows := NewEngine(loose).ScoreAll(agg.Users(), agg.Order(), idx)
	strictRows := NewEngine(strict).ScoreAll(agg.Users(), agg.Order(), idx)

	assert.Greater(t, len(looseRows), len(strictRows))

	looseByName := make(map[string]models.RiskAssessment, len(looseRows))
	for _, r := range looseRows {
		looseByName[r.Username] = r
	}
	for _, r := range strictRows {
		kept, ok := looseByName[r.Username]
		require.True(t, ok)
		assert.Equal(t, kept.Score, r.Score)
	}
}
