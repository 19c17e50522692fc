package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
	"github.com/Newcityvip/bdt-fraud-radar/internal/scoring"
)

type memCache struct {
	mu          sync.Mutex
	data        map[string][]byte
	expireCalls int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	return nil
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[key]
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal(data, dest)
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.data, key)
	}
	return nil
}

func (c *memCache) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.data[key]; held {
		return false, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	c.data[key] = data
	return true, nil
}

func (c *memCache) Expire(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireCalls++
	_, held := c.data[key]
	return held, nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *memCache) expired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expireCalls
}

type slowSource struct {
	delay    time.Duration
	deposits []models.TransactionRecord
	err      error
}

func (s *slowSource) DepositsSince(_ context.Context, _ time.Time) ([]models.TransactionRecord, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.deposits, s.err
}

func (s *slowSource) WithdrawalsSince(_ context.Context, _ time.Time) ([]models.TransactionRecord, error) {
	return nil, s.err
}

func (s *slowSource) Members(_ context.Context) ([]models.MemberRecord, error) {
	return nil, s.err
}

type captureSink struct {
	rows []models.RiskAssessment
}

func (s *captureSink) ReplaceAll(_ context.Context, _ string, rows []models.RiskAssessment) error {
	s.rows = rows
	return nil
}

func newTestScanService(cache ScanCache, source scoring.RecordSource) *ScanService {
	return NewScanService(scoring.NewEngine(scoring.DefaultThresholds()), source, &captureSink{}, cache)
}

func TestRunScanCachesSummaryAndReleasesLock(t *testing.T) {
	cache := newMemCache()
	svc := newTestScanService(cache, &slowSource{})

	summary, err := svc.RunScan(context.Background(), "scan-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "scan-1", summary.ScanID)

	assert.False(t, cache.has(scanLockKey), "lock must be released after the pass")
	assert.True(t, cache.has(scanSummaryKey), "summary must be cached")

	latest, err := svc.LatestSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scan-1", latest.ScanID)
}

func TestRunScanRefusesWhenLockHeld(t *testing.T) {
	cache := newMemCache()
	_, err := cache.SetNX(context.Background(), scanLockKey, "other-scan", scanLockTTL)
	require.NoError(t, err)

	svc := newTestScanService(cache, &slowSource{})
	_, err = svc.RunScan(context.Background(), "scan-2", 3)
	assert.ErrorIs(t, err, ErrScanInProgress)
}

func TestRunScanReleasesLockOnFailure(t *testing.T) {
	cache := newMemCache()
	svc := newTestScanService(cache, &slowSource{err: errors.New("db down")})

	_, err := svc.RunScan(context.Background(), "scan-3", 3)
	require.Error(t, err)
	assert.False(t, cache.has(scanLockKey), "lock must be released on a failed pass")
	assert.False(t, cache.has(scanSummaryKey), "no summary for a failed pass")
}

func TestRunScanRefreshesLockDuringLongPass(t *testing.T) {
	prev := scanLockRefresh
	scanLockRefresh = 5 * time.Millisecond
	defer func() { scanLockRefresh = prev }()

	cache := newMemCache()
	svc := newTestScanService(cache, &slowSource{delay: 60 * time.Millisecond})

	_, err := svc.RunScan(context.Background(), "scan-4", 3)
	require.NoError(t, err)

	// A pass outliving the refresh interval must have re-armed the TTL at
	// least once while it ran.
	assert.GreaterOrEqual(t, cache.expired(), 1)
	assert.False(t, cache.has(scanLockKey))
}

func TestLatestSummaryWithoutScan(t *testing.T) {
	svc := newTestScanService(newMemCache(), &slowSource{})

	_, err := svc.LatestSummary(context.Background())
	assert.ErrorIs(t, err, ErrNoCompletedScan)
}
