package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

type fakeVerifier struct {
	mu       sync.Mutex
	keys     []inventory.StockKey
	bad      map[inventory.StockKey]bool
	failOn   inventory.StockKey
	pages    int
	verified []inventory.StockKey
}

func (f *fakeVerifier) Keys(_ context.Context, after inventory.StockKey, limit int) ([]inventory.StockKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages++
	start := 0
	if after != (inventory.StockKey{}) {
		for i, k := range f.keys {
			if k == after {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(f.keys) {
		end = len(f.keys)
	}
	return append([]inventory.StockKey(nil), f.keys[start:end]...), nil
}

func (f *fakeVerifier) Verify(_ context.Context, key inventory.StockKey) (inventory.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == f.failOn {
		return inventory.VerifyResult{}, errors.New("db down")
	}
	f.verified = append(f.verified, key)
	res := inventory.VerifyResult{Key: key, Stored: 5, Replayed: 5}
	if f.bad[key] {
		res.Replayed = 4
	}
	return res, nil
}

func stockKeys(n int) []inventory.StockKey {
	out := make([]inventory.StockKey, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, inventory.StockKey{LocationID: 1, ProductID: int64(i)})
	}
	return out
}

func TestLedgerVerifyPagesAndCountsMismatches(t *testing.T) {
	keys := stockKeys(7)
	verifier := &fakeVerifier{keys: keys, bad: map[inventory.StockKey]bool{keys[1]: true, keys[6]: true}}
	job := NewLedgerVerifyJob(verifier, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	summary, err := job.Run(context.Background(), LedgerVerifyPayload{BatchSize: 3, Concurrency: 2})
	require.NoError(t, err)
	require.Equal(t, LedgerVerifySummary{Rows: 7, Mismatches: 2}, summary)
	require.Equal(t, 3, verifier.pages)

	sort.Slice(verifier.verified, func(i, j int) bool { return verifier.verified[i].ProductID < verifier.verified[j].ProductID })
	require.Equal(t, keys, verifier.verified)
}

func TestLedgerVerifyStopsOnExactPage(t *testing.T) {
	verifier := &fakeVerifier{keys: stockKeys(4)}
	job := NewLedgerVerifyJob(verifier, nil, nil)

	summary, err := job.Run(context.Background(), LedgerVerifyPayload{BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, 4, summary.Rows)
	// the third page comes back empty
	require.Equal(t, 3, verifier.pages)
}

func TestLedgerVerifyReturnsVerifyErrors(t *testing.T) {
	keys := stockKeys(3)
	job := NewLedgerVerifyJob(&fakeVerifier{keys: keys, failOn: keys[2]}, nil, nil)
	_, err := job.Run(context.Background(), LedgerVerifyPayload{})
	require.ErrorContains(t, err, "db down")
}

func TestLedgerVerifyAgainstInventoryService(t *testing.T) {
	store := inventory.NewMemoryStore()
	store.Seed(inventory.StockKey{LocationID: 1, ProductID: 10}, 5)
	store.Seed(inventory.StockKey{LocationID: 2, ProductID: 10}, 3)
	store.Seed(inventory.StockKey{LocationID: 2, ProductID: 10}, 4)
	svc := inventory.NewService(store, nil, nil, nil, nil, nil)

	task, err := NewLedgerVerifyTask(LedgerVerifyPayload{BatchSize: 1})
	require.NoError(t, err)
	require.NoError(t, NewLedgerVerifyJob(svc, nil, nil).Handle(context.Background(), task))

	summary, err := NewLedgerVerifyJob(svc, nil, nil).Run(context.Background(), LedgerVerifyPayload{})
	require.NoError(t, err)
	require.Equal(t, LedgerVerifySummary{Rows: 2}, summary)
}

func TestLedgerVerifyRejectsBadPayload(t *testing.T) {
	job := NewLedgerVerifyJob(&fakeVerifier{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerVerify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
