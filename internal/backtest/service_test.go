package backtest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backsim/internal/market"
)

// fakeSource 从内存切片返回 K 线，模拟交易所行情接口。
type fakeSource struct {
	candles []market.Candle
	calls   atomic.Int64
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, req FetchRequest) ([]market.Candle, error) {
	f.calls.Add(1)
	var out []market.Candle
	for _, c := range f.candles {
		if c.OpenTime < req.Start || c.OpenTime > req.End {
			continue
		}
		out = append(out, c)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}

func newTestService(t *testing.T, st *Store, src CandleSource) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Store:   st,
		Sources: map[string]CandleSource{"fake": src},
	})
	require.NoError(t, err)
	return svc
}

func waitJob(t *testing.T, svc *Service, id string) FetchJob {
	t.Helper()
	var job FetchJob
	require.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(id)
		if !ok {
			return false
		}
		job = snap
		return job.Status != JobStatusPending && job.Status != JobStatusRunning
	}, 10*time.Second, 20*time.Millisecond)
	return job
}

func TestSubmitFetchFillsGaps(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{}
	for i := int64(0); i < 5; i++ {
		src.candles = append(src.candles, dailyCandle(i, 100+float64(i)))
	}
	svc := newTestService(t, st, src)

	job, err := svc.SubmitFetch(FetchParams{Symbol: "600519", Timeframe: "1d", Start: 0, End: 4 * dayMS})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	final := waitJob(t, svc, job.ID)
	assert.Equal(t, JobStatusDone, final.Status)
	assert.Empty(t, final.Missing)

	list, err := st.RangeCandles(context.Background(), "600519", "1d", 0, 4*dayMS)
	require.NoError(t, err)
	assert.Len(t, list, 5)
	assert.Positive(t, src.calls.Load())
}

func TestSubmitFetchPartialWhenSourceMissesBars(t *testing.T) {
	st := newTestStore(t)
	// 远端也没有 day 2，补齐后仍有缺口
	src := &fakeSource{candles: []market.Candle{
		dailyCandle(0, 100), dailyCandle(1, 101), dailyCandle(3, 103), dailyCandle(4, 104),
	}}
	svc := newTestService(t, st, src)

	job, err := svc.SubmitFetch(FetchParams{Symbol: "600519", Timeframe: "1d", Start: 0, End: 4 * dayMS})
	require.NoError(t, err)

	final := waitJob(t, svc, job.ID)
	assert.Equal(t, JobStatusPartial, final.Status)
	require.Len(t, final.Missing, 1)
	assert.Equal(t, Gap{From: 2 * dayMS, To: 2 * dayMS}, final.Missing[0])
}

func TestSubmitFetchAlreadyComplete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.InsertCandles(ctx, "600519", "1d", []market.Candle{
		dailyCandle(0, 100), dailyCandle(1, 101), dailyCandle(2, 102),
	})
	require.NoError(t, err)

	src := &fakeSource{}
	svc := newTestService(t, st, src)

	job, err := svc.SubmitFetch(FetchParams{Symbol: "600519", Timeframe: "1d", Start: 0, End: 2 * dayMS})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, int64(0), src.calls.Load())
}

func TestSubmitFetchValidation(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st, &fakeSource{})

	_, err := svc.SubmitFetch(FetchParams{Timeframe: "1d", Start: 0, End: dayMS})
	assert.Error(t, err)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "600519", Timeframe: "2d", Start: 0, End: dayMS})
	assert.Error(t, err)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "600519", Timeframe: "1d", Exchange: "nope", Start: 0, End: dayMS})
	assert.Error(t, err)

	// 区间退化为单点
	_, err = svc.SubmitFetch(FetchParams{Symbol: "600519", Timeframe: "1d", Start: 100, End: 200})
	assert.Error(t, err)
}

func TestJobsSnapshotCopies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.InsertCandles(ctx, "600519", "1d", []market.Candle{dailyCandle(0, 100), dailyCandle(1, 101)})
	require.NoError(t, err)

	svc := newTestService(t, st, &fakeSource{})
	job, err := svc.SubmitFetch(FetchParams{Symbol: "600519", Timeframe: "1d", Start: 0, End: dayMS})
	require.NoError(t, err)

	jobs := svc.JobsSnapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}
