package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mixmaster/internal/blobstore"
	"github.com/magabrotheeeer/mixmaster/internal/dsp"
	"github.com/magabrotheeeer/mixmaster/internal/jobstate"
	"github.com/magabrotheeeer/mixmaster/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mixmaster/internal/models"
	"github.com/magabrotheeeer/mixmaster/internal/services/entitlement"
	"github.com/magabrotheeeer/mixmaster/internal/services/jobs"
	"github.com/magabrotheeeer/mixmaster/internal/storage/memory"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Analyze(ctx context.Context, job *models.Job) (*dsp.Analysis, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dsp.Analysis), args.Error(1)
}

func (m *MockProcessor) Mix(ctx context.Context, job *models.Job, analysis *dsp.Analysis) (string, error) {
	args := m.Called(ctx, job, analysis)
	return args.String(0), args.Error(1)
}

func (m *MockProcessor) Master(ctx context.Context, job *models.Job, mixHandle, outputKey string) (string, error) {
	args := m.Called(ctx, job, mixHandle, outputKey)
	return args.String(0), args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (n *recordingNotifier) JobFinished(_ context.Context, job *models.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := *job
	n.jobs = append(n.jobs, &c)
	return nil
}

func (n *recordingNotifier) states() []jobstate.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []jobstate.State
	for _, j := range n.jobs {
		out = append(out, j.State)
	}
	return out
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type fixture struct {
	store      *memory.Storage
	ledger     *entitlement.Service
	jobs       *jobs.Store
	processor  *MockProcessor
	dispatcher *MockDispatcher
	notifier   *recordingNotifier
	orch       *Orchestrator
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	log := newNoopLogger()
	store := memory.New()
	f := &fixture{
		store:      store,
		ledger:     entitlement.New(store, log),
		jobs:       jobs.New(store, log),
		processor:  new(MockProcessor),
		dispatcher: new(MockDispatcher),
		notifier:   &recordingNotifier{},
	}
	if cfg.StageTimeout == 0 {
		cfg.StageTimeout = time.Second
	}
	if cfg.MaxJobDuration == 0 {
		cfg.MaxJobDuration = time.Minute
	}
	opts = append([]Option{WithNotifier(f.notifier)}, opts...)
	f.orch = New(f.ledger, f.jobs, f.processor, f.dispatcher, cfg, log, opts...)
	return f
}

func (f *fixture) account(t *testing.T, mutate func(*models.Account)) string {
	t.Helper()
	acc := models.NewAccount("acc-1", time.Now())
	if mutate != nil {
		mutate(acc)
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), acc))
	return acc.ID
}

func (f *fixture) submit(t *testing.T, accountID string) *models.Job {
	t.Helper()
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Maybe()
	job, err := f.orch.Submit(context.Background(), SubmitRequest{
		AccountID: accountID,
		Inputs:    models.JobInputs{VocalHandle: "uploads/acc-1/v.wav", BeatHandle: "uploads/acc-1/b.wav"},
		Options:   models.DefaultProcessingOptions(),
	})
	require.NoError(t, err)
	return job
}

func (f *fixture) happyProcessor() {
	f.processor.On("Analyze", mock.Anything, mock.Anything).Return(&dsp.Analysis{Tempo: 90}, nil)
	f.processor.On("Mix", mock.Anything, mock.Anything, mock.Anything).Return("tmp/mix.wav", nil)
	f.processor.On("Master", mock.Anything, mock.Anything, "tmp/mix.wav", mock.Anything).
		Return("outputs/out.wav", nil)
}

func TestOrchestrator_SuccessCommitsReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	accountID := f.account(t, nil)
	f.happyProcessor()

	job := f.submit(t, accountID)
	assert.Equal(t, jobstate.Queued, job.State)
	assert.Equal(t, 0, job.Progress)
	f.dispatcher.AssertCalled(t, "Dispatch", mock.Anything, job.ID)

	require.NoError(t, f.orch.Run(ctx, job.ID))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstate.Complete, got.State)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "outputs/out.wav", got.OutputReference)
	assert.Empty(t, got.ErrorDetail)

	r, err := f.ledger.ReservationForJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCommitted, r.Status)
	assert.Equal(t, models.KindFree, r.Kind)

	acc, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.TotalSongsProcessed)
	assert.Equal(t, 1, acc.FreeCreditsUsed)

	assert.Equal(t, []jobstate.State{jobstate.Complete}, f.notifier.states())
	f.processor.AssertNumberOfCalls(t, "Master", 1)
	f.processor.AssertCalled(t, "Master", mock.Anything, mock.Anything, "tmp/mix.wav", "outputs/"+job.ID+".wav")
}

func TestOrchestrator_StageFailureReleasesReservation(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(p *MockProcessor)
		wantDetail string
		wantProg   int
	}{
		{
			name: "analysis fails",
			setup: func(p *MockProcessor) {
				p.On("Analyze", mock.Anything, mock.Anything).Return(nil, errors.New("corrupt wav"))
			},
			wantDetail: "analyzing failed",
			wantProg:   25,
		},
		{
			name: "mixing fails",
			setup: func(p *MockProcessor) {
				p.On("Analyze", mock.Anything, mock.Anything).Return(&dsp.Analysis{}, nil)
				p.On("Mix", mock.Anything, mock.Anything, mock.Anything).Return("", dsp.ErrRejected)
			},
			wantDetail: "mixing failed",
			wantProg:   55,
		},
		{
			name: "mastering fails",
			setup: func(p *MockProcessor) {
				p.On("Analyze", mock.Anything, mock.Anything).Return(&dsp.Analysis{}, nil)
				p.On("Mix", mock.Anything, mock.Anything, mock.Anything).Return("tmp/mix.wav", nil)
				p.On("Master", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("disk full"))
			},
			wantDetail: "mastering failed",
			wantProg:   80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, Config{})
			accountID := f.account(t, nil)
			tt.setup(f.processor)

			job := f.submit(t, accountID)
			require.NoError(t, f.orch.Run(ctx, job.ID))

			got, err := f.jobs.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, jobstate.Error, got.State)
			assert.Equal(t, tt.wantDetail, got.ErrorDetail)
			assert.Equal(t, tt.wantProg, got.Progress)
			assert.Empty(t, got.OutputReference)

			r, err := f.ledger.ReservationForJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ReservationReleased, r.Status)

			acc, err := f.store.GetAccount(ctx, accountID)
			require.NoError(t, err)
			assert.Equal(t, 0, acc.FreeCreditsUsed)
			assert.Equal(t, 0, acc.TotalSongsProcessed)
			assert.Equal(t, []jobstate.State{jobstate.Error}, f.notifier.states())
		})
	}
}

func TestOrchestrator_StageTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{StageTimeout: 50 * time.Millisecond})
	accountID := f.account(t, func(a *models.Account) {
		a.Type = models.AccountPayPerUse
		a.PaidCredits = 1
	})
	f.processor.On("Analyze", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	job := f.submit(t, accountID)
	require.NoError(t, f.orch.Run(ctx, job.ID))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstate.Error, got.State)
	assert.Equal(t, DetailTimeout, got.ErrorDetail)

	acc, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.PaidCredits)
}

func TestOrchestrator_ShutdownInterruptsJob(t *testing.T) {
	f := newFixture(t, Config{StageTimeout: time.Minute})
	accountID := f.account(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.processor.On("Analyze", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)

	job := f.submit(t, accountID)
	require.NoError(t, f.orch.Run(ctx, job.ID))

	got, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstate.Error, got.State)
	assert.Equal(t, DetailInterrupted, got.ErrorDetail)

	acc, err := f.store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, 0, acc.FreeCreditsUsed)
}

func TestOrchestrator_SubmitDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	accountID := f.account(t, func(a *models.Account) {
		a.FreeCreditsUsed = 1
	})

	_, err := f.orch.Submit(ctx, SubmitRequest{
		AccountID: accountID,
		Inputs:    models.JobInputs{VocalHandle: "uploads/acc-1/v.wav", BeatHandle: "uploads/acc-1/b.wav"},
	})
	reason, denied := entitlement.IsDenied(err)
	require.True(t, denied)
	assert.Equal(t, models.ReasonUpgrade, reason)

	list, err := f.jobs.List(ctx, accountID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestOrchestrator_SubmitDispatchFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	accountID := f.account(t, func(a *models.Account) {
		a.Type = models.AccountPayPerUse
		a.PaidCredits = 2
	})
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := f.orch.Submit(ctx, SubmitRequest{
		AccountID: accountID,
		Inputs:    models.JobInputs{VocalHandle: "uploads/acc-1/v.wav", BeatHandle: "uploads/acc-1/b.wav"},
	})
	require.Error(t, err)

	list, err := f.jobs.List(ctx, accountID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, jobstate.Error, list[0].State)
	assert.Equal(t, "dispatch failed", list[0].ErrorDetail)

	acc, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 2, acc.PaidCredits)
}

func TestOrchestrator_SubmitValidatesInputs(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemory("http://blobs")
	require.NoError(t, blobs.Put(ctx, "uploads/acc-1/v.wav", strings.NewReader("v"), 1, "audio/wav"))
	require.NoError(t, blobs.Put(ctx, "uploads/acc-2/b.wav", strings.NewReader("b"), 1, "audio/wav"))

	tests := []struct {
		name   string
		inputs models.JobInputs
	}{
		{name: "missing beat handle", inputs: models.JobInputs{VocalHandle: "uploads/acc-1/v.wav"}},
		{name: "handle of another account", inputs: models.JobInputs{VocalHandle: "uploads/acc-1/v.wav", BeatHandle: "uploads/acc-2/b.wav"}},
		{name: "handle not uploaded", inputs: models.JobInputs{VocalHandle: "uploads/acc-1/v.wav", BeatHandle: "uploads/acc-1/nope.wav"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{}, WithBlobs(blobs))
			accountID := f.account(t, nil)

			_, err := f.orch.Submit(ctx, SubmitRequest{AccountID: accountID, Inputs: tt.inputs})
			assert.ErrorIs(t, err, models.ErrInvalidInput)

			acc, err := f.store.GetAccount(ctx, accountID)
			require.NoError(t, err)
			assert.Equal(t, 0, acc.FreeCreditsUsed)
		})
	}
}

func TestOrchestrator_RunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	accountID := f.account(t, nil)
	f.happyProcessor()

	job := f.submit(t, accountID)
	require.NoError(t, f.orch.Run(ctx, job.ID))
	require.NoError(t, f.orch.Run(ctx, job.ID))

	f.processor.AssertNumberOfCalls(t, "Analyze", 1)
	assert.Len(t, f.notifier.states(), 1)
}

func TestOrchestrator_ConcurrentRunsProcessOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	accountID := f.account(t, nil)
	f.happyProcessor()

	job := f.submit(t, accountID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.orch.Run(ctx, job.ID))
		}()
	}
	wg.Wait()

	f.processor.AssertNumberOfCalls(t, "Analyze", 1)
	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstate.Complete, got.State)
}

func TestOrchestrator_RunUnknownJob(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.orch.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOrchestrator_ReapStale(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	f := newFixture(t, Config{MaxJobDuration: 10 * time.Minute, StageTimeout: time.Minute},
		WithClock(func() time.Time { return base.Add(time.Hour) }))
	accountID := f.account(t, func(a *models.Account) {
		a.Type = models.AccountPayPerUse
		a.PaidCredits = 1
	})

	stale := f.submit(t, accountID)

	n, err := f.orch.ReapStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.jobs.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstate.Error, got.State)
	assert.Equal(t, DetailTimeout, got.ErrorDetail)

	acc, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.PaidCredits)

	n, err = f.orch.ReapStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// воркер, получивший задачу после сборщика, не обрабатывает её
	require.NoError(t, f.orch.Run(ctx, stale.ID))
	f.processor.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

// flakyLedger отказывает в первых вызовах фиксации и возврата.
type flakyLedger struct {
	*entitlement.Service
	mu          sync.Mutex
	failRelease int
	failCommit  int
}

func (l *flakyLedger) Release(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	if l.failRelease > 0 {
		l.failRelease--
		l.mu.Unlock()
		return errors.New("connection reset")
	}
	l.mu.Unlock()
	return l.Service.Release(ctx, reservationID)
}

func (l *flakyLedger) Commit(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	if l.failCommit > 0 {
		l.failCommit--
		l.mu.Unlock()
		return errors.New("connection reset")
	}
	l.mu.Unlock()
	return l.Service.Commit(ctx, reservationID)
}

func TestOrchestrator_ReapSettlesOrphanedReservations(t *testing.T) {
	tests := []struct {
		name        string
		failRelease int
		failCommit  int
		setup       func(p *MockProcessor)
		wantState   jobstate.State
		wantStatus  models.ReservationStatus
		wantCredits int
		wantSongs   int
	}{
		{
			name:        "возврат не удался после ошибки этапа",
			failRelease: 1,
			setup: func(p *MockProcessor) {
				p.On("Analyze", mock.Anything, mock.Anything).Return(&dsp.Analysis{}, nil)
				p.On("Mix", mock.Anything, mock.Anything, mock.Anything).Return("", dsp.ErrRejected)
			},
			wantState:   jobstate.Error,
			wantStatus:  models.ReservationReleased,
			wantCredits: 1,
			wantSongs:   0,
		},
		{
			name:       "фиксация не удалась после успешной обработки",
			failCommit: 1,
			setup: func(p *MockProcessor) {
				p.On("Analyze", mock.Anything, mock.Anything).Return(&dsp.Analysis{Tempo: 90}, nil)
				p.On("Mix", mock.Anything, mock.Anything, mock.Anything).Return("tmp/mix.wav", nil)
				p.On("Master", mock.Anything, mock.Anything, "tmp/mix.wav", mock.Anything).
					Return("outputs/out.wav", nil)
			},
			wantState:   jobstate.Complete,
			wantStatus:  models.ReservationCommitted,
			wantCredits: 0,
			wantSongs:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, Config{})
			accountID := f.account(t, func(a *models.Account) {
				a.Type = models.AccountPayPerUse
				a.PaidCredits = 1
			})
			tt.setup(f.processor)
			ledger := &flakyLedger{Service: f.ledger, failRelease: tt.failRelease, failCommit: tt.failCommit}
			f.orch.ledger = ledger

			job := f.submit(t, accountID)
			require.NoError(t, f.orch.Run(ctx, job.ID))

			r, err := f.ledger.ReservationForJob(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, models.ReservationReserved, r.Status)

			later := time.Now().Add(24 * time.Hour)
			reaper := New(ledger, f.jobs, f.processor, f.dispatcher, f.orch.cfg, newNoopLogger(),
				WithClock(func() time.Time { return later }))
			n, err := reaper.ReapStale(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			got, err := f.jobs.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, got.State)

			r, err = f.ledger.ReservationForJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, r.Status)

			acc, err := f.store.GetAccount(ctx, accountID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCredits, acc.PaidCredits)
			assert.Equal(t, tt.wantSongs, acc.TotalSongsProcessed)
		})
	}
}

func TestOrchestrator_ReapReleasesReservationWithoutJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxJobDuration: 10 * time.Minute, StageTimeout: time.Minute})
	accountID := f.account(t, func(a *models.Account) {
		a.Type = models.AccountPayPerUse
		a.PaidCredits = 1
	})

	// резервирование есть, а задача так и не была создана
	r, err := f.ledger.CheckAndReserve(ctx, accountID, "job-lost")
	require.NoError(t, err)

	// до истечения предела резервирование не трогается
	_, err = f.orch.ReapStale(ctx)
	require.NoError(t, err)
	got, err := f.ledger.ReservationForJob(ctx, "job-lost")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationReserved, got.Status)

	later := time.Now().Add(time.Hour)
	reaper := New(f.ledger, f.jobs, f.processor, f.dispatcher, f.orch.cfg, newNoopLogger(),
		WithClock(func() time.Time { return later }))
	_, err = reaper.ReapStale(ctx)
	require.NoError(t, err)

	got, err = f.ledger.ReservationForJob(ctx, "job-lost")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, models.ReservationReleased, got.Status)

	acc, err := f.store.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.PaidCredits)
}

func TestOrchestrator_QueuedTooLongTimesOut(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	f := newFixture(t, Config{MaxJobDuration: time.Minute},
		WithClock(func() time.Time { return base.Add(2 * time.Minute) }))
	accountID := f.account(t, nil)

	job := f.submit(t, accountID)
	require.NoError(t, f.orch.Run(ctx, job.ID))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstate.Error, got.State)
	assert.Equal(t, DetailTimeout, got.ErrorDetail)
	f.processor.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestInProcess_RunsDispatchedJobs(t *testing.T) {
	f := newFixture(t, Config{})
	accountID := f.account(t, func(a *models.Account) {
		a.Type = models.AccountPayPerUse
		a.PaidCredits = 3
	})
	f.happyProcessor()

	pool := NewInProcess(2, 10, newNoopLogger())
	f.orch.dispatcher = pool

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- pool.Start(ctx, f.orch) }()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := f.orch.Submit(ctx, SubmitRequest{
			AccountID: accountID,
			Inputs:    models.JobInputs{VocalHandle: "uploads/acc-1/v.wav", BeatHandle: "uploads/acc-1/b.wav"},
			Options:   models.DefaultProcessingOptions(),
		})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := f.jobs.Get(context.Background(), id)
			if err != nil || job.State != jobstate.Complete {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestInProcess_QueueFull(t *testing.T) {
	pool := NewInProcess(1, 1, newNoopLogger())
	require.NoError(t, pool.Dispatch(context.Background(), "job-1"))
	assert.ErrorIs(t, pool.Dispatch(context.Background(), "job-2"), ErrQueueFull)
}

type runnerFunc func(ctx context.Context, jobID string) error

func (f runnerFunc) Run(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func TestJobHandler(t *testing.T) {
	var calls atomic.Int32
	runner := runnerFunc(func(_ context.Context, jobID string) error {
		calls.Add(1)
		switch jobID {
		case "missing":
			return models.ErrNotFound
		case "flaky":
			return errors.New("db timeout")
		}
		return nil
	})
	h := JobHandler(runner)
	ctx := context.Background()

	assert.NoError(t, h(ctx, []byte(`{"job_id":"job-1"}`)))
	assert.ErrorIs(t, h(ctx, []byte(`not json`)), rabbitmq.ErrDiscard)
	assert.ErrorIs(t, h(ctx, []byte(`{}`)), rabbitmq.ErrDiscard)
	assert.ErrorIs(t, h(ctx, []byte(`{"job_id":"missing"}`)), rabbitmq.ErrDiscard)

	err := h(ctx, []byte(`{"job_id":"flaky"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, rabbitmq.ErrDiscard)
	assert.Equal(t, int32(3), calls.Load())
}
