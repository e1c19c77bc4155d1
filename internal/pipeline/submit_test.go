package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/resilience"
	"github.com/sells-group/factcheck-cli/internal/store"
	"github.com/sells-group/factcheck-cli/pkg/notes"
)

// completedNote writes a completed note through the store.
func completedNote(t *testing.T, s store.Store, fcID string) *model.Note {
	t.Helper()
	ctx := context.Background()
	n, err := s.CreateNote(ctx, fcID, "w1")
	require.NoError(t, err)
	_, err = s.TransitionNote(ctx, n.ID, model.NotePending, store.NoteUpdate{Status: model.NoteProcessing})
	require.NoError(t, err)
	n, err = s.TransitionNote(ctx, n.ID, model.NoteProcessing, store.NoteUpdate{
		Status:         model.NoteCompleted,
		Text:           "Bleach is poisonous.",
		Links:          []string{goodLink},
		Classification: model.NoteMisinformedOrMisleading,
		Iterations:     1,
	})
	require.NoError(t, err)
	return n
}

func submitFixture(t *testing.T, transport *mockTransport) (*Pipeline, store.Store, *model.Note) {
	t.Helper()
	p, s := newTestPipeline(t, nil, Deps{Transport: transport})
	item := seedItem(t, s)
	fc := seedCompletedFactCheck(t, s, item.ID, "c1")
	return p, s, completedNote(t, s, fc.ID)
}

// submittedSubmission seeds a note whose submission reached submitted.
func submittedSubmission(t *testing.T, s store.Store, externalID string) *model.Submission {
	t.Helper()
	ctx := context.Background()
	item := seedItem(t, s)
	fc := seedCompletedFactCheck(t, s, item.ID, "c1")
	n := completedNote(t, s, fc.ID)
	sub, err := s.CreateSubmission(ctx, n.ID)
	require.NoError(t, err)
	now := time.Now()
	sub, err = s.TransitionSubmission(ctx, sub.ID, model.SubmissionPending, store.SubmissionUpdate{
		Status: model.SubmissionSubmitted, ExternalID: externalID, SubmittedAt: &now,
	})
	require.NoError(t, err)
	return sub
}

func TestSubmit(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Submit", mock.Anything, mock.MatchedBy(func(p model.SubmissionPayload) bool {
		return p.Text != "" && len(p.Links) == 2
	})).Return("ext-1", nil).Once()
	p, _, note := submitFixture(t, transport)

	sub, err := p.Submit(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionSubmitted, sub.Status)
	assert.Equal(t, "ext-1", sub.ExternalID)
	assert.NotNil(t, sub.SubmittedAt)
	transport.AssertExpectations(t)
}

func TestSubmit_ConcurrentCallsSubmitOnce(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Submit", mock.Anything, mock.Anything).
		After(20*time.Millisecond).
		Return("ext-1", nil)
	p, s, note := submitFixture(t, transport)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.Submit(ctx, note.ID)
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadySubmitted):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	transport.AssertNumberOfCalls(t, "Submit", 1)

	subs, err := s.ListSubmissions(ctx, store.SubmissionFilter{NoteID: note.ID})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, model.SubmissionSubmitted, subs[0].Status)
}

func TestSubmit_RejectionSurfacesReason(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Submit", mock.Anything, mock.Anything).
		Return("", &notes.RejectionError{StatusCode: 422, Reason: "note text too long"}).Once()
	transport.On("Submit", mock.Anything, mock.Anything).Return("ext-2", nil).Once()
	obs := newCountingObserver()
	p, s := newTestPipeline(t, nil, Deps{Transport: transport, Observer: obs})
	item := seedItem(t, s)
	fc := seedCompletedFactCheck(t, s, item.ID, "c1")
	note := completedNote(t, s, fc.ID)
	ctx := context.Background()

	_, err := p.Submit(ctx, note.ID)
	var rejection *notes.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "note text too long", rejection.Reason)
	assert.Equal(t, 1, obs.submissions[OutcomeRejected])

	subs, err := s.ListSubmissions(ctx, store.SubmissionFilter{NoteID: note.ID})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, model.SubmissionFailed, subs[0].Status)
	assert.Contains(t, subs[0].Error, "note text too long")

	sub, err := p.Submit(ctx, note.ID)
	require.NoError(t, err, "a failed submission permits another attempt")
	assert.Equal(t, "ext-2", sub.ExternalID)

	_, err = p.Submit(ctx, note.ID)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSubmit_RequiresCompletedNote(t *testing.T) {
	transport := &mockTransport{}
	p, s := newTestPipeline(t, nil, Deps{Transport: transport})
	item := seedItem(t, s)
	fc := seedCompletedFactCheck(t, s, item.ID, "c1")
	pending, err := s.CreateNote(context.Background(), fc.ID, "w1")
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), pending.ID)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	transport.AssertNotCalled(t, "Submit")
}

func TestSubmit_NoTransport(t *testing.T) {
	p, s, note := submitFixture(t, nil)
	p.transport = nil

	_, err := p.Submit(context.Background(), note.ID)
	require.Error(t, err)
	subs, err := s.ListSubmissions(context.Background(), store.SubmissionFilter{NoteID: note.ID})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestMapExternalStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    model.SubmissionStatus
		changed bool
	}{
		{"displayed", model.SubmissionDisplayed, true},
		{"CURRENTLY_RATED_HELPFUL", model.SubmissionDisplayed, true},
		{"not_displayed", model.SubmissionNotDisplayed, true},
		{"currently_rated_not_helpful", model.SubmissionNotDisplayed, true},
		{"deleted", model.SubmissionDeleted, true},
		{"needs_more_ratings", "", false},
		{"", "", false},
		{"submitted", "", false},
		{"shadow_banned", model.SubmissionUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, changed := MapExternalStatus(tt.raw)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconcile(t *testing.T) {
	transport := &mockTransport{}
	p, s := newTestPipeline(t, nil, Deps{Transport: transport})
	ctx := context.Background()

	shown := submittedSubmission(t, s, "ext-shown")
	waiting := submittedSubmission(t, s, "ext-waiting")
	odd := submittedSubmission(t, s, "ext-odd")
	broken := submittedSubmission(t, s, "ext-broken")

	transport.On("Status", mock.Anything, "ext-shown").Return("currently_rated_helpful", nil).Once()
	transport.On("Status", mock.Anything, "ext-waiting").Return("needs_more_ratings", nil)
	transport.On("Status", mock.Anything, "ext-odd").Return("in_review_by_aliens", nil).Once()
	transport.On("Status", mock.Anything, "ext-broken").Return("", errors.New("bad gateway"))

	res, err := p.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, broken.ID, res.Errors[0].SubmissionID)

	got, err := s.GetSubmission(ctx, shown.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionDisplayed, got.Status)
	assert.NotNil(t, got.CheckedAt)
	got, err = s.GetSubmission(ctx, odd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionUnknown, got.Status)
	got, err = s.GetSubmission(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionSubmitted, got.Status)
	assert.NotNil(t, got.CheckedAt, "undecided polls are stamped")

	res, err = p.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked, "terminal statuses are never revisited")
	transport.AssertNumberOfCalls(t, "Status", 6)
}

func TestReconcile_RotatesUndecidedSubmissions(t *testing.T) {
	transport := &mockTransport{}
	cfg := testConfig()
	cfg.Reconcile.BatchSize = 1
	p, s := newTestPipeline(t, cfg, Deps{Transport: transport})
	ctx := context.Background()

	older := submittedSubmission(t, s, "ext-older")
	newer := submittedSubmission(t, s, "ext-newer")
	transport.On("Status", mock.Anything, "ext-older").Return("needs_more_ratings", nil)
	transport.On("Status", mock.Anything, "ext-newer").Return("currently_rated_helpful", nil)

	for range 2 {
		res, err := p.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Checked)
	}

	got, err := s.GetSubmission(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionDisplayed, got.Status, "an undecided submission does not hold the batch")
	got, err = s.GetSubmission(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionSubmitted, got.Status)
	require.NotNil(t, got.CheckedAt)
	transport.AssertNumberOfCalls(t, "Status", 2)
}

func TestReconcile_ExpiresStalePending(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Submit", mock.Anything, mock.Anything).Return("ext-2", nil).Once()
	obs := newCountingObserver()
	p, s := newTestPipeline(t, nil, Deps{Transport: transport, Observer: obs})
	item := seedItem(t, s)
	note := completedNote(t, s, seedCompletedFactCheck(t, s, item.ID, "c1").ID)
	ctx := context.Background()

	stuck, err := s.CreateSubmission(ctx, note.ID)
	require.NoError(t, err)
	_, err = p.Submit(ctx, note.ID)
	require.ErrorIs(t, err, ErrAlreadySubmitted, "a pending row blocks resubmission")

	res, err := p.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired, "recent pending rows are left alone")

	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err = p.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, obs.stage(StageReconcile, OutcomeExpired))

	got, err := s.GetSubmission(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionFailed, got.Status)
	assert.Contains(t, got.Error, "still pending after 30m0s")

	sub, err := p.Submit(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "ext-2", sub.ExternalID)
	transport.AssertExpectations(t)
}

func TestSubmit_RecordsAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transport := &mockTransport{}
	transport.On("Submit", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("ext-1", nil).Once()
	p, s, note := submitFixture(t, transport)

	sub, err := p.Submit(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionSubmitted, sub.Status)

	got, err := s.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionSubmitted, got.Status)
	assert.Equal(t, "ext-1", got.ExternalID)
}

func TestReconcile_OpenBreakerIsCountedAsError(t *testing.T) {
	transport := &mockTransport{}
	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	p, s := newTestPipeline(t, nil, Deps{Transport: transport, Breakers: breakers})
	cb := breakers.Get(serviceSubmission)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("trip") })
	require.Equal(t, resilience.CircuitOpen, cb.State())

	item := seedItem(t, s)
	fc := seedCompletedFactCheck(t, s, item.ID, "c1")
	n := completedNote(t, s, fc.ID)
	ctx := context.Background()
	sub, err := s.CreateSubmission(ctx, n.ID)
	require.NoError(t, err)
	_, err = s.TransitionSubmission(ctx, sub.ID, model.SubmissionPending, store.SubmissionUpdate{Status: model.SubmissionSubmitted, ExternalID: "ext"})
	require.NoError(t, err)

	res, err := p.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error, "circuit breaker is open")
	transport.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}
