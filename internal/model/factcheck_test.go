package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Verdict
	}{
		{"false", VerdictFalse},
		{"Partly False", VerdictPartlyFalse},
		{"missing-context", VerdictMissingContext},
		{" TRUE ", VerdictTrue},
		{"not_worth_correcting", VerdictNotWorthCorrecting},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseVerdict(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseVerdict("mostly harmless")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown verdict")
}

func TestFactCheckStatus_CanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, FactCheckPending.CanTransition(FactCheckProcessing))
	assert.True(t, FactCheckProcessing.CanTransition(FactCheckCompleted))
	assert.True(t, FactCheckProcessing.CanTransition(FactCheckFailed))
	assert.False(t, FactCheckPending.CanTransition(FactCheckCompleted))
	assert.False(t, FactCheckCompleted.CanTransition(FactCheckPending))
	assert.False(t, FactCheckFailed.CanTransition(FactCheckProcessing))

	assert.True(t, FactCheckCompleted.IsTerminal())
	assert.True(t, FactCheckIneligible.IsTerminal())
	assert.False(t, FactCheckProcessing.IsTerminal())
}

func TestNoteStatus_CanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, NotePending.CanTransition(NoteProcessing))
	assert.True(t, NoteProcessing.CanTransition(NoteCompleted))
	assert.False(t, NoteCompleted.CanTransition(NoteProcessing))
}

func TestSubmissionStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []SubmissionStatus{SubmissionDisplayed, SubmissionNotDisplayed, SubmissionDeleted, SubmissionUnknown} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []SubmissionStatus{SubmissionPending, SubmissionSubmitted, SubmissionFailed} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestBatchJob_ProgressPercentage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100.0, (&BatchJob{}).ProgressPercentage())
	assert.Equal(t, 33.33, (&BatchJob{Total: 3, Processed: 1}).ProgressPercentage())
	assert.Equal(t, 100.0, (&BatchJob{Total: 4, Processed: 4}).ProgressPercentage())
}

func TestEvaluation_Succeeded(t *testing.T) {
	t.Parallel()

	score := 0.3
	assert.True(t, (&Evaluation{Score: &score}).Succeeded())
	assert.False(t, (&Evaluation{Error: true, Score: &score}).Succeeded())
	assert.False(t, (*Evaluation)(nil).Succeeded())
}

func TestContentItem_Ref(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "x:123", ContentItem{Platform: "x", PlatformItemID: "123"}.Ref())
}

func TestStrategyRecord_Config(t *testing.T) {
	t.Parallel()

	r := StrategyRecord{Config: map[string]any{
		"engine": "claude",
		"labels": []any{"health", 3, "politics"},
	}}
	assert.Equal(t, "claude", r.ConfigString("engine", "x"))
	assert.Equal(t, "def", r.ConfigString("missing", "def"))
	assert.Equal(t, []string{"health", "politics"}, r.ConfigStrings("labels"))
	assert.Nil(t, r.ConfigStrings("missing"))
}
