package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/strategy"
)

func TestNoteRun_TerminatesWithinBound(t *testing.T) {
	for maxIter := 1; maxIter <= 4; maxIter++ {
		writer := &scriptedWriter{drafts: []strategy.NoteDraft{{Text: "Still wrong.", Links: []string{deadLink}}}}
		urls := &fakeValidator{invalid: map[string]string{deadLink: "404"}}

		run := newNoteRun(model.ContentItem{ID: "i"}, model.FactCheck{ID: "f"}, maxIter, 5)
		draft, err := run.drive(context.Background(), writer, urls)

		assert.Nil(t, draft)
		assert.ErrorIs(t, err, ErrUnresolvedInvalidURLs)
		assert.Equal(t, maxIter, writer.calls())
		assert.Equal(t, maxIter, run.iteration)
		assert.Len(t, run.conversation, 2*maxIter-1, "one draft per iteration, one correction between them")
	}
}

func TestNoteRun_OnlyCurrentInvalidLinksDriveTheLoop(t *testing.T) {
	writer := &scriptedWriter{drafts: []strategy.NoteDraft{
		{Text: "First.", Links: []string{deadLink}},
		{Text: "Second.", Links: []string{goodLink}},
	}}
	urls := &fakeValidator{invalid: map[string]string{deadLink: "404"}}

	run := newNoteRun(model.ContentItem{}, model.FactCheck{}, 3, 5)
	draft, err := run.drive(context.Background(), writer, urls)
	require.NoError(t, err)
	assert.Equal(t, "Second.", draft.Text)
	assert.Equal(t, stateDone, run.state)
	assert.Empty(t, run.invalid)
	assert.Equal(t, []string{deadLink}, run.accumulated)
}

func TestNoteRun_MissingCheckCountsAsInvalid(t *testing.T) {
	writer := &scriptedWriter{drafts: []strategy.NoteDraft{{Text: "Text.", Links: []string{goodLink}}}}
	run := newNoteRun(model.ContentItem{}, model.FactCheck{}, 1, 5)

	_, err := run.drive(context.Background(), writer, silentValidator{})
	var unresolved *UnresolvedInvalidURLsError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, []string{goodLink}, unresolved.URLs)
}

func TestNoteRun_RejectsEmptyDraft(t *testing.T) {
	writer := &scriptedWriter{drafts: []strategy.NoteDraft{{Text: "   "}}}
	run := newNoteRun(model.ContentItem{}, model.FactCheck{}, 3, 5)

	_, err := run.drive(context.Background(), writer, &fakeValidator{})
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNoteState_String(t *testing.T) {
	assert.Equal(t, "reflect", stateReflect.String())
	assert.Equal(t, "noteState(42)", noteState(42).String())
}

func TestCleanLinks(t *testing.T) {
	got := cleanLinks([]string{" https://a.test ", "", "https://a.test", "https://b.test", "https://c.test"}, 2)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, got)
	assert.Empty(t, cleanLinks(nil, 5))
	assert.Empty(t, cleanLinks([]string{"https://a.test"}, 0))
}

// silentValidator reports nothing for any link.
type silentValidator struct{}

func (silentValidator) Validate(context.Context, []string) ([]strategy.URLCheck, error) {
	return nil, nil
}
