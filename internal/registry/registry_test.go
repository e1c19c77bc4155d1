package registry

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/strategy"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubClassifier struct{ label string }

func (s stubClassifier) Classify(context.Context, model.ContentItem) (*model.ClassificationPayload, error) {
	return model.NewSinglePayload(s.label, nil), nil
}

func TestRegistry_RegisterResolve(t *testing.T) {
	r := New[strategy.Classifier](model.StrategyKindClassifier)
	r.Register("topic", stubClassifier{label: "a"})
	r.Register("lang", stubClassifier{label: "en"})

	c, err := r.Resolve("topic")
	require.NoError(t, err)
	p, err := c.Classify(context.Background(), model.ContentItem{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, p.Values())

	assert.Equal(t, []string{"lang", "topic"}, r.List())
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := New[strategy.Classifier](model.StrategyKindClassifier)
	r.Register("topic", stubClassifier{label: "first"})
	r.Register("topic", stubClassifier{label: "second"})

	c, err := r.Resolve("topic")
	require.NoError(t, err)
	assert.Equal(t, stubClassifier{label: "second"}, c)
	assert.Len(t, r.List(), 1)
}

func TestRegistry_UnknownSlug(t *testing.T) {
	r := New[strategy.NoteWriter](model.StrategyKindNoteWriter)
	_, err := r.Resolve("ghost")
	require.Error(t, err)

	var u *UnknownStrategyError
	require.ErrorAs(t, err, &u)
	assert.Equal(t, "ghost", u.Slug)
	assert.Equal(t, model.StrategyKindNoteWriter, u.Kind)
	assert.Equal(t, `unknown note_writer strategy "ghost"`, err.Error())
	assert.True(t, IsUnknownStrategy(eris.Wrap(err, "dispatch")))
	assert.False(t, IsUnknownStrategy(eris.New("other")))
}

func TestSet_Register(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Register(model.StrategyKindClassifier, "topic", stubClassifier{}))
	assert.Equal(t, []string{"topic"}, s.List(model.StrategyKindClassifier))
	assert.Empty(t, s.List(model.StrategyKindFactChecker))

	err := s.Register(model.StrategyKindFactChecker, "topic", stubClassifier{})
	assert.Error(t, err)
	assert.Error(t, s.Register("bogus", "x", stubClassifier{}))
}
