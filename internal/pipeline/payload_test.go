package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/strategy"
)

func TestBuildPayload(t *testing.T) {
	item := model.ContentItem{Platform: "x", PlatformItemID: "123"}

	tests := []struct {
		name        string
		draft       strategy.NoteDraft
		moreDetails string
		wantText    string
		wantLinks   []string
	}{
		{
			name:        "backlink formatted with fact check id",
			draft:       strategy.NoteDraft{Text: "Bleach is poisonous.", Links: []string{goodLink}},
			moreDetails: "https://fc.test/%s",
			wantText:    "Bleach is poisonous.\n\nhttps://fc.test/fc-1",
			wantLinks:   []string{goodLink, "https://fc.test/fc-1"},
		},
		{
			name:        "fixed backlink",
			draft:       strategy.NoteDraft{Text: "Bleach is poisonous."},
			moreDetails: "https://fc.test/about",
			wantText:    "Bleach is poisonous.\n\nhttps://fc.test/about",
			wantLinks:   []string{"https://fc.test/about"},
		},
		{
			name:        "backlink already present",
			draft:       strategy.NoteDraft{Text: "See https://fc.test/fc-1", Links: []string{"https://fc.test/fc-1"}},
			moreDetails: "https://fc.test/%s",
			wantText:    "See https://fc.test/fc-1",
			wantLinks:   []string{"https://fc.test/fc-1"},
		},
		{
			name:      "no backlink",
			draft:     strategy.NoteDraft{Text: " Bleach is poisonous. "},
			wantText:  "Bleach is poisonous.",
			wantLinks: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BuildPayload(item, "fc-1", tt.draft, tt.moreDetails)
			assert.Equal(t, tt.wantText, p.Text)
			assert.Equal(t, tt.wantLinks, p.Links)
			assert.Equal(t, "x:123", p.ItemRef)
		})
	}
}

func TestBuildPayload_NormalizesAndCountsRunes(t *testing.T) {
	p := BuildPayload(model.ContentItem{}, "fc", strategy.NoteDraft{
		Text:           "Cafe\u0301",
		Classification: model.NoteNotMisleading,
		Tags:           []string{"food"},
	}, "")
	assert.Equal(t, "Caf\u00e9", p.Text)
	assert.Equal(t, 4, p.RuneCount)
	assert.Equal(t, model.NoteNotMisleading, p.Classification)
	assert.Equal(t, []string{"food"}, p.Tags)
}

func TestBuildPayload_DoesNotAliasDraft(t *testing.T) {
	d := strategy.NoteDraft{Text: "t", Links: []string{goodLink}}
	p := BuildPayload(model.ContentItem{}, "fc", d, "https://fc.test/%s")
	p.Links[0] = "changed"
	assert.Equal(t, goodLink, d.Links[0])
}
