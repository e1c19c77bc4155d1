package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/strategy"
)

// BuildPayload assembles the submission-ready form of a draft. The text is
// NFC-normalized and the "more details" backlink for the fact check is
// appended to both the text and the links. moreDetails may contain one %s
// for the fact-check id; an empty value adds no backlink.
func BuildPayload(item model.ContentItem, factCheckID string, d strategy.NoteDraft, moreDetails string) model.SubmissionPayload {
	text := norm.NFC.String(strings.TrimSpace(d.Text))
	links := slices.Clone(d.Links)
	if links == nil {
		links = []string{}
	}

	if link := moreDetailsLink(moreDetails, factCheckID); link != "" {
		if !slices.Contains(links, link) {
			links = append(links, link)
		}
		if !strings.Contains(text, link) {
			text += "\n\n" + link
		}
	}

	classification := d.Classification
	if classification == "" {
		classification = model.NoteMisinformedOrMisleading
	}
	return model.SubmissionPayload{
		ItemRef:            item.Ref(),
		Text:               text,
		Links:              links,
		Classification:     classification,
		Tags:               slices.Clone(d.Tags),
		TrustworthySources: d.TrustworthySources,
		RuneCount:          utf8.RuneCountInString(text),
	}
}

func moreDetailsLink(format, factCheckID string) string {
	if format == "" {
		return ""
	}
	if strings.Contains(format, "%s") {
		return fmt.Sprintf(format, factCheckID)
	}
	return format
}

// noteDraft returns the stored content of a note as a draft.
func noteDraft(n *model.Note) strategy.NoteDraft {
	return strategy.NoteDraft{
		Text:               n.Text,
		Links:              slices.Clone(n.Links),
		Classification:     n.Classification,
		Tags:               slices.Clone(n.Tags),
		TrustworthySources: n.TrustworthySources,
	}
}
