package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/strategy"
)

// noteState is a state of the note-writing machine:
//
//	prepare -> generate -> validate -> reflect -> generate ...
//	                               \-> finalize -> done
type noteState int

const (
	statePrepare noteState = iota
	stateGenerate
	stateValidate
	stateReflect
	stateFinalize
	stateDone
)

func (s noteState) String() string {
	switch s {
	case statePrepare:
		return "prepare"
	case stateGenerate:
		return "generate"
	case stateValidate:
		return "validate"
	case stateReflect:
		return "reflect"
	case stateFinalize:
		return "finalize"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("noteState(%d)", int(s))
}

// noteRun carries the state of one note-writing attempt.
type noteRun struct {
	item          model.ContentItem
	factCheck     model.FactCheck
	maxIterations int
	maxLinks      int

	state        noteState
	iteration    int
	conversation []strategy.Turn
	draft        *strategy.NoteDraft
	// invalid is the current draft's invalid links; it alone drives the loop.
	invalid []strategy.URLCheck
	// accumulated lists every invalid link seen, in first-seen order.
	accumulated []string
	seen        map[string]bool
}

func newNoteRun(item model.ContentItem, fc model.FactCheck, maxIterations, maxLinks int) *noteRun {
	return &noteRun{
		item:          item,
		factCheck:     fc,
		maxIterations: maxIterations,
		maxLinks:      maxLinks,
		state:         statePrepare,
		seen:          make(map[string]bool),
	}
}

// drive runs the machine to completion and returns the accepted draft.
func (r *noteRun) drive(ctx context.Context, writer strategy.NoteWriter, urls strategy.URLValidator) (*strategy.NoteDraft, error) {
	for r.state != stateDone {
		zap.L().Debug("notes: state",
			zap.String("fact_check_id", r.factCheck.ID),
			zap.Stringer("state", r.state),
			zap.Int("iteration", r.iteration),
		)
		var err error
		switch r.state {
		case statePrepare:
			r.prepare()
		case stateGenerate:
			err = r.generate(ctx, writer)
		case stateValidate:
			err = r.validate(ctx, urls)
		case stateReflect:
			r.reflect()
		case stateFinalize:
			err = r.finalize()
		default:
			err = eris.Errorf("notes: unexpected state %s", r.state)
		}
		if err != nil {
			return nil, err
		}
	}
	return r.draft, nil
}

func (r *noteRun) prepare() {
	r.iteration = 0
	r.conversation = nil
	r.draft = nil
	r.invalid = nil
	r.state = stateGenerate
}

func (r *noteRun) generate(ctx context.Context, writer strategy.NoteWriter) error {
	r.iteration++
	r.invalid = nil

	draft, err := writer.WriteNote(ctx, strategy.NoteRequest{
		Item:         r.item,
		FactCheck:    r.factCheck,
		Conversation: slices.Clone(r.conversation),
		MaxLinks:     r.maxLinks,
	})
	if err != nil {
		return eris.Wrapf(err, "notes: generate iteration %d", r.iteration)
	}
	if draft == nil {
		return &model.ValidationError{Reason: "note writer returned no draft"}
	}
	draft.Text = strings.TrimSpace(draft.Text)
	if draft.Text == "" {
		return &model.ValidationError{Field: "text", Reason: "note text is empty"}
	}
	draft.Links = cleanLinks(draft.Links, r.maxLinks)

	r.draft = draft
	r.conversation = append(r.conversation, strategy.Turn{Role: strategy.RoleAssistant, Content: renderDraft(draft)})
	r.state = stateValidate
	return nil
}

func (r *noteRun) validate(ctx context.Context, urls strategy.URLValidator) error {
	if len(r.draft.Links) == 0 {
		r.state = stateFinalize
		return nil
	}
	checks, err := urls.Validate(ctx, r.draft.Links)
	if err != nil {
		return eris.Wrapf(err, "notes: validate links iteration %d", r.iteration)
	}
	byURL := make(map[string]strategy.URLCheck, len(checks))
	for _, c := range checks {
		byURL[c.URL] = c
	}
	for _, link := range r.draft.Links {
		c, ok := byURL[link]
		if !ok {
			c = strategy.URLCheck{URL: link, Diagnostic: "not checked"}
		}
		if c.Valid {
			continue
		}
		r.invalid = append(r.invalid, c)
		if !r.seen[link] {
			r.seen[link] = true
			r.accumulated = append(r.accumulated, link)
		}
	}

	if len(r.invalid) > 0 && r.iteration < r.maxIterations {
		r.state = stateReflect
	} else {
		r.state = stateFinalize
	}
	return nil
}

func (r *noteRun) reflect() {
	var b strings.Builder
	b.WriteString("These links in your note failed validation:\n")
	for _, c := range r.invalid {
		b.WriteString("- ")
		b.WriteString(c.URL)
		if c.Diagnostic != "" {
			b.WriteString(" (")
			b.WriteString(c.Diagnostic)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("Rewrite the note. Replace these links with working sources or remove them.")
	r.conversation = append(r.conversation, strategy.Turn{Role: strategy.RoleUser, Content: b.String()})
	r.state = stateGenerate
}

func (r *noteRun) finalize() error {
	if len(r.invalid) > 0 {
		return &UnresolvedInvalidURLsError{URLs: slices.Clone(r.accumulated), Iterations: r.iteration}
	}
	r.state = stateDone
	return nil
}

// cleanLinks trims links, drops empty and repeated ones and keeps at most
// limit.
func cleanLinks(links []string, limit int) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func renderDraft(d *strategy.NoteDraft) string {
	if len(d.Links) == 0 {
		return d.Text
	}
	return d.Text + "\n\nLinks:\n- " + strings.Join(d.Links, "\n- ")
}
