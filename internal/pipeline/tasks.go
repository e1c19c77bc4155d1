package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/queue"
	"github.com/sells-group/factcheck-cli/internal/resilience"
)

// HandleTask runs one queued task. It is the queue handler and the inline
// path when no Scheduler is configured. Failures already recorded on their
// row, duplicate submissions and rejections are not returned, so the queue
// only retries work that can still succeed.
func (p *Pipeline) HandleTask(ctx context.Context, t queue.Task) error {
	var err error
	switch t.Kind {
	case queue.KindEvaluateEligibility:
		_, err = p.TriggerFactChecks(ctx, t.ItemID)
	case queue.KindExecuteFactCheck:
		err = p.executeFactCheck(ctx, t.FactCheckID, t.JobID)
	case queue.KindWriteNote:
		_, err = p.WriteNote(ctx, t.FactCheckID, t.Slug, t.Force)
	case queue.KindSubmitNote:
		_, err = p.Submit(ctx, t.NoteID)
		if errors.Is(err, ErrAlreadySubmitted) || (err != nil && !resilience.IsTransient(err)) {
			zap.L().Info("pipeline: submission not retried", zap.String("note_id", t.NoteID), zap.Error(err))
			err = nil
		}
	default:
		return eris.Errorf("pipeline: unknown task kind %q", t.Kind)
	}
	if err == nil || isRecorded(err) {
		return nil
	}
	return err
}
