package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/engine"
	"github.com/stridehq/stride/internal/queue"
)

// HandleParticipantJoined awards the join bonus and tells the other
// participants someone new is in. The day-one log row is left to the
// backfill pass, which covers active participations uniformly.
func (w *Worker) HandleParticipantJoined(ctx context.Context, job queue.Job) error {
	var pj engine.ParticipantJoined
	if err := json.Unmarshal(job.Payload, &pj); err != nil {
		return fmt.Errorf("decode participant joined: %w", err)
	}

	if err := w.applyDelta(ctx, job.ID, pj.UserID, engine.JoinChallengeXP); err != nil {
		return err
	}

	c, err := w.engine.DB().GetChallenge(pj.ChallengeID)
	if err != nil {
		return err
	}
	if c == nil {
		// Challenge deleted between enqueue and delivery; the award above
		// already stuck, nothing left to announce.
		w.log.Warn("joined challenge no longer exists", zap.Int64("challenge", pj.ChallengeID))
		return nil
	}

	joiner, err := w.engine.DB().GetUser(pj.UserID)
	if err != nil {
		return err
	}
	name := "Someone"
	if joiner != nil {
		name = joiner.Username
	}

	if w.notifier != nil {
		others, err := w.engine.DB().ActiveParticipantsOfChallenge(pj.ChallengeID, pj.UserID)
		if err != nil {
			return err
		}
		for _, p := range others {
			w.notifier.Notify(ctx, p.UserID,
				"New challenger",
				fmt.Sprintf("%s joined %s", name, c.Title))
		}
	}

	w.log.Info("participant joined",
		zap.Int64("participation", pj.ParticipationID),
		zap.Int64("challenge", pj.ChallengeID),
		zap.Int64("user", pj.UserID))
	return nil
}
