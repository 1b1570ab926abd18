package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/db"
)

// BackfillChallenges materializes missing daily challenge log rows for
// every active participation of the user, capped at the participation's
// end date. Challenge participation is daily while active.
func (e *Engine) BackfillChallenges(ctx context.Context, userID int64, today time.Time) (int, error) {
	today = DateOf(today)
	parts, err := e.db.ActiveParticipations(userID, FormatDate(today))
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range parts {
		n, err := e.backfillParticipation(ctx, &parts[i], today)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

func (e *Engine) backfillParticipation(ctx context.Context, p *db.Participation, today time.Time) (int, error) {
	from, err := e.participationResumeDate(p)
	if err != nil {
		return 0, err
	}

	end := today
	if p.EndDate != nil {
		pe, err := ParseDate(*p.EndDate)
		if err != nil {
			return 0, fmt.Errorf("participation %d end date: %w", p.ID, err)
		}
		if pe.Before(end) {
			end = pe
		}
	}

	created := 0
	for d := from; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		inserted, err := e.db.CreateChallengeLogIfAbsent(p.ChallengeID, p.UserID, FormatDate(d), StatusRemaining)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}

	if created > 0 {
		e.log.Debug("challenge logs backfilled",
			zap.Int64("participation", p.ID), zap.Int64("user", p.UserID), zap.Int("created", created))
	}
	return created, nil
}

func (e *Engine) participationResumeDate(p *db.Participation) (time.Time, error) {
	latest, err := e.db.LatestChallengeLogDate(p.ChallengeID, p.UserID)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		start, err := ParseDate(p.StartDate)
		if err != nil {
			return time.Time{}, fmt.Errorf("participation %d start date: %w", p.ID, err)
		}
		return start, nil
	}
	d, err := ParseDate(*latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("participation %d latest log date: %w", p.ID, err)
	}
	return d.AddDate(0, 0, 1), nil
}

// ActivateScheduledParticipations flips scheduled participations whose
// start date has arrived to active. Returns the number activated.
func (e *Engine) ActivateScheduledParticipations(ctx context.Context, today time.Time) (int64, error) {
	n, err := e.db.ActivateScheduledParticipations(FormatDate(DateOf(today)))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("participations activated", zap.Int64("count", n))
	}
	return n, nil
}

// FinalizeEndedParticipations settles every active participation whose end
// date has passed: a flawless history (all logs completed) becomes
// completed and earns the one-time challenge bonus; anything else becomes
// failed. Sweeps must run first so no stale remaining rows skew the verdict.
func (e *Engine) FinalizeEndedParticipations(ctx context.Context, today time.Time) (int, error) {
	ended, err := e.db.EndedActiveParticipations(FormatDate(DateOf(today)))
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range ended {
		p := &ended[i]
		logs, err := e.db.ChallengeLogs(p.UserID, p.ChallengeID)
		if err != nil {
			return settled, err
		}

		flawless := len(logs) > 0
		for _, l := range logs {
			if l.Status != StatusCompleted {
				flawless = false
				break
			}
		}

		status := ParticipationFailed
		if flawless {
			status = ParticipationCompleted
		}
		if err := e.db.UpdateParticipationStatus(p.ID, status); err != nil {
			return settled, err
		}
		if flawless {
			key := fmt.Sprintf("challenge-bonus:%d", p.ID)
			if err := e.AddXPKeyed(ctx, key, p.UserID, ChallengeBonusXP); err != nil {
				return settled, err
			}
		}

		e.log.Info("participation settled",
			zap.Int64("participation", p.ID),
			zap.Int64("user", p.UserID),
			zap.String("status", status))
		settled++
	}
	return settled, nil
}
