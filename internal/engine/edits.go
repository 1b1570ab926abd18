package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/db"
)

// StatusChange is the payload of an asynchronous XP job. It records the
// edit itself; streaks and day aggregates are derived by the consumer so
// the payload stays a statement of fact, not a pricing decision.
type StatusChange struct {
	LogID  int64  `json:"log_id"`
	RefID  int64  `json:"ref_id"` // habit or challenge id
	UserID int64  `json:"user_id"`
	Date   string `json:"date"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ParticipantJoined is the payload of a join job.
type ParticipantJoined struct {
	ParticipationID int64 `json:"participation_id"`
	ChallengeID     int64 `json:"challenge_id"`
	UserID          int64 `json:"user_id"`
}

func validStatus(s string) bool {
	return s == StatusRemaining || s == StatusCompleted || s == StatusMissed
}

// SetHabitLogStatus applies a user edit to a habit log and enqueues the
// XP consequence. The write is synchronous; the ledger move is not.
func (e *Engine) SetHabitLogStatus(ctx context.Context, userID, logID int64, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("status %q: %w", status, ErrInvalidStatus)
	}

	l, err := e.db.GetHabitLog(logID)
	if err != nil {
		return err
	}
	if l == nil || l.UserID != userID {
		return fmt.Errorf("habit log %d: %w", logID, ErrNotFound)
	}
	if l.Status == status {
		return nil
	}

	if err := e.db.UpdateHabitLogStatus(logID, status); err != nil {
		return err
	}

	jobID, err := e.queue.Enqueue(ctx, TopicHabitXP, StatusChange{
		LogID:  l.ID,
		RefID:  l.HabitID,
		UserID: l.UserID,
		Date:   l.Date,
		From:   l.Status,
		To:     status,
	})
	if err != nil {
		return fmt.Errorf("enqueue habit xp: %w", err)
	}

	e.log.Debug("habit log updated",
		zap.Int64("log", logID), zap.String("status", status), zap.String("job", jobID))
	return nil
}

// SetChallengeLogStatus applies a user edit to a challenge log and
// enqueues the XP consequence.
func (e *Engine) SetChallengeLogStatus(ctx context.Context, userID, logID int64, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("status %q: %w", status, ErrInvalidStatus)
	}

	l, err := e.db.GetChallengeLog(logID)
	if err != nil {
		return err
	}
	if l == nil || l.UserID != userID {
		return fmt.Errorf("challenge log %d: %w", logID, ErrNotFound)
	}
	if l.Status == status {
		return nil
	}

	if err := e.db.UpdateChallengeLogStatus(logID, status); err != nil {
		return err
	}

	jobID, err := e.queue.Enqueue(ctx, TopicChallengeXP, StatusChange{
		LogID:  l.ID,
		RefID:  l.ChallengeID,
		UserID: l.UserID,
		Date:   l.Date,
		From:   l.Status,
		To:     status,
	})
	if err != nil {
		return fmt.Errorf("enqueue challenge xp: %w", err)
	}

	e.log.Debug("challenge log updated",
		zap.Int64("log", logID), zap.String("status", status), zap.String("job", jobID))
	return nil
}

// JoinChallenge enrolls a user in a challenge. A participation starting
// today or earlier is active immediately; a future start is scheduled and
// picked up by the daily activation pass. The join award and participant
// notifications run asynchronously.
func (e *Engine) JoinChallenge(ctx context.Context, userID, challengeID int64, startDate string, endDate *string, today time.Time) (int64, error) {
	c, err := e.db.GetChallenge(challengeID)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, fmt.Errorf("challenge %d: %w", challengeID, ErrNotFound)
	}

	start, err := ParseDate(startDate)
	if err != nil {
		return 0, fmt.Errorf("start date: %w", err)
	}
	if endDate != nil {
		end, err := ParseDate(*endDate)
		if err != nil {
			return 0, fmt.Errorf("end date: %w", err)
		}
		if end.Before(start) {
			return 0, fmt.Errorf("end date precedes start date")
		}
	}

	status := ParticipationScheduled
	if !start.After(DateOf(today)) {
		status = ParticipationActive
	}

	id, err := e.db.InsertParticipation(&db.Participation{
		ChallengeID: challengeID,
		UserID:      userID,
		StartDate:   startDate,
		EndDate:     endDate,
		Status:      status,
	})
	if err != nil {
		return 0, err
	}

	jobID, err := e.queue.Enqueue(ctx, TopicParticipantJoined, ParticipantJoined{
		ParticipationID: id,
		ChallengeID:     challengeID,
		UserID:          userID,
	})
	if err != nil {
		return id, fmt.Errorf("enqueue participant joined: %w", err)
	}

	e.log.Info("challenge joined",
		zap.Int64("user", userID),
		zap.Int64("challenge", challengeID),
		zap.String("status", status),
		zap.String("job", jobID))
	return id, nil
}

// RetractParticipation withdraws a scheduled or active participation.
// Existing logs and earned XP are left alone.
func (e *Engine) RetractParticipation(ctx context.Context, userID, participationID int64) error {
	p, err := e.db.GetParticipation(participationID)
	if err != nil {
		return err
	}
	if p == nil || p.UserID != userID {
		return fmt.Errorf("participation %d: %w", participationID, ErrNotFound)
	}
	if p.Status != ParticipationScheduled && p.Status != ParticipationActive {
		return fmt.Errorf("participation %d is %s: %w", participationID, p.Status, ErrInvalidStatus)
	}
	return e.db.UpdateParticipationStatus(participationID, ParticipationRetracted)
}
