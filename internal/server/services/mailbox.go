package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"edgerelay/internal/common"
	"edgerelay/internal/logging"
	"edgerelay/internal/server/config"
	"edgerelay/internal/server/models"
	"edgerelay/internal/server/repositories/repomanager"
)

// PollResult is one poll response: the ordered message window plus the
// server's advisory cadence for the next poll.
type PollResult struct {
	Messages        []*models.Message
	IntervalSeconds int
	NextPollAt      time.Time
}

// MailboxService implements the poll/ack cursor protocol: per-client read
// cursors, the adaptive poll-interval state machine, and acknowledgment-
// driven cursor advancement.
//
// Polling never advances the cursor; only Ack does. Repeated polls without
// an ack re-deliver the same window, which is what gives at-least-once
// delivery to a client that crashes mid-batch.
type MailboxService struct {
	db          *sql.DB
	rm          repomanager.RepositoryManager
	minInterval time.Duration
	step        time.Duration
	maxInterval time.Duration
	pageSize    int
	logger      logging.Logger
}

func NewMailboxService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *MailboxService {
	return &MailboxService{
		db:          db,
		rm:          rm,
		minInterval: cfg.PollMinInterval,
		step:        cfg.PollStep,
		maxInterval: cfg.PollMaxInterval,
		pageSize:    cfg.PollPageSize,
		logger:      logger.With("module", "mailbox"),
	}
}

// Poll returns the client's next message window. The effective cursor is the
// explicit cursor when given, else the stored last-acknowledged id, else the
// beginning of the log. A storage failure during the read degrades to
// ErrStorageUnavailable and leaves the receipt row untouched.
func (s *MailboxService) Poll(ctx context.Context, clientID string, cursor *int64) (*PollResult, error) {
	receiptsRepo := s.rm.Receipts(s.db)

	var effective int64
	currentSeconds := 0

	receipt, err := receiptsRepo.Get(ctx, clientID)
	switch {
	case err == nil:
		effective = receipt.LastAckedMessageID
		currentSeconds = receipt.PollIntervalSeconds
	case errors.Is(err, common.ErrorNotFound):
		// First contact; receipt is created lazily below.
	default:
		return nil, common.ErrStorageUnavailable
	}

	if cursor != nil {
		effective = *cursor
	}

	window, err := s.rm.Messages(s.db).ListIncoming(ctx, clientID, effective, s.pageSize)
	if err != nil {
		return nil, common.ErrStorageUnavailable
	}

	interval := s.nextInterval(currentSeconds, len(window) == 0)
	now := time.Now().UTC()
	next := now.Add(interval)

	// The receipt write happens only after a successful read, and a failed
	// write must not cost the client its message window.
	if err := receiptsRepo.RecordPoll(ctx, clientID, int(interval.Seconds()), now, next); err != nil {
		s.logger.Warn(ctx, "poll tracking update failed", "client_id", clientID, "error", err.Error())
	}

	return &PollResult{Messages: window, IntervalSeconds: int(interval.Seconds()), NextPollAt: next}, nil
}

// Ack advances the client's cursor to lastReceivedID. Acknowledging an id
// smaller than the stored cursor is a no-op: the cursor never moves
// backward.
func (s *MailboxService) Ack(ctx context.Context, clientID string, lastReceivedID int64) error {
	if lastReceivedID <= 0 {
		return fmt.Errorf("%w: last received id must be positive", common.ErrorValidation)
	}

	if err := s.rm.Receipts(s.db).Ack(ctx, clientID, lastReceivedID); err != nil {
		return common.ErrStorageUnavailable
	}
	return nil
}

// nextInterval implements the backoff state machine: an empty window grows
// the interval by one step up to the maximum, any delivery snaps it back to
// the minimum. The result is always clamped to [min, max].
func (s *MailboxService) nextInterval(currentSeconds int, empty bool) time.Duration {
	if !empty {
		return s.minInterval
	}

	next := time.Duration(currentSeconds)*time.Second + s.step
	if next > s.maxInterval {
		next = s.maxInterval
	}
	if next < s.minInterval {
		next = s.minInterval
	}
	return next
}
