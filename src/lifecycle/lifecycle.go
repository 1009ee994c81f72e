package lifecycle

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"botfleet/src/events"
	"botfleet/src/model"
)

// InvalidTransitionError rejects an illegal lifecycle move. The state never
// changes on an invalid request.
type InvalidTransitionError struct {
	BotID     uint
	From      string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("bot %d: cannot %s from %s", e.BotID, e.Requested, e.From)
}

// StateStore is the slice of the bot-state repository the lifecycle needs.
type StateStore interface {
	FindByBotID(ctx context.Context, botID uint) (*model.BotState, error)
	Save(ctx context.Context, state *model.BotState) error
}

// Notifier is satisfied by events.Notifier.
type Notifier interface {
	Emit(event events.Event)
}

// Service owns every BotState mutation. The circuit breaker and the
// allocator request transitions through it; nothing else writes state rows.
type Service struct {
	states   StateStore
	notifier Notifier
	now      func() time.Time
}

func NewService(states StateStore, notifier Notifier) *Service {
	return &Service{states: states, notifier: notifier, now: time.Now}
}

// BulkResult reports the outcome of one bot inside a bulk operation.
type BulkResult struct {
	BotID uint   `json:"bot_id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Service) load(ctx context.Context, botID uint) (*model.BotState, error) {
	state, err := s.states.FindByBotID(ctx, botID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("bot %d has no state row", botID)
	}
	return state, nil
}

// Start activates a new or paused-at-creation bot. Quarantined and stopped
// bots cannot be started.
func (s *Service) Start(ctx context.Context, botID uint) (*model.BotState, error) {
	state, err := s.load(ctx, botID)
	if err != nil {
		return nil, err
	}

	switch state.Status {
	case model.BotStatusNew:
		// first start
	case model.BotStatusActive:
		return state, nil
	default:
		return nil, &InvalidTransitionError{BotID: botID, From: state.Status, Requested: "start"}
	}

	state.Status = model.BotStatusActive
	if err := s.states.Save(ctx, state); err != nil {
		return nil, err
	}

	logger.WithField("bot_id", botID).Info("bot started")
	return state, nil
}

// Pause moves an active bot to paused. Pausing an already paused bot is a
// no-op, not an error.
func (s *Service) Pause(ctx context.Context, botID uint, reason string, byUser bool) (*model.BotState, error) {
	state, err := s.load(ctx, botID)
	if err != nil {
		return nil, err
	}

	if state.Status == model.BotStatusPaused {
		return state, nil
	}
	if state.Status != model.BotStatusActive {
		return nil, &InvalidTransitionError{BotID: botID, From: state.Status, Requested: "pause"}
	}

	now := s.now().UTC()
	state.Status = model.BotStatusPaused
	state.PausedAt = &now
	state.PauseReason = reason
	state.PausedByUser = byUser

	if err := s.states.Save(ctx, state); err != nil {
		return nil, err
	}

	s.notifier.Emit(events.Event{Type: events.TypeBotPaused, BotID: botID, Reason: reason})
	logger.WithFields(map[string]interface{}{
		"bot_id":  botID,
		"by_user": byUser,
		"reason":  reason,
	}).Info("bot paused")

	return state, nil
}

// Resume moves a paused bot back to active. Quarantined bots must go
// through ResetQuarantine first; stopped bots never resume.
func (s *Service) Resume(ctx context.Context, botID uint) (*model.BotState, error) {
	state, err := s.load(ctx, botID)
	if err != nil {
		return nil, err
	}

	if state.Status != model.BotStatusPaused {
		return nil, &InvalidTransitionError{BotID: botID, From: state.Status, Requested: "resume"}
	}

	state.Status = model.BotStatusActive
	state.PausedAt = nil
	state.PauseReason = ""
	state.PausedByUser = false

	if err := s.states.Save(ctx, state); err != nil {
		return nil, err
	}

	s.notifier.Emit(events.Event{Type: events.TypeBotResumed, BotID: botID})
	logger.WithField("bot_id", botID).Info("bot resumed")

	return state, nil
}

// Stop is terminal: the bot can never transition again.
func (s *Service) Stop(ctx context.Context, botID uint, reason string) (*model.BotState, error) {
	state, err := s.load(ctx, botID)
	if err != nil {
		return nil, err
	}

	if state.Status == model.BotStatusStopped {
		return nil, &InvalidTransitionError{BotID: botID, From: state.Status, Requested: "stop"}
	}

	now := s.now().UTC()
	state.Status = model.BotStatusStopped
	state.StoppedAt = &now
	state.StopReason = reason

	if err := s.states.Save(ctx, state); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"bot_id": botID,
		"reason": reason,
	}).Info("bot stopped")

	return state, nil
}

// Quarantine hard-stops an active bot. Only the circuit breaker calls this.
func (s *Service) Quarantine(ctx context.Context, botID uint, reason string) (*model.BotState, error) {
	state, err := s.load(ctx, botID)
	if err != nil {
		return nil, err
	}

	if state.Status == model.BotStatusQuarantined {
		return state, nil
	}
	if state.Status == model.BotStatusStopped {
		return nil, &InvalidTransitionError{BotID: botID, From: state.Status, Requested: "quarantine"}
	}

	now := s.now().UTC()
	state.Status = model.BotStatusQuarantined
	state.QuarantinedAt = &now
	state.QuarantineReason = reason

	if err := s.states.Save(ctx, state); err != nil {
		return nil, err
	}

	s.notifier.Emit(events.Event{Type: events.TypeBotQuarantined, BotID: botID, Reason: reason})
	logger.WithFields(map[string]interface{}{
		"bot_id": botID,
		"reason": reason,
	}).Warn("bot quarantined")

	return state, nil
}

// ResetQuarantine moves a quarantined bot to paused, never directly to
// active. The extra Resume step is deliberate friction after the most
// severe failures.
func (s *Service) ResetQuarantine(ctx context.Context, botID uint, reason string) (*model.BotState, error) {
	state, err := s.load(ctx, botID)
	if err != nil {
		return nil, err
	}

	if state.Status != model.BotStatusQuarantined {
		return nil, &InvalidTransitionError{BotID: botID, From: state.Status, Requested: "reset_quarantine"}
	}

	now := s.now().UTC()
	state.Status = model.BotStatusPaused
	state.PausedAt = &now
	state.PauseReason = fmt.Sprintf("quarantine reset: %s", reason)
	state.PausedByUser = true
	state.QuarantinedAt = nil
	state.QuarantineReason = ""

	if err := s.states.Save(ctx, state); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"bot_id": botID,
		"reason": reason,
	}).Info("quarantine reset, bot paused")

	return state, nil
}

// PauseAll applies Pause to every given bot and reports per-bot outcomes
// instead of failing the batch on the first error.
func (s *Service) PauseAll(ctx context.Context, botIDs []uint, reason string, byUser bool) []BulkResult {
	results := make([]BulkResult, 0, len(botIDs))
	for _, id := range botIDs {
		if _, err := s.Pause(ctx, id, reason, byUser); err != nil {
			results = append(results, BulkResult{BotID: id, OK: false, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{BotID: id, OK: true})
	}
	return results
}

// ResumeAll applies Resume to every given bot with per-bot outcomes.
func (s *Service) ResumeAll(ctx context.Context, botIDs []uint) []BulkResult {
	results := make([]BulkResult, 0, len(botIDs))
	for _, id := range botIDs {
		if _, err := s.Resume(ctx, id); err != nil {
			results = append(results, BulkResult{BotID: id, OK: false, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{BotID: id, OK: true})
	}
	return results
}
