// Package syncengine implements the synchronization engine: one
// authoritative, versioned document per dashboard that every participant
// converges to despite concurrent, out-of-order operation submission.
package syncengine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"dashsync/common"
	"dashsync/document"
	"dashsync/operation"
	"dashsync/pubsub"
)

// Config holds the engine tunables.
type Config struct {
	// HistoryLimit caps the number of applied operations retained per
	// session for reconnect replay and late-arrival transformation.
	HistoryLimit int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		HistoryLimit: 1000,
	}
}

// Engine owns every dashboard's sync session. It is safe for concurrent
// use: the sessions map is guarded by its own lock and each session
// serializes its own mutation.
type Engine struct {
	// config holds the engine tunables.
	config *Config
	// sessions maps dashboardID to its session.
	sessions map[string]*session
	// mutex protects the sessions map.
	mutex sync.RWMutex
	// publisher, when set, receives an envelope for every applied batch.
	publisher pubsub.Publisher
	// logger logs per-operation application failures.
	logger *zap.Logger
}

// NewEngine creates a sync engine. The publisher may be nil when no
// fan-out boundary is attached; the logger may be nil.
func NewEngine(config *Config, publisher pubsub.Publisher, logger *zap.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:    config,
		sessions:  make(map[string]*session),
		publisher: publisher,
		logger:    logger,
	}
}

// JoinResult is the reply to a JoinSession call.
type JoinResult struct {
	Participants   []string       `json:"participants"`
	CurrentVersion int64          `json:"currentVersion"`
	State          document.State `json:"state"`
}

// LeaveResult is the reply to a LeaveSession call.
type LeaveResult struct {
	Participants []string `json:"participants"`
}

// SubmitStatus describes the outcome of a submitted operation.
type SubmitStatus string

const (
	// SubmitStatusApplied means the operation survived conflict resolution
	// and entered the session history, even if applying it changed nothing.
	SubmitStatusApplied SubmitStatus = "applied"
	// SubmitStatusSuperseded means the operation was dropped by conflict
	// resolution in favor of a concurrent one.
	SubmitStatusSuperseded SubmitStatus = "superseded"
)

// SubmitResult is the reply to a SubmitOperation call.
type SubmitResult struct {
	OperationID          string                 `json:"operationId"`
	Status               SubmitStatus           `json:"status"`
	NewVersion           int64                  `json:"newVersion"`
	ParticipantsToNotify []string               `json:"participantsToNotify"`
	AppliedOperations    []*operation.Operation `json:"appliedOperations"`
}

// SessionSnapshot is a read-only view of a session for diagnostics and
// reconnect bootstrap.
type SessionSnapshot struct {
	Participants          []string       `json:"participants"`
	Version               int64          `json:"version"`
	State                 document.State `json:"state"`
	PendingOperationCount int            `json:"pendingOperationCount"`
}

// SyncStatus describes the outcome of a SyncUserState call.
type SyncStatus string

const (
	// SyncStatusUpToDate means the client already has the current version.
	SyncStatusUpToDate SyncStatus = "up_to_date"
	// SyncStatusRequired means the client is behind and must replay the
	// returned operations or adopt the returned state.
	SyncStatusRequired SyncStatus = "sync_required"
)

// SyncResult is the reply to a SyncUserState call.
type SyncResult struct {
	Status         SyncStatus             `json:"status"`
	CurrentVersion int64                  `json:"currentVersion"`
	Operations     []*operation.Operation `json:"operations,omitempty"`
	State          document.State         `json:"state,omitempty"`
}

// OperationsNotification is the payload of the envelope broadcast after a
// batch is applied.
type OperationsNotification struct {
	NewVersion        int64                  `json:"newVersion"`
	AppliedOperations []*operation.Operation `json:"appliedOperations"`
}

// JoinSession registers the user with the dashboard's session, creating
// the session on first join. Joining is idempotent per user: re-joining
// returns the current state without resetting the version.
func (e *Engine) JoinSession(ctx context.Context, dashboardID, userID string) (*JoinResult, error) {
	s := e.getOrCreateSession(dashboardID)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.participants[userID] = struct{}{}
	if _, ok := s.lastSynced[userID]; !ok {
		s.lastSynced[userID] = s.currentVersion
	}

	return &JoinResult{
		Participants:   s.participantList(),
		CurrentVersion: s.currentVersion,
		State:          s.state.Clone(),
	}, nil
}

// LeaveSession removes the user from the active set. Session state is
// retained so stragglers can reconnect; freeing empty sessions is the
// deployment's reaper concern.
func (e *Engine) LeaveSession(ctx context.Context, dashboardID, userID string) (*LeaveResult, error) {
	s, ok := e.getSession(dashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: dashboardID}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.participants, userID)
	delete(s.lastSynced, userID)

	return &LeaveResult{Participants: s.participantList()}, nil
}

// SubmitOperation accepts an operation, assigns it the next version and
// resolves it against the pending batch and recent history before applying
// the survivors to the document. Safe to call concurrently for the same
// dashboard; processing is serialized per session.
func (e *Engine) SubmitOperation(ctx context.Context, op *operation.Operation) (*SubmitResult, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	s, ok := e.getSession(op.DashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: op.DashboardID}
	}

	s.mutex.Lock()

	op.Version = s.currentVersion + int64(len(s.pending)) + 1
	s.pending = append(s.pending, op)

	resolved, applied, newVersion := e.processPendingLocked(s)
	if _, joined := s.participants[op.UserID]; joined {
		s.lastSynced[op.UserID] = newVersion
	}

	// Superseded means eliminated by conflict resolution; an operation that
	// survived resolution but changed nothing still counts as accepted.
	status := SubmitStatusSuperseded
	for _, survivor := range resolved {
		if survivor.ID == op.ID {
			status = SubmitStatusApplied
			break
		}
	}
	result := &SubmitResult{
		OperationID:          op.ID,
		Status:               status,
		NewVersion:           newVersion,
		ParticipantsToNotify: s.participantsExcept(op.UserID),
		AppliedOperations:    applied,
	}
	s.mutex.Unlock()

	e.publishApplied(ctx, op.DashboardID, op.UserID, result)
	return result, nil
}

// processPendingLocked resolves and applies the pending batch, advances the
// version and prunes the queue. Caller holds the session mutex.
func (e *Engine) processPendingLocked(s *session) (resolved, applied []*operation.Operation, newVersion int64) {
	batch := make([]*operation.Operation, 0, len(s.pending))
	newVersion = s.currentVersion
	for _, pending := range s.pending {
		if pending.Version > s.currentVersion {
			batch = append(batch, pending)
		}
		if pending.Version > newVersion {
			newVersion = pending.Version
		}
	}

	resolved = operation.Resolve(batch, s.history)

	applied = make([]*operation.Operation, 0, len(resolved))
	for _, op := range resolved {
		if err := s.state.Apply(op); err != nil {
			// A single bad operation never aborts the rest of the batch.
			e.logger.Warn("failed to apply operation",
				zap.String("dashboard_id", s.dashboardID),
				zap.String("operation_id", op.ID),
				zap.String("kind", string(op.Kind)),
				zap.Error(err))
			continue
		}
		applied = append(applied, op)
	}

	s.currentVersion = newVersion
	s.pending = s.pending[:0]
	// Every resolution survivor enters history, including ones that failed
	// to apply: a delete of an already-missing path must still tombstone
	// concurrent updates that arrive afterwards.
	s.history = append(s.history, resolved...)
	s.pruneHistoryLocked(e.config.HistoryLimit)

	return resolved, applied, newVersion
}

func (e *Engine) publishApplied(ctx context.Context, dashboardID, originUserID string, result *SubmitResult) {
	if e.publisher == nil || len(result.AppliedOperations) == 0 {
		return
	}
	env, err := pubsub.NewEnvelope(pubsub.EnvelopeTypeOperations, dashboardID, originUserID, &OperationsNotification{
		NewVersion:        result.NewVersion,
		AppliedOperations: result.AppliedOperations,
	})
	if err != nil {
		e.logger.Warn("failed to encode operations notification",
			zap.String("dashboard_id", dashboardID),
			zap.Error(err))
		return
	}
	if err := e.publisher.Publish(ctx, pubsub.DashboardTopic(dashboardID), env); err != nil {
		e.logger.Warn("failed to publish operations notification",
			zap.String("dashboard_id", dashboardID),
			zap.Error(err))
	}
}

// GetSessionState returns a read-only snapshot of the session.
func (e *Engine) GetSessionState(dashboardID string) (*SessionSnapshot, error) {
	s, ok := e.getSession(dashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: dashboardID}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	return &SessionSnapshot{
		Participants:          s.participantList(),
		Version:               s.currentVersion,
		State:                 s.state.Clone(),
		PendingOperationCount: len(s.pending),
	}, nil
}

// SyncUserState reconciles a reconnecting or drifted client: it returns
// every applied operation after fromVersion except the user's own, plus a
// full state snapshot the client may simply adopt.
func (e *Engine) SyncUserState(dashboardID, userID string, fromVersion int64) (*SyncResult, error) {
	s, ok := e.getSession(dashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: dashboardID}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if fromVersion >= s.currentVersion {
		return &SyncResult{
			Status:         SyncStatusUpToDate,
			CurrentVersion: s.currentVersion,
		}, nil
	}

	missed := make([]*operation.Operation, 0)
	for _, op := range s.history {
		if op.Version > fromVersion && op.UserID != userID {
			missed = append(missed, op)
		}
	}

	if _, joined := s.participants[userID]; joined {
		s.lastSynced[userID] = s.currentVersion
		s.pruneHistoryLocked(e.config.HistoryLimit)
	}

	return &SyncResult{
		Status:         SyncStatusRequired,
		CurrentVersion: s.currentVersion,
		Operations:     missed,
		State:          s.state.Clone(),
	}, nil
}

// SessionCount returns the number of live sync sessions.
func (e *Engine) SessionCount() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return len(e.sessions)
}

func (e *Engine) getSession(dashboardID string) (*session, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	s, ok := e.sessions[dashboardID]
	return s, ok
}

func (e *Engine) getOrCreateSession(dashboardID string) *session {
	e.mutex.RLock()
	s, ok := e.sessions[dashboardID]
	e.mutex.RUnlock()
	if ok {
		return s
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if s, ok := e.sessions[dashboardID]; ok {
		return s
	}
	s = newSession(dashboardID)
	e.sessions[dashboardID] = s
	return s
}
