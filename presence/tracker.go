package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dashsync/common"
	"dashsync/pubsub"
)

// Config holds the presence tunables. The timeouts are deployment knobs,
// not hard contracts.
type Config struct {
	// AwayTimeout demotes Online/Editing participants to Away.
	AwayTimeout time.Duration
	// OfflineTimeout demotes participants to Offline and clears their
	// cursor.
	OfflineTimeout time.Duration
	// PurgeTimeout hard-deletes participants that stayed Offline this long.
	PurgeTimeout time.Duration
	// SweepInterval is the period of the background sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		AwayTimeout:    5 * time.Minute,
		OfflineTimeout: 15 * time.Minute,
		PurgeTimeout:   time.Hour,
		SweepInterval:  time.Minute,
	}
}

// Tracker maintains the presence roster of every dashboard. Mutation per
// dashboard is serialized through the session mutex, so the background
// sweep and client calls never race over the same maps.
type Tracker struct {
	// config holds the presence tunables.
	config *Config
	// sessions maps dashboardID to its collaboration session.
	sessions map[string]*collabSession
	// mutex protects the sessions map.
	mutex sync.RWMutex
	// publisher, when set, receives a presence delta for every
	// state-changing call.
	publisher pubsub.Publisher
	// logger logs sweep results and publish failures.
	logger *zap.Logger
	// ctx is the background sweep context.
	ctx context.Context
	// cancel stops the background sweep.
	cancel context.CancelFunc
	// wg waits for the sweep loop on Stop.
	wg sync.WaitGroup
	// running indicates whether the background sweep is active.
	running bool
}

// NewTracker creates a presence tracker. The publisher may be nil; the
// logger may be nil.
func NewTracker(config *Config, publisher pubsub.Publisher, logger *zap.Logger) *Tracker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		config:    config,
		sessions:  make(map[string]*collabSession),
		publisher: publisher,
		logger:    logger,
	}
}

// Start launches the periodic background sweep.
func (t *Tracker) Start(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.running {
		return fmt.Errorf("presence tracker is already running")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.running = true

	t.wg.Add(1)
	go t.sweepLoop()
	return nil
}

// Stop halts the background sweep and waits for it to exit.
func (t *Tracker) Stop() error {
	t.mutex.Lock()
	if !t.running {
		t.mutex.Unlock()
		return nil
	}
	t.cancel()
	t.running = false
	t.mutex.Unlock()

	t.wg.Wait()
	return nil
}

func (t *Tracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.sweepAll(time.Now().UTC())
		}
	}
}

// JoinResult is the reply to a JoinSession call.
type JoinResult struct {
	SessionID         string          `json:"sessionId"`
	UserPresence      *UserPresence   `json:"userPresence"`
	OtherParticipants []*UserPresence `json:"otherParticipants"`
	SessionStats      SessionStats    `json:"sessionStats"`
}

// LeaveResult is the reply to a LeaveSession call.
type LeaveResult struct {
	Status                string          `json:"status"`
	RemainingParticipants []*UserPresence `json:"remainingParticipants"`
}

// CursorResult is the reply to an UpdateCursorPosition call.
type CursorResult struct {
	Status         string                     `json:"status"`
	CursorPosition *CursorPosition            `json:"cursorPosition"`
	OtherCursors   map[string]*CursorPosition `json:"otherCursors"`
}

// UserActivity describes what a participant is currently doing.
type UserActivity struct {
	UserID          string    `json:"userId"`
	Status          Status    `json:"status"`
	CurrentAction   string    `json:"currentAction,omitempty"`
	ActiveElementID string    `json:"activeElementId,omitempty"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
}

// ActivityResult is the reply to an UpdateUserActivity call.
type ActivityResult struct {
	Status       string        `json:"status"`
	UserActivity *UserActivity `json:"userActivity"`
}

// PresenceSnapshot is the reply to a GetSessionPresence call. Offline
// participants are filtered out; they stay in internal state until purged.
type PresenceSnapshot struct {
	Participants      []*UserPresence            `json:"participants"`
	ActiveCursors     map[string]*CursorPosition `json:"activeCursors"`
	SessionStats      SessionStats               `json:"sessionStats"`
	TotalParticipants int                        `json:"totalParticipants"`
}

// SessionStatistics is the reply to a GetSessionStatistics call.
type SessionStatistics struct {
	SessionDurationMinutes float64        `json:"sessionDurationMinutes"`
	PresenceByStatus       map[Status]int `json:"presenceStatsByStatus"`
	TotalParticipants      int            `json:"totalParticipants"`
	ActiveCursorCount      int            `json:"activeCursorCount"`
	SessionStats           SessionStats   `json:"sessionStats"`
}

// PresenceDelta is the payload of the envelope broadcast on every
// state-changing presence call.
type PresenceDelta struct {
	Event       string          `json:"event"`
	DashboardID string          `json:"dashboardId"`
	Participant *UserPresence   `json:"participant,omitempty"`
	Cursor      *CursorPosition `json:"cursor,omitempty"`
}

// JoinSession adds the user to the dashboard's roster, creating the
// session on first join. The user always gets the same display color.
func (t *Tracker) JoinSession(ctx context.Context, dashboardID, userID, displayName, avatarURL string) (*JoinResult, error) {
	s := t.getOrCreateSession(dashboardID)
	now := time.Now().UTC()

	s.mutex.Lock()
	p, ok := s.participants[userID]
	if !ok {
		p = &UserPresence{
			UserID:      userID,
			DisplayName: displayName,
			AvatarURL:   avatarURL,
			Color:       colorFor(userID),
			JoinedAt:    now,
		}
		s.participants[userID] = p
	}
	p.DisplayName = displayName
	if avatarURL != "" {
		p.AvatarURL = avatarURL
	}
	p.Status = StatusOnline
	p.LastActivityAt = now

	s.stats.TotalJoins++
	s.bumpPeakLocked()

	result := &JoinResult{
		SessionID:    s.sessionID,
		UserPresence: p.clone(),
		SessionStats: s.stats,
	}
	for _, other := range s.presentParticipantsLocked() {
		if other.UserID != userID {
			result.OtherParticipants = append(result.OtherParticipants, other)
		}
	}
	s.mutex.Unlock()

	t.publishDelta(ctx, dashboardID, userID, "joined", result.UserPresence, nil)
	return result, nil
}

// LeaveSession marks the user Offline and clears their cursor. The
// participant record is kept for potential reconnection until the purge
// sweep removes it.
func (t *Tracker) LeaveSession(ctx context.Context, dashboardID, userID string) (*LeaveResult, error) {
	s, ok := t.getSession(dashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: dashboardID}
	}

	s.mutex.Lock()
	p, ok := s.participants[userID]
	if !ok {
		s.mutex.Unlock()
		return nil, common.ErrParticipantNotFound{DashboardID: dashboardID, UserID: userID}
	}
	p.Status = StatusOffline
	p.Cursor = nil
	delete(s.cursors, userID)

	result := &LeaveResult{
		Status:                "left",
		RemainingParticipants: s.presentParticipantsLocked(),
	}
	left := p.clone()
	s.mutex.Unlock()

	t.publishDelta(ctx, dashboardID, userID, "left", left, nil)
	return result, nil
}

// UpdateCursorPosition replaces the user's cursor wholesale. Cursor
// movement implies presence, so the status is forced back to Online.
func (t *Tracker) UpdateCursorPosition(ctx context.Context, dashboardID, userID string, cursor CursorPosition) (*CursorResult, error) {
	s, ok := t.getSession(dashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: dashboardID}
	}

	s.mutex.Lock()
	p, ok := s.participants[userID]
	if !ok {
		s.mutex.Unlock()
		return nil, common.ErrParticipantNotFound{DashboardID: dashboardID, UserID: userID}
	}
	p.Cursor = cursor.clone()
	p.Status = StatusOnline
	p.LastActivityAt = time.Now().UTC()
	s.cursors[userID] = p.Cursor
	s.bumpPeakLocked()

	result := &CursorResult{
		Status:         "updated",
		CursorPosition: p.Cursor.clone(),
		OtherCursors:   s.cursorsLocked(userID),
	}
	s.mutex.Unlock()

	t.publishDelta(ctx, dashboardID, userID, "cursor_moved", nil, result.CursorPosition)
	return result, nil
}

// UpdateUserActivity records what the user is doing. Editing and
// commenting actions promote the status to Editing, anything else to
// Online.
func (t *Tracker) UpdateUserActivity(ctx context.Context, dashboardID, userID, action, elementID string) (*ActivityResult, error) {
	s, ok := t.getSession(dashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: dashboardID}
	}

	s.mutex.Lock()
	p, ok := s.participants[userID]
	if !ok {
		s.mutex.Unlock()
		return nil, common.ErrParticipantNotFound{DashboardID: dashboardID, UserID: userID}
	}
	p.CurrentAction = action
	p.ActiveElementID = elementID
	p.LastActivityAt = time.Now().UTC()
	if action == "editing" || action == "commenting" {
		p.Status = StatusEditing
	} else {
		p.Status = StatusOnline
	}
	s.bumpPeakLocked()

	result := &ActivityResult{
		Status: "updated",
		UserActivity: &UserActivity{
			UserID:          userID,
			Status:          p.Status,
			CurrentAction:   p.CurrentAction,
			ActiveElementID: p.ActiveElementID,
			LastActivityAt:  p.LastActivityAt,
		},
	}
	updated := p.clone()
	s.mutex.Unlock()

	t.publishDelta(ctx, dashboardID, userID, "activity_changed", updated, nil)
	return result, nil
}

// GetSessionPresence sweeps stale participants lazily, then returns the
// roster with Offline participants filtered out.
func (t *Tracker) GetSessionPresence(dashboardID string) (*PresenceSnapshot, error) {
	s, ok := t.getSession(dashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: dashboardID}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	t.decayLocked(s, time.Now().UTC())

	participants := s.presentParticipantsLocked()
	return &PresenceSnapshot{
		Participants:      participants,
		ActiveCursors:     s.cursorsLocked(""),
		SessionStats:      s.stats,
		TotalParticipants: len(participants),
	}, nil
}

// GetUserPresenceAcrossSessions returns the user's presence in every
// dashboard where they are not offline.
func (t *Tracker) GetUserPresenceAcrossSessions(userID string) map[string]*UserPresence {
	t.mutex.RLock()
	sessions := make([]*collabSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mutex.RUnlock()

	active := make(map[string]*UserPresence)
	for _, s := range sessions {
		s.mutex.Lock()
		if p, ok := s.participants[userID]; ok && p.Status != StatusOffline {
			active[s.dashboardID] = p.clone()
		}
		s.mutex.Unlock()
	}
	return active
}

// GetSessionStatistics returns aggregate statistics for a session.
func (t *Tracker) GetSessionStatistics(dashboardID string) (*SessionStatistics, error) {
	s, ok := t.getSession(dashboardID)
	if !ok {
		return nil, common.ErrSessionNotFound{DashboardID: dashboardID}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	byStatus := make(map[Status]int)
	for _, p := range s.participants {
		byStatus[p.Status]++
	}
	return &SessionStatistics{
		SessionDurationMinutes: time.Since(s.createdAt).Minutes(),
		PresenceByStatus:       byStatus,
		TotalParticipants:      len(s.participants),
		ActiveCursorCount:      len(s.cursors),
		SessionStats:           s.stats,
	}, nil
}

// SessionCount returns the number of live collaboration sessions.
func (t *Tracker) SessionCount() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.sessions)
}

// decayLocked applies the staleness state machine to every participant.
// Caller holds the session mutex.
func (t *Tracker) decayLocked(s *collabSession, now time.Time) {
	for userID, p := range s.participants {
		if p.Status == StatusOffline {
			continue
		}
		inactive := now.Sub(p.LastActivityAt)
		switch {
		case inactive > t.config.OfflineTimeout:
			p.Status = StatusOffline
			p.Cursor = nil
			delete(s.cursors, userID)
		case inactive > t.config.AwayTimeout:
			p.Status = StatusAway
		}
	}
}

// sweepAll runs the periodic sweep: staleness decay, purge of
// long-offline participants and teardown of empty sessions.
func (t *Tracker) sweepAll(now time.Time) {
	t.mutex.RLock()
	sessions := make([]*collabSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mutex.RUnlock()

	for _, s := range sessions {
		s.mutex.Lock()
		t.decayLocked(s, now)
		purged := 0
		for userID, p := range s.participants {
			// A participant is offline once OfflineTimeout passes, so the
			// purge point is OfflineTimeout + PurgeTimeout after the last
			// activity.
			if p.Status == StatusOffline && now.Sub(p.LastActivityAt) > t.config.OfflineTimeout+t.config.PurgeTimeout {
				delete(s.participants, userID)
				delete(s.cursors, userID)
				purged++
			}
		}
		empty := len(s.participants) == 0
		s.mutex.Unlock()

		if purged > 0 {
			t.logger.Debug("purged stale participants",
				zap.String("dashboard_id", s.dashboardID),
				zap.Int("purged", purged))
		}
		if empty {
			t.removeSession(s.dashboardID, s)
		}
	}
}

func (t *Tracker) publishDelta(ctx context.Context, dashboardID, originUserID, event string, participant *UserPresence, cursor *CursorPosition) {
	if t.publisher == nil {
		return
	}
	env, err := pubsub.NewEnvelope(pubsub.EnvelopeTypePresence, dashboardID, originUserID, &PresenceDelta{
		Event:       event,
		DashboardID: dashboardID,
		Participant: participant,
		Cursor:      cursor,
	})
	if err != nil {
		t.logger.Warn("failed to encode presence delta",
			zap.String("dashboard_id", dashboardID),
			zap.Error(err))
		return
	}
	if err := t.publisher.Publish(ctx, pubsub.DashboardTopic(dashboardID), env); err != nil {
		t.logger.Warn("failed to publish presence delta",
			zap.String("dashboard_id", dashboardID),
			zap.Error(err))
	}
}

func (t *Tracker) getSession(dashboardID string) (*collabSession, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	s, ok := t.sessions[dashboardID]
	return s, ok
}

func (t *Tracker) getOrCreateSession(dashboardID string) *collabSession {
	t.mutex.RLock()
	s, ok := t.sessions[dashboardID]
	t.mutex.RUnlock()
	if ok {
		return s
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if s, ok := t.sessions[dashboardID]; ok {
		return s
	}
	s = &collabSession{
		sessionID:    uuid.NewString(),
		dashboardID:  dashboardID,
		createdAt:    time.Now().UTC(),
		participants: make(map[string]*UserPresence),
		cursors:      make(map[string]*CursorPosition),
	}
	t.sessions[dashboardID] = s
	return s
}

func (t *Tracker) removeSession(dashboardID string, s *collabSession) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	current, ok := t.sessions[dashboardID]
	if !ok || current != s {
		return
	}
	// A join may have slipped in between the sweep's emptiness check and
	// this point; re-check under both locks before tearing down.
	s.mutex.Lock()
	empty := len(s.participants) == 0
	s.mutex.Unlock()
	if empty {
		delete(t.sessions, dashboardID)
	}
}
