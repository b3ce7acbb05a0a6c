// Package presence maintains a best-effort, self-healing view of who is
// currently in a dashboard session and what they are doing. It is
// independent of document consistency: losing presence state costs
// nothing but a cursor redraw.
package presence

import (
	"sync"
	"time"
)

// Status is a participant's activity state.
type Status string

const (
	// StatusOnline means the participant showed activity recently.
	StatusOnline Status = "online"
	// StatusEditing means the participant is actively editing.
	StatusEditing Status = "editing"
	// StatusAway means the participant has been inactive past the away
	// threshold.
	StatusAway Status = "away"
	// StatusOffline means the participant timed out or left explicitly.
	StatusOffline Status = "offline"
)

// CursorPosition is a participant's cursor in dashboard coordinates. It is
// replaced wholesale on each update; no history is kept.
type CursorPosition struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	ElementID   string  `json:"elementId,omitempty"`
	ElementType string  `json:"elementType,omitempty"`
	Selection   any     `json:"selection,omitempty"`
}

func (c *CursorPosition) clone() *CursorPosition {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// UserPresence is a participant's live status inside one dashboard session.
type UserPresence struct {
	UserID          string          `json:"userId"`
	DisplayName     string          `json:"displayName"`
	AvatarURL       string          `json:"avatarUrl,omitempty"`
	Status          Status          `json:"status"`
	Cursor          *CursorPosition `json:"cursor,omitempty"`
	CurrentAction   string          `json:"currentAction,omitempty"`
	ActiveElementID string          `json:"activeElementId,omitempty"`
	// Color is a stable display color derived from the user ID.
	Color          string    `json:"color"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	JoinedAt       time.Time `json:"joinedAt"`
}

func (p *UserPresence) clone() *UserPresence {
	if p == nil {
		return nil
	}
	out := *p
	out.Cursor = p.Cursor.clone()
	return &out
}

// SessionStats are aggregate counters for one collaboration session.
type SessionStats struct {
	// TotalJoins counts every join call, including re-joins.
	TotalJoins int `json:"totalJoins"`
	// PeakUsers is the running maximum of concurrently present users.
	PeakUsers int `json:"peakUsers"`
}

// collabSession is one dashboard's presence roster. It parallels the sync
// engine's session but is tracked independently: document consistency and
// ephemeral awareness are separate concerns.
type collabSession struct {
	// sessionID is the unique identifier of this session.
	sessionID string
	// dashboardID is the dashboard this session belongs to.
	dashboardID string
	// createdAt is when the session was created.
	createdAt time.Time
	// participants maps userID to presence. Offline users stay in the map
	// until the purge sweep removes them.
	participants map[string]*UserPresence
	// cursors maps userID to the latest cursor position.
	cursors map[string]*CursorPosition
	// stats are the aggregate session counters.
	stats SessionStats
	// mutex serializes all access to the session.
	mutex sync.Mutex
}

// presentCount returns the number of non-offline participants. Caller
// holds the session mutex.
func (s *collabSession) presentCount() int {
	count := 0
	for _, p := range s.participants {
		if p.Status != StatusOffline {
			count++
		}
	}
	return count
}

// bumpPeakLocked folds the current present count into the peak statistic.
func (s *collabSession) bumpPeakLocked() {
	if n := s.presentCount(); n > s.stats.PeakUsers {
		s.stats.PeakUsers = n
	}
}

// presentParticipantsLocked returns clones of every non-offline
// participant.
func (s *collabSession) presentParticipantsLocked() []*UserPresence {
	out := make([]*UserPresence, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Status != StatusOffline {
			out = append(out, p.clone())
		}
	}
	return out
}

// cursorsLocked returns clones of every active cursor, optionally skipping
// one user.
func (s *collabSession) cursorsLocked(excludeUserID string) map[string]*CursorPosition {
	out := make(map[string]*CursorPosition, len(s.cursors))
	for userID, cursor := range s.cursors {
		if userID == excludeUserID {
			continue
		}
		out[userID] = cursor.clone()
	}
	return out
}
