package syncengine

import (
	"sort"
	"sync"
	"time"

	"dashsync/document"
	"dashsync/operation"
)

// session is one dashboard's live collaboration context. All mutation goes
// through the session mutex, so a dashboard has exactly one logical owner
// while different dashboards proceed in parallel.
type session struct {
	// dashboardID is the dashboard this session belongs to.
	dashboardID string
	// participants is the set of currently joined users.
	participants map[string]struct{}
	// currentVersion is the monotonic document version, starting at 0.
	currentVersion int64
	// state is the authoritative dashboard document.
	state document.State
	// pending holds accepted but not yet applied operations.
	pending []*operation.Operation
	// history holds applied operations for reconnect replay and for
	// transforming late arrivals, pruned as participants catch up.
	history []*operation.Operation
	// lastSynced tracks the highest version each participant has seen.
	lastSynced map[string]int64
	// createdAt is when the session was created.
	createdAt time.Time
	// mutex serializes all access to the session.
	mutex sync.Mutex
}

func newSession(dashboardID string) *session {
	return &session{
		dashboardID:  dashboardID,
		participants: make(map[string]struct{}),
		state:        document.New(),
		lastSynced:   make(map[string]int64),
		createdAt:    time.Now().UTC(),
	}
}

// participantList returns the participants in a stable order.
func (s *session) participantList() []string {
	out := make([]string, 0, len(s.participants))
	for userID := range s.participants {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// participantsExcept returns every participant except the given user.
func (s *session) participantsExcept(userID string) []string {
	out := make([]string, 0, len(s.participants))
	for id := range s.participants {
		if id != userID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// pruneHistoryLocked drops history operations that every remaining
// participant has already caught up past, then enforces the hard cap.
func (s *session) pruneHistoryLocked(limit int) {
	if len(s.participants) > 0 {
		minSeen := s.currentVersion
		for userID := range s.participants {
			if seen, ok := s.lastSynced[userID]; ok && seen < minSeen {
				minSeen = seen
			} else if !ok {
				minSeen = 0
			}
		}
		kept := s.history[:0]
		for _, op := range s.history {
			if op.Version > minSeen {
				kept = append(kept, op)
			}
		}
		s.history = kept
	}
	if limit > 0 && len(s.history) > limit {
		s.history = append([]*operation.Operation(nil), s.history[len(s.history)-limit:]...)
	}
}
