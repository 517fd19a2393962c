package reaction

import "sync"

// WindowStore owns the per-user sample windows. Writers are the connection
// readers (a few hundred appends/second), the single reader is the aggregator
// tick; one exclusive lock serializes both. Windows survive disconnects so
// late samples still count; inactive users simply fall out of snapshots.
type WindowStore struct {
	mu      sync.Mutex
	windows map[string][]Sample
	groups  map[string]string // first-seen experiment group per user
}

// UserWindowSummary describes one user's window for debug endpoints.
type UserWindowSummary struct {
	UserID        string `json:"userId"`
	SampleCount   int    `json:"sampleCount"`
	LastArrivalMS int64  `json:"lastArrivalMs"`
}

func NewWindowStore() *WindowStore {
	return &WindowStore{
		windows: make(map[string][]Sample),
		groups:  make(map[string]string),
	}
}

// EnsureUser registers a first-seen user with its experiment group.
// Returns true the first time an id is seen; repeat calls are no-ops.
func (s *WindowStore) EnsureUser(userID, group string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[userID]; ok {
		return false
	}
	s.groups[userID] = group
	return true
}

// Append adds a sample to the user's window, evicting the oldest sample once
// the window holds WindowSize entries.
func (s *WindowStore) Append(userID string, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	win := append(s.windows[userID], sample)
	if len(win) > WindowSize {
		win = win[len(win)-WindowSize:]
	}
	s.windows[userID] = win
}

// SnapshotActive returns copies of the windows of every active user: window
// non-empty and nowMS - last_arrival <= ActiveWindowMS (inclusive). The
// returned slices are private to the caller so the aggregator can compute
// without holding the store lock.
func (s *WindowStore) SnapshotActive(nowMS int64) map[string][]Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make(map[string][]Sample)
	for userID, win := range s.windows {
		if len(win) == 0 {
			continue
		}
		if nowMS-win[len(win)-1].ReceivedAtMS > ActiveWindowMS {
			continue
		}
		out := make([]Sample, len(win))
		copy(out, win)
		active[userID] = out
	}
	return active
}

// Window returns a copy of one user's current window (nil if none).
func (s *WindowStore) Window(userID string) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	win := s.windows[userID]
	if len(win) == 0 {
		return nil
	}
	out := make([]Sample, len(win))
	copy(out, win)
	return out
}

// ActiveSummaries lists the active users with sample counts and last arrival
// times, for the aggregation debug endpoint.
func (s *WindowStore) ActiveSummaries(nowMS int64) []UserWindowSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summaries := make([]UserWindowSummary, 0, len(s.windows))
	for userID, win := range s.windows {
		if len(win) == 0 {
			continue
		}
		last := win[len(win)-1].ReceivedAtMS
		if nowMS-last > ActiveWindowMS {
			continue
		}
		summaries = append(summaries, UserWindowSummary{
			UserID:        userID,
			SampleCount:   len(win),
			LastArrivalMS: last,
		})
	}
	return summaries
}
