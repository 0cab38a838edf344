package chathistory

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/settings"
)

// DefaultDelay is how long writes are held back after the last update.
const DefaultDelay = 500 * time.Millisecond

// Options configures a Store.
type Options struct {
	// Delay overrides DefaultDelay.
	Delay  time.Duration
	Logger *logging.Logger
	// Now overrides time.Now for timestamps.
	Now func() time.Time
}

// Store lists the histories newest first and persists them. Row 0 may be
// a pinned empty history, the "new chat" entry, which is never written.
type Store struct {
	kv     settings.KV
	logger *logging.Logger
	now    func() time.Time
	write  func(func())

	mu      sync.Mutex
	rows    []*History
	pending map[string]*History
}

// NewStore creates a Store over kv. Call Load to read saved histories.
func NewStore(kv settings.KV, opts Options) *Store {
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		kv:      kv,
		logger:  logger.WithComponent("chathistory"),
		now:     now,
		write:   debounce.New(delay),
		pending: make(map[string]*History),
	}
}

// Load reads every saved history. Unreadable entries are logged and
// skipped.
func (s *Store) Load() error {
	keys, err := s.kv.Keys(KeyPrefix)
	if err != nil {
		return err
	}
	var rows []*History
	for _, k := range keys {
		data, err := s.kv.Get(k)
		if err != nil {
			s.logger.Warn("failed to read chat history", "key", k, "error", err)
			continue
		}
		h, err := Parse(data)
		if err != nil {
			s.logger.Warn("skipping invalid chat history", "key", k, "error", err)
			continue
		}
		rows = append(rows, h)
	}
	slices.SortStableFunc(rows, func(a, b *History) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
	s.logger.Debug("chat histories loaded", "count", len(rows))
	return nil
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// At returns a copy of the history at row i.
func (s *Store) At(i int) (*History, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.rows) {
		return nil, false
	}
	return s.rows[i].Clone(), true
}

// Get returns a copy of the history with id.
func (s *Store) Get(id string) (*History, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(id); i >= 0 {
		return s.rows[i].Clone(), true
	}
	return nil, false
}

// IDs returns the history ids in row order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.rows))
	for i, h := range s.rows {
		ids[i] = h.ID
	}
	return ids
}

// NewConversation returns the pinned empty history at row 0, creating it
// when missing.
func (s *Store) NewConversation(modelKey, modelID string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPlaceholder() {
		h := s.rows[0]
		h.ModelKey, h.ModelID = modelKey, modelID
		return h.Clone()
	}
	h := New(modelKey, modelID)
	h.Timestamp = s.now().UTC()
	s.rows = slices.Insert(s.rows, 0, h)
	return h.Clone()
}

// UpdateFromModel records a snapshot of a conversation. The row moves to
// the top, or below the pinned empty history when there is one, and a
// write is scheduled.
func (s *Store) UpdateFromModel(h *History) {
	snap := h.Clone()
	snap.Timestamp = s.now().UTC()

	s.mu.Lock()
	if i := s.index(snap.ID); i >= 0 {
		s.rows = slices.Delete(s.rows, i, i+1)
	}
	at := 0
	if s.hasPlaceholder() && !snap.IsEmpty() {
		at = 1
	}
	s.rows = slices.Insert(s.rows, at, snap)
	persist := !snap.IsEmpty()
	if persist {
		s.pending[snap.ID] = snap
	}
	s.mu.Unlock()

	if persist {
		s.write(s.flushPending)
	}
}

// Remove deletes a history.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	if i := s.index(id); i >= 0 {
		s.rows = slices.Delete(s.rows, i, i+1)
	}
	delete(s.pending, id)
	s.mu.Unlock()
	return s.kv.Delete(Key(id))
}

// Flush writes pending updates now. Call it on shutdown.
func (s *Store) Flush() error {
	return s.flush()
}

func (s *Store) flushPending() {
	if err := s.flush(); err != nil {
		s.logger.Error("failed to save chat history", "error", err)
	}
}

func (s *Store) flush() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]*History)
	s.mu.Unlock()

	var firstErr error
	for id, h := range batch {
		data, err := h.Marshal()
		if err == nil {
			err = s.kv.Set(Key(id), data)
		}
		if err != nil {
			s.logger.Warn("chat history not saved", "history", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			// Keep it for the next attempt unless a newer snapshot arrived.
			s.mu.Lock()
			if _, ok := s.pending[id]; !ok {
				s.pending[id] = h
			}
			s.mu.Unlock()
		}
	}
	return firstErr
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.rows, func(h *History) bool { return h.ID == id })
}

// hasPlaceholder reports whether row 0 is an empty history.
func (s *Store) hasPlaceholder() bool {
	return len(s.rows) > 0 && s.rows[0].IsEmpty()
}
