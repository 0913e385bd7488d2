package library

import (
	"sync"

	"github.com/prismon/photo-library/internal/models"
)

// EventType names a change notification
type EventType string

const (
	EventAssetInserted    EventType = "asset_inserted"
	EventAssetMutated     EventType = "asset_mutated"
	EventAssetDeleted     EventType = "asset_deleted"
	EventTaskStateChanged EventType = "task_state_changed"
	EventAlbumChanged     EventType = "album_changed"
	EventSettingsChanged  EventType = "settings_changed"
	EventRestored         EventType = "restored"
)

// Event describes one committed change. Version is the snapshot version that
// first reflects it.
type Event struct {
	Type     EventType         `json:"type"`
	Version  int64             `json:"version"`
	AssetID  string            `json:"asset_id,omitempty"`
	AlbumID  string            `json:"album_id,omitempty"`
	TaskID   string            `json:"task_id,omitempty"`
	TaskKind models.TaskKind   `json:"task_kind,omitempty"`
	Status   models.TaskStatus `json:"status,omitempty"`
	Fields   []string          `json:"fields,omitempty"`
}

// hub fans events out to subscribers. Each subscriber has its own unbounded
// queue and goroutine, so a slow callback delays only itself.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	fn     func(Event)
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscriber)}
}

func (h *hub) subscribe(fn func(Event)) func() {
	sub := &subscriber{
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	go sub.run()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.stop()
	}
}

// publish never blocks on subscriber callbacks
func (h *hub) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		sub.enqueue(events)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

func (s *subscriber) enqueue(events []Event) {
	s.mu.Lock()
	s.queue = append(s.queue, events...)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.signal:
		case <-s.done:
			return
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(ev)
		}
	}
}

func (s *subscriber) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).WithField("event", ev.Type).Error("Subscriber panicked")
		}
	}()
	s.fn(ev)
}
