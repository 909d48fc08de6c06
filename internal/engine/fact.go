package engine

// FactID uniquely identifies a fact in working memory. IDs are
// assigned monotonically and never reused: modifying a fact retracts
// the old id and assigns a fresh one.
type FactID int64

// Fact is an immutable entry in working memory: an opaque value plus
// its identity and logical insertion timestamp. Seq is used for the
// recency tie-break in conflict resolution.
type Fact struct {
	ID    FactID
	Seq   int64
	Value any
}

// EventKind distinguishes working-memory change events.
type EventKind int

const (
	// EventAssert signals a fact was inserted.
	EventAssert EventKind = iota + 1
	// EventRetract signals a fact was removed.
	EventRetract
)

func (k EventKind) String() string {
	switch k {
	case EventAssert:
		return "assert"
	case EventRetract:
		return "retract"
	default:
		return "unknown"
	}
}

// Event is a working-memory change notification. Seq is the event's
// own stamp from the shared clock; Fact.Seq is the fact's insertion
// stamp (they coincide for asserts).
type Event struct {
	Kind EventKind
	Seq  int64
	Fact Fact
}

// EventHandler consumes working-memory change events.
type EventHandler func(Event)

// FactStore is the working memory: it owns all facts, assigns
// identities and timestamps, and emits a change event for every
// mutation. No mutation bypasses event emission; the matcher's
// incremental state depends on seeing every change.
//
// FactStore is not safe for concurrent use on its own. The engine's
// exclusivity guard serializes access.
type FactStore struct {
	clock    *Clock
	nextID   FactID
	facts    map[FactID]Fact
	order    []FactID // live facts in insertion order
	handlers []EventHandler
}

// NewFactStore creates an empty working memory stamped by clock.
func NewFactStore(clock *Clock) *FactStore {
	return &FactStore{
		clock: clock,
		facts: make(map[FactID]Fact),
	}
}

// Subscribe registers a handler for all subsequent change events.
// Handlers run synchronously, in subscription order, before the
// mutating call returns.
func (s *FactStore) Subscribe(h EventHandler) {
	s.handlers = append(s.handlers, h)
}

// Assert inserts a new fact and returns its id. The value is opaque;
// any structural validation happens before this call. Never fails for
// well-formed values.
func (s *FactStore) Assert(value any) FactID {
	s.nextID++
	f := Fact{
		ID:    s.nextID,
		Seq:   s.clock.Next(),
		Value: value,
	}
	s.facts[f.ID] = f
	s.order = append(s.order, f.ID)

	s.emit(Event{Kind: EventAssert, Seq: f.Seq, Fact: f})
	return f.ID
}

// Retract removes a fact. Returns UnknownFactError if the id is
// absent, including a second retract of the same id.
func (s *FactStore) Retract(id FactID) error {
	f, ok := s.facts[id]
	if !ok {
		return &UnknownFactError{ID: id}
	}
	delete(s.facts, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.emit(Event{Kind: EventRetract, Seq: s.clock.Next(), Fact: f})
	return nil
}

// Modify replaces a fact with a new value. Equivalent to Retract
// followed by Assert: the result has a fresh id and timestamp, and
// both change events are emitted.
func (s *FactStore) Modify(id FactID, value any) (FactID, error) {
	if err := s.Retract(id); err != nil {
		return 0, err
	}
	return s.Assert(value), nil
}

// Get returns the fact for id, or false if it is not live.
func (s *FactStore) Get(id FactID) (Fact, bool) {
	f, ok := s.facts[id]
	return f, ok
}

// Len returns the number of live facts.
func (s *FactStore) Len() int {
	return len(s.order)
}

// Snapshot returns the live facts in insertion order. The returned
// slice is a copy; iterating it is safe across subsequent mutations.
func (s *FactStore) Snapshot() []Fact {
	out := make([]Fact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.facts[id])
	}
	return out
}

func (s *FactStore) emit(ev Event) {
	for _, h := range s.handlers {
		h(ev)
	}
}
