package shape

// Store is the ordered collection of shapes for one document. Shape
// identities are unique; ordering is insertion order and is only
// significant for stable snapshot transmission.
//
// Store is not safe for concurrent use. On the server every access
// happens on the room's dispatch goroutine; client mirrors wrap it in
// their own lock.
type Store struct {
	order []string
	byID  map[string]*Shape
}

func NewStore() *Store {
	return &Store{byID: make(map[string]*Shape)}
}

func (s *Store) Len() int {
	return len(s.order)
}

// Upsert inserts a shape, or overwrites the existing record in place
// when the identity is already present. The shape keeps its original
// position so snapshots stay stable.
func (s *Store) Upsert(sh Shape) {
	if existing, ok := s.byID[sh.ID]; ok {
		*existing = sh
		return
	}
	stored := sh
	s.byID[sh.ID] = &stored
	s.order = append(s.order, sh.ID)
}

// Apply merges a patch into the shape it references and returns the
// merged record. An unknown identity leaves the store untouched and
// returns ok=false; callers treat that as a no-op, not an error.
func (s *Store) Apply(p Patch) (Shape, bool) {
	sh, ok := s.byID[p.ID]
	if !ok {
		return Shape{}, false
	}
	p.apply(sh)
	return *sh, true
}

// Get returns a copy of the shape with the given identity.
func (s *Store) Get(id string) (Shape, bool) {
	sh, ok := s.byID[id]
	if !ok {
		return Shape{}, false
	}
	return *sh, true
}

// List returns a copy of the collection in insertion order.
func (s *Store) List() []Shape {
	out := make([]Shape, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Replace swaps the whole collection, preserving the order of the
// supplied slice. Used by client mirrors when a snapshot arrives.
func (s *Store) Replace(shapes []Shape) {
	s.order = s.order[:0]
	s.byID = make(map[string]*Shape, len(shapes))
	for _, sh := range shapes {
		if _, ok := s.byID[sh.ID]; ok {
			stored := sh
			*s.byID[sh.ID] = stored
			continue
		}
		stored := sh
		s.byID[sh.ID] = &stored
		s.order = append(s.order, sh.ID)
	}
}
