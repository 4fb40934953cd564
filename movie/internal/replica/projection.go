package replica

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/abhishek622/moviereplica/movie/pkg/model"
)

// Projection is a live, sorted view of the live movies. C delivers the
// current snapshot right away and a fresh one after every effective write.
// A slow reader only ever sees the newest snapshot.
type Projection struct {
	store *Store
	field model.SortField
	ch    chan []*model.Movie

	once sync.Once
	mu   sync.Mutex
	err  error
}

// ObserveSorted opens a projection ordered ascending by field.
func (s *Store) ObserveSorted(field model.SortField) (*Projection, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unsupported sort field %q", field)
	}
	p := &Projection{store: s, field: field, ch: make(chan []*model.Movie, 1)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.subs[p] = struct{}{}
	p.deliverLocked(s.snapshotLocked(field))
	return p, nil
}

// Subscribe is the callback form of ObserveSorted. onNext runs on its own
// goroutine for every snapshot; onError (optional) is called once if the
// projection cannot be opened or ends because the store closed. The returned
// func cancels the subscription.
func (s *Store) Subscribe(field model.SortField, onNext func([]*model.Movie), onError func(error)) func() {
	p, err := s.ObserveSorted(field)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return func() {}
	}
	go func() {
		for snap := range p.C() {
			onNext(snap)
		}
		if err := p.Err(); err != nil && onError != nil {
			onError(err)
		}
	}()
	return p.Close
}

// C returns the snapshot channel. It is closed when the projection ends.
func (p *Projection) C() <-chan []*model.Movie {
	return p.ch
}

// Field returns the sort field of the projection.
func (p *Projection) Field() model.SortField {
	return p.field
}

// Err returns why the projection ended on its own, or nil.
func (p *Projection) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close stops delivery. It is safe to call more than once.
func (p *Projection) Close() {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[p]; ok {
		delete(s.subs, p)
	}
	p.endLocked(nil)
}

func (p *Projection) endLocked(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.ch)
	})
}

// deliverLocked replaces any undelivered snapshot with snap. Only called
// with the store lock held, so there is a single sender.
func (p *Projection) deliverLocked(snap []*model.Movie) {
	select {
	case <-p.ch:
	default:
	}
	select {
	case p.ch <- snap:
	default:
	}
}

func (s *Store) notifyLocked() {
	if len(s.subs) == 0 {
		return
	}
	byField := map[model.SortField][]*model.Movie{}
	for p := range s.subs {
		snap, ok := byField[p.field]
		if !ok {
			snap = s.snapshotLocked(p.field)
			byField[p.field] = snap
		}
		p.deliverLocked(cloneAll(snap))
	}
}

func (s *Store) snapshotLocked(field model.SortField) []*model.Movie {
	res := make([]*model.Movie, 0, len(s.docs))
	for _, d := range s.docs {
		if d.Deleted {
			continue
		}
		res = append(res, d.Movie.Clone())
	}
	slices.SortFunc(res, compareBy(field))
	return res
}

func cloneAll(movies []*model.Movie) []*model.Movie {
	res := make([]*model.Movie, len(movies))
	for i, m := range movies {
		res[i] = m.Clone()
	}
	return res
}

func compareBy(field model.SortField) func(a, b *model.Movie) int {
	return func(a, b *model.Movie) int {
		var c int
		switch field {
		case model.SortByName:
			c = cmp.Compare(a.Name, b.Name)
		case model.SortByDescription:
			c = cmp.Compare(a.Description, b.Description)
		case model.SortByDuration:
			c = cmp.Compare(a.Duration, b.Duration)
		case model.SortByAverageRating:
			c = cmp.Compare(ratingOf(a), ratingOf(b))
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
}

// ratingOf sorts unrated movies before any rated one.
func ratingOf(m *model.Movie) float64 {
	if m.AverageRating == nil {
		return -1
	}
	return *m.AverageRating
}
