package remote

import (
	"errors"
	"sync"
)

// Pool keeps live sessions for the lifetime of the process so established connections
// survive the modal being dismissed. It is append-only; CloseAll runs at exit.
type Pool struct {
	mu       sync.Mutex
	sessions []Session
}

func NewPool() *Pool { return &Pool{} }

func (p *Pool) Add(s Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Sessions returns a copy of the pooled sessions in insertion order.
func (p *Pool) Sessions() []Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Session(nil), p.sessions...)
}

// Get returns the session with the given id.
func (p *Pool) Get(id string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// CloseAll closes every pooled session and returns the joined errors.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
