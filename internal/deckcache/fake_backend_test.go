package deckcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/deckview/internal/deck"
)

// memBackend is an in-memory Backend. Reads can be gated so tests control
// when an in-flight fetch completes.
type memBackend struct {
	mu      sync.Mutex
	records map[string]*deck.Record
	order   []string
	nextID  int
	lists   int
	gets    int
	gate    chan struct{}
	started chan struct{}
	failErr error
}

func newMemBackend() *memBackend {
	return &memBackend{
		records: make(map[string]*deck.Record),
	}
}

// holdReads makes every read block until the returned function is called.
// started receives one value per read that reaches the gate.
func (m *memBackend) holdReads() func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gate = make(chan struct{})
	m.started = make(chan struct{}, 16)
	gate := m.gate

	var once sync.Once

	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.gate = nil
			m.mu.Unlock()

			close(gate)
		})
	}
}

func (m *memBackend) wait(ctx context.Context) error {
	m.mu.Lock()
	gate, started := m.gate, m.started
	m.mu.Unlock()

	if gate == nil {
		return nil
	}
	started <- struct{}{}

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memBackend) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failErr = err
}

func (m *memBackend) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lists, m.gets
}

// snapshot returns the backend's ids in list order.
func (m *memBackend) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append(make([]string, 0, len(m.order)), m.order...)
}

func (m *memBackend) ListPresentations(
	ctx context.Context) ([]*deck.Record, error) {

	m.mu.Lock()
	m.lists++
	failErr := m.failErr
	m.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*deck.Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id].Clone())
	}

	return out, nil
}

func (m *memBackend) GetPresentation(ctx context.Context,
	id string) (*deck.Record, error) {

	m.mu.Lock()
	m.gets++
	failErr := m.failErr
	m.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, &deck.StatusError{
			Op: "get presentation", StatusCode: 404,
			Kind: deck.ErrNotFound,
		}
	}

	return rec.Clone(), nil
}

func (m *memBackend) GeneratePresentation(_ context.Context,
	req deck.GenerateRequest) (*deck.Record, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.nextID++
	rec := &deck.Record{
		ID:       fmt.Sprintf("p%d", m.nextID),
		Title:    req.Title,
		Markdown: req.Markdown,
		Theme:    req.Theme,
		Markup:   fn.Some("<section>" + req.Markdown + "</section>"),
	}
	m.records[rec.ID] = rec
	m.order = append([]string{rec.ID}, m.order...)

	return rec.Clone(), nil
}

func (m *memBackend) UpdatePresentation(_ context.Context, id string,
	patch deck.Patch) (*deck.Record, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	rec, ok := m.records[id]
	if !ok {
		return nil, &deck.StatusError{
			Op: "update presentation", StatusCode: 404,
			Kind: deck.ErrNotFound,
		}
	}
	patch.Title.WhenSome(func(v string) { rec.Title = v })
	patch.Markdown.WhenSome(func(v string) { rec.Markdown = v })
	patch.Theme.WhenSome(func(v string) { rec.Theme = v })

	return rec.Clone(), nil
}

func (m *memBackend) DeletePresentation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}

	if _, ok := m.records[id]; !ok {
		return &deck.StatusError{
			Op: "delete presentation", StatusCode: 404,
			Kind: deck.ErrNotFound,
		}
	}
	delete(m.records, id)

	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	return nil
}

// staticOwner is a switchable OwnerSource.
type staticOwner struct {
	mu    sync.Mutex
	owner string
}

func (s *staticOwner) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.owner
}

func (s *staticOwner) set(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.owner = owner
}
