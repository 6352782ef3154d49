package etl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// fakeSource serves docs in pages of the requested size. Cursors are the
// decimal offset of the next page.
type fakeSource struct {
	schema  CollectionSchema
	docs    []Document
	names   []string
	closed  int
	fetches []*string

	// lastNil makes the page that reaches the end carry no cursor.
	lastNil bool

	schemaErr error
	// fetchErr, when set, is returned for the fetch with that call index.
	fetchErr map[int]error
}

func (s *fakeSource) GetSchema(ctx context.Context, collection string) (CollectionSchema, error) {
	if s.schemaErr != nil {
		return nil, s.schemaErr
	}
	return s.schema, nil
}

func (s *fakeSource) ListCollections(ctx context.Context) ([]string, error) {
	return s.names, nil
}

func (s *fakeSource) FetchPage(ctx context.Context, collection string, cursor *string, pageSize int, _ time.Duration) (*Page, error) {
	call := len(s.fetches)
	s.fetches = append(s.fetches, cursor)
	if err := s.fetchErr[call]; err != nil {
		return nil, err
	}
	start := 0
	if cursor != nil {
		n, err := strconv.Atoi(*cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", *cursor)
		}
		start = n
	}
	if start >= len(s.docs) {
		return &Page{}, nil
	}
	end := min(start+pageSize, len(s.docs))
	if s.lastNil && end == len(s.docs) {
		return &Page{Documents: s.docs[start:end]}, nil
	}
	next := strconv.Itoa(end)
	return &Page{Documents: s.docs[start:end], NextCursor: &next}, nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

type fakeDest struct {
	tables  map[string][]ColumnDef
	rows    map[string]map[string]Document
	batches [][]Document
	creates int
	closed  int

	existsErr error
	createErr error
	// insertErr, when set, is returned for the insert with that call index.
	insertErr map[int]error
	inserts   int
}

func newFakeDest() *fakeDest {
	return &fakeDest{tables: map[string][]ColumnDef{}, rows: map[string]map[string]Document{}}
}

func (d *fakeDest) TableExists(ctx context.Context, name string) (bool, error) {
	if d.existsErr != nil {
		return false, d.existsErr
	}
	_, ok := d.tables[name]
	return ok, nil
}

func (d *fakeDest) CreateTable(ctx context.Context, name string, columns []ColumnDef) error {
	d.creates++
	if d.createErr != nil {
		return d.createErr
	}
	if _, ok := d.tables[name]; ok {
		return errors.New("table already exists")
	}
	d.tables[name] = columns
	d.rows[name] = map[string]Document{}
	return nil
}

func (d *fakeDest) BatchInsert(ctx context.Context, name string, docs []Document) error {
	call := d.inserts
	d.inserts++
	if err := d.insertErr[call]; err != nil {
		return err
	}
	d.batches = append(d.batches, docs)
	for _, doc := range docs {
		d.rows[name][doc.ID] = doc
	}
	return nil
}

func (d *fakeDest) Close() error {
	d.closed++
	return nil
}

// memStore is an in-memory CheckpointStore recording every save.
type memStore struct {
	mu      sync.Mutex
	cps     map[string]Checkpoint
	saves   []Checkpoint
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{cps: map[string]Checkpoint{}}
}

func (m *memStore) Load(ctx context.Context, collection string) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return Checkpoint{}, m.loadErr
	}
	return m.cps[collection], nil
}

func (m *memStore) Save(ctx context.Context, collection string, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.cps[collection] = cp
	m.saves = append(m.saves, cp)
	return nil
}

func doc(id string, fields map[string]Value) Document {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Document{ID: id, Fields: fields}
}

func strp(s string) *string { return &s }
