package runs

import (
	"fmt"
	"sync"
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

const runsTable = "runs"

// entry is the immutable row stored for a live run.
type entry struct {
	ID string
	// Created is the zero padded creation time in nanoseconds, it sorts like the time
	Created string
	Run     *Run
}

// registry holds the live runs in an in-memory database indexed by id and creation
// time. Terminal runs are evicted after the retention period, their events go with them.
type registry struct {
	db *memdb.MemDB

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newRegistry() (*registry, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			runsTable: {
				Name: runsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"created": {
						Name:    "created",
						Indexer: &memdb.StringFieldIndex{Field: "Created"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &registry{db: db, timers: map[string]*time.Timer{}}, nil
}

func (r *registry) insert(run *Run) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(runsTable, &entry{ID: run.id, Created: fmt.Sprintf("%020d", run.createdAt.UnixNano()), Run: run}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *registry) get(id string) (*Run, bool) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(runsTable, "id", id)
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*entry).Run, true
}

// list returns the live runs, newest first.
func (r *registry) list() []*Run {
	txn := r.db.Txn(false)
	defer txn.Abort()
	it, err := txn.GetReverse(runsTable, "created")
	if err != nil {
		return nil
	}
	out := []*Run{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*entry).Run)
	}
	return out
}

func (r *registry) delete(id string) {
	txn := r.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(runsTable, "id", id); err != nil {
		return
	}
	txn.Commit()
}

func (r *registry) scheduleEviction(id string, after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[id]; ok {
		return
	}
	r.timers[id] = time.AfterFunc(after, func() {
		r.delete(id)
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()
	})
}

func (r *registry) stopEvictions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}
