package businessflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/amirphl/sms-dispatcher/app/scheduler"
	"github.com/amirphl/sms-dispatcher/models"
	"github.com/amirphl/sms-dispatcher/repository"
)

type fakeAdminRepo struct {
	repository.AdminRepository

	mu        sync.Mutex
	admins    []*models.Admin
	lastLogin map[uint]int
	lookupErr error
}

func newFakeAdminRepo() *fakeAdminRepo {
	return &fakeAdminRepo{lastLogin: make(map[uint]int)}
}

func (r *fakeAdminRepo) ByUsername(_ context.Context, username string) (*models.Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	for _, a := range r.admins {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeAdminRepo) Save(_ context.Context, admin *models.Admin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	admin.ID = uint(len(r.admins) + 1)
	r.admins = append(r.admins, admin)
	return nil
}

func (r *fakeAdminRepo) UpdateLastLogin(_ context.Context, adminID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLogin[adminID]++
	return nil
}

type fakeMessageRepo struct {
	messages map[uint]*models.IncomingMessage
	lockedTx []any
}

func (r *fakeMessageRepo) ByID(_ context.Context, id uint) (*models.IncomingMessage, error) {
	return r.messages[id], nil
}

func (r *fakeMessageRepo) ByIDForUpdate(ctx context.Context, id uint) (*models.IncomingMessage, error) {
	r.lockedTx = append(r.lockedTx, ctx.Value(repository.TxContextKey))
	return r.messages[id], nil
}

// fakeTxRunner hands fn a context carrying a transaction marker and counts outcomes
type fakeTxRunner struct {
	mu        sync.Mutex
	n         int
	commits   int
	rollbacks int
}

func (r *fakeTxRunner) run(ctx context.Context, fn func(context.Context) error) error {
	r.mu.Lock()
	r.n++
	marker := fmt.Sprintf("tx-%d", r.n)
	r.mu.Unlock()

	err := fn(context.WithValue(ctx, repository.TxContextKey, marker))

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.rollbacks++
		return err
	}
	r.commits++
	return nil
}

type fakeRecordRepo struct {
	repository.DispatchRecordRepository

	mu      sync.Mutex
	records map[string]*models.DispatchRecord
	saveErr error
	// txSeen collects the transaction marker of every ByFilter and SaveBatch call
	txSeen  []any
}

func (r *fakeRecordRepo) sawTx(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txSeen = append(r.txSeen, ctx.Value(repository.TxContextKey))
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: make(map[string]*models.DispatchRecord)}
}

func (r *fakeRecordRepo) put(rec models.DispatchRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = &rec
}

func (r *fakeRecordRepo) all() []*models.DispatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.DispatchRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeRecordRepo) ByRecordID(_ context.Context, id string) (*models.DispatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRecordRepo) ByFilter(ctx context.Context, f models.DispatchRecordFilter, _ string, _, _ int) ([]*models.DispatchRecord, error) {
	r.sawTx(ctx)
	var out []*models.DispatchRecord
	for _, rec := range r.all() {
		if f.MessageID != nil && rec.MessageID != *f.MessageID {
			continue
		}
		if f.Status != nil && rec.Status != *f.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *fakeRecordRepo) SaveBatch(ctx context.Context, entities []*models.DispatchRecord) error {
	r.sawTx(ctx)
	if r.saveErr != nil {
		return r.saveErr
	}
	for _, e := range entities {
		r.put(*e)
	}
	return nil
}

func (r *fakeRecordRepo) CountByStatus(context.Context) ([]repository.StatusCount, error) {
	counts := map[models.DispatchStatus]int64{}
	for _, rec := range r.all() {
		counts[rec.Status]++
	}
	out := make([]repository.StatusCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, repository.StatusCount{Status: s, Count: n})
	}
	return out, nil
}

// fakeQueue stands in for the dispatch engine
type fakeQueue struct {
	repo *fakeRecordRepo

	mu        sync.Mutex
	wakes     int
	lastLimit int
	lastOff   int
	lastFilt  models.DispatchRecordFilter
	snapshot  scheduler.EngineSnapshot
}

func (q *fakeQueue) List(ctx context.Context, filter models.DispatchRecordFilter, limit, offset int) ([]*models.DispatchRecord, int64, error) {
	q.mu.Lock()
	q.lastFilt, q.lastLimit, q.lastOff = filter, limit, offset
	q.mu.Unlock()

	rows, _ := q.repo.ByFilter(ctx, filter, "", 0, 0)
	total := int64(len(rows))
	if offset >= len(rows) {
		return nil, total, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, total, nil
}

func (q *fakeQueue) Delete(_ context.Context, id string) error {
	q.repo.mu.Lock()
	defer q.repo.mu.Unlock()
	delete(q.repo.records, id)
	return nil
}

func (q *fakeQueue) DeleteAll(context.Context) (int64, error) {
	q.repo.mu.Lock()
	defer q.repo.mu.Unlock()
	n := int64(len(q.repo.records))
	q.repo.records = make(map[string]*models.DispatchRecord)
	return n, nil
}

func (q *fakeQueue) ForceRequeue(_ context.Context, id string) (bool, error) {
	q.repo.mu.Lock()
	rec, ok := q.repo.records[id]
	if ok {
		rec.Status = models.DispatchStatusWaiting
		rec.Forced = true
		rec.Attempts = 0
	}
	q.repo.mu.Unlock()
	if ok {
		q.Wake()
	}
	return ok, nil
}

func (q *fakeQueue) Snapshot() scheduler.EngineSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot
}

func (q *fakeQueue) Wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.wakes++
}

func (q *fakeQueue) wakeCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wakes
}
