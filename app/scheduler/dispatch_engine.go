// Package scheduler runs the SMS dispatch engine: admission, dispatch and delivery reconciliation
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/sms-dispatcher/config"
	"github.com/amirphl/sms-dispatcher/models"
	"github.com/amirphl/sms-dispatcher/repository"
	"github.com/amirphl/sms-dispatcher/utils"
)

const (
	taskAdmission      = "admission"
	taskDispatch       = "dispatch"
	taskReconciliation = "reconcile"

	releaseLockTimeout = 5 * time.Second
)

// EngineConfig tunes the dispatch engine
type EngineConfig struct {
	AdmissionInterval      time.Duration
	DispatchInterval       time.Duration
	ReconciliationInterval time.Duration
	AdmissionCap           int
	MessagesCountTick      int
	MaxPollAttempts        int           // 0 disables the attempts bound
	MaxSentAge             time.Duration // 0 disables the age bound
	IdleWakeInterval       time.Duration // 0 disables idle wake-ups
	RequestTimeout         time.Duration
	LeaderRenewInterval    time.Duration // how often the leader lock is renewed while running
}

// NewEngineConfig merges the dispatch and gateway settings, falling back to defaults for unset values
func NewEngineConfig(d config.DispatchConfig, g config.SMSGatewayConfig) EngineConfig {
	cfg := EngineConfig{
		AdmissionInterval:      d.AdmissionInterval,
		DispatchInterval:       d.DispatchInterval,
		ReconciliationInterval: d.ReconciliationInterval,
		AdmissionCap:           d.AdmissionCap,
		MessagesCountTick:      g.MessagesCountTick,
		MaxPollAttempts:        d.MaxPollAttempts,
		MaxSentAge:             d.MaxSentAge,
		IdleWakeInterval:       d.IdleWakeInterval,
		RequestTimeout:         g.Timeout,
	}
	if d.LeaderLockTTL > 0 {
		cfg.LeaderRenewInterval = d.LeaderLockTTL / 3
	}
	return cfg.withDefaults()
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.AdmissionInterval <= 0 {
		c.AdmissionInterval = utils.DefaultAdmissionInterval
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = utils.DefaultDispatchInterval
	}
	if c.ReconciliationInterval <= 0 {
		c.ReconciliationInterval = utils.DefaultReconciliationInterval
	}
	if c.AdmissionCap <= 0 {
		c.AdmissionCap = utils.DefaultAdmissionCap
	}
	if c.MessagesCountTick <= 0 {
		c.MessagesCountTick = utils.DefaultMessagesCountTick
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.LeaderRenewInterval <= 0 {
		c.LeaderRenewInterval = utils.DefaultLeaderLockTTL / 3
	}
	return c
}

// EngineSnapshot describes the in-memory state of the engine
type EngineSnapshot struct {
	PendingQueue         int  `json:"pending_queue"`
	AwaitingConfirmation int  `json:"awaiting_confirmation"`
	AdmissionActive      bool `json:"admission_active"`
	DispatchActive       bool `json:"dispatch_active"`
	ReconciliationActive bool `json:"reconciliation_active"`
	Running              bool `json:"running"`
}

// DispatchEngine owns the pending queue and the awaiting-confirmation set and drives the three
// periodic tasks that move dispatch records through waiting -> sent -> delivered/rejected.
type DispatchEngine struct {
	repo    repository.DispatchRecordRepository
	gateway GatewayClient
	lock    LeaderLock
	logger  *log.Logger
	metrics *engineMetrics
	cfg     EngineConfig
	now     func() time.Time

	pending  *PendingQueue
	awaiting *AwaitingSet

	// stageMu makes "find waiting + merge" and "pop + mark sent" mutually exclusive
	stageMu sync.Mutex

	admission      *periodicTask
	dispatch       *periodicTask
	reconciliation *periodicTask

	wakePending atomic.Bool
	running     atomic.Bool

	// leader mirrors the last lock outcome; seedSent asks the next admission tick to reload sent records
	leader   atomic.Bool
	seedSent atomic.Bool

	// inFlight holds the ids a reconcile tick has drained and not yet settled
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatchEngine wires the engine. lock may be nil, in which case this instance always admits.
func NewDispatchEngine(
	repo repository.DispatchRecordRepository,
	gateway GatewayClient,
	lock LeaderLock,
	logger *log.Logger,
	cfg EngineConfig,
) (*DispatchEngine, error) {
	if repo == nil {
		return nil, errors.New("dispatch engine: repository is required")
	}
	if gateway == nil {
		return nil, errors.New("dispatch engine: gateway client is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	e := &DispatchEngine{
		repo:     repo,
		gateway:  gateway,
		lock:     lock,
		logger:   logger,
		metrics:  defaultEngineMetrics(),
		cfg:      cfg.withDefaults(),
		now:      utils.UTCNow,
		pending:  NewPendingQueue(),
		awaiting: NewAwaitingSet(),
		inFlight: make(map[string]struct{}),
	}
	e.leader.Store(lock == nil)
	e.seedSent.Store(true)
	e.admission = newPeriodicTask(taskAdmission, e.cfg.AdmissionInterval, e.admissionTick, logger, e.metrics.setActive)
	e.dispatch = newPeriodicTask(taskDispatch, e.cfg.DispatchInterval, e.dispatchTick, logger, e.metrics.setActive)
	e.reconciliation = newPeriodicTask(taskReconciliation, e.cfg.ReconciliationInterval, e.reconcileTick, logger, e.metrics.setActive)
	return e, nil
}

// Start arms admission, launches the task loops in background goroutines and returns a stop function
func (e *DispatchEngine) Start(parent context.Context) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return e.Stop
	}
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.running.Store(true)
	e.seedSent.Store(true)

	for _, t := range []*periodicTask{e.admission, e.dispatch, e.reconciliation} {
		e.wg.Add(1)
		go func(t *periodicTask) {
			defer e.wg.Done()
			t.run(ctx)
		}(t)
	}
	if e.cfg.IdleWakeInterval > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.idleWakeLoop(ctx)
		}()
	}
	if e.lock != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.leaderLoop(ctx)
		}()
	}

	e.logger.Printf("scheduler: dispatch engine started cap=%d tick=%d", e.cfg.AdmissionCap, e.cfg.MessagesCountTick)
	e.Wake()
	return e.Stop
}

// Stop cancels every task loop, waits for in-flight ticks and releases the leader lock
func (e *DispatchEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.cancel = nil
	e.running.Store(false)

	if e.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseLockTimeout)
		defer cancel()
		if err := e.lock.Release(ctx); err != nil {
			e.logger.Printf("scheduler: release leader lock failed: %v", err)
		}
		e.leader.Store(false)
	}
	e.logger.Printf("scheduler: dispatch engine stopped pending=%d awaiting=%d", e.pending.Len(), e.awaiting.Len())
}

// Wake re-arms admission and asks for an immediate admission tick
func (e *DispatchEngine) Wake() {
	e.wakePending.Store(true)
	e.admission.Activate()
	e.admission.Trigger()
}

func (e *DispatchEngine) idleWakeLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.IdleWakeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.admission.IsActive() {
				e.logger.Printf("scheduler: admission idle, waking up")
				e.Wake()
			}
		}
	}
}

// leaderLoop renews the leader lock on its own schedule so it does not lapse while admission is idle
func (e *DispatchEngine) leaderLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.LeaderRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.holdLeadership(ctx); err != nil {
				e.logger.Printf("scheduler: leader lock renew failed: %v", err)
			}
		}
	}
}

// holdLeadership takes or renews the leader lock. Gaining it schedules a reload of sent records,
// losing it drops the in-memory working sets so another instance owns them alone.
func (e *DispatchEngine) holdLeadership(ctx context.Context) (bool, error) {
	if e.lock == nil {
		return true, nil
	}
	leader, err := e.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	was := e.leader.Swap(leader)
	switch {
	case leader && !was:
		e.seedSent.Store(true)
		e.logger.Printf("scheduler: leader lock acquired")
	case !leader:
		if was {
			e.logger.Printf("scheduler: leader lock lost")
		}
		e.dropWork()
	}
	return leader, nil
}

func (e *DispatchEngine) leading() bool {
	return e.lock == nil || e.leader.Load()
}

// dropWork forgets every pending and awaiting id. The records stay in the store.
func (e *DispatchEngine) dropWork() {
	e.stageMu.Lock()
	p := e.pending.Clear()
	e.stageMu.Unlock()
	a := e.awaiting.Clear()
	if p+a > 0 {
		e.logger.Printf("scheduler: dropped pending=%d awaiting=%d after losing leadership", p, a)
	}
}

// admissionTick recovers in-flight records and loads newly waiting records into the pending queue
func (e *DispatchEngine) admissionTick(ctx context.Context) {
	defer e.observeSizes()
	e.wakePending.Store(false)

	leader, err := e.holdLeadership(ctx)
	if err != nil {
		e.logger.Printf("scheduler: admission: leader lock failed: %v", err)
		return
	}
	if !leader {
		e.logger.Printf("scheduler: admission: another instance holds the leader lock, skipping")
		return
	}

	// 1) records sent in an earlier lifetime, or by a previous leader, whose confirmation was never observed
	if e.seedSent.CompareAndSwap(true, false) {
		e.recoverSent(ctx)
	}

	// 2) load waiting records and merge them into the queue
	e.stageMu.Lock()
	rows, err := e.repo.FindWaiting(ctx, e.cfg.AdmissionCap)
	if err != nil {
		e.stageMu.Unlock()
		e.logger.Printf("scheduler: admission: find waiting failed: %v", err)
		return
	}
	queued := make([]QueuedRecord, 0, len(rows))
	for _, r := range rows {
		queued = append(queued, QueuedRecord{
			ID:        r.ID,
			Phone:     r.Phone,
			Text:      r.Text,
			Forced:    r.Forced,
			CreatedAt: r.CreatedAt,
		})
	}
	added := e.pending.Merge(queued)
	size := e.pending.Len()
	e.stageMu.Unlock()

	e.metrics.addRecords("admitted", added)
	if added > 0 {
		e.logger.Printf("scheduler: admission: admitted %d records, pending=%d", added, size)
	}

	// 3)
	if size > 0 {
		e.dispatch.Activate()
		return
	}
	if e.admission.Deactivate() && e.wakePending.Load() {
		e.admission.Activate()
		e.admission.Trigger()
	}
}

// recoverSent loads every sent record into the awaiting set, skipping ids a reconcile tick is polling
func (e *DispatchEngine) recoverSent(ctx context.Context) {
	sent, err := e.repo.FindSent(ctx)
	if err != nil {
		e.seedSent.Store(true)
		e.logger.Printf("scheduler: admission: find sent failed: %v", err)
		return
	}
	entries := make([]AwaitingEntry, 0, len(sent))
	for _, r := range sent {
		if e.isInFlight(r.ID) || e.awaiting.Contains(r.ID) {
			continue
		}
		entries = append(entries, awaitingEntryFromRecord(r))
	}
	if len(entries) == 0 {
		return
	}
	e.awaiting.Add(entries...)
	e.reconciliation.Activate()
	e.logger.Printf("scheduler: admission: recovered %d sent records for reconciliation", len(entries))
}

func (e *DispatchEngine) isInFlight(id string) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	_, ok := e.inFlight[id]
	return ok
}

func (e *DispatchEngine) setInFlight(entries []AwaitingEntry) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	for _, en := range entries {
		e.inFlight[en.ID] = struct{}{}
	}
}

func (e *DispatchEngine) clearInFlight(entries []AwaitingEntry) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	for _, en := range entries {
		delete(e.inFlight, en.ID)
	}
}

// dispatchTick sends one chunk from the head of the pending queue
func (e *DispatchEngine) dispatchTick(ctx context.Context) {
	defer e.observeSizes()
	if !e.leading() {
		e.dropWork()
	}

	e.stageMu.Lock()
	chunk := e.pending.PopFront(e.cfg.MessagesCountTick)
	if len(chunk) == 0 {
		e.stageMu.Unlock()
		if e.dispatch.Deactivate() && e.pending.Len() > 0 {
			e.dispatch.Activate()
		}
		return
	}
	ids := make([]string, 0, len(chunk))
	for _, r := range chunk {
		ids = append(ids, r.ID)
	}
	// Records are marked sent before the gateway answers; a failed send is only discovered by reconciliation
	moved, err := e.repo.MarkSent(ctx, ids)
	if err != nil {
		e.pending.Merge(chunk)
		e.stageMu.Unlock()
		e.logger.Printf("scheduler: dispatch: mark sent failed for %d records, returned to queue: %v", len(ids), err)
		return
	}
	e.stageMu.Unlock()

	// only records this tick moved out of waiting are ours to send
	movedSet := make(map[string]struct{}, len(moved))
	for _, id := range moved {
		movedSet[id] = struct{}{}
	}
	batch := make([]OutboundSMS, 0, len(moved))
	for _, r := range chunk {
		if _, ok := movedSet[r.ID]; ok {
			batch = append(batch, OutboundSMS{ID: r.ID, Phone: r.Phone, Text: r.Text})
		}
	}
	if skipped := len(chunk) - len(batch); skipped > 0 {
		e.logger.Printf("scheduler: dispatch: %d records no longer waiting, skipped", skipped)
	}
	if len(batch) == 0 {
		return
	}

	sentAt := e.now()

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	err = e.gateway.Send(sendCtx, batch)
	cancel()
	if err != nil {
		e.logger.Printf("scheduler: dispatch: send_sms failed for %d records, awaiting reconciliation: %v", len(batch), err)
	} else {
		e.logger.Printf("scheduler: dispatch: sent batch of %d records", len(batch))
	}
	e.metrics.addRecords("sent", len(batch))

	entries := make([]AwaitingEntry, 0, len(batch))
	for _, m := range batch {
		entries = append(entries, AwaitingEntry{ID: m.ID, FirstSentAt: sentAt})
	}
	e.awaiting.Add(entries...)
	e.reconciliation.Activate()
}

// reconcileTick polls the gateway for every awaiting id and resolves what it can
func (e *DispatchEngine) reconcileTick(ctx context.Context) {
	defer e.observeSizes()
	if !e.leading() {
		e.dropWork()
	}

	snapshot := e.awaiting.Drain()
	if len(snapshot) == 0 {
		if e.reconciliation.Deactivate() && e.awaiting.Len() > 0 {
			e.reconciliation.Activate()
		}
		return
	}
	e.setInFlight(snapshot)
	defer e.clearInFlight(snapshot)

	byID := make(map[string]AwaitingEntry, len(snapshot))
	ids := make([]string, 0, len(snapshot))
	for _, en := range snapshot {
		byID[en.ID] = en
		ids = append(ids, en.ID)
	}

	seen := make(map[string]struct{}, len(snapshot))
	var repoll, retry []AwaitingEntry
	var delivered, rejected int

	pollCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	err := e.gateway.GetStatus(pollCtx, ids, func(st DeliveryStatus) error {
		en, ok := byID[st.ID]
		if !ok {
			return nil
		}
		if _, dup := seen[st.ID]; dup {
			return nil
		}
		seen[st.ID] = struct{}{}

		switch Resolve(st) {
		case ResolutionDelivered:
			if err := e.repo.Delete(ctx, st.ID); err != nil {
				e.logger.Printf("scheduler: reconcile: delete %s failed: %v", st.ID, err)
				retry = append(retry, en)
				return nil
			}
			delivered++
		case ResolutionRejected:
			if err := e.repo.MarkRejected(ctx, st.ID); err != nil {
				e.logger.Printf("scheduler: reconcile: mark rejected %s failed: %v", st.ID, err)
				retry = append(retry, en)
				return nil
			}
			rejected++
		default:
			repoll = append(repoll, en)
		}
		return nil
	})
	cancel()

	if err != nil {
		e.logger.Printf("scheduler: reconcile: getstatus failed for %d ids, requeued: %v", len(ids), err)
		for _, en := range snapshot {
			if _, ok := seen[en.ID]; !ok {
				retry = append(retry, en)
			}
		}
	} else {
		// ids the gateway did not report on are polled again
		for _, en := range snapshot {
			if _, ok := seen[en.ID]; !ok {
				repoll = append(repoll, en)
			}
		}
	}

	e.metrics.addRecords("delivered", delivered)
	e.metrics.addRecords("rejected", rejected)
	e.awaiting.Add(retry...)
	deadLettered := e.settleUnresolved(ctx, repoll)

	e.logger.Printf("scheduler: reconcile: polled=%d delivered=%d rejected=%d repoll=%d dead_letter=%d retry=%d",
		len(ids), delivered, rejected, len(repoll)-deadLettered, deadLettered, len(retry))
}

// settleUnresolved counts one more unresolved poll for every entry, moves the ones past the
// attempts or age bound to dead letter, and puts the rest back into the awaiting set
func (e *DispatchEngine) settleUnresolved(ctx context.Context, entries []AwaitingEntry) int {
	if len(entries) == 0 {
		return 0
	}
	ids := make([]string, 0, len(entries))
	for _, en := range entries {
		ids = append(ids, en.ID)
	}
	if err := e.repo.IncrementAttempts(ctx, ids); err != nil {
		e.logger.Printf("scheduler: reconcile: increment attempts failed for %d ids: %v", len(ids), err)
	}

	now := e.now()
	keep := make([]AwaitingEntry, 0, len(entries))
	dead := 0
	for _, en := range entries {
		en.Attempts++
		if !e.exhausted(en, now) {
			keep = append(keep, en)
			continue
		}
		if err := e.repo.MarkDeadLetter(ctx, en.ID); err != nil {
			e.logger.Printf("scheduler: reconcile: mark dead letter %s failed: %v", en.ID, err)
			keep = append(keep, en)
			continue
		}
		e.logger.Printf("scheduler: reconcile: %s moved to dead letter attempts=%d first_sent_at=%s",
			en.ID, en.Attempts, en.FirstSentAt.Format(time.RFC3339))
		dead++
	}
	e.awaiting.Add(keep...)
	e.metrics.addRecords("repoll", len(keep))
	e.metrics.addRecords("dead_letter", dead)
	return dead
}

func (e *DispatchEngine) exhausted(en AwaitingEntry, now time.Time) bool {
	if e.cfg.MaxPollAttempts > 0 && en.Attempts >= e.cfg.MaxPollAttempts {
		return true
	}
	if e.cfg.MaxSentAge > 0 && !en.FirstSentAt.IsZero() && now.Sub(en.FirstSentAt) >= e.cfg.MaxSentAge {
		return true
	}
	return false
}

func (e *DispatchEngine) observeSizes() {
	e.metrics.setSizes(e.pending.Len(), e.awaiting.Len())
}

func awaitingEntryFromRecord(r *models.DispatchRecord) AwaitingEntry {
	en := AwaitingEntry{ID: r.ID, Attempts: r.Attempts}
	if r.FirstSentAt != nil {
		en.FirstSentAt = *r.FirstSentAt
	} else {
		en.FirstSentAt = r.UpdatedAt
	}
	return en
}

// List returns one page of dispatch records and the total matching count
func (e *DispatchEngine) List(ctx context.Context, filter models.DispatchRecordFilter, limit, offset int) ([]*models.DispatchRecord, int64, error) {
	total, err := e.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	rows, err := e.repo.ByFilter(ctx, filter, "created_at DESC, id ASC", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Delete removes one record from the store and from the in-memory working sets
func (e *DispatchEngine) Delete(ctx context.Context, id string) error {
	e.stageMu.Lock()
	defer e.stageMu.Unlock()

	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	e.pending.Remove(id)
	e.awaiting.Remove(id)
	e.observeSizes()
	e.logger.Printf("scheduler: admin: deleted record %s", id)
	return nil
}

// DeleteAll removes every record and empties the working sets
func (e *DispatchEngine) DeleteAll(ctx context.Context) (int64, error) {
	e.stageMu.Lock()
	defer e.stageMu.Unlock()

	n, err := e.repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	e.pending.Clear()
	e.awaiting.Clear()
	e.observeSizes()
	e.logger.Printf("scheduler: admin: deleted all %d records", n)
	return n, nil
}

// ForceRequeue puts a record back to waiting with priority and wakes admission.
// It reports false when the record does not exist.
func (e *DispatchEngine) ForceRequeue(ctx context.Context, id string) (bool, error) {
	e.stageMu.Lock()
	found, err := e.repo.ForceRequeue(ctx, id)
	if err != nil || !found {
		e.stageMu.Unlock()
		return found, err
	}
	e.pending.Remove(id)
	e.awaiting.Remove(id)
	e.stageMu.Unlock()

	e.logger.Printf("scheduler: admin: force requeued record %s", id)
	e.Wake()
	return true, nil
}

// Snapshot reports the in-memory state of the engine
func (e *DispatchEngine) Snapshot() EngineSnapshot {
	return EngineSnapshot{
		PendingQueue:         e.pending.Len(),
		AwaitingConfirmation: e.awaiting.Len(),
		AdmissionActive:      e.admission.IsActive(),
		DispatchActive:       e.dispatch.IsActive(),
		ReconciliationActive: e.reconciliation.IsActive(),
		Running:              e.running.Load(),
	}
}
