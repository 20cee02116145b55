package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/amirphl/sms-dispatcher/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWaiting(repo *fakeDispatchRepo, n int) []string {
	base := time.Now().Add(-time.Hour)
	ids := make([]string, 0, n)
	for i := range n {
		id := fmt.Sprintf("rec-%03d", i)
		repo.add(id, false, base.Add(time.Duration(i)*time.Second))
		ids = append(ids, id)
	}
	return ids
}

func TestDispatchEngine_ScenarioA_TwoDispatchTicks(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	seedWaiting(repo, 150)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	assert.Equal(t, 150, e.pending.Len())
	assert.True(t, e.dispatch.IsActive())

	e.dispatchTick(ctx)
	assert.Equal(t, 100, repo.statusCount(models.DispatchStatusSent))
	assert.Equal(t, 100, e.awaiting.Len())
	assert.True(t, e.reconciliation.IsActive())

	e.dispatchTick(ctx)
	assert.Equal(t, 150, repo.statusCount(models.DispatchStatusSent))
	assert.Equal(t, 150, e.awaiting.Len())
	assert.Zero(t, e.pending.Len())

	sends := gw.sendRequests()
	require.Len(t, sends, 2)
	assert.Len(t, sends[0].Messages[0].Recipients, 100)
	assert.Len(t, sends[1].Messages[0].Recipients, 50)
	assert.Equal(t, "SENDER", sends[0].Sender)
	assert.Equal(t, "hello", sends[0].Messages[0].Recipients[0].Param)

	// the next tick finds nothing and disarms dispatch
	e.dispatchTick(ctx)
	assert.False(t, e.dispatch.IsActive())
}

func TestDispatchEngine_AdmissionCap(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	seedWaiting(repo, 700)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	assert.Equal(t, 600, e.pending.Len())

	// records already queued are not admitted twice
	e.admissionTick(ctx)
	assert.Equal(t, 600, e.pending.Len())
}

func TestDispatchEngine_ScenarioB_DeliveredAndInFlight(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 5)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	require.Equal(t, 5, e.awaiting.Len())

	for _, id := range ids[:3] {
		gw.setStatus(id, "4", "")
	}
	for _, id := range ids[3:] {
		gw.setStatus(id, "1", "")
	}

	e.reconcileTick(ctx)

	for _, id := range ids[:3] {
		_, ok := repo.get(id)
		assert.False(t, ok, "delivered record %s must be deleted", id)
		assert.False(t, e.awaiting.Contains(id))
	}
	for _, id := range ids[3:] {
		r, ok := repo.get(id)
		require.True(t, ok)
		assert.Equal(t, models.DispatchStatusSent, r.Status)
		assert.Equal(t, 1, r.Attempts)
		assert.True(t, e.awaiting.Contains(id))
	}
}

func TestDispatchEngine_ScenarioC_Rejected(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 1)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	gw.setStatus(ids[0], "3", "Internal error: Invalid message")

	e.reconcileTick(ctx)

	r, ok := repo.get(ids[0])
	require.True(t, ok, "rejected records are kept")
	assert.Equal(t, models.DispatchStatusRejected, r.Status)
	assert.False(t, e.awaiting.Contains(ids[0]))
}

func TestDispatchEngine_UnknownReasonIsPolledAgain(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 1)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	gw.setStatus(ids[0], "5", "Subscriber absent")

	e.reconcileTick(ctx)

	r, _ := repo.get(ids[0])
	assert.Equal(t, models.DispatchStatusSent, r.Status)
	assert.True(t, e.awaiting.Contains(ids[0]))
}

func TestDispatchEngine_ScenarioD_ForcedFirst(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	now := time.Now()
	repo.add("normal", false, now)
	repo.add("forced", true, now.Add(-48*time.Hour))
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	assert.Equal(t, []string{"forced", "normal"}, queuedIDs(e.pending.Snapshot()))

	e.dispatchTick(ctx)
	sends := gw.sendRequests()
	require.Len(t, sends, 1)
	assert.Equal(t, "forced", sends[0].Messages[0].Recipients[0].ExtraID)
	assert.Equal(t, "normal", sends[0].Messages[0].Recipients[1].ExtraID)
}

func TestDispatchEngine_ScenarioE_IdleAfterFullCycle(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 3)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)
	for _, id := range ids {
		gw.setStatus(id, "2", "")
	}

	e.admission.Activate()
	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	e.reconcileTick(ctx)
	assert.Zero(t, e.awaiting.Len())

	e.dispatchTick(ctx)
	e.reconcileTick(ctx)
	e.admissionTick(ctx)

	snap := e.Snapshot()
	assert.False(t, snap.DispatchActive)
	assert.False(t, snap.ReconciliationActive)
	assert.False(t, snap.AdmissionActive)
	assert.Zero(t, snap.PendingQueue)
	assert.Zero(t, snap.AwaitingConfirmation)

	polls := gw.pollCount()
	e.reconcileTick(ctx)
	assert.Equal(t, polls, gw.pollCount(), "no gateway calls while idle")
}

func TestDispatchEngine_SendFailureKeepsRecordsSent(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 2)
	e := newTestEngine(t, repo, stubGateway{err: errGatewayDown}, 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)

	for _, id := range ids {
		r, _ := repo.get(id)
		assert.Equal(t, models.DispatchStatusSent, r.Status)
		assert.True(t, e.awaiting.Contains(id))
	}
	assert.True(t, e.reconciliation.IsActive())
}

func TestDispatchEngine_Non2xxSendStillAwaitsConfirmation(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	seedWaiting(repo, 2)
	gw := newFakeGateway(t)
	gw.setSendCode(500)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	assert.Equal(t, 2, e.awaiting.Len())
}

func TestDispatchEngine_MarkSentFailureReturnsChunkToQueue(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	seedWaiting(repo, 3)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	repo.markSentErr = errors.New("db down")
	e.dispatchTick(ctx)

	assert.Equal(t, 3, e.pending.Len())
	assert.Zero(t, e.awaiting.Len())
	assert.Empty(t, gw.sendRequests())
}

func TestDispatchEngine_PollTransportFailureRequeuesSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 4)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)

	gw.failStatus(true)
	e.reconcileTick(ctx)

	assert.Equal(t, 4, e.awaiting.Len())
	for _, id := range ids {
		r, _ := repo.get(id)
		assert.Zero(t, r.Attempts, "a failed poll does not count as an attempt")
	}
	assert.True(t, e.reconciliation.IsActive())
}

func TestDispatchEngine_MissingIDsArePolledAgain(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 2)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	gw.setStatus(ids[0], "2", "")

	e.reconcileTick(ctx)

	assert.False(t, e.awaiting.Contains(ids[0]))
	assert.True(t, e.awaiting.Contains(ids[1]))
}

func TestDispatchEngine_DeadLetterAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 1)
	gw := newFakeGateway(t)
	gw.setStatus(ids[0], "1", "")
	e, err := NewDispatchEngine(repo, NewHTTPGatewayClient(gw.config()), nil, discardLogger(), EngineConfig{MaxPollAttempts: 3})
	require.NoError(t, err)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	for range 3 {
		e.reconcileTick(ctx)
	}

	r, ok := repo.get(ids[0])
	require.True(t, ok)
	assert.Equal(t, models.DispatchStatusDeadLetter, r.Status)
	assert.Equal(t, 3, r.Attempts)
	assert.Zero(t, e.awaiting.Len())
}

func TestDispatchEngine_DeadLetterAfterMaxAge(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 1)
	gw := newFakeGateway(t)
	e, err := NewDispatchEngine(repo, NewHTTPGatewayClient(gw.config()), nil, discardLogger(), EngineConfig{MaxSentAge: time.Hour})
	require.NoError(t, err)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)

	e.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	e.reconcileTick(ctx)

	r, _ := repo.get(ids[0])
	assert.Equal(t, models.DispatchStatusDeadLetter, r.Status)
	assert.Zero(t, e.awaiting.Len())
}

func TestDispatchEngine_CrashRecoverySeedsAwaitingSet(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 2)
	_, err := repo.MarkSent(ctx, ids)
	require.NoError(t, err)
	require.NoError(t, repo.IncrementAttempts(ctx, ids[:1]))

	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)

	assert.Equal(t, 2, e.awaiting.Len())
	assert.True(t, e.reconciliation.IsActive())
	assert.False(t, e.dispatch.IsActive())

	entries := e.awaiting.Drain()
	assert.Equal(t, 1, entries[0].Attempts)
	assert.False(t, entries[0].FirstSentAt.IsZero())
}

func TestDispatchEngine_ReconcilingAbsentRecordIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	gw := newFakeGateway(t)
	gw.setStatus("gone", "2", "")
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.awaiting.Add(AwaitingEntry{ID: "gone", FirstSentAt: time.Now()})
	e.reconcileTick(ctx)

	assert.Equal(t, 1, repo.deleteCalls)
	assert.Zero(t, e.awaiting.Len())
}

func TestDispatchEngine_StatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 1)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	gw.setStatus(ids[0], "5", "External error: Expired")
	e.reconcileTick(ctx)

	// a rejected record is neither re-admitted nor marked sent again
	moved, err := repo.MarkSent(ctx, ids)
	require.NoError(t, err)
	assert.Empty(t, moved)
	e.admissionTick(ctx)

	r, _ := repo.get(ids[0])
	assert.Equal(t, models.DispatchStatusRejected, r.Status)
	assert.Zero(t, e.pending.Len())
	assert.Zero(t, e.awaiting.Len())
}

func TestDispatchEngine_AdminOperations(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 3)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 1)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	require.Equal(t, 2, e.pending.Len())
	require.Equal(t, 1, e.awaiting.Len())

	rows, total, err := e.List(ctx, models.DispatchRecordFilter{}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, rows, 3)

	sentID := e.awaiting.Drain()[0].ID
	e.awaiting.Add(AwaitingEntry{ID: sentID})

	found, err := e.ForceRequeue(ctx, sentID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, e.awaiting.Contains(sentID))
	assert.True(t, e.admission.IsActive())
	r, _ := repo.get(sentID)
	assert.Equal(t, models.DispatchStatusWaiting, r.Status)
	assert.True(t, r.Forced)

	found, err = e.ForceRequeue(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	e.admissionTick(ctx)
	assert.Equal(t, sentID, e.pending.Snapshot()[0].ID)

	var queued string
	for _, id := range ids {
		if id != sentID {
			queued = id
			break
		}
	}
	require.NoError(t, e.Delete(ctx, queued))
	require.NoError(t, e.Delete(ctx, queued))
	assert.Equal(t, 2, e.pending.Len())

	n, err := e.DeleteAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Zero(t, e.pending.Len())
	assert.Zero(t, e.awaiting.Len())
}

func TestDispatchEngine_StartStop(t *testing.T) {
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 3)
	gw := newFakeGateway(t)
	for _, id := range ids {
		gw.setStatus(id, "2", "")
	}
	e, err := NewDispatchEngine(repo, NewHTTPGatewayClient(gw.config()), nil, discardLogger(), EngineConfig{
		AdmissionInterval:      20 * time.Millisecond,
		DispatchInterval:       10 * time.Millisecond,
		ReconciliationInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	stop := e.Start(context.Background())
	defer stop()

	assert.Eventually(t, func() bool {
		return repo.statusCount(models.DispatchStatusWaiting) == 0 &&
			repo.statusCount(models.DispatchStatusSent) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		s := e.Snapshot()
		return !s.DispatchActive && !s.ReconciliationActive
	}, 2*time.Second, 10*time.Millisecond)

	stop()
	assert.False(t, e.Snapshot().Running)
}

func TestNewDispatchEngine_Validation(t *testing.T) {
	_, err := NewDispatchEngine(nil, stubGateway{}, nil, nil, EngineConfig{})
	assert.Error(t, err)
	_, err = NewDispatchEngine(newFakeDispatchRepo(), nil, nil, nil, EngineConfig{})
	assert.Error(t, err)
}

func TestDispatchEngine_DeletedPendingRecordIsNotSent(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 2)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	require.Equal(t, 2, e.pending.Len())

	// removed behind the engine's back, e.g. by another instance
	require.NoError(t, repo.Delete(ctx, ids[0]))
	e.dispatchTick(ctx)

	sends := gw.sendRequests()
	require.Len(t, sends, 1)
	require.Len(t, sends[0].Messages[0].Recipients, 1)
	assert.Equal(t, ids[1], sends[0].Messages[0].Recipients[0].ExtraID)
	assert.False(t, e.awaiting.Contains(ids[0]))
	assert.True(t, e.awaiting.Contains(ids[1]))
}

func TestDispatchEngine_TwoEnginesSharingStoreSendOnce(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	seedWaiting(repo, 3)
	gw := newFakeGateway(t)
	a := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)
	b := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	a.admissionTick(ctx)
	b.admissionTick(ctx)
	require.Equal(t, 3, a.pending.Len())
	require.Equal(t, 3, b.pending.Len())

	a.dispatchTick(ctx)
	b.dispatchTick(ctx)

	require.Len(t, gw.sendRequests(), 1)
	assert.Equal(t, 3, a.awaiting.Len())
	assert.Zero(t, b.awaiting.Len())
	assert.Zero(t, b.pending.Len())
}

func TestDispatchEngine_DeleteUnderStageLock(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	ids := seedWaiting(repo, 1)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)

	e.stageMu.Lock()
	done := make(chan error, 1)
	go func() { done <- e.Delete(ctx, ids[0]) }()
	select {
	case <-done:
		t.Fatal("delete finished while a stage held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	e.stageMu.Unlock()

	require.NoError(t, <-done)
	e.dispatchTick(ctx)
	assert.Empty(t, gw.sendRequests())
}

func TestDispatchEngine_SentRecordsSeededOnce(t *testing.T) {
	ctx := context.Background()
	repo := newFakeDispatchRepo()
	seedWaiting(repo, 1)
	gw := newFakeGateway(t)
	e := newTestEngine(t, repo, NewHTTPGatewayClient(gw.config()), 100)

	e.admissionTick(ctx)
	e.dispatchTick(ctx)
	require.Equal(t, 1, e.awaiting.Len())

	// a reconcile tick holds the id while it polls
	drained := e.awaiting.Drain()
	e.setInFlight(drained)

	e.admissionTick(ctx)
	assert.Zero(t, e.awaiting.Len())

	// even a forced reload skips what is being polled
	e.seedSent.Store(true)
	e.admissionTick(ctx)
	assert.Zero(t, e.awaiting.Len())

	e.clearInFlight(drained)
	e.seedSent.Store(true)
	e.admissionTick(ctx)
	assert.Equal(t, 1, e.awaiting.Len())

	e.reconcileTick(ctx)
	assert.Equal(t, 1, gw.pollCount())
}
