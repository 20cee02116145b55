package scheduler

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/sms-dispatcher/config"
	"github.com/amirphl/sms-dispatcher/models"
	"github.com/amirphl/sms-dispatcher/repository"
	"github.com/amirphl/sms-dispatcher/utils"
	"github.com/stretchr/testify/require"
)

// fakeDispatchRepo is an in-memory DispatchRecordRepository
type fakeDispatchRepo struct {
	mu      sync.Mutex
	records map[string]*models.DispatchRecord
	texts   map[uint]string

	markSentErr error
	deleteCalls int
}

var _ repository.DispatchRecordRepository = (*fakeDispatchRepo)(nil)

func newFakeDispatchRepo() *fakeDispatchRepo {
	return &fakeDispatchRepo{
		records: make(map[string]*models.DispatchRecord),
		texts:   make(map[uint]string),
	}
}

func (f *fakeDispatchRepo) add(id string, forced bool, createdAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id] = &models.DispatchRecord{
		ID:        id,
		MessageID: 1,
		Phone:     "98912" + fmt.Sprintf("%07d", len(f.records)),
		Status:    models.DispatchStatusWaiting,
		Forced:    forced,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	f.texts[1] = "hello"
}

func (f *fakeDispatchRepo) get(id string) (models.DispatchRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return models.DispatchRecord{}, false
	}
	return *r, true
}

func (f *fakeDispatchRepo) statusCount(s models.DispatchStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.Status == s {
			n++
		}
	}
	return n
}

func (f *fakeDispatchRepo) ByRecordID(_ context.Context, id string) (*models.DispatchRecord, error) {
	r, ok := f.get(id)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeDispatchRepo) match(r *models.DispatchRecord, fl models.DispatchRecordFilter) bool {
	if fl.ID != nil && r.ID != *fl.ID {
		return false
	}
	if len(fl.IDs) > 0 && !slices.Contains(fl.IDs, r.ID) {
		return false
	}
	if fl.Status != nil && r.Status != *fl.Status {
		return false
	}
	if fl.Phone != nil && r.Phone != *fl.Phone {
		return false
	}
	if fl.Forced != nil && r.Forced != *fl.Forced {
		return false
	}
	return true
}

func (f *fakeDispatchRepo) ByFilter(_ context.Context, fl models.DispatchRecordFilter, _ string, limit, offset int) ([]*models.DispatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DispatchRecord
	for _, r := range f.records {
		if f.match(r, fl) {
			cp := *r
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.DispatchRecord) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDispatchRepo) Count(ctx context.Context, fl models.DispatchRecordFilter) (int64, error) {
	rows, _ := f.ByFilter(ctx, fl, "", 0, 0)
	return int64(len(rows)), nil
}

func (f *fakeDispatchRepo) Exists(ctx context.Context, fl models.DispatchRecordFilter) (bool, error) {
	c, _ := f.Count(ctx, fl)
	return c > 0, nil
}

func (f *fakeDispatchRepo) SaveBatch(_ context.Context, entities []*models.DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entities {
		cp := *e
		f.records[e.ID] = &cp
	}
	return nil
}

func (f *fakeDispatchRepo) CountByStatus(_ context.Context) ([]repository.StatusCount, error) {
	var out []repository.StatusCount
	for _, s := range []models.DispatchStatus{models.DispatchStatusWaiting, models.DispatchStatusSent, models.DispatchStatusRejected, models.DispatchStatusDeadLetter} {
		if n := f.statusCount(s); n > 0 {
			out = append(out, repository.StatusCount{Status: s, Count: int64(n)})
		}
	}
	return out, nil
}

func (f *fakeDispatchRepo) FindWaiting(_ context.Context, limit int) ([]*models.DispatchRecordWithText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DispatchRecordWithText
	for _, r := range f.records {
		if r.Status == models.DispatchStatusWaiting {
			out = append(out, &models.DispatchRecordWithText{DispatchRecord: *r, Text: f.texts[r.MessageID]})
		}
	}
	slices.SortFunc(out, func(a, b *models.DispatchRecordWithText) int {
		return compareQueued(
			QueuedRecord{Forced: a.Forced, CreatedAt: a.CreatedAt},
			QueuedRecord{Forced: b.Forced, CreatedAt: b.CreatedAt},
		)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDispatchRepo) FindSent(ctx context.Context) ([]*models.DispatchRecord, error) {
	s := models.DispatchStatusSent
	return f.ByFilter(ctx, models.DispatchRecordFilter{Status: &s}, "", 0, 0)
}

func (f *fakeDispatchRepo) MarkSent(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markSentErr != nil {
		return nil, f.markSentErr
	}
	now := time.Now().UTC()
	var moved []string
	for _, id := range ids {
		if r, ok := f.records[id]; ok && r.Status == models.DispatchStatusWaiting {
			r.Status = models.DispatchStatusSent
			if r.FirstSentAt == nil {
				r.FirstSentAt = &now
			}
			moved = append(moved, id)
		}
	}
	return moved, nil
}

func (f *fakeDispatchRepo) resolve(id string, s models.DispatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[id]; ok && r.Status == models.DispatchStatusSent {
		r.Status = s
	}
	return nil
}

func (f *fakeDispatchRepo) MarkRejected(_ context.Context, id string) error {
	return f.resolve(id, models.DispatchStatusRejected)
}

func (f *fakeDispatchRepo) MarkDeadLetter(_ context.Context, id string) error {
	return f.resolve(id, models.DispatchStatusDeadLetter)
}

func (f *fakeDispatchRepo) IncrementAttempts(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if r, ok := f.records[id]; ok && r.Status == models.DispatchStatusSent {
			r.Attempts++
		}
	}
	return nil
}

func (f *fakeDispatchRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	delete(f.records, id)
	return nil
}

func (f *fakeDispatchRepo) DeleteAll(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.records))
	f.records = make(map[string]*models.DispatchRecord)
	return n, nil
}

func (f *fakeDispatchRepo) ForceRequeue(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return false, nil
	}
	r.Status = models.DispatchStatusWaiting
	r.Forced = true
	r.Attempts = 0
	r.FirstSentAt = nil
	return true, nil
}

// fakeGateway is an httptest-backed SMS gateway
type fakeGateway struct {
	server *httptest.Server

	mu        sync.Mutex
	sends     []sendSMSRequest
	polls     [][]string
	statuses  map[string]DeliveryStatus
	sendCode  int
	statusErr bool
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{statuses: make(map[string]DeliveryStatus), sendCode: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/sms.php", func(w http.ResponseWriter, r *http.Request) {
		var req sendSMSRequest
		body, _ := io.ReadAll(r.Body)
		if err := xml.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.sends = append(g.sends, req)
		code := g.sendCode
		g.mu.Unlock()
		w.WriteHeader(code)
		_, _ = w.Write([]byte("<RESULT>OK</RESULT>"))
	})
	mux.HandleFunc("/stat.php", func(w http.ResponseWriter, r *http.Request) {
		var req getStatusRequest
		body, _ := io.ReadAll(r.Body)
		if err := xml.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.polls = append(g.polls, req.IDs)
		fail := g.statusErr
		var items []DeliveryStatus
		for _, id := range req.IDs {
			if st, ok := g.statuses[id]; ok {
				items = append(items, st)
			}
		}
		g.mu.Unlock()
		if fail {
			http.Error(w, "gateway down", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, statusReturnXML(items...))
	})
	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) config() config.SMSGatewayConfig {
	return config.SMSGatewayConfig{
		URL:               g.server.URL,
		Login:             "user",
		Password:          "secret",
		SenderName:        "SENDER",
		MessagesCountTick: 100,
		Timeout:           5 * time.Second,
	}
}

func (g *fakeGateway) setStatus(id, code, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = DeliveryStatus{ID: id, Code: code, Reason: reason}
}

func (g *fakeGateway) failStatus(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusErr = fail
}

func (g *fakeGateway) setSendCode(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendCode = code
}

func (g *fakeGateway) sendRequests() []sendSMSRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.sends)
}

func (g *fakeGateway) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.polls)
}

func statusReturnXML(items ...DeliveryStatus) string {
	out := `<?xml version="1.0" encoding="UTF-8"?><STATUSRETURN><STATUS_LIST>`
	for _, it := range items {
		out += fmt.Sprintf("<STATUS><MSGID>%s</MSGID><MSGSTAT>%s</MSGSTAT><REASON>%s</REASON></STATUS>", it.ID, it.Code, it.Reason)
	}
	return out + `</STATUS_LIST></STATUSRETURN>`
}

// stubGateway fails every call with err
type stubGateway struct{ err error }

func (s stubGateway) Send(context.Context, []OutboundSMS) error { return s.err }

func (s stubGateway) GetStatus(context.Context, []string, func(DeliveryStatus) error) error {
	return s.err
}

var errGatewayDown = errors.New("dial tcp: connection refused")

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestEngine(t *testing.T, repo *fakeDispatchRepo, gw GatewayClient, tick int) *DispatchEngine {
	t.Helper()
	e, err := NewDispatchEngine(repo, gw, nil, discardLogger(), EngineConfig{
		MessagesCountTick: tick,
		MaxPollAttempts:   utils.DefaultMaxPollAttempts,
		MaxSentAge:        utils.DefaultMaxSentAge,
	})
	require.NoError(t, err)
	return e
}
