package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailsched/internal/model"
)

// fakeStore is an in-memory campaign set acting as both the campaign
// source and the sent-flag store, so multi-tick scenarios see their own
// flag transitions.
type fakeStore struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	listErr   error
	markErr   error
}

func newFakeStore(campaigns ...model.Campaign) *fakeStore {
	s := &fakeStore{campaigns: map[int]*model.Campaign{}}
	for i := range campaigns {
		c := campaigns[i]
		s.campaigns[c.ID] = &c
	}
	return s
}

func (s *fakeStore) ActiveCampaigns(ctx context.Context) ([]model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []model.Campaign{}
	for _, c := range s.campaigns {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	c, ok := s.campaigns[id]
	if !ok || c.Sent {
		return false, nil
	}
	c.Sent = true
	return true, nil
}

func (s *fakeStore) ResetSent(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		c.Sent = false
	}
	return nil
}

func (s *fakeStore) sent(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaigns[id].Sent
}

type fakeMessages struct {
	msgs map[int]model.Message
	err  error
}

func (f *fakeMessages) FindByID(ctx context.Context, id int) (*model.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.msgs[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

type fakeRecipients struct {
	byCampaign map[int][]string
	errs       map[int]error
}

func (f *fakeRecipients) Recipients(ctx context.Context, campaignID int) ([]string, error) {
	if err := f.errs[campaignID]; err != nil {
		return nil, err
	}
	return f.byCampaign[campaignID], nil
}

type auditEntry struct {
	campaignID int
	kind       string
	message    string
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
	err     error
}

func (f *fakeAudit) Append(ctx context.Context, campaignID *int, kind, message string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	id := 0
	if campaignID != nil {
		id = *campaignID
	}
	f.entries = append(f.entries, auditEntry{campaignID: id, kind: kind, message: message})
	return nil
}

type sendCall struct {
	subject string
	body    string
	from    string
	to      []string
}

type fakeTransport struct {
	mu    sync.Mutex
	err   error
	calls []sendCall
}

func (f *fakeTransport) Send(ctx context.Context, subject, body, from string, to []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{subject: subject, body: body, from: from, to: to})
	return f.err
}

type fakeSink struct {
	succeeded int
	failed    int
}

func (f *fakeSink) DispatchSucceeded(c model.Campaign, recipients int, at time.Time) {
	f.succeeded++
}

func (f *fakeSink) DispatchFailed(c model.Campaign, kind, message string, at time.Time) {
	f.failed++
}

func intPtr(i int) *int { return &i }

func morningCampaign(id int, sent bool) model.Campaign {
	return model.Campaign{
		ID:        id,
		Name:      "morning digest",
		TimeFrom:  model.NewTimeOfDay(9, 0, 0),
		TimeTo:    model.NewTimeOfDay(10, 0, 0),
		MessageID: intPtr(10),
		Sent:      sent,
		IsActive:  true,
	}
}

func testFixture(campaigns ...model.Campaign) (*fakeStore, *fakeMessages, *fakeRecipients, *fakeAudit, *fakeTransport) {
	store := newFakeStore(campaigns...)
	msgs := &fakeMessages{msgs: map[int]model.Message{
		10: {ID: 10, Name: "digest", Title: "Daily digest", Body: "Hello!"},
	}}
	rcpt := &fakeRecipients{byCampaign: map[int][]string{}}
	for _, c := range campaigns {
		rcpt.byCampaign[c.ID] = []string{"a@example.com", "b@example.com"}
	}
	return store, msgs, rcpt, &fakeAudit{}, &fakeTransport{}
}

func newTestDispatcher(store *fakeStore, msgs *fakeMessages, rcpt *fakeRecipients, audit *fakeAudit, tr *fakeTransport, sink EventSink) *Dispatcher {
	return NewDispatcher(store, store, msgs, rcpt, audit, tr, sink,
		Config{From: "mailer@example.com"}, zap.NewNop())
}

func TestDispatchSuccess(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false))
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tr.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(tr.calls))
	}
	call := tr.calls[0]
	if call.subject != "Daily digest" || call.body != "Hello!" || call.from != "mailer@example.com" {
		t.Errorf("unexpected send call: %+v", call)
	}
	if len(call.to) != 2 {
		t.Errorf("expected 2 recipients, got %v", call.to)
	}

	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	e := audit.entries[0]
	if e.campaignID != 1 || e.kind != model.LogSuccess || e.message != model.LogSuccess {
		t.Errorf("unexpected audit entry: %+v", e)
	}

	if !store.sent(1) {
		t.Error("sent flag not set after successful dispatch")
	}
}

func TestAlreadySentNoop(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, true))
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 9, 45)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tr.calls) != 0 {
		t.Errorf("expected no sends, got %d", len(tr.calls))
	}
	if len(audit.entries) != 0 {
		t.Errorf("expected no audit entries, got %d", len(audit.entries))
	}
	if !store.sent(1) {
		t.Error("sent flag cleared while still inside the window")
	}
}

func TestWindowPassedResetsFlag(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, true))
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 10, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if store.sent(1) {
		t.Error("sent flag not reset after the window passed")
	}
	if len(tr.calls) != 0 || len(audit.entries) != 0 {
		t.Error("reset transition must not send or log")
	}
}

func TestWeekdayMismatchNoDispatch(t *testing.T) {
	c := morningCampaign(1, false)
	c.WeekDay = model.Wednesday
	store, msgs, rcpt, audit, tr := testFixture(c)
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	// Tuesday, inside the time-of-day window.
	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tr.calls) != 0 || len(audit.entries) != 0 {
		t.Error("dispatched despite weekday restriction")
	}
}

func TestTransportFailureLogsAndRetries(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false))
	sink := &fakeSink{}
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, sink)

	tr.err = errors.New("relay refused connection")
	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	e := audit.entries[0]
	if e.kind != "unknown_error" || e.message != "relay refused connection" {
		t.Errorf("unexpected failure entry: %+v", e)
	}
	if store.sent(1) {
		t.Error("sent flag set after a failed dispatch")
	}
	if sink.failed != 1 || sink.succeeded != 0 {
		t.Errorf("unexpected event counts: %+v", sink)
	}

	// The next tick inside the window retries and succeeds.
	tr.err = nil
	if err := d.RunOnce(context.Background(), at(14, 9, 31)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tr.calls) != 2 {
		t.Fatalf("expected a retry, got %d sends", len(tr.calls))
	}
	if len(audit.entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(audit.entries))
	}
	if audit.entries[1].kind != model.LogSuccess {
		t.Errorf("expected success entry after retry, got %+v", audit.entries[1])
	}
	if !store.sent(1) {
		t.Error("sent flag not set after successful retry")
	}
	if sink.succeeded != 1 {
		t.Errorf("expected 1 success event, got %d", sink.succeeded)
	}
}

func TestExactlyOneDispatchWhileContinuouslyDue(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false))
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	for minute := 30; minute < 35; minute++ {
		if err := d.RunOnce(context.Background(), at(14, 9, minute)); err != nil {
			t.Fatalf("RunOnce at minute %d: %v", minute, err)
		}
	}

	if len(tr.calls) != 1 {
		t.Errorf("expected exactly 1 send across repeated due ticks, got %d", len(tr.calls))
	}
	if len(audit.entries) != 1 {
		t.Errorf("expected exactly 1 audit entry, got %d", len(audit.entries))
	}
}

func TestResetEnablesNextOccurrence(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false))
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	// First occurrence.
	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// Window passes, flag is re-armed.
	if err := d.RunOnce(context.Background(), at(14, 11, 0)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if store.sent(1) {
		t.Fatal("sent flag not re-armed")
	}
	// Next day's occurrence dispatches again.
	if err := d.RunOnce(context.Background(), at(15, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tr.calls) != 2 {
		t.Errorf("expected 2 sends across 2 occurrences, got %d", len(tr.calls))
	}
	if len(audit.entries) != 2 {
		t.Errorf("expected 2 audit entries, got %d", len(audit.entries))
	}
}

func TestMissingMessageSkipsSilently(t *testing.T) {
	noRef := morningCampaign(1, false)
	noRef.MessageID = nil
	dangling := morningCampaign(2, false)
	dangling.MessageID = intPtr(99) // template deleted

	store, msgs, rcpt, audit, tr := testFixture(noRef, dangling)
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tr.calls) != 0 {
		t.Errorf("expected no sends, got %d", len(tr.calls))
	}
	if len(audit.entries) != 0 {
		t.Errorf("missing template must not produce audit entries, got %d", len(audit.entries))
	}
	if store.sent(1) || store.sent(2) {
		t.Error("sent flag set for a skipped campaign")
	}
}

func TestPerCampaignIsolation(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false), morningCampaign(2, false))
	rcpt.errs = map[int]error{1: errors.New("store unavailable")}
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// Campaign 1 failed on the store read, campaign 2 still went out.
	if len(tr.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(tr.calls))
	}
	if len(audit.entries) != 1 || audit.entries[0].campaignID != 2 {
		t.Errorf("unexpected audit entries: %+v", audit.entries)
	}
	if store.sent(1) {
		t.Error("sent flag set for the failed campaign")
	}
	if !store.sent(2) {
		t.Error("sent flag not set for the healthy campaign")
	}
}

func TestSourceErrorAbortsPass(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false))
	store.listErr = errors.New("connection refused")
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err == nil {
		t.Fatal("expected an error when the campaign set cannot be loaded")
	}
	if len(tr.calls) != 0 {
		t.Error("sends attempted despite source failure")
	}
}

func TestCancelledContextStopsPass(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false))
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.RunOnce(ctx, at(14, 9, 30)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Error("dispatch started after cancellation")
	}
}

func TestAuditFailureDoesNotBlockDispatch(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false))
	audit.err = errors.New("logs table unavailable")
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tr.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(tr.calls))
	}
	if !store.sent(1) {
		t.Error("sent flag not set when only the audit write failed")
	}
}

// blockingTransport never returns on its own; it waits for the send
// context to expire.
type blockingTransport struct {
	calls int
}

func (b *blockingTransport) Send(ctx context.Context, subject, body, from string, to []string) error {
	b.calls++
	<-ctx.Done()
	return ctx.Err()
}

func TestSendDeadlineIsATransportFailure(t *testing.T) {
	store, msgs, rcpt, audit, _ := testFixture(morningCampaign(1, false))
	tr := &blockingTransport{}
	d := NewDispatcher(store, store, msgs, rcpt, audit, tr, nil,
		Config{From: "mailer@example.com", SendTimeout: 10 * time.Millisecond}, zap.NewNop())

	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if tr.calls != 1 {
		t.Fatalf("expected 1 send attempt, got %d", tr.calls)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	if e := audit.entries[0]; e.kind != "timeout" {
		t.Errorf("expected a timeout entry, got %+v", e)
	}
	if store.sent(1) {
		t.Error("sent flag set after a deadline failure")
	}
}

func TestEmptyRecipientsCompletesWindow(t *testing.T) {
	store, msgs, rcpt, audit, tr := testFixture(morningCampaign(1, false))
	rcpt.byCampaign[1] = nil // no memberships
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(tr.calls) != 0 {
		t.Errorf("transport invoked with no recipients (%d calls)", len(tr.calls))
	}
	if len(audit.entries) != 1 || audit.entries[0].kind != model.LogSuccess {
		t.Errorf("expected 1 success entry, got %+v", audit.entries)
	}
	if !store.sent(1) {
		t.Error("memberless campaign not marked sent; it would retry every tick")
	}

	// Still idempotent for the rest of the window.
	if err := d.RunOnce(context.Background(), at(14, 9, 31)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(audit.entries) != 1 {
		t.Errorf("expected no further entries, got %d", len(audit.entries))
	}
}

func TestInactiveCampaignIgnored(t *testing.T) {
	c := morningCampaign(1, false)
	c.IsActive = false
	store, msgs, rcpt, audit, tr := testFixture(c)
	d := newTestDispatcher(store, msgs, rcpt, audit, tr, nil)

	if err := d.RunOnce(context.Background(), at(14, 9, 30)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(tr.calls) != 0 || len(audit.entries) != 0 {
		t.Error("inactive campaign was dispatched")
	}
}
