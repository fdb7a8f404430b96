package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
	"github.com/cartlane/notification-engine/internal/realtime"
	"github.com/cartlane/notification-engine/internal/repository"
	"github.com/cartlane/notification-engine/internal/sender"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeNotificationRepo struct {
	mu      sync.Mutex
	records map[string]*domain.Notification
	now     func() time.Time

	retriesScheduled int
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{
		records: make(map[string]*domain.Notification),
		now:     func() time.Time { return testNow },
	}
}

func (r *fakeNotificationRepo) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *n
	copied.CreatedAt = r.now()
	copied.UpdatedAt = r.now()
	r.records[n.ID] = &copied
	return nil
}

func (r *fakeNotificationRepo) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeNotificationRepo) ListByUser(_ context.Context, userID string, params repository.ListParams) ([]domain.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Notification
	for _, n := range r.records {
		if n.UserID != userID {
			continue
		}
		if params.UnreadOnly && n.IsRead {
			continue
		}
		out = append(out, *n)
	}
	return out, int64(len(out)), nil
}

func (r *fakeNotificationRepo) CountUnread(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, n := range r.records {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) Stats(_ context.Context, userID string) (*repository.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &repository.Stats{ByCategory: make(map[domain.Category]int64)}
	for _, n := range r.records {
		if n.UserID != userID {
			continue
		}
		stats.Total++
		if n.IsRead {
			stats.Read++
		} else {
			stats.Unread++
		}
		stats.ByCategory[n.Category]++
	}
	return stats, nil
}

func (r *fakeNotificationRepo) ClaimForDispatch(_ context.Context, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if stored.Status != domain.StatusPending {
		return nil, nil
	}

	stored.Status = domain.StatusProcessing
	stored.UpdatedAt = r.now()
	copied := *stored
	return &copied, nil
}

func (r *fakeNotificationRepo) GetDueForDispatch(_ context.Context, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []domain.Notification
	for _, n := range r.records {
		if len(due) >= limit {
			break
		}
		if n.Status != domain.StatusPending {
			continue
		}
		if n.ScheduledFor == nil || !n.ScheduledFor.After(r.now()) {
			due = append(due, *n)
		}
	}
	return due, nil
}

func (r *fakeNotificationRepo) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reclaimed int64
	for _, n := range r.records {
		if n.Status == domain.StatusProcessing && n.UpdatedAt.Before(cutoff) {
			n.Status = domain.StatusPending
			n.UpdatedAt = r.now()
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (r *fakeNotificationRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(n *domain.Notification) {
		n.Status = domain.StatusSent
		n.SentAt = &at
	})
}

func (r *fakeNotificationRepo) MarkDelivered(_ context.Context, id string, at time.Time, reason string) error {
	return r.update(id, func(n *domain.Notification) {
		n.Status = domain.StatusDelivered
		n.DeliveredAt = &at
		if reason != "" {
			n.FailureReason = &reason
		}
	})
}

func (r *fakeNotificationRepo) MarkFailed(_ context.Context, id string, reason string) error {
	return r.update(id, func(n *domain.Notification) {
		n.Status = domain.StatusFailed
		n.FailureReason = &reason
	})
}

func (r *fakeNotificationRepo) RecordSendFailure(_ context.Context, id string, reason string) error {
	return r.update(id, func(n *domain.Notification) {
		n.Status = domain.StatusFailed
		n.FailureReason = &reason
		if n.RetryCount < n.MaxRetries {
			n.RetryCount++
		}
	})
}

func (r *fakeNotificationRepo) ScheduleRetry(_ context.Context, id string, reason string, nextAttempt time.Time) error {
	err := r.update(id, func(n *domain.Notification) {
		n.Status = domain.StatusPending
		n.FailureReason = &reason
		n.RetryCount++
		n.ScheduledFor = &nextAttempt
	})
	if err == nil {
		r.mu.Lock()
		r.retriesScheduled++
		r.mu.Unlock()
	}
	return err
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, id string, userID string) error {
	return r.updateOwned(id, userID, func(n *domain.Notification) {
		n.IsRead = true
	})
}

func (r *fakeNotificationRepo) MarkAllRead(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated int64
	for _, n := range r.records {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (r *fakeNotificationRepo) Delete(_ context.Context, id string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.UserID != userID {
		return domain.ErrForbidden
	}
	delete(r.records, id)
	return nil
}

func (r *fakeNotificationRepo) update(id string, mutate func(*domain.Notification)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	mutate(stored)
	stored.UpdatedAt = r.now()
	return nil
}

func (r *fakeNotificationRepo) updateOwned(id string, userID string, mutate func(*domain.Notification)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.UserID != userID {
		return domain.ErrForbidden
	}
	mutate(stored)
	stored.UpdatedAt = r.now()
	return nil
}

type fakePreferenceRepo struct {
	mu    sync.Mutex
	prefs map[string]*domain.Preferences
}

func newFakePreferenceRepo() *fakePreferenceRepo {
	return &fakePreferenceRepo{prefs: make(map[string]*domain.Preferences)}
}

func (r *fakePreferenceRepo) Get(_ context.Context, userID string) (*domain.Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.prefs[userID]; ok {
		copied := *stored
		return &copied, nil
	}

	defaults := domain.DefaultPreferences(userID)
	r.prefs[userID] = defaults
	copied := *defaults
	return &copied, nil
}

func (r *fakePreferenceRepo) Save(_ context.Context, p *domain.Preferences) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *p
	r.prefs[p.UserID] = &copied
	return nil
}

type fakeUserDirectory struct {
	users map[string]*domain.User
}

func (d *fakeUserDirectory) GetByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := d.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSender) Send(context.Context, domain.User, domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type captureSink struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (s *captureSink) Send(event realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) received() []realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.Event(nil), s.events...)
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	repo       *fakeNotificationRepo
	prefs      *fakePreferenceRepo
	users      *fakeUserDirectory
	email      *fakeSender
	sms        *fakeSender
	push       *fakeSender
	hub        *realtime.Hub
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	repo := newFakeNotificationRepo()
	prefs := newFakePreferenceRepo()
	users := &fakeUserDirectory{users: map[string]*domain.User{
		"user-1": {ID: "user-1", Email: "user-1@example.com", Phone: "+15551112233", PushToken: "tok-1", Active: true},
		"user-2": {ID: "user-2", Email: "user-2@example.com", Active: false},
	}}
	email := &fakeSender{}
	sms := &fakeSender{}
	push := &fakeSender{}

	registry, err := sender.NewRegistry(email, sms, push)
	if err != nil {
		t.Fatalf("NewRegistry() unexpected error = %v", err)
	}

	hub := realtime.NewHub(zap.NewNop())

	dispatcher, err := NewDispatcher(repo, prefs, users, registry, hub, nil, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() unexpected error = %v", err)
	}
	dispatcher.now = func() time.Time { return testNow }
	dispatcher.retry.now = dispatcher.now

	return &dispatcherFixture{
		dispatcher: dispatcher,
		repo:       repo,
		prefs:      prefs,
		users:      users,
		email:      email,
		sms:        sms,
		push:       push,
		hub:        hub,
	}
}

func validInput() CreateInput {
	return CreateInput{
		UserID:   "user-1",
		Category: "order_update",
		Channel:  "email",
		Title:    "Order shipped",
		Message:  "Your order is on the way",
	}
}

func TestDispatcherCreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{name: "missing title", mutate: func(in *CreateInput) { in.Title = " " }},
		{name: "missing message", mutate: func(in *CreateInput) { in.Message = "" }},
		{name: "unknown category", mutate: func(in *CreateInput) { in.Category = "spam" }},
		{name: "unknown channel", mutate: func(in *CreateInput) { in.Channel = "fax" }},
		{name: "unknown priority", mutate: func(in *CreateInput) { in.Priority = "urgent" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			input := validInput()
			tt.mutate(&input)

			if _, err := f.dispatcher.Create(context.Background(), input); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestDispatcherCreateSendsImmediately(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	created, err := f.dispatcher.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if f.email.callCount() != 1 {
		t.Fatalf("email sender called %d times, want 1", f.email.callCount())
	}
	if created.Status != domain.StatusSent {
		t.Fatalf("Create() returned status %s, want %s", created.Status, domain.StatusSent)
	}
	if created.SentAt == nil {
		t.Fatal("Create() returned nil sentAt after send")
	}
}

func TestDispatcherCreateDefersFutureScheduled(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	future := testNow.Add(time.Hour)
	input := validInput()
	input.ScheduledFor = &future

	created, err := f.dispatcher.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if f.email.callCount() != 0 {
		t.Fatalf("email sender called %d times, want 0", f.email.callCount())
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("Create() returned status %s, want %s", created.Status, domain.StatusPending)
	}
}

func TestDispatcherCreateReturnsRecordDespiteSendFailure(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	f.email.err = &sender.SendError{Channel: "email", Message: "mailbox on fire", Transient: false}

	created, err := f.dispatcher.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}
	if created.Status != domain.StatusFailed {
		t.Fatalf("Create() returned status %s, want %s", created.Status, domain.StatusFailed)
	}
}

func TestDispatcherBlockedByPreference(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	// Promotional SMS is off by default.
	input := validInput()
	input.Category = "promotion"
	input.Channel = "sms"

	created, err := f.dispatcher.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if f.sms.callCount() != 0 {
		t.Fatalf("sms sender called %d times, want 0", f.sms.callCount())
	}
	if created.Status != domain.StatusDelivered {
		t.Fatalf("blocked notification status = %s, want %s", created.Status, domain.StatusDelivered)
	}
	if created.FailureReason == nil || *created.FailureReason != "blocked by notification preferences" {
		t.Fatalf("blocked notification reason = %v, want preference block reason", created.FailureReason)
	}
	if f.repo.retriesScheduled != 0 {
		t.Fatalf("blocked notification scheduled %d retries, want 0", f.repo.retriesScheduled)
	}
}

func TestDispatcherTransactionalCategoryIgnoresToggles(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	// Even a fully disabled matrix cannot block a password reset.
	prefs, _ := f.prefs.Get(context.Background(), "user-1")
	prefs.OrderUpdate = domain.ChannelToggles{}
	prefs.Promotion = domain.ChannelToggles{}
	if err := f.prefs.Save(context.Background(), prefs); err != nil {
		t.Fatalf("Save() unexpected error = %v", err)
	}

	input := validInput()
	input.Category = "password_reset"

	created, err := f.dispatcher.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}
	if created.Status != domain.StatusSent {
		t.Fatalf("transactional notification status = %s, want %s", created.Status, domain.StatusSent)
	}
}

func TestDispatcherInAppDeliversAndBroadcasts(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	sink := &captureSink{}
	conn := realtime.NewConnection("user-1", realtime.TransportStream, sink)
	f.hub.Register(conn)
	defer f.hub.Unregister(conn)

	input := validInput()
	input.Channel = "in_app"

	created, err := f.dispatcher.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if created.Status != domain.StatusDelivered {
		t.Fatalf("in-app notification status = %s, want %s", created.Status, domain.StatusDelivered)
	}

	events := sink.received()
	if len(events) != 1 || events[0].Type != realtime.EventNotification {
		t.Fatalf("hub received %v, want one notification event", events)
	}
}

func TestDispatcherFailsWhenUserMissing(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	input := validInput()
	input.UserID = "ghost"

	created, err := f.dispatcher.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if created.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want %s", created.Status, domain.StatusFailed)
	}
	if created.FailureReason == nil || *created.FailureReason != "user not found" {
		t.Fatalf("failure reason = %v, want user not found", created.FailureReason)
	}
	if f.repo.retriesScheduled != 0 {
		t.Fatalf("scheduled %d retries for missing user, want 0", f.repo.retriesScheduled)
	}
}

func TestDispatcherFailsWhenUserInactive(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	input := validInput()
	input.UserID = "user-2"

	created, err := f.dispatcher.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}
	if created.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want %s", created.Status, domain.StatusFailed)
	}
}

func TestDispatcherExpiredBeforeDispatch(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	expired := testNow.Add(-time.Minute)
	input := validInput()
	input.ExpiresAt = &expired

	created, err := f.dispatcher.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if created.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want %s", created.Status, domain.StatusFailed)
	}
	if f.email.callCount() != 0 {
		t.Fatalf("email sender called %d times for expired record, want 0", f.email.callCount())
	}
}

func TestDispatcherTransientFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	f.email.err = &sender.SendError{Channel: "email", StatusCode: 503, Transient: true}

	created, err := f.dispatcher.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if created.Status != domain.StatusPending {
		t.Fatalf("status = %s, want %s", created.Status, domain.StatusPending)
	}
	if created.RetryCount != 1 {
		t.Fatalf("retryCount = %d, want 1", created.RetryCount)
	}
	if created.ScheduledFor == nil || !created.ScheduledFor.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("scheduledFor = %v, want %v", created.ScheduledFor, testNow.Add(time.Minute))
	}
}

func TestDispatcherExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	f.email.err = &sender.SendError{Channel: "email", StatusCode: 503, Transient: true}

	created, err := f.dispatcher.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	// First attempt scheduled a retry; drive the remaining attempts through
	// the sweep path by re-dispatching the re-armed record.
	for i := 0; i < 2; i++ {
		if err := f.dispatcher.Dispatch(context.Background(), created.ID); err != nil {
			t.Fatalf("Dispatch() attempt %d unexpected error = %v", i+2, err)
		}
	}

	final, err := f.repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() unexpected error = %v", err)
	}

	if final.Status != domain.StatusFailed {
		t.Fatalf("final status = %s, want %s", final.Status, domain.StatusFailed)
	}
	if final.RetryCount != domain.DefaultMaxRetries {
		t.Fatalf("final retryCount = %d, want %d", final.RetryCount, domain.DefaultMaxRetries)
	}
	if f.email.callCount() != 3 {
		t.Fatalf("email sender called %d times, want 3", f.email.callCount())
	}
	if f.repo.retriesScheduled != 2 {
		t.Fatalf("scheduled %d retries, want 2", f.repo.retriesScheduled)
	}
}

func TestDispatcherPermanentFailureSkipsRetry(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)
	f.email.err = &sender.SendError{Channel: "email", StatusCode: 400, Transient: false}

	created, err := f.dispatcher.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if created.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want %s", created.Status, domain.StatusFailed)
	}
	if f.repo.retriesScheduled != 0 {
		t.Fatalf("scheduled %d retries for permanent failure, want 0", f.repo.retriesScheduled)
	}
	if f.email.callCount() != 1 {
		t.Fatalf("email sender called %d times, want 1", f.email.callCount())
	}
}

func TestDispatcherSkipsAlreadyClaimedRecord(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	created, err := f.dispatcher.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	// Already sent; a second dispatch must not send again.
	if err := f.dispatcher.Dispatch(context.Background(), created.ID); err != nil {
		t.Fatalf("Dispatch() unexpected error = %v", err)
	}
	if f.email.callCount() != 1 {
		t.Fatalf("email sender called %d times, want 1", f.email.callCount())
	}
}

func TestDispatcherDispatchMissingRecord(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	if err := f.dispatcher.Dispatch(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("Dispatch() of missing record error = %v, want nil", err)
	}
}

func TestDispatcherProcessDue(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Hour)

	// Seed pending records directly so even the past-due ones skip the
	// immediate dispatch on create.
	for i, scheduledFor := range []*time.Time{&past, &past, &future} {
		n := &domain.Notification{
			ID:           fmt.Sprintf("due-%d", i),
			UserID:       "user-1",
			Category:     domain.CategoryOrderUpdate,
			Channel:      domain.ChannelEmail,
			Priority:     domain.PriorityNormal,
			Title:        fmt.Sprintf("scheduled %d", i),
			Message:      "msg",
			Status:       domain.StatusPending,
			MaxRetries:   domain.DefaultMaxRetries,
			ScheduledFor: scheduledFor,
		}
		if err := f.repo.Create(context.Background(), n); err != nil {
			t.Fatalf("Create() unexpected error = %v", err)
		}
	}

	processed, err := f.dispatcher.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() unexpected error = %v", err)
	}

	if processed != 2 {
		t.Fatalf("ProcessDue() = %d, want 2", processed)
	}
	if f.email.callCount() != 2 {
		t.Fatalf("email sender called %d times, want 2", f.email.callCount())
	}

	// The future record stays untouched.
	left, err := f.repo.GetByID(context.Background(), "due-2")
	if err != nil {
		t.Fatalf("GetByID() unexpected error = %v", err)
	}
	if left.Status != domain.StatusPending {
		t.Fatalf("future record status = %s, want %s", left.Status, domain.StatusPending)
	}
}

func TestDispatcherProcessDueRescuesUnscheduledOrphan(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	// A pending record with no scheduled time only exists when the process
	// died between persisting it and the immediate dispatch. The sweep must
	// treat it as due.
	orphan := &domain.Notification{
		ID:         "orphan-1",
		UserID:     "user-1",
		Category:   domain.CategoryOrderUpdate,
		Channel:    domain.ChannelEmail,
		Priority:   domain.PriorityNormal,
		Title:      "orphan",
		Message:    "msg",
		Status:     domain.StatusPending,
		MaxRetries: domain.DefaultMaxRetries,
	}
	if err := f.repo.Create(context.Background(), orphan); err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	processed, err := f.dispatcher.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() unexpected error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("ProcessDue() = %d, want 1", processed)
	}

	rescued, err := f.repo.GetByID(context.Background(), "orphan-1")
	if err != nil {
		t.Fatalf("GetByID() unexpected error = %v", err)
	}
	if rescued.Status != domain.StatusSent {
		t.Fatalf("orphan status = %s, want %s", rescued.Status, domain.StatusSent)
	}
}

func TestDispatcherProcessDueReclaimsStaleClaim(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	past := testNow.Add(-time.Minute)
	for _, id := range []string{"stale-1", "fresh-1"} {
		n := &domain.Notification{
			ID:           id,
			UserID:       "user-1",
			Category:     domain.CategoryOrderUpdate,
			Channel:      domain.ChannelEmail,
			Priority:     domain.PriorityNormal,
			Title:        "claimed",
			Message:      "msg",
			Status:       domain.StatusPending,
			MaxRetries:   domain.DefaultMaxRetries,
			ScheduledFor: &past,
		}
		if err := f.repo.Create(context.Background(), n); err != nil {
			t.Fatalf("Create() unexpected error = %v", err)
		}
	}

	// stale-1's claim predates the reclaim bound; fresh-1's is current and
	// must be left to its owner.
	f.repo.mu.Lock()
	f.repo.records["stale-1"].Status = domain.StatusProcessing
	f.repo.records["stale-1"].UpdatedAt = testNow.Add(-10 * time.Minute)
	f.repo.records["fresh-1"].Status = domain.StatusProcessing
	f.repo.records["fresh-1"].UpdatedAt = testNow
	f.repo.mu.Unlock()

	processed, err := f.dispatcher.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() unexpected error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("ProcessDue() = %d, want 1", processed)
	}

	reclaimed, err := f.repo.GetByID(context.Background(), "stale-1")
	if err != nil {
		t.Fatalf("GetByID() unexpected error = %v", err)
	}
	if reclaimed.Status != domain.StatusSent {
		t.Fatalf("stale record status = %s, want %s", reclaimed.Status, domain.StatusSent)
	}

	fresh, err := f.repo.GetByID(context.Background(), "fresh-1")
	if err != nil {
		t.Fatalf("GetByID() unexpected error = %v", err)
	}
	if fresh.Status != domain.StatusProcessing {
		t.Fatalf("fresh claim status = %s, want %s", fresh.Status, domain.StatusProcessing)
	}
}

func TestDispatcherMarkAsReadOwnership(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	created, err := f.dispatcher.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if err := f.dispatcher.MarkAsRead(context.Background(), created.ID, "user-2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("MarkAsRead() by stranger error = %v, want ErrForbidden", err)
	}

	if err := f.dispatcher.MarkAsRead(context.Background(), created.ID, "user-1"); err != nil {
		t.Fatalf("MarkAsRead() by owner unexpected error = %v", err)
	}

	// Idempotent on repeat.
	if err := f.dispatcher.MarkAsRead(context.Background(), created.ID, "user-1"); err != nil {
		t.Fatalf("MarkAsRead() repeat unexpected error = %v", err)
	}

	if err := f.dispatcher.MarkAsRead(context.Background(), " ", "user-1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("MarkAsRead() with blank id error = %v, want ErrValidation", err)
	}
}

func TestDispatcherMarkAllAsRead(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	for i := 0; i < 3; i++ {
		input := validInput()
		input.Title = fmt.Sprintf("note %d", i)
		if _, err := f.dispatcher.Create(context.Background(), input); err != nil {
			t.Fatalf("Create() unexpected error = %v", err)
		}
	}

	updated, err := f.dispatcher.MarkAllAsRead(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("MarkAllAsRead() unexpected error = %v", err)
	}
	if updated != 3 {
		t.Fatalf("MarkAllAsRead() = %d, want 3", updated)
	}

	// Second pass has nothing left to update.
	updated, err = f.dispatcher.MarkAllAsRead(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("MarkAllAsRead() repeat unexpected error = %v", err)
	}
	if updated != 0 {
		t.Fatalf("MarkAllAsRead() repeat = %d, want 0", updated)
	}
}

func TestDispatcherDeleteOwnership(t *testing.T) {
	t.Parallel()

	f := newDispatcherFixture(t)

	created, err := f.dispatcher.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}

	if err := f.dispatcher.Delete(context.Background(), created.ID, "user-2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("Delete() by stranger error = %v, want ErrForbidden", err)
	}
	if err := f.dispatcher.Delete(context.Background(), created.ID, "user-1"); err != nil {
		t.Fatalf("Delete() by owner unexpected error = %v", err)
	}
	if err := f.dispatcher.Delete(context.Background(), created.ID, "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Delete() repeat error = %v, want ErrNotFound", err)
	}
}
