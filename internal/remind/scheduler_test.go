package remind

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lifeflow/internal/domain"
)

// ---- fakes ----

type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and synchronously runs every due, still-live timer.
func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			t.f()
		}
	}
}

func (c *fakeClock) live() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

type fakeStore struct {
	workspaces    map[string]domain.Workspace
	markStart     map[string]int
	markDeadline  map[string]int
	markEvent     map[string]int
	logs          []domain.NotificationLog
	logErr        error
	pendingTasks  []domain.Task
	pendingEvents []domain.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workspaces:   map[string]domain.Workspace{},
		markStart:    map[string]int{},
		markDeadline: map[string]int{},
		markEvent:    map[string]int{},
	}
}

func (f *fakeStore) GetWorkspace(_ context.Context, id string) (domain.Workspace, error) {
	w, ok := f.workspaces[id]
	if !ok {
		return domain.Workspace{}, errors.New("workspace not found")
	}
	return w, nil
}

func (f *fakeStore) MarkTaskReminderSent(_ context.Context, id string) error {
	f.markStart[id]++
	return nil
}

func (f *fakeStore) MarkTaskReminder2Sent(_ context.Context, id string) error {
	f.markDeadline[id]++
	return nil
}

func (f *fakeStore) MarkEventReminderSent(_ context.Context, id string) error {
	f.markEvent[id]++
	return nil
}

func (f *fakeStore) CreateNotificationLog(_ context.Context, n domain.NotificationLog) (string, error) {
	if f.logErr != nil {
		return "", f.logErr
	}
	f.logs = append(f.logs, n)
	return "ntf_test", nil
}

func (f *fakeStore) TasksWithPendingReminders(context.Context) ([]domain.Task, error) {
	return f.pendingTasks, nil
}

func (f *fakeStore) EventsWithPendingReminders(context.Context) ([]domain.Event, error) {
	return f.pendingEvents, nil
}

type pushCall struct {
	userID, title, body, link string
}

type spyPush struct {
	calls []pushCall
	err   error
}

func (p *spyPush) Send(_ context.Context, userID, title, body, link string) error {
	p.calls = append(p.calls, pushCall{userID, title, body, link})
	return p.err
}

// ---- helpers ----

func minutes(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }

func newTestScheduler(now time.Time) (*Scheduler, *fakeStore, *spyPush, *fakeClock) {
	st := newFakeStore()
	st.workspaces["wsp_1"] = domain.Workspace{ID: "wsp_1", Name: "Personal", UserID: "usr_1"}
	push := &spyPush{}
	clk := newFakeClock(now)
	return New(st, push, clk), st, push, clk
}

// ---- tests ----

func TestScheduleTaskArmsStartReminder(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, push, clk := newTestScheduler(now)

	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Write report", Priority: "medium",
		StartDate:       timePtr(now.Add(30 * time.Minute)),
		ReminderMinutes: minutes(10),
	}
	if err := s.ScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	live := clk.live()
	if len(live) != 1 {
		t.Fatalf("expected 1 armed timer, got %d", len(live))
	}
	if want := now.Add(20 * time.Minute); !live[0].at.Equal(want) {
		t.Fatalf("timer due at %v, want %v", live[0].at, want)
	}
	if st.markStart["tsk_1"] != 0 {
		t.Fatal("no synchronous mark-sent expected for a future reminder")
	}
	if len(push.calls) != 0 {
		t.Fatal("nothing should be delivered at schedule time")
	}
	if !s.Armed("tsk_1") {
		t.Fatal("registry must hold an entry for the task")
	}
}

func TestScheduleTaskPastFireTimeMarksSentSynchronously(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, push, clk := newTestScheduler(now)

	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Stale",
		StartDate:       timePtr(now.Add(-5 * time.Minute)),
		ReminderMinutes: minutes(10),
	}
	if err := s.ScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	if st.markStart["tsk_1"] != 1 {
		t.Fatalf("expected 1 synchronous mark-sent, got %d", st.markStart["tsk_1"])
	}
	if len(clk.live()) != 0 {
		t.Fatal("no timer should be armed for a past fire time")
	}
	if len(push.calls) != 0 {
		t.Fatal("stale reminders must not be delivered")
	}
}

func TestScheduleTaskDeadlineAlreadyPastDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, push, clk := newTestScheduler(now)

	// Due in 1 minute with a 2 minute lead: fire time is 1 minute gone.
	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Almost due",
		DueDate:          timePtr(now.Add(1 * time.Minute)),
		Reminder2Minutes: minutes(2),
	}
	if err := s.ScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	if st.markDeadline["tsk_1"] != 1 {
		t.Fatalf("expected immediate deadline mark-sent, got %d", st.markDeadline["tsk_1"])
	}
	if len(clk.live()) != 0 || len(push.calls) != 0 {
		t.Fatal("expected zero armed timers and zero deliveries")
	}
}

func TestScheduleTaskIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, _, push, clk := newTestScheduler(now)

	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Once only",
		StartDate:       timePtr(now.Add(30 * time.Minute)),
		ReminderMinutes: minutes(10),
	}
	ctx := context.Background()
	if err := s.ScheduleTask(ctx, task); err != nil {
		t.Fatalf("first ScheduleTask: %v", err)
	}
	if err := s.ScheduleTask(ctx, task); err != nil {
		t.Fatalf("second ScheduleTask: %v", err)
	}

	if got := len(clk.live()); got != 1 {
		t.Fatalf("re-scheduling must leave exactly 1 live timer, got %d", got)
	}

	clk.Advance(25 * time.Minute)
	if len(push.calls) != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", len(push.calls))
	}
}

func TestCancelTaskPreventsFire(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, push, clk := newTestScheduler(now)

	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Edited away",
		StartDate:       timePtr(now.Add(30 * time.Minute)),
		ReminderMinutes: minutes(10),
	}
	if err := s.ScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	s.CancelTask("tsk_1")
	clk.Advance(time.Hour)

	if len(push.calls) != 0 {
		t.Fatal("cancelled timer must never fire")
	}
	if st.markStart["tsk_1"] != 0 {
		t.Fatal("cancellation must leave the sent flag untouched")
	}
	if s.Armed("tsk_1") {
		t.Fatal("registry entry must be gone after cancel")
	}
}

func TestCancelAndRearmWhileFireInFlight(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, _, push, clk := newTestScheduler(now)
	ctx := context.Background()

	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Moving target",
		StartDate:       timePtr(now.Add(30 * time.Minute)),
		ReminderMinutes: minutes(10),
	}
	if err := s.ScheduleTask(ctx, task); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}
	stale := clk.live()[0]

	// The task is edited while the first timer's callback is about to run:
	// cancel, re-arm against the new data, then the old callback completes.
	s.CancelTask("tsk_1")
	task.StartDate = timePtr(now.Add(2 * time.Hour))
	if err := s.ScheduleTask(ctx, task); err != nil {
		t.Fatalf("re-ScheduleTask: %v", err)
	}
	stale.fired = true
	stale.f()

	if !s.Armed("tsk_1") {
		t.Fatal("completed stale callback must not untrack the re-armed task")
	}

	// A later cancel must still reach the live replacement timer.
	s.CancelTask("tsk_1")
	clk.Advance(3 * time.Hour)
	if got := len(push.calls); got != 1 {
		t.Fatalf("expected only the stale fire to deliver, got %d deliveries", got)
	}
}

func TestFireSequence(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, push, clk := newTestScheduler(now)

	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Standup prep", Priority: "medium",
		StartDate:       timePtr(now.Add(30 * time.Minute)),
		ReminderMinutes: minutes(10),
	}
	if err := s.ScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	clk.Advance(20 * time.Minute)

	if len(push.calls) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(push.calls))
	}
	call := push.calls[0]
	if call.userID != "usr_1" {
		t.Fatalf("delivered to %q, want workspace owner usr_1", call.userID)
	}
	if call.title != "🔔 Task Reminder" {
		t.Fatalf("unexpected title %q", call.title)
	}
	if !strings.Contains(call.body, "starts in 10 minutes") {
		t.Fatalf("unexpected body %q", call.body)
	}
	if call.link != "/tasks/tsk_1" {
		t.Fatalf("unexpected link %q", call.link)
	}

	if len(st.logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(st.logs))
	}
	entry := st.logs[0]
	if entry.Type != domain.NotifTaskStart || entry.DeliveryStatus != domain.DeliverySent {
		t.Fatalf("unexpected log entry %+v", entry)
	}
	if entry.RelatedID != "tsk_1" || entry.WorkspaceID != "wsp_1" {
		t.Fatalf("unexpected log linkage %+v", entry)
	}

	if st.markStart["tsk_1"] != 1 {
		t.Fatalf("expected mark-sent after fire, got %d", st.markStart["tsk_1"])
	}
	if s.Armed("tsk_1") {
		t.Fatal("registry entry must be removed once the last timer fires")
	}
}

func TestTaskTitlesByPriority(t *testing.T) {
	t.Parallel()
	if got := taskStartTitle("urgent"); !strings.Contains(got, "Urgent") {
		t.Fatalf("urgent start title %q", got)
	}
	if got := taskStartTitle("high"); !strings.Contains(got, "High Priority") {
		t.Fatalf("high start title %q", got)
	}
	if got := taskStartTitle("low"); got != "🔔 Task Reminder" {
		t.Fatalf("generic start title %q", got)
	}
	if got := taskDeadlineTitle("low"); got != "⏰ Task Due Soon" {
		t.Fatalf("generic deadline title %q", got)
	}
}

func TestDeliveryFailureLeavesReminderUnsent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, push, clk := newTestScheduler(now)
	push.err = errors.New("endpoint gone")

	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Flaky",
		StartDate:       timePtr(now.Add(30 * time.Minute)),
		ReminderMinutes: minutes(10),
	}
	if err := s.ScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	clk.Advance(time.Hour)

	if st.markStart["tsk_1"] != 0 {
		t.Fatal("failed delivery must leave the sent flag unset")
	}
	if len(st.logs) != 1 || st.logs[0].DeliveryStatus != domain.DeliveryFailed {
		t.Fatalf("expected a failed log entry, got %+v", st.logs)
	}
}

func TestUnresolvableWorkspaceAbortsScheduling(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, _, clk := newTestScheduler(now)

	task := domain.Task{
		ID: "tsk_orphan", WorkspaceID: "wsp_gone", Title: "Orphan",
		StartDate:       timePtr(now.Add(30 * time.Minute)),
		ReminderMinutes: minutes(10),
	}
	if err := s.ScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("ScheduleTask should not error on missing workspace: %v", err)
	}
	if len(clk.live()) != 0 || st.markStart["tsk_orphan"] != 0 {
		t.Fatal("unresolvable workspace must abort scheduling entirely")
	}
}

func TestScheduleTaskBothSlots(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, _, push, clk := newTestScheduler(now)

	task := domain.Task{
		ID: "tsk_1", WorkspaceID: "wsp_1", Title: "Two slots", Priority: "high",
		StartDate:        timePtr(now.Add(time.Hour)),
		ReminderMinutes:  minutes(10),
		DueDate:          timePtr(now.Add(3 * time.Hour)),
		Reminder2Minutes: minutes(30),
	}
	if err := s.ScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}
	if got := len(clk.live()); got != 2 {
		t.Fatalf("expected 2 armed timers, got %d", got)
	}

	// First slot fires; the sibling keeps the registry entry alive.
	clk.Advance(time.Hour)
	if len(push.calls) != 1 {
		t.Fatalf("expected 1 delivery after the start slot, got %d", len(push.calls))
	}
	if !s.Armed("tsk_1") {
		t.Fatal("entry must survive while the deadline timer is live")
	}

	clk.Advance(2 * time.Hour)
	if len(push.calls) != 2 {
		t.Fatalf("expected 2 deliveries total, got %d", len(push.calls))
	}
	if s.Armed("tsk_1") {
		t.Fatal("entry must be dropped after both slots fire")
	}
}

func TestScheduleEventDefaultLead(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, push, clk := newTestScheduler(now)

	event := domain.Event{
		ID: "evt_1", WorkspaceID: "wsp_1", Title: "Dentist",
		StartTime: timePtr(now.Add(30 * time.Minute)),
	}
	if err := s.ScheduleEvent(context.Background(), event); err != nil {
		t.Fatalf("ScheduleEvent: %v", err)
	}

	live := clk.live()
	if len(live) != 1 {
		t.Fatalf("expected 1 armed timer, got %d", len(live))
	}
	if want := now.Add(15 * time.Minute); !live[0].at.Equal(want) {
		t.Fatalf("default lead should fire at %v, got %v", want, live[0].at)
	}

	clk.Advance(16 * time.Minute)
	if len(push.calls) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(push.calls))
	}
	if !strings.Contains(push.calls[0].body, "starts in 15 minutes!") {
		t.Fatalf("unexpected body %q", push.calls[0].body)
	}
	if st.markEvent["evt_1"] != 1 {
		t.Fatal("event reminder must be marked sent after fire")
	}
	if len(st.logs) != 1 || st.logs[0].Type != domain.NotifEventReminder {
		t.Fatalf("expected event_reminder log entry, got %+v", st.logs)
	}
}

func TestScheduleEventAlreadySentOrAnchorless(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, _, _, clk := newTestScheduler(now)
	ctx := context.Background()

	sent := domain.Event{ID: "evt_sent", WorkspaceID: "wsp_1", StartTime: timePtr(now.Add(time.Hour)), ReminderSent: true}
	if err := s.ScheduleEvent(ctx, sent); err != nil {
		t.Fatalf("ScheduleEvent: %v", err)
	}
	anchorless := domain.Event{ID: "evt_bare", WorkspaceID: "wsp_1"}
	if err := s.ScheduleEvent(ctx, anchorless); err != nil {
		t.Fatalf("ScheduleEvent: %v", err)
	}

	if len(clk.live()) != 0 {
		t.Fatal("neither event may arm a timer")
	}
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, st, _, clk := newTestScheduler(now)

	st.pendingTasks = []domain.Task{
		{
			ID: "tsk_future", WorkspaceID: "wsp_1", Title: "Future",
			StartDate: timePtr(now.Add(time.Hour)), ReminderMinutes: minutes(10),
		},
		{
			ID: "tsk_overdue", WorkspaceID: "wsp_1", Title: "Overdue",
			DueDate: timePtr(now.Add(-time.Hour)), Reminder2Minutes: minutes(15),
		},
	}
	st.pendingEvents = []domain.Event{
		{
			ID: "evt_future", WorkspaceID: "wsp_1", Title: "Soon",
			StartTime: timePtr(now.Add(2 * time.Hour)),
		},
	}

	n, err := s.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 schedule attempts, got %d", n)
	}

	// Only entities with an eligible, not-yet-due slot stay armed.
	if !s.Armed("tsk_future") || !s.Armed("evt_future") {
		t.Fatal("future entities must have registry entries after recovery")
	}
	if s.Armed("tsk_overdue") {
		t.Fatal("past-due-only task must not stay in the registry")
	}
	if st.markDeadline["tsk_overdue"] != 1 {
		t.Fatal("overdue reminder must be reconciled by marking it sent")
	}
	if got := len(clk.live()); got != 2 {
		t.Fatalf("expected 2 live timers after recovery, got %d", got)
	}
}
