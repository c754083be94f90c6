package remind

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"lifeflow/internal/domain"
)

// Storage is the slice of the persistence layer the reminder core needs.
type Storage interface {
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	MarkTaskReminderSent(ctx context.Context, id string) error
	MarkTaskReminder2Sent(ctx context.Context, id string) error
	MarkEventReminderSent(ctx context.Context, id string) error
	CreateNotificationLog(ctx context.Context, n domain.NotificationLog) (string, error)
	TasksWithPendingReminders(ctx context.Context) ([]domain.Task, error)
	EventsWithPendingReminders(ctx context.Context) ([]domain.Event, error)
}

// Pusher delivers a notification to all of a user's devices, best effort.
type Pusher interface {
	Send(ctx context.Context, userID, title, body, link string) error
}

// Scheduler owns the reminder state machine: it decides which reminder slots
// of a task or event are still eligible, arms timers for future fire times,
// and marks already-passed reminders as sent without firing them.
//
// Each reminder fires at most once per process run: the persisted sent flag
// flips false to true either synchronously (fire time already passed at
// schedule time) or inside the timer callback. A failed delivery leaves the
// flag unset so the next restart re-evaluates the slot.
type Scheduler struct {
	store Storage
	push  Pusher
	clock Clock
	reg   *Registry
}

func New(store Storage, push Pusher, clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{store: store, push: push, clock: clock, reg: NewRegistry()}
}

// ScheduleTask cancels any timers armed for the task and re-arms its start
// and deadline reminder slots from current data. An unresolvable workspace
// aborts scheduling for the whole task; a slot with no anchor date, no lead
// time, or an already-sent flag is skipped.
func (s *Scheduler) ScheduleTask(ctx context.Context, t domain.Task) error {
	s.reg.Cancel(t.ID)

	ws, err := s.store.GetWorkspace(ctx, t.WorkspaceID)
	if err != nil {
		log.Warn().Err(err).Str("task_id", t.ID).Str("workspace_id", t.WorkspaceID).
			Msg("workspace unresolved, skipping task reminders")
		return nil
	}

	now := s.clock.Now()
	e := s.reg.newEntry()
	var timers []Timer

	if t.StartDate != nil && t.ReminderMinutes != nil && !t.ReminderSent {
		delay := FireTime(*t.StartDate, *t.ReminderMinutes).Sub(now)
		if delay <= 0 {
			// Fire time already passed: mark sent without notifying so a
			// backlog never spams stale reminders.
			if err := s.store.MarkTaskReminderSent(ctx, t.ID); err != nil {
				return fmt.Errorf("mark start reminder sent: %w", err)
			}
		} else {
			task, lead := t, *t.ReminderMinutes
			timers = append(timers, s.clock.AfterFunc(delay, func() {
				defer s.reg.done(task.ID, e)
				if err := s.fireTaskStart(task, ws, lead); err != nil {
					log.Error().Err(err).Str("task_id", task.ID).Msg("start reminder failed")
				}
			}))
		}
	}

	if t.DueDate != nil && t.Reminder2Minutes != nil && !t.Reminder2Sent {
		delay := FireTime(*t.DueDate, *t.Reminder2Minutes).Sub(now)
		if delay <= 0 {
			if err := s.store.MarkTaskReminder2Sent(ctx, t.ID); err != nil {
				return fmt.Errorf("mark deadline reminder sent: %w", err)
			}
		} else {
			task, lead := t, *t.Reminder2Minutes
			timers = append(timers, s.clock.AfterFunc(delay, func() {
				defer s.reg.done(task.ID, e)
				if err := s.fireTaskDeadline(task, ws, lead); err != nil {
					log.Error().Err(err).Str("task_id", task.ID).Msg("deadline reminder failed")
				}
			}))
		}
	}

	if len(timers) > 0 {
		s.reg.Arm(t.ID, timers, e)
		log.Debug().Str("task_id", t.ID).Int("timers", len(timers)).Msg("task reminders armed")
	}
	return nil
}

// ScheduleEvent is the single-slot counterpart of ScheduleTask. Events with
// no configured lead time default to 15 minutes before start.
func (s *Scheduler) ScheduleEvent(ctx context.Context, e domain.Event) error {
	s.reg.Cancel(e.ID)

	ws, err := s.store.GetWorkspace(ctx, e.WorkspaceID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", e.ID).Str("workspace_id", e.WorkspaceID).
			Msg("workspace unresolved, skipping event reminder")
		return nil
	}

	if e.StartTime == nil || e.ReminderSent {
		return nil
	}

	lead := 15
	if e.ReminderMinutes != nil {
		lead = *e.ReminderMinutes
	}

	delay := FireTime(*e.StartTime, lead).Sub(s.clock.Now())
	if delay <= 0 {
		if err := s.store.MarkEventReminderSent(ctx, e.ID); err != nil {
			return fmt.Errorf("mark event reminder sent: %w", err)
		}
		return nil
	}

	event, ent := e, s.reg.newEntry()
	tm := s.clock.AfterFunc(delay, func() {
		defer s.reg.done(event.ID, ent)
		if err := s.fireEvent(event, ws, lead); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("event reminder failed")
		}
	})
	s.reg.Arm(e.ID, []Timer{tm}, ent)
	log.Debug().Str("event_id", e.ID).Dur("delay", delay).Msg("event reminder armed")
	return nil
}

// CancelTask discards any armed timers for the task. The mutation layer must
// call it before persisting an edit or delete so a stale timer cannot fire
// against changed data.
func (s *Scheduler) CancelTask(id string) { s.reg.Cancel(id) }

// CancelEvent is the event counterpart of CancelTask.
func (s *Scheduler) CancelEvent(id string) { s.reg.Cancel(id) }

// Bootstrap rebuilds the timer registry from persisted state. Call once at
// process start. Entities are scheduled independently; one failure is logged
// and does not block the rest.
func (s *Scheduler) Bootstrap(ctx context.Context) (int, error) {
	tasks, err := s.store.TasksWithPendingReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending task reminders: %w", err)
	}
	events, err := s.store.EventsWithPendingReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending event reminders: %w", err)
	}

	n := 0
	for _, t := range tasks {
		if err := s.ScheduleTask(ctx, t); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("recovery: schedule task")
			continue
		}
		n++
	}
	for _, e := range events {
		if err := s.ScheduleEvent(ctx, e); err != nil {
			log.Error().Err(err).Str("event_id", e.ID).Msg("recovery: schedule event")
			continue
		}
		n++
	}

	log.Info().Int("entities", n).Int("armed", s.reg.Len()).Msg("reminder recovery complete")
	return n, nil
}

// Armed reports whether the entity currently has live timers. Exposed for the
// API status endpoint.
func (s *Scheduler) Armed(id string) bool { return s.reg.Has(id) }

func (s *Scheduler) fireTaskStart(t domain.Task, ws domain.Workspace, lead int) error {
	title := taskStartTitle(t.Priority)
	body := fmt.Sprintf("%q starts in %s", t.Title, FormatLead(lead))
	return s.deliver(ws, title, body, domain.NotifTaskStart, t.ID, "/tasks/"+t.ID, func(ctx context.Context) error {
		return s.store.MarkTaskReminderSent(ctx, t.ID)
	})
}

func (s *Scheduler) fireTaskDeadline(t domain.Task, ws domain.Workspace, lead int) error {
	title := taskDeadlineTitle(t.Priority)
	body := fmt.Sprintf("⚠️ %s left to finish %q", FormatLead(lead), t.Title)
	return s.deliver(ws, title, body, domain.NotifTaskDeadline, t.ID, "/tasks/"+t.ID, func(ctx context.Context) error {
		return s.store.MarkTaskReminder2Sent(ctx, t.ID)
	})
}

func (s *Scheduler) fireEvent(e domain.Event, ws domain.Workspace, lead int) error {
	body := fmt.Sprintf("%q starts in %s!", e.Title, FormatLead(lead))
	return s.deliver(ws, "📅 Event Reminder", body, domain.NotifEventReminder, e.ID, "/calendar/"+e.ID, func(ctx context.Context) error {
		return s.store.MarkEventReminderSent(ctx, e.ID)
	})
}

// deliver runs the fire sequence: push, append to the notification log, then
// flip the sent flag. Any step failing leaves the flag unset so the slot is
// re-evaluated on the next restart.
func (s *Scheduler) deliver(ws domain.Workspace, title, body, typ, relatedID, link string, markSent func(context.Context) error) error {
	ctx := context.Background()

	if err := s.push.Send(ctx, ws.UserID, title, body, link); err != nil {
		_, _ = s.store.CreateNotificationLog(ctx, domain.NotificationLog{
			UserID: ws.UserID, WorkspaceID: ws.ID, Title: title, Body: body,
			Type: typ, RelatedID: relatedID, DeliveryStatus: domain.DeliveryFailed,
		})
		return fmt.Errorf("push delivery: %w", err)
	}

	if _, err := s.store.CreateNotificationLog(ctx, domain.NotificationLog{
		UserID: ws.UserID, WorkspaceID: ws.ID, Title: title, Body: body,
		Type: typ, RelatedID: relatedID, DeliveryStatus: domain.DeliverySent,
	}); err != nil {
		return fmt.Errorf("append notification log: %w", err)
	}

	if err := markSent(ctx); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

func taskStartTitle(priority string) string {
	switch priority {
	case "urgent":
		return "🚨 Urgent Task Starting"
	case "high":
		return "❗ High Priority Task Starting"
	default:
		return "🔔 Task Reminder"
	}
}

func taskDeadlineTitle(priority string) string {
	switch priority {
	case "urgent":
		return "🚨 Urgent Deadline Approaching"
	case "high":
		return "❗ High Priority Deadline"
	default:
		return "⏰ Task Due Soon"
	}
}
