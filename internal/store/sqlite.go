package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"lifeflow/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS workspaces (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  user_id TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  priority TEXT NOT NULL CHECK(priority IN ('low','medium','high','urgent')) DEFAULT 'medium',
  status TEXT NOT NULL DEFAULT 'todo',
  start_date DATETIME,
  due_date DATETIME,
  reminder_minutes INTEGER,
  reminder2_minutes INTEGER,
  reminder_sent INTEGER NOT NULL DEFAULT 0,
  reminder2_sent INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(workspace_id) REFERENCES workspaces(id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id);
CREATE INDEX IF NOT EXISTS idx_tasks_pending ON tasks(reminder_sent, reminder2_sent);
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  title TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  start_time DATETIME,
  end_time DATETIME,
  reminder_minutes INTEGER,
  reminder_sent INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(workspace_id) REFERENCES workspaces(id)
);
CREATE INDEX IF NOT EXISTS idx_events_workspace ON events(workspace_id);
CREATE INDEX IF NOT EXISTS idx_events_pending ON events(reminder_sent, start_time);
CREATE TABLE IF NOT EXISTS habits (
  id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  name TEXT NOT NULL,
  remind_at TEXT NOT NULL,
  last_notified DATETIME,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(workspace_id) REFERENCES workspaces(id)
);
CREATE TABLE IF NOT EXISTS notification_log (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  workspace_id TEXT NOT NULL,
  title TEXT NOT NULL,
  body TEXT NOT NULL,
  type TEXT NOT NULL CHECK(type IN ('task_start','task_deadline','event_reminder','habit_reminder')),
  related_id TEXT NOT NULL,
  delivery_status TEXT NOT NULL DEFAULT 'sent',
  sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notification_log_user ON notification_log(user_id, sent_at DESC);
CREATE TABLE IF NOT EXISTS push_subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  endpoint TEXT NOT NULL UNIQUE,
  p256dh_key TEXT NOT NULL,
  auth_key TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user ON push_subscriptions(user_id);
`
	_, err := db.Exec(schema)
	return err
}

type Store interface {
	// Workspaces
	CreateWorkspace(ctx context.Context, w domain.Workspace) (string, error)
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]domain.Workspace, error)

	// Tasks
	CreateTask(ctx context.Context, t domain.Task) (string, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, workspaceID string) ([]domain.Task, error)
	MarkTaskReminderSent(ctx context.Context, id string) error
	MarkTaskReminder2Sent(ctx context.Context, id string) error
	TasksWithPendingReminders(ctx context.Context) ([]domain.Task, error)

	// Events
	CreateEvent(ctx context.Context, e domain.Event) (string, error)
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	UpdateEvent(ctx context.Context, e domain.Event) error
	DeleteEvent(ctx context.Context, id string) error
	ListEvents(ctx context.Context, workspaceID string) ([]domain.Event, error)
	MarkEventReminderSent(ctx context.Context, id string) error
	EventsWithPendingReminders(ctx context.Context) ([]domain.Event, error)

	// Habits
	CreateHabit(ctx context.Context, h domain.Habit) (string, error)
	ListHabits(ctx context.Context) ([]domain.Habit, error)
	DeleteHabit(ctx context.Context, id string) error
	MarkHabitNotified(ctx context.Context, id string, at time.Time) error

	// Notification log
	CreateNotificationLog(ctx context.Context, n domain.NotificationLog) (string, error)
	ListNotificationLog(ctx context.Context, userID string, limit int) ([]domain.NotificationLog, error)

	// Push subscriptions
	CreatePushSubscription(ctx context.Context, s domain.PushSubscription) (string, error)
	ListPushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

type sqliteStore struct{ db *sql.DB }

func NewSQLite(db *sql.DB) Store { return &sqliteStore{db: db} }

func (r *sqliteStore) CreateWorkspace(ctx context.Context, w domain.Workspace) (string, error) {
	id := w.ID
	if id == "" {
		id = "wsp_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO workspaces (id,name,user_id,created_at,updated_at)
VALUES (?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)`, id, w.Name, w.UserID)
	return id, err
}

func (r *sqliteStore) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,name,user_id,created_at,updated_at FROM workspaces WHERE id=?`, id)
	var w domain.Workspace
	if err := row.Scan(&w.ID, &w.Name, &w.UserID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Workspace{}, ErrNotFound
		}
		return domain.Workspace{}, err
	}
	return w, nil
}

func (r *sqliteStore) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,name,user_id,created_at,updated_at FROM workspaces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		var w domain.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.UserID, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const taskCols = `id,workspace_id,title,description,priority,status,start_date,due_date,reminder_minutes,reminder2_minutes,reminder_sent,reminder2_sent,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(sc rowScanner) (domain.Task, error) {
	var (
		t           domain.Task
		start, due  sql.NullTime
		lead, lead2 sql.NullInt64
	)
	err := sc.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Description, &t.Priority, &t.Status,
		&start, &due, &lead, &lead2, &t.ReminderSent, &t.Reminder2Sent, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	if start.Valid {
		v := start.Time
		t.StartDate = &v
	}
	if due.Valid {
		v := due.Time
		t.DueDate = &v
	}
	if lead.Valid {
		v := int(lead.Int64)
		t.ReminderMinutes = &v
	}
	if lead2.Valid {
		v := int(lead2.Int64)
		t.Reminder2Minutes = &v
	}
	return t, nil
}

func (r *sqliteStore) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	if t.Status == "" {
		t.Status = "todo"
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (id,workspace_id,title,description,priority,status,start_date,due_date,reminder_minutes,reminder2_minutes,reminder_sent,reminder2_sent,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,0,0,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, t.WorkspaceID, t.Title, t.Description, t.Priority, t.Status, t.StartDate, t.DueDate, t.ReminderMinutes, t.Reminder2Minutes)
	return id, err
}

func (r *sqliteStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (r *sqliteStore) UpdateTask(ctx context.Context, t domain.Task) error {
	// Editing anchors or lead times resets the matching sent flag so the
	// reminder can be re-armed against the new data.
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET title=?,description=?,priority=?,status=?,start_date=?,due_date=?,
  reminder_minutes=?,reminder2_minutes=?,reminder_sent=?,reminder2_sent=?,updated_at=CURRENT_TIMESTAMP
WHERE id=?`, t.Title, t.Description, t.Priority, t.Status, t.StartDate, t.DueDate,
		t.ReminderMinutes, t.Reminder2Minutes, t.ReminderSent, t.Reminder2Sent, t.ID)
	return err
}

func (r *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	return err
}

func (r *sqliteStore) ListTasks(ctx context.Context, workspaceID string) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+taskCols+` FROM tasks WHERE workspace_id=? ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteStore) MarkTaskReminderSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET reminder_sent=1, updated_at=CURRENT_TIMESTAMP WHERE id=?`, id)
	return err
}

func (r *sqliteStore) MarkTaskReminder2Sent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tasks SET reminder2_sent=1, updated_at=CURRENT_TIMESTAMP WHERE id=?`, id)
	return err
}

func (r *sqliteStore) TasksWithPendingReminders(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+taskCols+` FROM tasks
WHERE (reminder_sent=0 AND start_date IS NOT NULL AND reminder_minutes IS NOT NULL)
   OR (reminder2_sent=0 AND due_date IS NOT NULL AND reminder2_minutes IS NOT NULL)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const eventCols = `id,workspace_id,title,location,start_time,end_time,reminder_minutes,reminder_sent,created_at,updated_at`

func scanEvent(sc rowScanner) (domain.Event, error) {
	var (
		e          domain.Event
		start, end sql.NullTime
		lead       sql.NullInt64
	)
	err := sc.Scan(&e.ID, &e.WorkspaceID, &e.Title, &e.Location, &start, &end, &lead,
		&e.ReminderSent, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.Event{}, err
	}
	if start.Valid {
		v := start.Time
		e.StartTime = &v
	}
	if end.Valid {
		v := end.Time
		e.EndTime = &v
	}
	if lead.Valid {
		v := int(lead.Int64)
		e.ReminderMinutes = &v
	}
	return e, nil
}

func (r *sqliteStore) CreateEvent(ctx context.Context, e domain.Event) (string, error) {
	id := e.ID
	if id == "" {
		id = "evt_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO events (id,workspace_id,title,location,start_time,end_time,reminder_minutes,reminder_sent,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,0,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, e.WorkspaceID, e.Title, e.Location, e.StartTime, e.EndTime, e.ReminderMinutes)
	return id, err
}

func (r *sqliteStore) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id=?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return domain.Event{}, ErrNotFound
	}
	return e, err
}

func (r *sqliteStore) UpdateEvent(ctx context.Context, e domain.Event) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE events SET title=?,location=?,start_time=?,end_time=?,reminder_minutes=?,reminder_sent=?,updated_at=CURRENT_TIMESTAMP
WHERE id=?`, e.Title, e.Location, e.StartTime, e.EndTime, e.ReminderMinutes, e.ReminderSent, e.ID)
	return err
}

func (r *sqliteStore) DeleteEvent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM events WHERE id=?", id)
	return err
}

func (r *sqliteStore) ListEvents(ctx context.Context, workspaceID string) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+eventCols+` FROM events WHERE workspace_id=? ORDER BY start_time`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *sqliteStore) MarkEventReminderSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE events SET reminder_sent=1, updated_at=CURRENT_TIMESTAMP WHERE id=?`, id)
	return err
}

func (r *sqliteStore) EventsWithPendingReminders(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+eventCols+` FROM events WHERE reminder_sent=0 AND start_time IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *sqliteStore) CreateHabit(ctx context.Context, h domain.Habit) (string, error) {
	id := h.ID
	if id == "" {
		id = "hbt_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO habits (id,workspace_id,name,remind_at,created_at)
VALUES (?,?,?,?,CURRENT_TIMESTAMP)`, id, h.WorkspaceID, h.Name, h.RemindAt)
	return id, err
}

func (r *sqliteStore) ListHabits(ctx context.Context) ([]domain.Habit, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,workspace_id,name,remind_at,last_notified,created_at FROM habits ORDER BY remind_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var habits []domain.Habit
	for rows.Next() {
		var h domain.Habit
		var last sql.NullTime
		if err := rows.Scan(&h.ID, &h.WorkspaceID, &h.Name, &h.RemindAt, &last, &h.CreatedAt); err != nil {
			return nil, err
		}
		if last.Valid {
			v := last.Time
			h.LastNotified = &v
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

func (r *sqliteStore) DeleteHabit(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM habits WHERE id=?", id)
	return err
}

func (r *sqliteStore) MarkHabitNotified(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE habits SET last_notified=? WHERE id=?`, at, id)
	return err
}

func (r *sqliteStore) CreateNotificationLog(ctx context.Context, n domain.NotificationLog) (string, error) {
	id := n.ID
	if id == "" {
		id = "ntf_" + uuid.NewString()
	}
	if n.DeliveryStatus == "" {
		n.DeliveryStatus = domain.DeliverySent
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_log (id,user_id,workspace_id,title,body,type,related_id,delivery_status,sent_at)
VALUES (?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
`, id, n.UserID, n.WorkspaceID, n.Title, n.Body, n.Type, n.RelatedID, n.DeliveryStatus)
	return id, err
}

func (r *sqliteStore) ListNotificationLog(ctx context.Context, userID string, limit int) ([]domain.NotificationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id,user_id,workspace_id,title,body,type,related_id,delivery_status,sent_at
FROM notification_log WHERE user_id=? ORDER BY sent_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NotificationLog
	for rows.Next() {
		var n domain.NotificationLog
		if err := rows.Scan(&n.ID, &n.UserID, &n.WorkspaceID, &n.Title, &n.Body, &n.Type, &n.RelatedID, &n.DeliveryStatus, &n.SentAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *sqliteStore) CreatePushSubscription(ctx context.Context, s domain.PushSubscription) (string, error) {
	id := s.ID
	if id == "" {
		id = "sub_" + uuid.NewString()
	}
	// Re-registering the same endpoint refreshes its keys.
	_, err := r.db.ExecContext(ctx, `
INSERT INTO push_subscriptions (id,user_id,endpoint,p256dh_key,auth_key,created_at)
VALUES (?,?,?,?,?,CURRENT_TIMESTAMP)
ON CONFLICT(endpoint) DO UPDATE SET user_id=excluded.user_id, p256dh_key=excluded.p256dh_key, auth_key=excluded.auth_key
`, id, s.UserID, s.Endpoint, s.P256dhKey, s.AuthKey)
	return id, err
}

func (r *sqliteStore) ListPushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,user_id,endpoint,p256dh_key,auth_key,created_at FROM push_subscriptions WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.PushSubscription
	for rows.Next() {
		var s domain.PushSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dhKey, &s.AuthKey, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *sqliteStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint=?", endpoint)
	return err
}
