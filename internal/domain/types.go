package domain

import "time"

// Notification log types.
const (
	NotifTaskStart     = "task_start"
	NotifTaskDeadline  = "task_deadline"
	NotifEventReminder = "event_reminder"
	NotifHabitReminder = "habit_reminder"
)

// Delivery statuses recorded on the notification log.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

type Workspace struct {
	ID        string
	Name      string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Task struct {
	ID          string
	WorkspaceID string
	Title       string
	Description string
	Priority    string // low, medium, high, urgent
	Status      string
	StartDate   *time.Time
	DueDate     *time.Time
	// Lead times in minutes before the start/due anchors. Nil means
	// no reminder configured for that slot.
	ReminderMinutes  *int
	Reminder2Minutes *int
	ReminderSent     bool
	Reminder2Sent    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Event struct {
	ID          string
	WorkspaceID string
	Title       string
	Location    string
	StartTime   *time.Time
	EndTime     *time.Time
	// Nil falls back to the 15 minute default at scheduling time.
	ReminderMinutes *int
	ReminderSent    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Habit struct {
	ID           string
	WorkspaceID  string
	Name         string
	RemindAt     string // HH:MM, local wall clock
	LastNotified *time.Time
	CreatedAt    time.Time
}

type NotificationLog struct {
	ID             string
	UserID         string
	WorkspaceID    string
	Title          string
	Body           string
	Type           string
	RelatedID      string
	DeliveryStatus string
	SentAt         time.Time
}

type PushSubscription struct {
	ID        string
	UserID    string
	Endpoint  string
	P256dhKey string
	AuthKey   string
	CreatedAt time.Time
}
