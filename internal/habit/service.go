package habit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"lifeflow/internal/domain"
)

// Storage is the slice of the store the habit service needs.
type Storage interface {
	ListHabits(ctx context.Context) ([]domain.Habit, error)
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	CreateNotificationLog(ctx context.Context, n domain.NotificationLog) (string, error)
	MarkHabitNotified(ctx context.Context, id string, at time.Time) error
}

type Pusher interface {
	Send(ctx context.Context, userID, title, body, link string) error
}

// Service pushes a daily check-in notification for each habit at its
// configured wall-clock time. A per-habit last-notified date keeps the sweep
// idempotent within a day.
type Service struct {
	store Storage
	push  Pusher
	cron  *cron.Cron
}

func NewService(store Storage, push Pusher) *Service {
	return &Service{store: store, push: push}
}

func (s *Service) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("* * * * *", func() {
		s.sweep(context.Background(), time.Now())
	}); err != nil {
		return fmt.Errorf("register habit sweep: %w", err)
	}
	s.cron.Start()
	log.Info().Msg("habit reminder service started")
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	log.Info().Msg("habit reminder service stopped")
}

func (s *Service) sweep(ctx context.Context, now time.Time) {
	habits, err := s.store.ListHabits(ctx)
	if err != nil {
		log.Error().Err(err).Msg("habit sweep: list habits")
		return
	}

	hhmm := now.Format("15:04")
	for _, h := range habits {
		if h.RemindAt != hhmm {
			continue
		}
		if h.LastNotified != nil && sameDay(*h.LastNotified, now) {
			continue
		}
		if err := s.remind(ctx, h, now); err != nil {
			log.Error().Err(err).Str("habit_id", h.ID).Msg("habit reminder failed")
		}
	}
}

func (s *Service) remind(ctx context.Context, h domain.Habit, now time.Time) error {
	ws, err := s.store.GetWorkspace(ctx, h.WorkspaceID)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	title := "🌱 Habit Check-in"
	body := fmt.Sprintf("Time for %q", h.Name)
	if err := s.push.Send(ctx, ws.UserID, title, body, "/habits/"+h.ID); err != nil {
		return fmt.Errorf("push delivery: %w", err)
	}

	if _, err := s.store.CreateNotificationLog(ctx, domain.NotificationLog{
		UserID: ws.UserID, WorkspaceID: ws.ID, Title: title, Body: body,
		Type: domain.NotifHabitReminder, RelatedID: h.ID, DeliveryStatus: domain.DeliverySent,
	}); err != nil {
		return fmt.Errorf("append notification log: %w", err)
	}

	if err := s.store.MarkHabitNotified(ctx, h.ID, now); err != nil {
		return fmt.Errorf("mark habit notified: %w", err)
	}
	log.Debug().Str("habit_id", h.ID).Msg("habit reminder sent")
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
