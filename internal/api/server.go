package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lifeflow/internal/domain"
	"lifeflow/internal/remind"
	"lifeflow/internal/store"
)

type Server struct {
	r     *chi.Mux
	store store.Store
	sched *remind.Scheduler
}

func NewServer(st store.Store, sched *remind.Scheduler) http.Handler {
	return NewServerWithDebug(st, sched, false)
}

func NewServerWithDebug(st store.Store, sched *remind.Scheduler, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, store: st, sched: sched}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Post("/api/workspaces", s.createWorkspace)
	r.Get("/api/workspaces", s.listWorkspaces)
	r.Get("/api/workspaces/{id}", s.getWorkspace)

	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Put("/api/tasks/{id}", s.updateTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)

	r.Post("/api/events", s.createEvent)
	r.Get("/api/events", s.listEvents)
	r.Get("/api/events/{id}", s.getEvent)
	r.Put("/api/events/{id}", s.updateEvent)
	r.Delete("/api/events/{id}", s.deleteEvent)

	r.Post("/api/habits", s.createHabit)
	r.Get("/api/habits", s.listHabits)
	r.Delete("/api/habits/{id}", s.deleteHabit)

	r.Get("/api/notifications", s.listNotifications)

	r.Post("/api/push/subscriptions", s.createPushSubscription)
	r.Delete("/api/push/subscriptions", s.deletePushSubscription)

	r.Get("/api/calendar/{workspaceID}.ics", s.workspaceCalendar)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("lifeflow_up 1\n"))
}

// ---- workspaces ----

type workspaceReq struct {
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Name == "" || req.UserID == "" {
		http.Error(w, "name and user_id are required", 400)
		return
	}
	id, err := s.store.CreateWorkspace(r.Context(), domain.Workspace{Name: req.Name, UserID: req.UserID})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListWorkspaces(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, out)
}

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.store.GetWorkspace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, 200, ws)
}

// ---- tasks ----

type taskReq struct {
	WorkspaceID      string     `json:"workspace_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Priority         string     `json:"priority"`
	Status           string     `json:"status"`
	StartDate        *time.Time `json:"start_date"`
	DueDate          *time.Time `json:"due_date"`
	ReminderMinutes  *int       `json:"reminder_minutes"`
	Reminder2Minutes *int       `json:"reminder2_minutes"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.WorkspaceID == "" || req.Title == "" {
		http.Error(w, "workspace_id and title are required", 400)
		return
	}
	id, err := s.store.CreateTask(r.Context(), domain.Task{
		WorkspaceID: req.WorkspaceID, Title: req.Title, Description: req.Description,
		Priority: req.Priority, Status: req.Status,
		StartDate: req.StartDate, DueDate: req.DueDate,
		ReminderMinutes: req.ReminderMinutes, Reminder2Minutes: req.Reminder2Minutes,
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := s.sched.ScheduleTask(r.Context(), task); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, 200, taskView(t, s.sched.Armed(t.ID)))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	wsID := r.URL.Query().Get("workspace")
	if wsID == "" {
		http.Error(w, "workspace query parameter is required", 400)
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), wsID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView(t, s.sched.Armed(t.ID)))
	}
	writeJSON(w, 200, out)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}

	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	// Stale timers must be gone before the new data lands.
	s.sched.CancelTask(id)

	if req.Title != "" {
		task.Title = req.Title
	}
	if req.Description != "" {
		task.Description = req.Description
	}
	if req.Priority != "" {
		task.Priority = req.Priority
	}
	if req.Status != "" {
		task.Status = req.Status
	}
	// Omitted fields keep their stored values, same as the string fields
	// above. Changing a slot's anchor or lead time resets its sent flag so
	// the reminder re-arms against the new data.
	if req.StartDate != nil && !timePtrEqual(req.StartDate, task.StartDate) {
		task.StartDate = req.StartDate
		task.ReminderSent = false
	}
	if req.ReminderMinutes != nil && !intPtrEqual(req.ReminderMinutes, task.ReminderMinutes) {
		task.ReminderMinutes = req.ReminderMinutes
		task.ReminderSent = false
	}
	if req.DueDate != nil && !timePtrEqual(req.DueDate, task.DueDate) {
		task.DueDate = req.DueDate
		task.Reminder2Sent = false
	}
	if req.Reminder2Minutes != nil && !intPtrEqual(req.Reminder2Minutes, task.Reminder2Minutes) {
		task.Reminder2Minutes = req.Reminder2Minutes
		task.Reminder2Sent = false
	}

	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := s.sched.ScheduleTask(r.Context(), task); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, taskView(task, s.sched.Armed(task.ID)))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.sched.CancelTask(id)
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func taskView(t domain.Task, armed bool) map[string]any {
	return map[string]any{
		"id":                t.ID,
		"workspace_id":      t.WorkspaceID,
		"title":             t.Title,
		"description":       t.Description,
		"priority":          t.Priority,
		"status":            t.Status,
		"start_date":        t.StartDate,
		"due_date":          t.DueDate,
		"reminder_minutes":  t.ReminderMinutes,
		"reminder2_minutes": t.Reminder2Minutes,
		"reminder_sent":     t.ReminderSent,
		"reminder2_sent":    t.Reminder2Sent,
		"reminders_armed":   armed,
	}
}

// ---- events ----

type eventReq struct {
	WorkspaceID     string     `json:"workspace_id"`
	Title           string     `json:"title"`
	Location        string     `json:"location"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	ReminderMinutes *int       `json:"reminder_minutes"`
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req eventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.WorkspaceID == "" || req.Title == "" {
		http.Error(w, "workspace_id and title are required", 400)
		return
	}
	id, err := s.store.CreateEvent(r.Context(), domain.Event{
		WorkspaceID: req.WorkspaceID, Title: req.Title, Location: req.Location,
		StartTime: req.StartTime, EndTime: req.EndTime, ReminderMinutes: req.ReminderMinutes,
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	event, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := s.sched.ScheduleEvent(r.Context(), event); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, 200, e)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	wsID := r.URL.Query().Get("workspace")
	if wsID == "" {
		http.Error(w, "workspace query parameter is required", 400)
		return
	}
	events, err := s.store.ListEvents(r.Context(), wsID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, events)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}

	var req eventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	s.sched.CancelEvent(id)

	if req.Title != "" {
		event.Title = req.Title
	}
	if req.Location != "" {
		event.Location = req.Location
	}
	if req.StartTime != nil && !timePtrEqual(req.StartTime, event.StartTime) {
		event.StartTime = req.StartTime
		event.ReminderSent = false
	}
	if req.ReminderMinutes != nil && !intPtrEqual(req.ReminderMinutes, event.ReminderMinutes) {
		event.ReminderMinutes = req.ReminderMinutes
		event.ReminderSent = false
	}
	if req.EndTime != nil {
		event.EndTime = req.EndTime
	}

	if err := s.store.UpdateEvent(r.Context(), event); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := s.sched.ScheduleEvent(r.Context(), event); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, event)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.sched.CancelEvent(id)
	if err := s.store.DeleteEvent(r.Context(), id); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- habits ----

type habitReq struct {
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	RemindAt    string `json:"remind_at"`
}

func (s *Server) createHabit(w http.ResponseWriter, r *http.Request) {
	var req habitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.WorkspaceID == "" || req.Name == "" || req.RemindAt == "" {
		http.Error(w, "workspace_id, name and remind_at are required", 400)
		return
	}
	if _, err := time.Parse("15:04", req.RemindAt); err != nil {
		http.Error(w, "remind_at must be HH:MM", 400)
		return
	}
	id, err := s.store.CreateHabit(r.Context(), domain.Habit{
		WorkspaceID: req.WorkspaceID, Name: req.Name, RemindAt: req.RemindAt,
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) listHabits(w http.ResponseWriter, r *http.Request) {
	habits, err := s.store.ListHabits(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, habits)
}

func (s *Server) deleteHabit(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteHabit(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- notifications ----

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user query parameter is required", 400)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.store.ListNotificationLog(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, out)
}

// ---- push subscriptions ----

type subscriptionReq struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) createPushSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.UserID == "" || req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		http.Error(w, "user_id, endpoint and keys are required", 400)
		return
	}
	id, err := s.store.CreatePushSubscription(r.Context(), domain.PushSubscription{
		UserID: req.UserID, Endpoint: req.Endpoint,
		P256dhKey: req.Keys.P256dh, AuthKey: req.Keys.Auth,
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) deletePushSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Endpoint == "" {
		http.Error(w, "endpoint is required", 400)
		return
	}
	if err := s.store.DeletePushSubscription(r.Context(), req.Endpoint); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	http.Error(w, err.Error(), 500)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
