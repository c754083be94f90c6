package api

import (
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/go-chi/chi/v5"
)

// workspaceCalendar serves the workspace's events as an iCalendar feed so
// external calendars (Google, Apple) can subscribe to it.
func (s *Server) workspaceCalendar(w http.ResponseWriter, r *http.Request) {
	wsID := chi.URLParam(r, "workspaceID")
	if _, err := s.store.GetWorkspace(r.Context(), wsID); err != nil {
		notFoundOr500(w, err)
		return
	}
	events, err := s.store.ListEvents(r.Context(), wsID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//lifeflow//calendar//EN")

	now := time.Now().UTC()
	for _, e := range events {
		if e.StartTime == nil {
			continue
		}
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, e.ID)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, now)
		ev.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
		if e.EndTime != nil {
			ev.Props.SetDateTime(ical.PropDateTimeEnd, e.EndTime.UTC())
		}
		ev.Props.SetText(ical.PropSummary, e.Title)
		if e.Location != "" {
			ev.Props.SetText(ical.PropLocation, e.Location)
		}
		cal.Children = append(cal.Children, ev.Component)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		http.Error(w, err.Error(), 500)
	}
}
