package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"turnoplus/backend/internal/domain"
	"turnoplus/backend/internal/store"
)

// maxRecurrenceInterval caps the week stride; larger values cannot produce a
// second occurrence inside the expansion horizon anyway.
const maxRecurrenceInterval = 52

type RecurringAvailabilityInput struct {
	DoctorID uuid.UUID
	Start    time.Time
	End      time.Time
	Rule     RecurrenceRule
}

type RecurrenceRule struct {
	Interval  int
	ByWeekday []int16
	Until     *time.Time
	Count     *int
	TimeZone  string
}

// CreateRecurringAvailability expands a weekly rule from the first window and
// stores one availability per occurrence. Either every occurrence is created or
// none is.
func (s *Service) CreateRecurringAvailability(ctx context.Context, in RecurringAvailabilityInput) ([]domain.Availability, error) {
	rule, err := normalizeRule(in)
	if err != nil {
		return nil, err
	}
	if err := s.requireDoctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}
	d, err := s.blockDuration(ctx)
	if err != nil {
		return nil, err
	}
	if rule.First.Duration() < d {
		return nil, validationError(msgTooShort)
	}

	horizon := rule.First.Start.Add(domain.RecurrenceLookahead)
	if rule.Until != nil && rule.Until.Before(horizon) {
		horizon = rule.Until.Add(time.Nanosecond)
	}
	occurrences, err := domain.ExpandWeekly(rule, horizon)
	if err != nil {
		return nil, validationError(err.Error())
	}
	if len(occurrences) == 0 {
		return nil, validationError("recurrence rule produces no occurrences")
	}
	if rule.Count != nil && len(occurrences) < *rule.Count {
		if rule.Until != nil && rule.Until.Before(rule.First.Start.Add(domain.RecurrenceLookahead)) {
			return nil, validationError("count exceeds occurrences available before until")
		}
		return nil, validationError("count exceeds occurrences available within 180 days of start")
	}
	for i := 1; i < len(occurrences); i++ {
		if occurrences[i-1].Overlaps(occurrences[i]) {
			return nil, validationError(msgOverlap)
		}
	}

	drafts := make([]domain.Availability, 0, len(occurrences))
	for _, w := range occurrences {
		av, err := domain.NewAvailability(in.DoctorID, w, d)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, av)
	}

	var out []domain.Availability
	err = s.run(ctx, "create_recurring_availability", "", func(ctx context.Context, tx store.SchedulingTx) error {
		out = out[:0]
		if err := tx.LockDoctor(ctx, in.DoctorID); err != nil {
			return err
		}
		for _, draft := range drafts {
			if err := ensureNoOverlap(ctx, tx, in.DoctorID, draft.Window(), uuid.Nil); err != nil {
				return err
			}
			av, err := tx.CreateAvailability(ctx, draft)
			if err != nil {
				return err
			}
			out = append(out, av)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "recurring availability created",
		"doctor_id", in.DoctorID, "occurrences", len(out), "time_zone", rule.TimeZone)
	return out, nil
}

func normalizeRule(in RecurringAvailabilityInput) (domain.WeeklyRule, error) {
	tz := strings.TrimSpace(in.Rule.TimeZone)
	if tz == "" {
		return domain.WeeklyRule{}, validationError("time_zone is required")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return domain.WeeklyRule{}, validationError("invalid time_zone")
	}

	first, err := newWindow(in.Start, in.End)
	if err != nil {
		return domain.WeeklyRule{}, err
	}
	if first.Duration() > 24*time.Hour {
		return domain.WeeklyRule{}, validationError("duration too long")
	}

	interval := in.Rule.Interval
	if interval == 0 {
		interval = 1
	}
	if interval < 1 {
		return domain.WeeklyRule{}, validationError("interval must be at least 1")
	}
	if interval > maxRecurrenceInterval {
		return domain.WeeklyRule{}, validationError(fmt.Sprintf("interval must be at most %d", maxRecurrenceInterval))
	}

	weekdays := in.Rule.ByWeekday
	if len(weekdays) == 0 {
		weekdays = []int16{domain.ISOWeekday(first.Start.In(loc).Weekday())}
	}
	for _, wd := range weekdays {
		if wd < 1 || wd > 7 {
			return domain.WeeklyRule{}, validationError("invalid weekday")
		}
	}

	rule := domain.WeeklyRule{
		First:     first,
		TimeZone:  tz,
		Interval:  interval,
		ByWeekday: weekdays,
	}

	if in.Rule.Until != nil {
		u := in.Rule.Until.UTC()
		if u.Before(first.Start) {
			return domain.WeeklyRule{}, validationError("until must be after start")
		}
		if in.Rule.Count == nil && u.After(first.Start.Add(domain.RecurrenceLookahead)) {
			return domain.WeeklyRule{}, validationError("until must be within 180 days of start")
		}
		rule.Until = &u
	}
	if in.Rule.Count != nil {
		c := *in.Rule.Count
		if c < 1 {
			return domain.WeeklyRule{}, validationError("count must be at least 1")
		}
		rule.Count = &c
	}
	if rule.Until == nil && rule.Count == nil {
		return domain.WeeklyRule{}, validationError("until or count is required")
	}
	return rule, nil
}
