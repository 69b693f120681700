package domain

import (
	"errors"
	"sort"
	"time"
)

// RecurrenceLookahead bounds how far a weekly availability rule is expanded.
const RecurrenceLookahead = 180 * 24 * time.Hour

// WeeklyRule repeats a template window on the given ISO weekdays (1=Monday..7=Sunday)
// every Interval weeks, keeping the local wall-clock start in TimeZone.
type WeeklyRule struct {
	First     TimeWindow
	TimeZone  string
	Interval  int
	ByWeekday []int16
	Until     *time.Time
	Count     *int
}

// ExpandWeekly returns the rule's occurrences whose start falls before horizon, in
// ascending order. Count and Until stop the expansion early.
func ExpandWeekly(rule WeeklyRule, horizon time.Time) ([]TimeWindow, error) {
	duration := rule.First.Duration()
	if duration <= 0 {
		return nil, errors.New("invalid duration")
	}

	loc, err := time.LoadLocation(rule.TimeZone)
	if err != nil {
		return nil, errors.New("invalid time_zone")
	}

	weekdays, err := normalizeWeekdays(rule.ByWeekday)
	if err != nil {
		return nil, err
	}

	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	firstUTC := rule.First.Start.UTC()
	firstLocal := rule.First.Start.In(loc)
	anchorMonday := mondayDateUTC(firstLocal)
	horizonMonday := mondayDateUTC(horizon.In(loc)).AddDate(0, 0, 7)

	remaining := -1
	if rule.Count != nil {
		remaining = *rule.Count
	}

	out := make([]TimeWindow, 0, 16)
	for week := 0; ; week++ {
		weekMonday := anchorMonday.AddDate(0, 0, week*interval*7)
		if !weekMonday.Before(horizonMonday) {
			return out, nil
		}

		for _, wd := range weekdays {
			day := weekMonday.AddDate(0, 0, weekdayOffsetFromMonday(wd))
			startLocal := time.Date(
				day.Year(), day.Month(), day.Day(),
				firstLocal.Hour(), firstLocal.Minute(), firstLocal.Second(), firstLocal.Nanosecond(),
				loc,
			)
			start := startLocal.UTC()
			if start.Before(firstUTC) {
				continue
			}
			if !start.Before(horizon) {
				return out, nil
			}
			if rule.Until != nil && start.After(rule.Until.UTC()) {
				return out, nil
			}
			if remaining == 0 {
				return out, nil
			}
			out = append(out, TimeWindow{Start: start, End: start.Add(duration)})
			if remaining > 0 {
				remaining--
			}
		}
	}
}

func normalizeWeekdays(in []int16) ([]int16, error) {
	seen := make(map[int16]struct{}, len(in))
	out := make([]int16, 0, len(in))
	for _, wd := range in {
		if wd < 1 || wd > 7 {
			return nil, errors.New("invalid weekday")
		}
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		out = append(out, wd)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one weekday is required")
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ISOWeekday maps time.Weekday onto 1=Monday..7=Sunday.
func ISOWeekday(d time.Weekday) int16 {
	if d == time.Sunday {
		return 7
	}
	return int16(d)
}

func mondayDateUTC(t time.Time) time.Time {
	offset := int(ISOWeekday(t.Weekday())) - 1
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -offset)
}

func weekdayOffsetFromMonday(weekday int16) int {
	return int(weekday) - 1
}
