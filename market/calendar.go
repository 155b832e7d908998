package market

import "time"

// TimeMetrics carries the expiry calendar for one evaluation cycle.
type TimeMetrics struct {
	Today            time.Time
	WeeklyExpiry     time.Time
	MonthlyExpiry    time.Time
	NextWeeklyExpiry time.Time

	DTEWeekly     int
	DTEMonthly    int
	DTENextWeekly int

	IsGammaWeek  bool // weekly DTE at or inside the danger threshold
	IsGammaMonth bool
}

// NewTimeMetrics derives days-to-expiry and gamma-danger flags from the
// expiry dates. gammaDangerDTE is the threshold at or below which the
// short-gamma flags set (default 1).
func NewTimeMetrics(today, weekly, monthly, nextWeekly time.Time, gammaDangerDTE int) TimeMetrics {
	t := TimeMetrics{
		Today:            today,
		WeeklyExpiry:     weekly,
		MonthlyExpiry:    monthly,
		NextWeeklyExpiry: nextWeekly,
		DTEWeekly:        DaysBetween(today, weekly),
		DTEMonthly:       DaysBetween(today, monthly),
		DTENextWeekly:    DaysBetween(today, nextWeekly),
	}
	t.IsGammaWeek = t.DTEWeekly <= gammaDangerDTE
	t.IsGammaMonth = t.DTEMonthly <= gammaDangerDTE
	return t
}

// DaysBetween returns whole calendar days from a to b, negative when b is
// in the past.
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// NextWeekday returns the next occurrence of w strictly after t.
func NextWeekday(t time.Time, w time.Weekday) time.Time {
	days := (int(w) - int(t.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return t.AddDate(0, 0, days)
}
