// Package condition implements component B: evaluating a PolicyRule's
// guard predicates (env, time_range, day_of_week) against an agent's
// runtime context. All three predicates are deterministic and
// side-effect-free except for the single wall-clock read each evaluation
// takes from the injected Clock.
package condition

import "time"

// Clock supplies the current UTC instant. Production code uses
// RealClock{}; tests inject a fixed or sequenced fake, per §9's design
// note that a test harness must allow injecting a fake clock.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock, always converted to UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// TimeRange is a "HH:MM"-HH:MM UTC wall-clock window. When End is
// lexicographically/numerically before Start, the window wraps midnight.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Conditions are the AND-ed guard predicates attached to a PolicyRule.
// A zero-value Conditions (all fields empty) always evaluates to true.
type Conditions struct {
	Env       []string   `json:"env,omitempty"`
	TimeRange *TimeRange `json:"time_range,omitempty"`
	DayOfWeek []string   `json:"day_of_week,omitempty"`
	// Expr is an optional CEL boolean expression evaluated against the
	// enforce call's runtime_ctx, for guards the fixed predicates above
	// can't express. Absent Expr always passes.
	Expr string `json:"expr,omitempty"`
}

// Evaluate reports whether every present predicate in c holds against env
// (the agent's runtime environment) and now (the current UTC instant).
// Empty/absent conditions evaluate to true.
func Evaluate(c Conditions, env string, clock Clock) bool {
	if clock == nil {
		clock = RealClock{}
	}
	now := clock.Now().UTC()

	if len(c.Env) > 0 && !contains(c.Env, env) {
		return false
	}
	if c.TimeRange != nil && !inTimeRange(*c.TimeRange, now) {
		return false
	}
	if len(c.DayOfWeek) > 0 && !contains(c.DayOfWeek, now.Weekday().String()) {
		return false
	}
	return true
}

// EvaluateWithContext is Evaluate plus the optional Expr guard, evaluated
// against runtimeCtx. A non-nil error means the expression failed to
// compile or evaluate; callers (the decision engine) treat that as a
// failed guard, not a passed one.
func EvaluateWithContext(c Conditions, env string, clock Clock, runtimeCtx map[string]any) (bool, error) {
	if !Evaluate(c, env, clock) {
		return false, nil
	}
	if c.Expr == "" {
		return true, nil
	}
	return evalExpr(c.Expr, runtimeCtx)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// inTimeRange parses "HH:MM" boundaries and compares against now's UTC
// wall-clock minute-of-day, wrapping past midnight when end < start.
func inTimeRange(tr TimeRange, now time.Time) bool {
	start, okStart := minutesOfDay(tr.Start)
	end, okEnd := minutesOfDay(tr.End)
	if !okStart || !okEnd {
		return false
	}
	cur := now.Hour()*60 + now.Minute()

	if end < start {
		return cur >= start || cur <= end
	}
	return cur >= start && cur <= end
}

func minutesOfDay(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
