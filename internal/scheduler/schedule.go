// Package scheduler fires workflows on recurring schedules. Specs accept
// standard five-field cron expressions or a comma-separated HH:MM list
// meaning daily at each time, UTC. Overlap policies decide what a firing
// does when the previous run is still open.
package scheduler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentflow/agentflow/internal/errkind"
)

// Overlap policies
const (
	OverlapSkip      = "skip"       // drop the firing
	OverlapBufferOne = "buffer_one" // run once more after the current run closes
	OverlapAllowAll  = "allow_all"  // always start
)

// Schedule is a recurring workflow trigger
type Schedule struct {
	ID            string          `json:"id" db:"id"`
	Spec          string          `json:"spec" db:"spec"`
	WorkflowType  string          `json:"workflow_type" db:"workflow_type"`
	Input         json.RawMessage `json:"input,omitempty" db:"input"`
	OverlapPolicy string          `json:"overlap_policy" db:"overlap_policy"`
	Paused        bool            `json:"paused" db:"paused"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Validate checks the schedule's fields
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return errkind.New(errkind.SchemaViolation, "scheduler.Validate", "schedule id is empty")
	}
	if s.WorkflowType == "" {
		return errkind.New(errkind.SchemaViolation, "scheduler.Validate", "workflow type is empty")
	}
	switch s.OverlapPolicy {
	case OverlapSkip, OverlapBufferOne, OverlapAllowAll:
	case "":
		s.OverlapPolicy = OverlapSkip
	default:
		return errkind.Newf(errkind.SchemaViolation, "scheduler.Validate", "unknown overlap policy %q", s.OverlapPolicy)
	}
	if _, err := ParseSpec(s.Spec); err != nil {
		return err
	}
	return nil
}

var hhmmPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// multiSchedule fires at the earliest next time of its parts
type multiSchedule []cron.Schedule

func (m multiSchedule) Next(t time.Time) time.Time {
	var next time.Time
	for _, s := range m {
		n := s.Next(t)
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// ParseSpec parses a schedule spec. A comma-separated "HH:MM" list is
// shorthand for daily firings at each time, UTC; anything else must be
// a five-field cron line.
func ParseSpec(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, errkind.New(errkind.SchemaViolation, "scheduler.ParseSpec", "spec is empty")
	}
	if parts, ok := splitTimes(spec); ok {
		daily := make(multiSchedule, 0, len(parts))
		for _, m := range parts {
			parsed, err := cronParser.Parse(fmt.Sprintf("CRON_TZ=UTC %s %s * * *", m[2], m[1]))
			if err != nil {
				return nil, errkind.Wrap(errkind.SchemaViolation, "scheduler.ParseSpec", err)
			}
			daily = append(daily, parsed)
		}
		if len(daily) == 1 {
			return daily[0], nil
		}
		return daily, nil
	}
	// Pin plain cron lines to UTC; the parser would otherwise bake the
	// process-local timezone into the schedule. An explicit TZ prefix wins.
	if !strings.HasPrefix(spec, "TZ=") && !strings.HasPrefix(spec, "CRON_TZ=") {
		spec = "CRON_TZ=UTC " + spec
	}
	parsed, err := cronParser.Parse(spec)
	if err != nil {
		return nil, errkind.Wrap(errkind.SchemaViolation, "scheduler.ParseSpec", err)
	}
	return parsed, nil
}

// splitTimes matches the HH:MM shorthand. All comma-separated elements
// must be valid times, otherwise the spec is treated as cron (which has
// its own comma syntax).
func splitTimes(spec string) ([][]string, bool) {
	elems := strings.Split(spec, ",")
	parts := make([][]string, 0, len(elems))
	for _, e := range elems {
		m := hhmmPattern.FindStringSubmatch(strings.TrimSpace(e))
		if m == nil {
			return nil, false
		}
		parts = append(parts, m)
	}
	return parts, true
}
