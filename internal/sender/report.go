package sender

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "pacebot/pkg/logx"
)

type reporter struct {
	c  *cron.Cron
	id cron.EntryID
}

var reportParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// StartReporter logs every lane's stats on schedule (a cron spec such as
// "@every 10m" or "0 * * * *") evaluated in tz. An empty schedule stops
// any running reporter.
func (s *Service) StartReporter(schedule, tz string) error {
	s.StopReporter()
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil
	}
	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("report timezone: %w", err)
		}
		loc = l
	}

	c := cron.New(cron.WithParser(reportParser), cron.WithLocation(loc))
	id, err := c.AddFunc(schedule, s.Report)
	if err != nil {
		return fmt.Errorf("report schedule %q: %w", schedule, err)
	}
	c.Start()

	s.mu.Lock()
	s.reporter = &reporter{c: c, id: id}
	s.mu.Unlock()
	s.log.Info("stats reporter scheduled", logx.String("schedule", schedule), logx.Time("next", c.Entry(id).Next))
	return nil
}

func (s *Service) StopReporter() {
	s.mu.Lock()
	r := s.reporter
	s.reporter = nil
	s.mu.Unlock()
	if r != nil {
		<-r.c.Stop().Done()
	}
}

// Report logs one line per lane.
func (s *Service) Report() {
	for _, st := range s.Stats() {
		s.log.Info("lane stats",
			logx.String("lane", st.Name),
			logx.Int("depth", st.Depth),
			logx.Bool("running", st.Running),
			logx.Uint64("completed", st.Completed),
			logx.Uint64("failed", st.Failed),
			logx.Uint64("restored", st.Restored),
			logx.Int("in_window", st.InWindow),
		)
	}
}

// FormatStats renders lane stats as short plain-text lines.
func (s *Service) FormatStats() string {
	stats := s.Stats()
	if len(stats) == 0 {
		return "no lanes configured"
	}
	var b strings.Builder
	for _, st := range stats {
		state := "idle"
		switch {
		case st.Stopped:
			state = "stopped"
		case st.Running:
			state = "running"
		}
		fmt.Fprintf(&b, "%s: %s, depth=%d done=%d failed=%d restored=%d window=%d",
			st.Name, state, st.Depth, st.Completed, st.Failed, st.Restored, st.InWindow)
		if !st.LastStart.IsZero() {
			fmt.Fprintf(&b, " last=%s", st.LastStart.Format(time.TimeOnly))
		}
		if st.Halts > 0 {
			fmt.Fprintf(&b, " halts=%d", st.Halts)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
