package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/datastore"
	"github.com/jpaulin/freebird-go/internal/notification"
	"github.com/jpaulin/freebird-go/internal/observability"
)

// SummaryScheduler sends a daily sighting digest at a fixed local time.
type SummaryScheduler struct {
	store    datastore.Interface
	notifier notification.Notifier
	metrics  *observability.Metrics

	hour     int
	minute   int
	location *time.Location
}

// NewSummaryScheduler creates the scheduler from the configured summary
// settings. An invalid timezone falls back to the system's local time.
func NewSummaryScheduler(settings *conf.Settings, store datastore.Interface,
	notifier notification.Notifier, metrics *observability.Metrics,
) *SummaryScheduler {
	location := time.Local
	if tz := settings.Summary.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Warn("invalid summary timezone, using local time", "timezone", tz, "error", err)
		} else {
			location = loc
		}
	}
	return &SummaryScheduler{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		hour:     settings.Summary.Hour,
		minute:   settings.Summary.Minute,
		location: location,
	}
}

// Run sleeps until each next occurrence of the configured time of day and
// sends the digest, until ctx is cancelled.
func (s *SummaryScheduler) Run(ctx context.Context) error {
	for {
		delay := time.Until(s.nextOccurrence(time.Now()))
		logger.Info("next daily summary scheduled", "in_minutes", int(delay.Minutes()))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.sendSummary(ctx); err != nil {
			logger.Error("failed to send daily summary", "error", err)
			continue
		}
		logger.Info("daily summary sent")
	}
}

// nextOccurrence returns the next configured time of day strictly after
// now.
func (s *SummaryScheduler) nextOccurrence(now time.Time) time.Time {
	local := now.In(s.location)
	target := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.location)
	if !target.After(local) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

// sendSummary builds and delivers today's digest: total visits, unique
// species and per-species counts.
func (s *SummaryScheduler) sendSummary(ctx context.Context) error {
	sightings, err := s.store.TodaySightings()
	if err != nil {
		return err
	}

	if len(sightings) == 0 {
		return s.notify(ctx, "Daily summary: No bird sightings today.")
	}

	counts := map[string]int{}
	for i := range sightings {
		name := sightings[i].Species
		if name == "" {
			name = "Unknown"
		}
		counts[name]++
	}

	type speciesCount struct {
		name  string
		count int
	}
	ordered := make([]speciesCount, 0, len(counts))
	for name, count := range counts {
		ordered = append(ordered, speciesCount{name, count})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].name < ordered[j].name
	})

	var b strings.Builder
	b.WriteString("Daily Summary:\n")
	fmt.Fprintf(&b, "  Total visits: %d\n", len(sightings))
	fmt.Fprintf(&b, "  Unique species: %d\n\n", len(counts))
	b.WriteString("Visits per species:")
	for _, sc := range ordered {
		fmt.Fprintf(&b, "\n  %s: %d", sc.name, sc.count)
	}
	return s.notify(ctx, b.String())
}

func (s *SummaryScheduler) notify(ctx context.Context, text string) error {
	if err := s.notifier.NotifySummary(ctx, text); err != nil {
		return err
	}
	s.metrics.NotificationsSent.WithLabelValues("summary").Inc()
	return nil
}
