package schedule

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/logger"
)

// defaultTriggerHour is used until enough history accumulates
const defaultTriggerHour = 6

// Adviser recomputes schedule profiles from observed history. Its output
// is advisory: the ticker follows it, but operators can trigger manually
// at any time.
type Adviser struct {
	store     *Store
	cfg       config.ScheduleConfig
	selection config.SelectionConfig
	logger    *zap.SugaredLogger
}

// NewAdviser creates a schedule adviser
func NewAdviser(store *Store, cfg config.ScheduleConfig, selection config.SelectionConfig) *Adviser {
	return &Adviser{
		store:     store,
		cfg:       cfg,
		selection: selection,
		logger:    logger.Named("schedule"),
	}
}

// Refresh recomputes and persists the profile for one publication type
func (a *Adviser) Refresh(publicationType string) (*Profile, error) {
	historyDays := a.cfg.HistoryDays
	if historyDays <= 0 {
		historyDays = 14
	}
	since := time.Now().AddDate(0, 0, -historyDays)

	histogram, err := a.store.QualifyingContentHistogram(since, a.selection)
	if err != nil {
		return nil, err
	}

	avgDuration, samples, err := a.store.AvgDuration(KindGeneration, since)
	if err != nil {
		return nil, err
	}

	hour := RecommendTriggerHour(histogram, avgDuration, a.slaWindow())

	profile := &Profile{
		PublicationType:        publicationType,
		RecommendedTriggerHour: hour,
		HourHistogram:          histogram,
		AvgRunDurationSeconds:  avgDuration,
		SampleCount:            samples,
	}
	if err := a.store.UpsertProfile(profile); err != nil {
		return nil, err
	}

	a.logger.Infow("Schedule profile refreshed",
		"publication_type", publicationType,
		"recommended_hour", hour,
		"avg_run_duration_s", avgDuration,
		"samples", samples)
	return profile, nil
}

func (a *Adviser) slaWindow() time.Duration {
	if a.cfg.SLAMinutes <= 0 {
		return 45 * time.Minute
	}
	return time.Duration(a.cfg.SLAMinutes) * time.Minute
}

// RecommendTriggerHour picks the hour of day with the most qualifying
// content among hours from which a run of the observed duration still
// projects to complete within the SLA window before the day ends. With no
// history it falls back to a fixed early-morning hour.
func RecommendTriggerHour(histogram map[int]int, avgDurationSeconds float64, sla time.Duration) int {
	if len(histogram) == 0 {
		return defaultTriggerHour
	}

	projected := time.Duration(avgDurationSeconds) * time.Second
	if projected < time.Minute {
		projected = time.Minute
	}
	if projected > sla {
		// runs are blowing the SLA; triggering earlier cannot fix the
		// duration but keeps completion inside the day
		projected = sla
	}

	latestFeasible := 23 - int(math.Ceil(projected.Hours()))
	if latestFeasible < 0 {
		latestFeasible = 0
	}

	bestHour := defaultTriggerHour
	bestCount := -1
	for hour := 0; hour <= latestFeasible; hour++ {
		if count := histogram[hour]; count > bestCount {
			bestHour = hour
			bestCount = count
		}
	}
	return bestHour
}
