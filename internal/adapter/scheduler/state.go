package scheduler

import (
	"sync"
	"time"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/util"
)

type historyEntry struct {
	at        time.Time
	itemCount int
	success   bool
	errMsg    string
}

// runtimeState is the scheduler-owned mutable state of one source.
type runtimeState struct {
	mu sync.Mutex

	defaultInterval  time.Duration
	adaptiveInterval time.Duration
	minInterval      time.Duration
	maxInterval      time.Duration
	adaptiveEnabled  bool

	lastFetch         time.Time
	lastCount         int
	successRate       float64
	frequencyScore    float64
	consecutiveErrors int
	lastError         string

	history  []historyEntry
	fetching bool
}

func newRuntimeState(cfg domain.SourceConfig, opts domain.SourceOptions) *runtimeState {
	interval := cfg.UpdateInterval
	if interval <= 0 {
		interval = domain.DefaultUpdateInterval
	}
	min, max := opts.Bounds()

	return &runtimeState{
		defaultInterval:  interval,
		adaptiveInterval: interval,
		minInterval:      min,
		maxInterval:      max,
		adaptiveEnabled:  opts.AdaptiveEnabled(),
		successRate:      1.0,
		frequencyScore:   0.5,
	}
}

// effectiveInterval assumes the mutex is held.
func (st *runtimeState) effectiveInterval() time.Duration {
	if st.adaptiveEnabled {
		return st.adaptiveInterval
	}
	return st.defaultInterval
}

// recordOutcome folds one fetch outcome into the state and recomputes the
// adaptive interval.
func (s *Scheduler) recordOutcome(src ports.Source, state *runtimeState, items []domain.NewsItem, success bool) {
	now := s.now()

	state.mu.Lock()
	defer state.mu.Unlock()

	state.lastFetch = now
	state.lastCount = len(items)

	sample := 0.0
	entry := historyEntry{at: now, itemCount: len(items), success: success}
	if success {
		sample = 1.0
		state.consecutiveErrors = 0
		state.lastError = ""
	} else {
		state.consecutiveErrors++
		state.lastError = "fetch produced no items"
		entry.errMsg = state.lastError
	}
	state.successRate = emaKeep*state.successRate + emaSample*sample

	state.history = append(state.history, entry)
	if len(state.history) > historyCap {
		state.history = state.history[len(state.history)-historyCap:]
	}

	if success {
		state.updateFrequencyScore(items, now)
	}

	if !state.adaptiveEnabled {
		return
	}

	if !success {
		// Standalone failure backoff, independent of the score bands.
		state.adaptiveInterval = maxDuration(state.minInterval,
			util.FailureBackoff(state.adaptiveInterval, state.maxInterval))
		return
	}

	if len(state.history) < 2 {
		return
	}

	state.recomputeAdaptiveInterval(now)
	s.logger.Debug("adaptive interval recomputed",
		"source", src.SourceID(),
		"interval", state.adaptiveInterval,
		"frequency_score", state.frequencyScore,
		"growth_rate", state.avgGrowthRate())
}

// updateFrequencyScore maps the freshest published_at to a 0.1-0.9 sample and
// EMA-blends it in. Assumes the mutex is held.
func (st *runtimeState) updateFrequencyScore(items []domain.NewsItem, now time.Time) {
	var freshest time.Time
	for i := range items {
		if items[i].PublishedAt.After(freshest) {
			freshest = items[i].PublishedAt
		}
	}
	if freshest.IsZero() {
		return
	}

	delta := now.Sub(freshest)
	var sample float64
	switch {
	case delta < 5*time.Minute:
		sample = 0.9
	case delta < 15*time.Minute:
		sample = 0.7
	case delta < 30*time.Minute:
		sample = 0.5
	case delta < time.Hour:
		sample = 0.3
	default:
		sample = 0.1
	}
	st.frequencyScore = emaKeep*st.frequencyScore + emaSample*sample
}

// recomputeAdaptiveInterval applies the score bands and the time-of-day bias.
// Assumes the mutex is held and at least two history entries exist.
func (st *runtimeState) recomputeAdaptiveInterval(now time.Time) {
	successes := 0
	for _, h := range st.history {
		if h.success {
			successes++
		}
	}
	historySuccessRate := float64(successes) / float64(len(st.history))

	score := 0.6*st.frequencyScore + 0.4*historySuccessRate

	base := float64(st.defaultInterval)
	var next time.Duration
	switch {
	case score > 0.8:
		next = maxDuration(st.minInterval, time.Duration(base*0.5))
	case score > 0.6:
		next = maxDuration(st.minInterval, time.Duration(base*0.8))
	case score > 0.4:
		next = st.defaultInterval
	case score > 0.2:
		next = minDuration(st.maxInterval, time.Duration(base*1.2))
	default:
		next = minDuration(st.maxInterval, time.Duration(base*1.5))
	}

	hour := now.Hour()
	if hour >= dayStartHour && hour < dayEndHour {
		next = maxDuration(st.minInterval, time.Duration(float64(next)*dayBias))
	} else {
		next = minDuration(st.maxInterval, time.Duration(float64(next)*nightBias))
	}

	st.adaptiveInterval = next
}

// avgGrowthRate is the mean item delta per second across consecutive history
// pairs. Assumes the mutex is held.
func (st *runtimeState) avgGrowthRate() float64 {
	if len(st.history) < 2 {
		return 0
	}
	var total float64
	pairs := 0
	for i := 1; i < len(st.history); i++ {
		dt := st.history[i].at.Sub(st.history[i-1].at).Seconds()
		if dt <= 0 {
			continue
		}
		total += float64(st.history[i].itemCount-st.history[i-1].itemCount) / dt
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
