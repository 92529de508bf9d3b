package learner

import (
	"sort"
	"sync"

	"github.com/rcliao/chat2course/internal/model"
)

const (
	// Alpha is the EMA smoothing factor.
	Alpha = 0.1
	// InitialScore is the score of a strategy with no observations.
	InitialScore = 0.5
)

// StrategyScore is one entry of the strategy ranking.
type StrategyScore struct {
	Strategy model.Strategy `json:"strategy"`
	Score    float64        `json:"success_ema"`
	Samples  int            `json:"samples"`
}

// StrategyTracker keeps an exponential moving average of chunk success per strategy.
// It only ranks strategies and never touches the processing limits.
type StrategyTracker struct {
	mu      sync.RWMutex
	scores  map[model.Strategy]float64
	samples map[model.Strategy]int
}

// NewStrategyTracker seeds every known strategy at InitialScore.
func NewStrategyTracker() *StrategyTracker {
	t := &StrategyTracker{
		scores:  make(map[model.Strategy]float64, len(model.Strategies)),
		samples: make(map[model.Strategy]int, len(model.Strategies)),
	}
	for _, s := range model.Strategies {
		t.scores[s] = InitialScore
	}
	return t
}

// Record folds one outcome into the strategy's average and returns the new score.
func (t *StrategyTracker) Record(s model.Strategy, success bool) float64 {
	outcome := 0.0
	if success {
		outcome = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.scores[s]
	if !ok {
		old = InitialScore
	}
	t.scores[s] = old*(1-Alpha) + outcome*Alpha
	t.samples[s]++
	return t.scores[s]
}

// Ranking returns strategies best first; ties keep escalation order.
func (t *StrategyTracker) Ranking() []StrategyScore {
	t.mu.RLock()
	out := make([]StrategyScore, 0, len(t.scores))
	for _, s := range model.Strategies {
		out = append(out, StrategyScore{Strategy: s, Score: t.scores[s], Samples: t.samples[s]})
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
