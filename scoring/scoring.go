// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package scoring computes per-task and aggregate agent scores and
// maintains the bounded, rank-ordered leaderboard (spec §4.15).
package scoring

import (
	"sort"
	"sync"
	"time"
)

// Difficulty is a task's difficulty tier.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Weights maps a Difficulty to its base score weight.
type Weights map[Difficulty]float64

// DefaultWeights are the out-of-the-box difficulty weights (spec
// §4.15 default: easy=1.0, medium=2.0, hard=3.0).
func DefaultWeights() Weights {
	return Weights{Easy: 1.0, Medium: 2.0, Hard: 3.0}
}

func (w Weights) weightFor(d Difficulty) float64 {
	if v, ok := w[d]; ok {
		return v
	}
	return 1.0
}

// Task is the minimal task shape scoring needs.
type Task struct {
	Difficulty Difficulty
	TimeoutMS  int64
}

// TaskResult is one task's execution outcome.
type TaskResult struct {
	Passed      bool
	ExecutionMS int64
}

// Calculator scores individual tasks and aggregates across a batch.
// TimeBonusFactor and MaxTimeBonus default to the original scoring
// constants (0.1% bonus per second saved, capped at a 50% bonus).
type Calculator struct {
	Weights         Weights
	TimeBonusFactor float64
	MaxTimeBonus    float64
}

// NewCalculator builds a Calculator with weights and the default time
// bonus tuning.
func NewCalculator(weights Weights) Calculator {
	return Calculator{
		Weights:         weights,
		TimeBonusFactor: 0.001,
		MaxTimeBonus:    1.5,
	}
}

// DefaultCalculator is NewCalculator(DefaultWeights()).
func DefaultCalculator() Calculator {
	return NewCalculator(DefaultWeights())
}

// ScoreTask scores one task result: 0 if failed, else
// difficulty_weight × time_bonus.
func (c Calculator) ScoreTask(task Task, result TaskResult) float64 {
	if !result.Passed {
		return 0
	}

	baseWeight := c.Weights.weightFor(task.Difficulty)

	timeSavedMS := task.TimeoutMS - result.ExecutionMS
	if timeSavedMS < 0 {
		timeSavedMS = 0
	}
	bonus := float64(timeSavedMS) * c.TimeBonusFactor / 1000.0
	if maxBonus := c.MaxTimeBonus - 1.0; bonus > maxBonus {
		bonus = maxBonus
	}
	timeBonus := 1.0 + bonus

	return baseWeight * timeBonus
}

// DifficultyStats tracks per-difficulty totals within an AggregateScore.
type DifficultyStats struct {
	Total      int
	Passed     int
	TotalScore float64
}

// PassRate returns Passed/Total, or 0 if Total is 0.
func (s DifficultyStats) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total)
}

// AggregateScore is the scored outcome of a batch of tasks for one agent.
type AggregateScore struct {
	TotalScore      float64
	NormalizedScore float64
	MaxPossible     float64
	TasksPassed     int
	TasksFailed     int
	PassRate        float64
	ByDifficulty    map[Difficulty]DifficultyStats
}

// TotalTasks is TasksPassed + TasksFailed.
func (a AggregateScore) TotalTasks() int { return a.TasksPassed + a.TasksFailed }

// Percentage is NormalizedScore × 100.
func (a AggregateScore) Percentage() float64 { return a.NormalizedScore * 100 }

// Aggregate computes the aggregate score across tasks/results, which
// must be the same length and pairwise-aligned.
func (c Calculator) Aggregate(tasks []Task, results []TaskResult) AggregateScore {
	n := len(tasks)
	if len(results) < n {
		n = len(results)
	}

	var totalScore, maxPossible float64
	var passed, failed int
	byDifficulty := make(map[Difficulty]DifficultyStats)

	for i := 0; i < n; i++ {
		task, result := tasks[i], results[i]
		score := c.ScoreTask(task, result)
		weight := c.Weights.weightFor(task.Difficulty)
		maxScore := weight * c.MaxTimeBonus

		totalScore += score
		maxPossible += maxScore

		if result.Passed {
			passed++
		} else {
			failed++
		}

		stats := byDifficulty[task.Difficulty]
		stats.Total++
		if result.Passed {
			stats.Passed++
		}
		stats.TotalScore += score
		byDifficulty[task.Difficulty] = stats
	}

	var normalized float64
	if maxPossible > 0 {
		normalized = totalScore / maxPossible
	}
	var passRate float64
	if passed+failed > 0 {
		passRate = float64(passed) / float64(passed+failed)
	}

	return AggregateScore{
		TotalScore:      totalScore,
		NormalizedScore: normalized,
		MaxPossible:     maxPossible,
		TasksPassed:     passed,
		TasksFailed:     failed,
		PassRate:        passRate,
		ByDifficulty:    byDifficulty,
	}
}

// ToWeight converts an AggregateScore into a chain weight assignment
// in [0, 1], clamping the normalized score defensively.
func (c Calculator) ToWeight(score AggregateScore) float64 {
	switch {
	case score.NormalizedScore < 0:
		return 0
	case score.NormalizedScore > 1:
		return 1
	default:
		return score.NormalizedScore
	}
}

// LeaderboardEntry is one ranked agent row.
type LeaderboardEntry struct {
	AgentHash   string
	Score       AggregateScore
	EvaluatedAt time.Time
}

// DefaultMaxEntries is the out-of-the-box leaderboard size.
const DefaultMaxEntries = 100

// Leaderboard keeps the top maxEntries agents sorted by normalized
// score descending. It is safe for concurrent use.
type Leaderboard struct {
	mu         sync.RWMutex
	entries    []LeaderboardEntry
	maxEntries int
	now        func() time.Time
}

// NewLeaderboard builds a Leaderboard retaining at most maxEntries
// rows. maxEntries <= 0 uses DefaultMaxEntries.
func NewLeaderboard(maxEntries int) *Leaderboard {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Leaderboard{maxEntries: maxEntries, now: time.Now}
}

// Update inserts or replaces agentHash's entry and re-sorts/re-trims
// the leaderboard.
func (l *Leaderboard) Update(agentHash string, score AggregateScore) {
	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := l.entries[:0:0]
	for _, e := range l.entries {
		if e.AgentHash != agentHash {
			filtered = append(filtered, e)
		}
	}
	filtered = append(filtered, LeaderboardEntry{
		AgentHash:   agentHash,
		Score:       score,
		EvaluatedAt: l.now(),
	})

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score.NormalizedScore > filtered[j].Score.NormalizedScore
	})
	if len(filtered) > l.maxEntries {
		filtered = filtered[:l.maxEntries]
	}
	l.entries = filtered
}

// Top returns the top n entries (or fewer, if the leaderboard is smaller).
func (l *Leaderboard) Top(n int) []LeaderboardEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]LeaderboardEntry, n)
	copy(out, l.entries[:n])
	return out
}

// Rank returns agentHash's 1-based rank, or false if it is not present.
func (l *Leaderboard) Rank(agentHash string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, e := range l.entries {
		if e.AgentHash == agentHash {
			return i + 1, true
		}
	}
	return 0, false
}

// Get returns agentHash's current entry, if present.
func (l *Leaderboard) Get(agentHash string) (LeaderboardEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.AgentHash == agentHash {
			return e, true
		}
	}
	return LeaderboardEntry{}, false
}

// All returns every current entry, ranked order.
func (l *Leaderboard) All() []LeaderboardEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LeaderboardEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
