package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_sessions_active",
		Help: "Live sessions currently held in memory.",
	})

	GamesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_games_finished_total",
		Help: "Terminated sessions by reason.",
	}, []string{"reason"})

	MovesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_moves_total",
		Help: "Legal moves applied across all sessions.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_queue_depth",
		Help: "Players currently waiting in the matchmaking queue.",
	})

	PairsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_pairs_matched_total",
		Help: "Successful matchmaking pairings.",
	})

	WagerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_wager_transitions_total",
		Help: "Wager challenge status transitions.",
	}, []string{"status"})
)
