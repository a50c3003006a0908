package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors for the game engine, scraped from the ops server
// at /metrics.
var (
	ChannelsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quietend_channels_created_total",
		Help: "Chat channels created, by kind.",
	}, []string{"kind"})

	ChannelsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quietend_channels_reaped_total",
		Help: "Chat channels deleted by reclamation, by kind.",
	}, []string{"kind"})

	ActiveLocationChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quietend_active_location_channels",
		Help: "Location channels currently live against the channel budget.",
	})

	TravelsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quietend_travels_started_total",
		Help: "Travel sessions initiated.",
	})

	TravelsArrived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quietend_travels_arrived_total",
		Help: "Travel sessions that completed arrival.",
	})

	TravelsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quietend_travels_terminated_total",
		Help: "Travel sessions ended by a terminal status, by status.",
	}, []string{"status"})

	CaptureAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quietend_capture_attempts_total",
		Help: "Bounty capture attempts, by outcome.",
	}, []string{"outcome"})

	VotesTallied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quietend_votes_tallied_total",
		Help: "Group vote sessions tallied, by kind and outcome.",
	}, []string{"kind", "outcome"})

	NewsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quietend_news_delivered_total",
		Help: "Delayed news items delivered to guild update channels.",
	})

	ReaperSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quietend_reaper_sweeps_total",
		Help: "Reaper sweep cycles completed.",
	})

	ReaperSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quietend_reaper_skips_total",
		Help: "Reaper work items skipped, by reason.",
	}, []string{"reason"})
)
