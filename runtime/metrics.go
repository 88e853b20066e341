package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellmesh_cell_messages_total",
		Help: "Inbox messages processed, by terminal outcome.",
	}, []string{"cell", "outcome"})

	llmCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellmesh_llm_calls_total",
		Help: "LLM calls made by cell runtimes.",
	}, []string{"cell", "outcome"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellmesh_llm_tokens_total",
		Help: "Tokens consumed by LLM calls.",
	}, []string{"cell", "kind"})

	llmCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellmesh_llm_cost_total",
		Help: "Accumulated LLM cost per cell.",
	}, []string{"cell"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cellmesh_llm_latency_seconds",
		Help:    "Latency of LLM calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"cell"})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellmesh_tool_calls_total",
		Help: "Tool calls executed by cell runtimes.",
	}, []string{"cell", "tool", "outcome"})
)
