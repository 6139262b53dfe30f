package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 执行管道指标
var (
	// ExecutionsTotal 执行总数
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitready_executions_total",
			Help: "执行总数",
		},
		[]string{"status", "organization_id"},
	)

	// ExecutionDuration 执行耗时（秒）
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exitready_execution_duration_seconds",
			Help:    "执行耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"organization_id"},
	)

	// TokensUsedTotal 补全 Token 消耗总量
	TokensUsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitready_tokens_used_total",
			Help: "补全 Token 消耗总量",
		},
		[]string{"organization_id"},
	)
)

// 审批队列指标
var (
	// ApprovalPendingGauge 待审批数量
	ApprovalPendingGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exitready_approval_pending",
			Help: "待审批数量",
		},
		[]string{"organization_id"},
	)

	// ApprovalDecisionsTotal 审批决策总数
	ApprovalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitready_approval_decisions_total",
			Help: "审批决策总数",
		},
		[]string{"organization_id", "decision"},
	)
)

// 分发指标
var (
	// DispatchesTotal 目的地分发总数
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitready_dispatches_total",
			Help: "目的地分发总数",
		},
		[]string{"platform", "action", "status"},
	)

	// WebhookEventsTotal 入站 Webhook 事件总数
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitready_webhook_events_total",
			Help: "入站 Webhook 事件总数",
		},
		[]string{"platform", "status"},
	)

	// ConditionScansTotal 条件扫描总数
	ConditionScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitready_condition_scans_total",
			Help: "条件扫描总数",
		},
		[]string{"status"},
	)
)
