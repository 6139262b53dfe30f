package automation

import (
	"context"
	"testing"
	"time"

	"backend/internal/connector"
	"backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func seedConditionRule(t *testing.T, db *gorm.DB, source string, triggerConfig map[string]any) *models.TriggerRule {
	t.Helper()
	rule := &models.TriggerRule{
		ID:             uuid.NewString(),
		OrganizationID: "org-1",
		Name:           "条件规则",
		TriggerType:    models.TriggerTypeCondition,
		TriggerSource:  source,
		TriggerConfig:  triggerConfig,
		SkillID:        uuid.NewString(),
		ActionType:     models.ActionTypeApproval,
		IsActive:       true,
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return rule
}

func newTestScanner(t *testing.T, db *gorm.DB, crm *fakeCRM, now time.Time) *ConditionScanner {
	t.Helper()
	resolver := &fakeResolver{conns: map[string]connector.Connector{"hubspot": crm}}
	scanner := NewConditionScanner(db, resolver, zap.NewNop())
	scanner.now = func() time.Time { return now }
	return scanner
}

func TestScanConditionsInactiveContacts(t *testing.T) {
	db := newTestDB(t)
	now := mustTime(t, "2026-03-02 10:00")
	crm := &fakeCRM{contacts: []map[string]any{
		{"id": "stale", "lastmodifieddate": now.AddDate(0, 0, -45).Format(time.RFC3339)},
		{"id": "fresh", "lastmodifieddate": now.AddDate(0, 0, -3).Format(time.RFC3339)},
		{"id": "no-timestamp"},
	}}
	scanner := newTestScanner(t, db, crm, now)

	rule := seedConditionRule(t, db, "crm.inactive_contacts", map[string]any{"days_inactive": float64(30)})

	matches, err := scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, rule.ID, matches[0].Rule.ID)

	event := matches[0].TriggerEvent
	require.Equal(t, "condition", event["type"])
	require.Equal(t, "inactive_contacts", event["check_type"])

	matched, ok := event["matched"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, matched, 1)
	require.Equal(t, "stale", matched[0]["id"])
}

func TestScanConditionsDealsStuckSkipsClosed(t *testing.T) {
	db := newTestDB(t)
	now := mustTime(t, "2026-03-02 10:00")
	old := now.AddDate(0, 0, -30).Format(time.RFC3339)
	crm := &fakeCRM{deals: []map[string]any{
		{"id": "stuck", "dealstage": "negotiation", "hs_lastmodifieddate": old},
		{"id": "won", "dealstage": "closedwon", "hs_lastmodifieddate": old},
		{"id": "lost", "dealstage": "Closed Lost", "hs_lastmodifieddate": old},
	}}
	scanner := newTestScanner(t, db, crm, now)

	seedConditionRule(t, db, "crm.deals_stuck", map[string]any{"days_stuck": float64(14)})

	matches, err := scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)

	matched := matches[0].TriggerEvent["matched"].([]map[string]any)
	require.Len(t, matched, 1)
	require.Equal(t, "stuck", matched[0]["id"])
}

func TestScanConditionsPendingTasksThreshold(t *testing.T) {
	db := newTestDB(t)
	now := mustTime(t, "2026-03-02 10:00")
	crm := &fakeCRM{tasks: []map[string]any{
		{"id": "t1", "hs_task_status": "NOT_STARTED"},
		{"id": "t2", "hs_task_status": "WAITING"},
		{"id": "t3", "hs_task_status": "COMPLETED"},
	}}
	scanner := newTestScanner(t, db, crm, now)

	seedConditionRule(t, db, "crm.pending_tasks", map[string]any{"min_pending": float64(3)})

	// 待办 2 条，阈值 3，不命中
	matches, err := scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Empty(t, matches)

	crm.tasks = append(crm.tasks, map[string]any{"id": "t4", "hs_task_status": "NOT_STARTED"})
	matches, err = scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestScanConditionsScheduleGate(t *testing.T) {
	db := newTestDB(t)
	crm := &fakeCRM{contacts: []map[string]any{
		{"id": "stale", "lastmodifieddate": "2020-01-01T00:00:00Z"},
	}}
	// 2026-03-02 是周一
	scanner := newTestScanner(t, db, crm, mustTime(t, "2026-03-02 09:00"))

	seedConditionRule(t, db, "crm.inactive_contacts", map[string]any{
		"schedule": "0 9 * * 1",
	})

	matches, err := scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// 不在调度时刻则跳过评估
	scanner.now = func() time.Time { return mustTime(t, "2026-03-02 09:30") }
	matches, err = scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestScanConditionsNoConnectionSkipped(t *testing.T) {
	db := newTestDB(t)
	scanner := NewConditionScanner(db, &fakeResolver{}, zap.NewNop())

	seedConditionRule(t, db, "crm.inactive_contacts", nil)

	matches, err := scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestScanConditionsRuleFailureDoesNotAbortScan(t *testing.T) {
	db := newTestDB(t)
	now := mustTime(t, "2026-03-02 10:00")
	crm := &fakeCRM{tasks: []map[string]any{{"id": "t1", "hs_task_status": "NOT_STARTED"}}}
	scanner := newTestScanner(t, db, crm, now)

	// 来源格式无效的规则评估失败，后续规则照常评估
	seedConditionRule(t, db, "malformed", nil)
	good := seedConditionRule(t, db, "crm.pending_tasks", map[string]any{"min_pending": float64(1)})

	matches, err := scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, good.ID, matches[0].Rule.ID)
}

func TestScanConditionsTimestampFormats(t *testing.T) {
	db := newTestDB(t)
	now := mustTime(t, "2026-03-02 10:00")
	oldMillis := now.AddDate(0, 0, -60).UnixMilli()
	crm := &fakeCRM{contacts: []map[string]any{
		{"id": "millis-string", "lastmodifieddate": "1700000000000"},
		{"id": "millis-number", "lastmodifieddate": float64(oldMillis)},
	}}
	scanner := newTestScanner(t, db, crm, now)

	seedConditionRule(t, db, "crm.inactive_contacts", nil)

	matches, err := scanner.ScanConditions(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Len(t, matches[0].TriggerEvent["matched"].([]map[string]any), 2)
}
