package approvals

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend/internal/auth"
	"backend/internal/automation"
	"backend/internal/connector"
	"backend/internal/models"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newApprovalTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// displayOnlyResolver 测试只用 display 目的地，不需要真实连接器
type displayOnlyResolver struct{}

func (displayOnlyResolver) Resolve(context.Context, string, string) (connector.Connector, error) {
	return nil, connector.ErrNoConnection
}

func (displayOnlyResolver) HasActiveConnection(context.Context, string, string) (bool, error) {
	return false, nil
}

func newApprovalTestRouter(t *testing.T, db *gorm.DB, orgID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	actionRouter, err := automation.NewActionRouter(db, displayOnlyResolver{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new action router: %v", err)
	}
	handler := NewHandler(db, actionRouter)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(auth.UserIDKey, "reviewer-1")
		c.Set(auth.OrganizationIDKey, orgID)
	})
	router.GET("/approvals", handler.List)
	router.POST("/approvals/:id/approve", handler.Approve)
	router.POST("/approvals/:id/reject", handler.Reject)
	router.POST("/approvals/:id/edit", handler.Edit)
	return router
}

func seedPendingItem(t *testing.T, db *gorm.DB, orgID string) *models.ApprovalQueueItem {
	t.Helper()
	exec := &models.Execution{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		SkillID:        uuid.NewString(),
		Status:         "awaiting_approval",
	}
	if err := db.Create(exec).Error; err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	item := &models.ApprovalQueueItem{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		ExecutionID:    exec.ID,
		RuleID:         uuid.NewString(),
		DraftContent:   "草稿",
		Destination:    models.DestinationDisplay,
		Status:         "pending",
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed approval item: %v", err)
	}
	return item
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListPendingApprovals(t *testing.T) {
	db := newApprovalTestDB(t)
	router := newApprovalTestRouter(t, db, "org-1")

	item := seedPendingItem(t, db, "org-1")
	seedPendingItem(t, db, "org-2")

	rec := doRequest(router, http.MethodGet, "/approvals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), item.ID)
	// 只返回本组织的审批项
	require.Equal(t, 1, bytes.Count(rec.Body.Bytes(), []byte(`"draftContent"`)))
}

func TestApproveSucceeds(t *testing.T) {
	db := newApprovalTestDB(t)
	router := newApprovalTestRouter(t, db, "org-1")

	item := seedPendingItem(t, db, "org-1")

	rec := doRequest(router, http.MethodPost, "/approvals/"+item.ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)

	var stored models.ApprovalQueueItem
	require.NoError(t, db.First(&stored, "id = ?", item.ID).Error)
	require.Equal(t, "approved", stored.Status)
	require.NotNil(t, stored.ReviewerID)
	require.Equal(t, "reviewer-1", *stored.ReviewerID)
}

func TestApproveTwiceConflicts(t *testing.T) {
	db := newApprovalTestDB(t)
	router := newApprovalTestRouter(t, db, "org-1")

	item := seedPendingItem(t, db, "org-1")

	first := doRequest(router, http.MethodPost, "/approvals/"+item.ID+"/approve", "")
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(router, http.MethodPost, "/approvals/"+item.ID+"/reject", "")
	require.Equal(t, http.StatusConflict, second.Code)
	require.Contains(t, second.Body.String(), "已被处理")
}

func TestDecideCrossOrganizationNotFound(t *testing.T) {
	db := newApprovalTestDB(t)
	router := newApprovalTestRouter(t, db, "org-1")

	// 审批项属于 org-2，对 org-1 不可见
	item := seedPendingItem(t, db, "org-2")

	rec := doRequest(router, http.MethodPost, "/approvals/"+item.ID+"/approve", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditRequiresContent(t *testing.T) {
	db := newApprovalTestDB(t)
	router := newApprovalTestRouter(t, db, "org-1")

	item := seedPendingItem(t, db, "org-1")

	rec := doRequest(router, http.MethodPost, "/approvals/"+item.ID+"/edit", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodPost, "/approvals/"+item.ID+"/edit", `{"content":"修改后"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var stored models.ApprovalQueueItem
	require.NoError(t, db.First(&stored, "id = ?", item.ID).Error)
	require.Equal(t, "edited", stored.Status)
	require.Equal(t, "修改后", stored.FinalContent)
}
