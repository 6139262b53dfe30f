package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"backend/internal/logger"
	"backend/internal/models"
	"backend/internal/security"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// ErrNoConnection 组织在该平台上没有启用中的连接。
// 上下文采集遇到它时静默跳过该类目；目的地分发遇到它时快速失败
var ErrNoConnection = errors.New("平台连接不存在或未启用")

// BuildFunc 由解密后的 OAuth Token 构建平台客户端
type BuildFunc func(conn *models.Connection, token *oauth2.Token, timeout time.Duration) (Connector, error)

// Registry 连接器注册表：按 (organization, platform) 解析出平台客户端。
// 凭证解密与客户端构建集中在这里，管道各组件只面向能力接口
type Registry struct {
	db       *gorm.DB
	builders map[string]BuildFunc
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRegistry 创建注册表并挂载内置平台
func NewRegistry(db *gorm.DB, dispatchTimeout time.Duration) *Registry {
	r := &Registry{
		db:       db,
		builders: make(map[string]BuildFunc),
		timeout:  dispatchTimeout,
		logger:   logger.Named("connector"),
	}
	r.Register("slack", NewSlackConnector)
	r.Register("hubspot", NewHubSpotConnector)
	r.Register("gmail", NewGmailConnector)
	return r
}

// Register 注册平台构建函数
func (r *Registry) Register(platform string, build BuildFunc) {
	r.builders[platform] = build
}

// Supports 是否支持该平台
func (r *Registry) Supports(platform string) bool {
	_, ok := r.builders[platform]
	return ok
}

// Resolve 解析组织在指定平台上的连接器。
// 同一平台存在多个启用连接属于未被约束的歧义场景，
// 策略是取最早创建的一个并告警，不悄悄选
func (r *Registry) Resolve(ctx context.Context, organizationID, platform string) (Connector, error) {
	build, ok := r.builders[platform]
	if !ok {
		return nil, ErrNoConnection
	}

	var conns []models.Connection
	if err := r.db.WithContext(ctx).
		Where("organization_id = ? AND platform = ? AND is_active = ?", organizationID, platform, true).
		Order("created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("查询平台连接失败: %w", err)
	}
	if len(conns) == 0 {
		return nil, ErrNoConnection
	}
	if len(conns) > 1 {
		r.logger.Warn("同一平台存在多个启用连接，使用最早创建的一个",
			zap.String("organization_id", organizationID),
			zap.String("platform", platform),
			zap.Int("count", len(conns)),
		)
	}
	conn := conns[0]

	plain, err := security.DecryptSecret(conn.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("解密连接凭证失败: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(plain), &token); err != nil {
		return nil, fmt.Errorf("解析连接凭证失败: %w", err)
	}

	return build(&conn, &token, r.timeout)
}

// HasActiveConnection 组织在指定平台上是否存在启用连接（事件匹配前置检查）
func (r *Registry) HasActiveConnection(ctx context.Context, organizationID, platform string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Connection{}).
		Where("organization_id = ? AND platform = ? AND is_active = ?", organizationID, platform, true).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("查询平台连接失败: %w", err)
	}
	return count > 0, nil
}

// oauthHTTPClient 构建携带 Bearer Token 的 HTTP 客户端。
// Token 刷新由连接器内部处理，对管道不可见
func oauthHTTPClient(token *oauth2.Token, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{Source: oauth2.StaticTokenSource(token)},
		Timeout:   timeout,
	}
}
