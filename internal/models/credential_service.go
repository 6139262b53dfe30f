package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend/internal/security"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrCredentialNotFound 组织未配置补全服务商凭证
var ErrCredentialNotFound = errors.New("补全服务商凭证未配置")

// CredentialService 管理组织级补全服务商凭证
type CredentialService struct {
	db *gorm.DB
}

// NewCredentialService 创建服务实例
func NewCredentialService(db *gorm.DB) *CredentialService {
	return &CredentialService{db: db}
}

// CreateCredentialRequest 创建请求
type CreateCredentialRequest struct {
	OrganizationID string
	Provider       string
	Name           string
	APIKey         string
}

// CreateCredential 为组织存储一个服务商 API Key（加密落库）
func (s *CredentialService) CreateCredential(ctx context.Context, req *CreateCredentialRequest) (*ProviderCredential, error) {
	if req == nil {
		return nil, fmt.Errorf("请求参数不能为空")
	}
	if req.OrganizationID == "" || req.Provider == "" {
		return nil, fmt.Errorf("organization_id 与 provider 必填")
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, fmt.Errorf("API Key 不能为空")
	}

	ciphertext, err := security.EncryptSecret(req.APIKey)
	if err != nil {
		return nil, err
	}

	cred := &ProviderCredential{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		Provider:       req.Provider,
		Name:           req.Name,
		Ciphertext:     ciphertext,
		Status:         "active",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(cred).Error; err != nil {
		return nil, fmt.Errorf("创建服务商凭证失败: %w", err)
	}

	return cred, nil
}

// ResolveCredential 解出组织当前可用的服务商凭证明文。
// 未配置时返回 ErrCredentialNotFound，调用方应将其视为终态配置错误
func (s *CredentialService) ResolveCredential(ctx context.Context, organizationID string) (provider string, apiKey string, err error) {
	var cred ProviderCredential
	if err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", organizationID, "active").
		Order("created_at ASC").
		First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrCredentialNotFound
		}
		return "", "", fmt.Errorf("查询服务商凭证失败: %w", err)
	}

	plain, err := security.DecryptSecret(cred.Ciphertext)
	if err != nil {
		return "", "", fmt.Errorf("解密服务商凭证失败: %w", err)
	}
	return cred.Provider, plain, nil
}

// DeactivateCredential 停用凭证
func (s *CredentialService) DeactivateCredential(ctx context.Context, organizationID, credentialID string) error {
	result := s.db.WithContext(ctx).
		Model(&ProviderCredential{}).
		Where("id = ? AND organization_id = ?", credentialID, organizationID).
		Update("status", "inactive")
	if result.Error != nil {
		return fmt.Errorf("停用凭证失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("凭证不存在")
	}
	return nil
}
