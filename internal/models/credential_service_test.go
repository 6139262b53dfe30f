package models

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newCredentialTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ProviderCredential{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestCreateAndResolveCredential(t *testing.T) {
	db := newCredentialTestDB(t)
	svc := NewCredentialService(db)
	ctx := context.Background()

	cred, err := svc.CreateCredential(ctx, &CreateCredentialRequest{
		OrganizationID: "org-1",
		Provider:       "anthropic",
		Name:           "主密钥",
		APIKey:         "sk-ant-api03-secret",
	})
	require.NoError(t, err)
	require.NotEmpty(t, cred.ID)
	require.Equal(t, "active", cred.Status)
	// 明文不落库
	require.NotContains(t, string(cred.Ciphertext), "sk-ant-api03-secret")

	provider, apiKey, err := svc.ResolveCredential(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, "anthropic", provider)
	require.Equal(t, "sk-ant-api03-secret", apiKey)
}

func TestCreateCredentialValidation(t *testing.T) {
	svc := NewCredentialService(newCredentialTestDB(t))
	ctx := context.Background()

	cases := []*CreateCredentialRequest{
		nil,
		{Provider: "openai", APIKey: "sk-x"},
		{OrganizationID: "org-1", APIKey: "sk-x"},
		{OrganizationID: "org-1", Provider: "openai", APIKey: "   "},
	}
	for i, req := range cases {
		if _, err := svc.CreateCredential(ctx, req); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestResolveCredentialNotFound(t *testing.T) {
	svc := NewCredentialService(newCredentialTestDB(t))

	_, _, err := svc.ResolveCredential(context.Background(), "org-1")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestResolveCredentialScopedByOrganization(t *testing.T) {
	db := newCredentialTestDB(t)
	svc := NewCredentialService(db)
	ctx := context.Background()

	_, err := svc.CreateCredential(ctx, &CreateCredentialRequest{
		OrganizationID: "org-1", Provider: "openai", APIKey: "sk-org1",
	})
	require.NoError(t, err)

	_, _, err = svc.ResolveCredential(ctx, "org-2")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestDeactivateCredential(t *testing.T) {
	db := newCredentialTestDB(t)
	svc := NewCredentialService(db)
	ctx := context.Background()

	cred, err := svc.CreateCredential(ctx, &CreateCredentialRequest{
		OrganizationID: "org-1", Provider: "openai", APIKey: "sk-x",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateCredential(ctx, "org-1", cred.ID))

	_, _, err = svc.ResolveCredential(ctx, "org-1")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	// 跨组织停用无效
	require.Error(t, svc.DeactivateCredential(ctx, "org-2", cred.ID))
}

func TestResolveCredentialOldestActiveWins(t *testing.T) {
	db := newCredentialTestDB(t)
	svc := NewCredentialService(db)
	ctx := context.Background()

	first, err := svc.CreateCredential(ctx, &CreateCredentialRequest{
		OrganizationID: "org-1", Provider: "anthropic", APIKey: "sk-first",
	})
	require.NoError(t, err)
	_, err = svc.CreateCredential(ctx, &CreateCredentialRequest{
		OrganizationID: "org-1", Provider: "openai", APIKey: "sk-second",
	})
	require.NoError(t, err)

	// 按创建时间取最早的活跃凭证
	require.NoError(t, db.Model(first).Update("created_at", first.CreatedAt.AddDate(0, 0, -1)).Error)

	provider, apiKey, err := svc.ResolveCredential(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, "anthropic", provider)
	require.Equal(t, "sk-first", apiKey)
}
