package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"backend/internal/models"

	"golang.org/x/oauth2"
)

// HubSpotAPIBase HubSpot CRM API 地址
const HubSpotAPIBase = "https://api.hubapi.com"

// HubSpot 关联类型 ID（见 HubSpot associations v4 文档）
const (
	hubspotAssocNoteToContact = 202
	hubspotAssocTaskToContact = 204
)

var hubspotContactProperties = []string{
	"firstname", "lastname", "email", "company", "lifecyclestage", "lastmodifieddate", "notes_last_updated",
}

var hubspotDealProperties = []string{
	"dealname", "dealstage", "amount", "closedate", "pipeline", "hs_lastmodifieddate",
}

var hubspotTaskProperties = []string{
	"hs_task_subject", "hs_task_status", "hs_task_body", "hs_timestamp",
}

// HubSpotConnector HubSpot 连接器，实现 CRMConnector
type HubSpotConnector struct {
	httpClient *http.Client
	baseURL    string
}

// NewHubSpotConnector 由连接记录与解密后的 Token 构建 HubSpot 客户端
func NewHubSpotConnector(conn *models.Connection, token *oauth2.Token, timeout time.Duration) (Connector, error) {
	if token.AccessToken == "" {
		return nil, &ConnectorError{Platform: "hubspot", Op: "init", Message: "访问令牌为空"}
	}
	return &HubSpotConnector{
		httpClient: oauthHTTPClient(token, timeout),
		baseURL:    HubSpotAPIBase,
	}, nil
}

func (c *HubSpotConnector) Platform() string {
	return "hubspot"
}

// hubspotObject CRM 对象响应
type hubspotObject struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	UpdatedAt  string         `json:"updatedAt"`
}

// hubspotListResponse CRM 对象列表响应
type hubspotListResponse struct {
	Results []hubspotObject `json:"results"`
}

// hubspotAssociationList 关联列表响应
type hubspotAssociationList struct {
	Results []struct {
		ToObjectID int64 `json:"toObjectId"`
	} `json:"results"`
}

func (o hubspotObject) flatten() map[string]any {
	out := map[string]any{"id": o.ID}
	if o.UpdatedAt != "" {
		out["updated_at"] = o.UpdatedAt
	}
	for k, v := range o.Properties {
		out[k] = v
	}
	return out
}

// GetContact 按 ID 读取联系人
func (c *HubSpotConnector) GetContact(ctx context.Context, id string) (map[string]any, error) {
	path := fmt.Sprintf("/crm/v3/objects/contacts/%s?properties=%s", id, joinProperties(hubspotContactProperties))
	var obj hubspotObject
	if err := c.get(ctx, "get_contact", path, &obj); err != nil {
		return nil, err
	}
	return obj.flatten(), nil
}

// GetContacts 读取最近修改的联系人列表
func (c *HubSpotConnector) GetContacts(ctx context.Context, limit int) ([]map[string]any, error) {
	path := fmt.Sprintf("/crm/v3/objects/contacts?limit=%d&properties=%s", limit, joinProperties(hubspotContactProperties))
	var list hubspotListResponse
	if err := c.get(ctx, "get_contacts", path, &list); err != nil {
		return nil, err
	}
	return flattenObjects(list.Results), nil
}

// GetDeal 按 ID 读取交易
func (c *HubSpotConnector) GetDeal(ctx context.Context, id string) (map[string]any, error) {
	path := fmt.Sprintf("/crm/v3/objects/deals/%s?properties=%s", id, joinProperties(hubspotDealProperties))
	var obj hubspotObject
	if err := c.get(ctx, "get_deal", path, &obj); err != nil {
		return nil, err
	}
	return obj.flatten(), nil
}

// GetDeals 读取交易列表
func (c *HubSpotConnector) GetDeals(ctx context.Context, limit int) ([]map[string]any, error) {
	path := fmt.Sprintf("/crm/v3/objects/deals?limit=%d&properties=%s", limit, joinProperties(hubspotDealProperties))
	var list hubspotListResponse
	if err := c.get(ctx, "get_deals", path, &list); err != nil {
		return nil, err
	}
	return flattenObjects(list.Results), nil
}

// GetContactDeals 读取联系人关联的交易。
// 先查关联 ID 再逐条取详情，单条失败不中断整体
func (c *HubSpotConnector) GetContactDeals(ctx context.Context, contactID string) ([]map[string]any, error) {
	path := fmt.Sprintf("/crm/v4/objects/contacts/%s/associations/deals", contactID)
	var assoc hubspotAssociationList
	if err := c.get(ctx, "get_contact_deals", path, &assoc); err != nil {
		return nil, err
	}

	deals := make([]map[string]any, 0, len(assoc.Results))
	for _, r := range assoc.Results {
		deal, err := c.GetDeal(ctx, fmt.Sprintf("%d", r.ToObjectID))
		if err != nil {
			continue
		}
		deals = append(deals, deal)
	}
	return deals, nil
}

// GetTasks 读取待办任务列表
func (c *HubSpotConnector) GetTasks(ctx context.Context, limit int) ([]map[string]any, error) {
	path := fmt.Sprintf("/crm/v3/objects/tasks?limit=%d&properties=%s", limit, joinProperties(hubspotTaskProperties))
	var list hubspotListResponse
	if err := c.get(ctx, "get_tasks", path, &list); err != nil {
		return nil, err
	}
	return flattenObjects(list.Results), nil
}

// CreateNote 在联系人时间线上创建备注
func (c *HubSpotConnector) CreateNote(ctx context.Context, contactID, text string) error {
	payload := map[string]any{
		"properties": map[string]any{
			"hs_note_body": text,
			"hs_timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		"associations": hubspotAssociations(contactID, hubspotAssocNoteToContact),
	}
	var obj hubspotObject
	return c.post(ctx, "create_note", "/crm/v3/objects/notes", payload, &obj)
}

// CreateTask 为联系人创建待办任务
func (c *HubSpotConnector) CreateTask(ctx context.Context, contactID, text string) error {
	payload := map[string]any{
		"properties": map[string]any{
			"hs_task_subject": truncateSubject(text),
			"hs_task_body":    text,
			"hs_task_status":  "NOT_STARTED",
			"hs_timestamp":    time.Now().UTC().Format(time.RFC3339),
		},
		"associations": hubspotAssociations(contactID, hubspotAssocTaskToContact),
	}
	var obj hubspotObject
	return c.post(ctx, "create_task", "/crm/v3/objects/tasks", payload, &obj)
}

func hubspotAssociations(contactID string, typeID int) []map[string]any {
	return []map[string]any{
		{
			"to": map[string]any{"id": contactID},
			"types": []map[string]any{
				{"associationCategory": "HUBSPOT_DEFINED", "associationTypeId": typeID},
			},
		},
	}
}

// truncateSubject 任务标题截断到 HubSpot 允许的长度
func truncateSubject(text string) string {
	const maxLen = 120
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen])
}

func joinProperties(props []string) string {
	out := ""
	for i, p := range props {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func flattenObjects(objs []hubspotObject) []map[string]any {
	out := make([]map[string]any, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.flatten())
	}
	return out
}

func (c *HubSpotConnector) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &ConnectorError{Platform: "hubspot", Op: op, Message: "构建请求失败", Err: err}
	}
	return c.do(req, op, out)
}

func (c *HubSpotConnector) post(ctx context.Context, op, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ConnectorError{Platform: "hubspot", Op: op, Message: "序列化请求失败", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ConnectorError{Platform: "hubspot", Op: op, Message: "构建请求失败", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *HubSpotConnector) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectorError{Platform: "hubspot", Op: op, Message: "请求发送失败", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectorError{Platform: "hubspot", Op: op, Message: "读取响应失败", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ConnectorError{Platform: "hubspot", Op: op, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &ConnectorError{Platform: "hubspot", Op: op, Message: "解析响应失败", Err: err}
		}
	}
	return nil
}
