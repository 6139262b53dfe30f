package automation

import (
	"encoding/json"
)

// hubspotSubscriptionTypes HubSpot 订阅类型到事件类型名的映射
var hubspotSubscriptionTypes = map[string]string{
	"contact.creation":       "new_contact",
	"contact.propertyChange": "contact_updated",
	"contact.deletion":       "contact_deleted",
	"deal.creation":          "new_deal",
	"deal.propertyChange":    "deal_updated",
}

// NormalizeWebhook 把各平台的原始 Webhook 请求体规范化为统一事件。
// 畸形或无关的请求体规范化为空切片，丢弃而不报错
func NormalizeWebhook(platform string, body []byte) []*WebhookEvent {
	switch platform {
	case "slack":
		return normalizeSlack(body)
	case "hubspot":
		return normalizeHubSpot(body)
	default:
		return nil
	}
}

// normalizeSlack Slack 事件回调拆包。
// url_verification 握手与未知类型直接丢弃
func normalizeSlack(body []byte) []*WebhookEvent {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}

	envelopeType, _ := envelope["type"].(string)
	if envelopeType != "event_callback" {
		return nil
	}

	inner, ok := envelope["event"].(map[string]any)
	if !ok {
		return nil
	}
	eventType, _ := inner["type"].(string)
	if eventType == "" {
		return nil
	}

	return []*WebhookEvent{{
		Platform:  "slack",
		EventType: eventType,
		Payload:   inner,
	}}
}

// normalizeHubSpot HubSpot 一次投递携带事件数组，逐条映射订阅类型。
// 未知订阅类型跳过
func normalizeHubSpot(body []byte) []*WebhookEvent {
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil
	}

	events := make([]*WebhookEvent, 0, len(entries))
	for _, entry := range entries {
		subscriptionType, _ := entry["subscriptionType"].(string)
		eventType, ok := hubspotSubscriptionTypes[subscriptionType]
		if !ok {
			continue
		}
		events = append(events, &WebhookEvent{
			Platform:  "hubspot",
			EventType: eventType,
			Payload:   entry,
		})
	}
	return events
}
