package models

// Event types published by the service.
const (
	EventRiskState = "call.risk.state"
	EventRiskAlert = "call.risk.alert"
)

// RiskUpdate is the presentation snapshot emitted after every fused update.
type RiskUpdate struct {
	SessionID    string         `json:"sessionId"`
	TenantID     string         `json:"tenantId,omitempty"`
	Locale       Locale         `json:"locale"`
	Risk         RiskState      `json:"risk"`
	Features     FeatureSample  `json:"features"`
	Speech       *SpeechRequest `json:"speech,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	Timestamp    int64          `json:"timestamp"`
}

// RiskStateEvent is published when a session's label changes.
type RiskStateEvent struct {
	EventType     string    `json:"eventType"`
	SessionID     string    `json:"sessionId"`
	TenantID      string    `json:"tenantId"`
	Locale        Locale    `json:"locale"`
	PreviousLabel Label     `json:"previousLabel"`
	Risk          RiskState `json:"risk"`
	SpoofScore    float64   `json:"spoofScore"`
	Timestamp     int64     `json:"timestamp"`
}

// RiskAlertEvent is published for every spoken alert or notification request.
type RiskAlertEvent struct {
	EventType    string         `json:"eventType"`
	SessionID    string         `json:"sessionId"`
	TenantID     string         `json:"tenantId"`
	Risk         RiskState      `json:"risk"`
	Speech       *SpeechRequest `json:"speech,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	Timestamp    int64          `json:"timestamp"`
}
