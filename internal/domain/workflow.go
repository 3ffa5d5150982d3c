package domain

import "time"

// ServiceKind identifies a billable service category.
type ServiceKind string

const (
	ServiceGPT       ServiceKind = "gpt"
	ServiceVoiceTTS  ServiceKind = "voice_tts"
	ServiceVoiceSTT  ServiceKind = "voice_stt"
	ServiceVision    ServiceKind = "vision"
	ServicePhone     ServiceKind = "phone"
	ServiceRealtime  ServiceKind = "realtime"
	ServiceOCR       ServiceKind = "ocr"
	ServiceEmbedding ServiceKind = "embedding"
)

// UnitKind is the unit a service meters its consumption in.
type UnitKind string

const (
	UnitTokens     UnitKind = "tokens"
	UnitCharacters UnitKind = "characters"
	UnitMinutes    UnitKind = "minutes"
	UnitImages     UnitKind = "images"
	UnitGeneric    UnitKind = "units"
)

// ServiceUsage is one priced sub-service call within a workflow.
type ServiceUsage struct {
	ServiceKind     ServiceKind       `json:"service_kind"`
	Provider        string            `json:"provider"`
	UnitsConsumed   int64             `json:"units_consumed"`
	UnitKind        UnitKind          `json:"unit_kind"`
	CreditsCharged  int64             `json:"credits_charged"`
	CostEstimateUSD float64           `json:"cost_estimate_usd"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	RecordedAt      time.Time         `json:"recorded_at"`
}

// WorkflowStatus is the lifecycle state of a workflow. Transitions are
// open -> settled (charges the account) and open -> void (no charge);
// both terminal states are final.
type WorkflowStatus string

const (
	WorkflowOpen    WorkflowStatus = "open"
	WorkflowSettled WorkflowStatus = "settled"
	WorkflowVoid    WorkflowStatus = "void"
)

// Workflow groups the usage entries of one logical client request so
// they settle as a single ledger posting. Workflows are durable rows in
// the same store as the ledger so that record and settle may be handled
// by different processes.
type Workflow struct {
	ID           string         `json:"workflow_id"`
	AccountID    string         `json:"account_id"`
	AccessKey    string         `json:"access_key"`
	Name         string         `json:"name"`
	Adapter      string         `json:"adapter,omitempty"`
	Status       WorkflowStatus `json:"status"`
	Entries      []ServiceUsage `json:"entries"`
	TotalCredits int64          `json:"total_credits"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	StatusCode   int            `json:"status_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	OpenedAt     time.Time      `json:"opened_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
}

// Settlement is the outcome of settling a workflow. Re-settling an
// already settled workflow returns the stored settlement unchanged.
type Settlement struct {
	WorkflowID   string         `json:"workflow_id"`
	TotalCredits int64          `json:"total_credits"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	Entries      []ServiceUsage `json:"entries"`
	Charged      bool           `json:"charged"`
	Balance      int64          `json:"balance"`
	Duplicate    bool           `json:"duplicate,omitempty"`
}
