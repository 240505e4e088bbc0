package types

import "time"

// CallType is the coarse purpose of a call.
type CallType string

const (
	CallDiscovery   CallType = "discovery"
	CallDemo        CallType = "demo"
	CallNegotiation CallType = "negotiation"
	CallFollowUp    CallType = "follow_up"
	CallUnknown     CallType = "unknown"
)

// DealStage is the pipeline stage of the associated opportunity.
type DealStage string

const (
	StageProspecting   DealStage = "prospecting"
	StageQualification DealStage = "qualification"
	StageEvaluation    DealStage = "evaluation"
	StageNegotiation   DealStage = "negotiation"
	StageClosing       DealStage = "closing"
	StageUnknown       DealStage = "unknown"
)

// Complexity estimates how many stakeholders and how much risk a deal carries.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Call is the calendar/call record a session is attached to.
type Call struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
}

// Company is CRM account data.
type Company struct {
	Name      string `json:"name"`
	Industry  string `json:"industry,omitempty"`
	Employees int    `json:"employees,omitempty"`
}

// Opportunity is CRM deal data.
type Opportunity struct {
	Name   string  `json:"name"`
	Stage  string  `json:"stage,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// Contact is a CRM person attending or attached to the call.
type Contact struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Role  string `json:"role,omitempty"`
}

// CRMContext is the read-only payload of the external context provider.
// Every field is optional.
type CRMContext struct {
	Company     *Company     `json:"company,omitempty"`
	Opportunity *Opportunity `json:"opportunity,omitempty"`
	Contacts    []Contact    `json:"contacts,omitempty"`
}

// CallContext is the classified view used to weight coaching methodologies.
type CallContext struct {
	CallID      string       `json:"call_id,omitempty"`
	Title       string       `json:"title,omitempty"`
	CallType    CallType     `json:"call_type"`
	DealStage   DealStage    `json:"deal_stage"`
	Complexity  Complexity   `json:"complexity"`
	Company     *Company     `json:"company,omitempty"`
	Opportunity *Opportunity `json:"opportunity,omitempty"`
	Contacts    []Contact    `json:"contacts,omitempty"`
	// Sources lists the upstream lookups that contributed data.
	Sources []string `json:"sources,omitempty"`
}

// Methodology names a coaching framework in the fixed catalogue.
type Methodology string

const (
	MethodSPIN       Methodology = "spin"
	MethodMEDDIC     Methodology = "meddic"
	MethodChallenger Methodology = "challenger"
	MethodSandler    Methodology = "sandler"
	MethodBANT       Methodology = "bant"
)

// Methodologies is the fixed catalogue in display order.
var Methodologies = []Methodology{MethodSPIN, MethodMEDDIC, MethodChallenger, MethodSandler, MethodBANT}

// MethodologyWeights maps each catalogue entry to a weight in [0,1]. The
// values sum to 1.
type MethodologyWeights map[Methodology]float64
