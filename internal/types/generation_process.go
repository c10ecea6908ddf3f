package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ProcessStatusPending           = "pending"
	ProcessStatusInProgress        = "in_progress"
	ProcessStatusUserInputRequired = "user_input_required"
	ProcessStatusPaused            = "paused"
	ProcessStatusResuming          = "resuming"
	ProcessStatusCompleted         = "completed"
	ProcessStatusError             = "error"
	ProcessStatusCancelled         = "cancelled"
)

const (
	FlowTypeOutlineFirst  = "outline_first"
	FlowTypeResearchFirst = "research_first"
)

const (
	StepOutcomeCompleted  = "completed"
	StepOutcomeFailed     = "failed"
	StepOutcomeNeedsInput = "needs_input"
	StepOutcomeCancelled  = "cancelled"
	StepOutcomeResumed    = "resumed"
	StepOutcomeSkipped    = "skipped"
)

// GenerationProcess is the durable record of one article-generation job. It is
// the single source of truth for the step the job sits at; everything derived
// (progress, resumability) is recomputed from it.
type GenerationProcess struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	OrganizationID     *uuid.UUID     `gorm:"type:uuid;index" json:"organization_id,omitempty"`
	FlowType           string         `gorm:"column:flow_type;not null" json:"flow_type"`
	Status             string         `gorm:"column:status;not null;index" json:"status"`
	CurrentStep        string         `gorm:"column:current_step;not null" json:"current_step"`
	ProgressPercentage int            `gorm:"column:progress_percentage;not null;default:0" json:"progress_percentage"`
	IsWaitingForInput  bool           `gorm:"column:is_waiting_for_input;not null;default:false" json:"is_waiting_for_input"`
	InputType          string         `gorm:"column:input_type" json:"input_type,omitempty"`
	AutoResumeEligible bool           `gorm:"column:auto_resume_eligible;not null;default:false" json:"auto_resume_eligible"`
	ResumeFromStep     string         `gorm:"column:resume_from_step" json:"resume_from_step,omitempty"`
	StepHistory        datatypes.JSON `gorm:"type:jsonb;column:step_history" json:"step_history"`
	ArticleContext     datatypes.JSON `gorm:"type:jsonb;column:article_context" json:"article_context"`
	ErrorMessage       string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GenerationProcess) TableName() string { return "generation_process" }

func (p *GenerationProcess) Owner() Owner {
	if p.OrganizationID != nil && *p.OrganizationID != uuid.Nil {
		return OrganizationOwner(*p.OrganizationID)
	}
	if p.UserID != nil {
		return PersonalOwner(*p.UserID)
	}
	return Owner{}
}

func (p *GenerationProcess) IsTerminal() bool {
	return IsTerminalProcessStatus(p.Status)
}

func IsTerminalProcessStatus(status string) bool {
	return status == ProcessStatusCompleted || status == ProcessStatusCancelled
}

// StepHistoryEntry is one element of the append-only step_history log.
type StepHistoryEntry struct {
	Step      string    `json:"step"`
	Outcome   string    `json:"outcome"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
