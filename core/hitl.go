package core

import "strings"

// HitlRequest is a pending human checkpoint.
type HitlRequest struct {
	RequestID      string `json:"request_id"`
	WorkflowID     string `json:"workflow_id,omitempty"`
	CheckpointType string `json:"checkpoint_type,omitempty"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	Content        string `json:"content,omitempty"`
	AllowSkip      bool   `json:"allow_skip"`
}

// HitlAction is the human decision sent back for a checkpoint.
type HitlAction string

const (
	HitlApprove HitlAction = "approve"
	HitlReject  HitlAction = "reject"
	HitlRetry   HitlAction = "retry"
	HitlSkip    HitlAction = "skip"
	HitlModify  HitlAction = "modify"
)

// ParseHitlAction normalizes common spellings ("approved", "retry_requested")
// onto the canonical action. The boolean is false for unknown actions.
func ParseHitlAction(s string) (HitlAction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return HitlApprove, true
	case "reject", "rejected":
		return HitlReject, true
	case "retry", "retry_requested":
		return HitlRetry, true
	case "skip", "skipped":
		return HitlSkip, true
	case "modify", "modified":
		return HitlModify, true
	default:
		return HitlAction(s), false
	}
}

// HitlResponse answers exactly one outstanding HitlRequest.
type HitlResponse struct {
	RequestID       string     `json:"request_id"`
	Action          HitlAction `json:"action"`
	Feedback        *string    `json:"feedback,omitempty"`
	ModifiedContent *string    `json:"modified_content,omitempty"`
}

// Clone returns a copy of the request.
func (r *HitlRequest) Clone() *HitlRequest {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
