// Package workflow holds the pure approval state machine: status derivation
// for submissions and the role capability table. It performs no I/O; callers
// are responsible for running derivation transactionally with metric writes.
package workflow

import "github.com/safeguard-ngo/impact-api/internal/models"

// DeriveStatus computes the aggregate submission status from the metric set
// and the final approval block. Final decisions are terminal and
// short-circuit the per-metric tally. A submission reaches ready_for_final
// only when every metric is approved and none is rejected; a single rejected
// metric therefore caps the submission below ready_for_final for the rest of
// its cycle (corrections require a new submission).
func DeriveStatus(metrics []models.SubmissionMetric, finalStatus models.ApprovalStatus) models.SubmissionStatus {
	switch finalStatus {
	case models.ApprovalApproved:
		return models.StatusApproved
	case models.ApprovalRejected:
		return models.StatusRejected
	}

	total := len(metrics)
	approved := 0
	rejected := 0
	for i := range metrics {
		switch metrics[i].ApprovalStatus {
		case models.ApprovalApproved:
			approved++
		case models.ApprovalRejected:
			rejected++
		}
	}

	switch {
	case total > 0 && approved == total && rejected == 0:
		return models.StatusReadyForFinal
	case approved > 0:
		return models.StatusPartiallyApproved
	default:
		return models.StatusPending
	}
}

// Terminal reports whether a submission status admits no further mutation.
func Terminal(status models.SubmissionStatus) bool {
	return status == models.StatusApproved || status == models.StatusRejected
}

// Action enumerates workflow operations subject to authorization.
type Action string

const (
	ActionView         Action = "view"
	ActionCreate       Action = "create"
	ActionRecordChange Action = "record_change"
	ActionDecideMetric Action = "decide_metric"
	ActionFinalApprove Action = "final_approve"
	ActionFinalReject  Action = "final_reject"
)

// capabilities is the closed role/action table. Entries marked ownerOnly
// additionally require the actor to be the submitter; entries with a status
// guard require the submission to be in one of the listed states.
var capabilities = map[models.UserRole]map[Action]capability{
	models.RoleAgent: {
		ActionCreate:       {},
		ActionView:         {ownerOnly: true},
		ActionRecordChange: {ownerOnly: true, openOnly: true},
	},
	models.RolePartner: {
		ActionView:         {statuses: reviewable},
		ActionDecideMetric: {statuses: reviewable},
	},
	models.RoleAdmin: {
		ActionView:         {},
		ActionDecideMetric: {openOnly: true},
		ActionFinalApprove: {statuses: []models.SubmissionStatus{models.StatusReadyForFinal}},
		ActionFinalReject:  {openOnly: true},
	},
}

var reviewable = []models.SubmissionStatus{models.StatusPending, models.StatusPartiallyApproved}

type capability struct {
	ownerOnly bool
	openOnly  bool
	statuses  []models.SubmissionStatus
}

// CanPerform is the single authorization decision point. It is consulted by
// the listing filter and re-checked at every mutating operation; visibility
// never implies permission to act.
func CanPerform(role models.UserRole, action Action, sub *models.Submission, actorID string) bool {
	actions, ok := capabilities[role]
	if !ok {
		return false
	}
	rule, ok := actions[action]
	if !ok {
		return false
	}
	if action == ActionCreate {
		return true
	}
	if sub == nil {
		return false
	}
	if rule.ownerOnly && sub.UserID != actorID {
		return false
	}
	if rule.openOnly && Terminal(sub.Status) {
		return false
	}
	if len(rule.statuses) > 0 {
		match := false
		for _, s := range rule.statuses {
			if sub.Status == s {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// VisibleStatuses returns the status filter applied when listing submissions
// for a role. A nil slice means no status restriction; agents are instead
// restricted by owner in the query.
func VisibleStatuses(role models.UserRole) []models.SubmissionStatus {
	if role == models.RolePartner {
		return append([]models.SubmissionStatus(nil), reviewable...)
	}
	return nil
}
