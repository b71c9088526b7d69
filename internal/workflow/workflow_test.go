package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safeguard-ngo/impact-api/internal/models"
)

func metric(field string, status models.ApprovalStatus) models.SubmissionMetric {
	return models.SubmissionMetric{Field: field, ApprovalStatus: status}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name    string
		metrics []models.SubmissionMetric
		final   models.ApprovalStatus
		want    models.SubmissionStatus
	}{
		{
			name:    "all pending",
			metrics: []models.SubmissionMetric{metric("a", models.ApprovalPending), metric("b", models.ApprovalPending)},
			final:   models.ApprovalPending,
			want:    models.StatusPending,
		},
		{
			name:    "one approved one pending",
			metrics: []models.SubmissionMetric{metric("a", models.ApprovalApproved), metric("b", models.ApprovalPending)},
			final:   models.ApprovalPending,
			want:    models.StatusPartiallyApproved,
		},
		{
			name:    "all approved",
			metrics: []models.SubmissionMetric{metric("a", models.ApprovalApproved), metric("b", models.ApprovalApproved)},
			final:   models.ApprovalPending,
			want:    models.StatusReadyForFinal,
		},
		{
			name:    "one approved one rejected never ready",
			metrics: []models.SubmissionMetric{metric("a", models.ApprovalApproved), metric("b", models.ApprovalRejected)},
			final:   models.ApprovalPending,
			want:    models.StatusPartiallyApproved,
		},
		{
			name:    "all rejected stays pending tier",
			metrics: []models.SubmissionMetric{metric("a", models.ApprovalRejected)},
			final:   models.ApprovalPending,
			want:    models.StatusPending,
		},
		{
			name:    "no metrics",
			metrics: nil,
			final:   models.ApprovalPending,
			want:    models.StatusPending,
		},
		{
			name:    "final approval is terminal",
			metrics: []models.SubmissionMetric{metric("a", models.ApprovalApproved)},
			final:   models.ApprovalApproved,
			want:    models.StatusApproved,
		},
		{
			name:    "final rejection is terminal",
			metrics: []models.SubmissionMetric{metric("a", models.ApprovalApproved), metric("b", models.ApprovalPending)},
			final:   models.ApprovalRejected,
			want:    models.StatusRejected,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.metrics, tc.final))
		})
	}
}

func TestRejectedMetricBlocksReadyForFinalPermanently(t *testing.T) {
	metrics := []models.SubmissionMetric{
		metric("a", models.ApprovalPending),
		metric("b", models.ApprovalRejected),
	}
	require.Equal(t, models.StatusPending, DeriveStatus(metrics, models.ApprovalPending))

	metrics[0].ApprovalStatus = models.ApprovalApproved
	require.Equal(t, models.StatusPartiallyApproved, DeriveStatus(metrics, models.ApprovalPending))
}

func TestCanPerformAgent(t *testing.T) {
	own := &models.Submission{UserID: "agent-1", Status: models.StatusPending}
	other := &models.Submission{UserID: "agent-2", Status: models.StatusPending}
	approved := &models.Submission{UserID: "agent-1", Status: models.StatusApproved}

	require.True(t, CanPerform(models.RoleAgent, ActionCreate, nil, "agent-1"))
	require.True(t, CanPerform(models.RoleAgent, ActionView, own, "agent-1"))
	require.False(t, CanPerform(models.RoleAgent, ActionView, other, "agent-1"))
	require.True(t, CanPerform(models.RoleAgent, ActionRecordChange, own, "agent-1"))
	require.False(t, CanPerform(models.RoleAgent, ActionRecordChange, approved, "agent-1"))
	require.False(t, CanPerform(models.RoleAgent, ActionDecideMetric, own, "agent-1"))
	require.False(t, CanPerform(models.RoleAgent, ActionFinalApprove, own, "agent-1"))
}

func TestCanPerformPartner(t *testing.T) {
	pending := &models.Submission{UserID: "agent-1", Status: models.StatusPending}
	partial := &models.Submission{UserID: "agent-1", Status: models.StatusPartiallyApproved}
	ready := &models.Submission{UserID: "agent-1", Status: models.StatusReadyForFinal}

	require.True(t, CanPerform(models.RolePartner, ActionDecideMetric, pending, "partner-1"))
	require.True(t, CanPerform(models.RolePartner, ActionDecideMetric, partial, "partner-1"))
	require.False(t, CanPerform(models.RolePartner, ActionDecideMetric, ready, "partner-1"))
	require.False(t, CanPerform(models.RolePartner, ActionFinalApprove, ready, "partner-1"))
	require.False(t, CanPerform(models.RolePartner, ActionView, ready, "partner-1"))
}

func TestCanPerformAdmin(t *testing.T) {
	pending := &models.Submission{UserID: "agent-1", Status: models.StatusPending}
	ready := &models.Submission{UserID: "agent-1", Status: models.StatusReadyForFinal}
	approved := &models.Submission{UserID: "agent-1", Status: models.StatusApproved}
	rejected := &models.Submission{UserID: "agent-1", Status: models.StatusRejected}

	require.True(t, CanPerform(models.RoleAdmin, ActionView, approved, "admin-1"))
	require.True(t, CanPerform(models.RoleAdmin, ActionDecideMetric, pending, "admin-1"))
	require.True(t, CanPerform(models.RoleAdmin, ActionFinalApprove, ready, "admin-1"))
	require.False(t, CanPerform(models.RoleAdmin, ActionFinalApprove, pending, "admin-1"))
	require.False(t, CanPerform(models.RoleAdmin, ActionFinalApprove, approved, "admin-1"))
	require.True(t, CanPerform(models.RoleAdmin, ActionFinalReject, pending, "admin-1"))
	require.True(t, CanPerform(models.RoleAdmin, ActionFinalReject, ready, "admin-1"))
	require.False(t, CanPerform(models.RoleAdmin, ActionFinalReject, rejected, "admin-1"))
}

func TestVisibleStatuses(t *testing.T) {
	require.Nil(t, VisibleStatuses(models.RoleAgent))
	require.Nil(t, VisibleStatuses(models.RoleAdmin))
	require.Equal(t,
		[]models.SubmissionStatus{models.StatusPending, models.StatusPartiallyApproved},
		VisibleStatuses(models.RolePartner),
	)
}
