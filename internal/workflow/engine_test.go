package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-track-api/internal/models"
	appErrors "github.com/noah-isme/thesis-track-api/pkg/errors"
)

func newThesis(status models.ThesisStatus, stage models.ThesisStage) *models.Thesis {
	return &models.Thesis{
		ID:           "thesis-1",
		ScholarID:    "scholar-1",
		GuideID:      "guide-1",
		Status:       status,
		CurrentStage: stage,
		Approvals:    models.ApprovalSet{},
	}
}

func applyOutcome(thesis *models.Thesis, outcome *Outcome) {
	thesis.Status = outcome.Status
	thesis.CurrentStage = outcome.Stage
	thesis.Approvals[outcome.Key] = outcome.Record
}

func floatPtr(v float64) *float64 { return &v }

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected typed error, got %v", err)
	require.Equal(t, code, appErr.Code)
}

func TestEngineTransitionRows(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name       string
		status     models.ThesisStatus
		stage      models.ThesisStage
		actor      Actor
		req        Request
		wantStatus models.ThesisStatus
		wantStage  models.ThesisStage
		wantKey    models.ApprovalKey
	}{
		{
			name:   "guide approves submission",
			status: models.StatusSubmitted, stage: models.StageGuide,
			actor:      Actor{UserID: "guide-1", Role: models.RoleGuide},
			req:        Request{Action: ActionGuideDecide, Decision: DecisionApproved, Comment: "looks solid"},
			wantStatus: models.StatusGuideApproved, wantStage: models.StageLibrarian, wantKey: models.ApprovalKeyGuide,
		},
		{
			name:   "guide rejects submission",
			status: models.StatusSubmitted, stage: models.StageGuide,
			actor:      Actor{UserID: "guide-1", Role: models.RoleGuide},
			req:        Request{Action: ActionGuideDecide, Decision: DecisionRejected},
			wantStatus: models.StatusGuideRejected, wantStage: models.StageGuide, wantKey: models.ApprovalKeyGuide,
		},
		{
			name:   "librarian passes plagiarism check",
			status: models.StatusGuideApproved, stage: models.StageLibrarian,
			actor:      Actor{UserID: "lib-1", Role: models.RoleLibrarian},
			req:        Request{Action: ActionLibrarianReview, Decision: DecisionPassed, PlagiarismPercentage: floatPtr(8), Report: "clean"},
			wantStatus: models.StatusLibrarianReviewed, wantStage: models.StageRegistrar, wantKey: models.ApprovalKeyLibrarian,
		},
		{
			name:   "librarian fails plagiarism check",
			status: models.StatusGuideApproved, stage: models.StageLibrarian,
			actor:      Actor{UserID: "lib-1", Role: models.RoleLibrarian},
			req:        Request{Action: ActionLibrarianReview, Decision: DecisionFailed, PlagiarismPercentage: floatPtr(40), Report: "plagiarized"},
			wantStatus: models.StatusLibrarianRejected, wantStage: models.StageGuide, wantKey: models.ApprovalKeyLibrarian,
		},
		{
			name:   "registrar approves",
			status: models.StatusLibrarianReviewed, stage: models.StageRegistrar,
			actor:      Actor{UserID: "reg-1", Role: models.RoleRegistrar},
			req:        Request{Action: ActionRegistrarDecide, Decision: DecisionApproved},
			wantStatus: models.StatusRegistrarReviewed, wantStage: models.StageVC, wantKey: models.ApprovalKeyRegistrar,
		},
		{
			name:   "registrar rejects",
			status: models.StatusLibrarianReviewed, stage: models.StageRegistrar,
			actor:      Actor{UserID: "reg-1", Role: models.RoleRegistrar},
			req:        Request{Action: ActionRegistrarDecide, Decision: DecisionRejected},
			wantStatus: models.StatusRegistrarRejected, wantStage: models.StageGuide, wantKey: models.ApprovalKeyRegistrar,
		},
		{
			name:   "vc approves",
			status: models.StatusRegistrarReviewed, stage: models.StageVC,
			actor:      Actor{UserID: "vc-1", Role: models.RoleVC},
			req:        Request{Action: ActionVCDecide, Decision: DecisionApproved},
			wantStatus: models.StatusVCReviewed, wantStage: models.StageFinal, wantKey: models.ApprovalKeyVC,
		},
		{
			name:   "vc rejects",
			status: models.StatusRegistrarReviewed, stage: models.StageVC,
			actor:      Actor{UserID: "vc-1", Role: models.RoleVC},
			req:        Request{Action: ActionVCDecide, Decision: DecisionRejected},
			wantStatus: models.StatusVCRejected, wantStage: models.StageGuide, wantKey: models.ApprovalKeyVC,
		},
		{
			name:   "guide final approval",
			status: models.StatusVCReviewed, stage: models.StageFinal,
			actor:      Actor{UserID: "guide-1", Role: models.RoleGuide},
			req:        Request{Action: ActionFinalDecide, Decision: DecisionApproved},
			wantStatus: models.StatusApproved, wantStage: models.StageCompleted, wantKey: models.ApprovalKeyFinal,
		},
		{
			name:   "guide final rejection at final stage",
			status: models.StatusVCReviewed, stage: models.StageFinal,
			actor:      Actor{UserID: "guide-1", Role: models.RoleGuide},
			req:        Request{Action: ActionFinalDecide, Decision: DecisionRejected},
			wantStatus: models.StatusRejected, wantStage: models.StageCompleted, wantKey: models.ApprovalKeyFinal,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			thesis := newThesis(tc.status, tc.stage)
			outcome, err := engine.Decide(thesis, tc.actor, tc.req)
			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, outcome.Status)
			require.Equal(t, tc.wantStage, outcome.Stage)
			require.Equal(t, tc.wantKey, outcome.Key)
			require.True(t, ValidPair(outcome.Status, outcome.Stage))
			require.False(t, outcome.Record.Date.IsZero())
		})
	}
}

func TestEngineReapprovalTargets(t *testing.T) {
	engine := NewEngine()
	actor := Actor{UserID: "guide-1", Role: models.RoleGuide}

	rejectedStates := []models.ThesisStatus{
		models.StatusLibrarianRejected,
		models.StatusRegistrarRejected,
		models.StatusVCRejected,
	}
	targets := map[models.ThesisStage]models.ThesisStatus{
		models.StageLibrarian: models.StatusGuideApproved,
		models.StageRegistrar: models.StatusLibrarianReviewed,
		models.StageVC:        models.StatusRegistrarReviewed,
	}

	for _, status := range rejectedStates {
		for target, wantStatus := range targets {
			thesis := newThesis(status, models.StageGuide)
			outcome, err := engine.Decide(thesis, actor, Request{Action: ActionGuideReapprove, Target: target})
			require.NoError(t, err, "from %s to %s", status, target)
			require.Equal(t, wantStatus, outcome.Status)
			require.Equal(t, target, outcome.Stage)
			require.Equal(t, models.ApprovalKeyReapproval, outcome.Key)
		}
	}
}

// A vc rejection can be re-injected directly at the registrar, skipping
// librarian re-review entirely. The skip is a deliberate workflow shortcut.
func TestEngineReapprovalSkipsEarlierStages(t *testing.T) {
	engine := NewEngine()
	thesis := newThesis(models.StatusVCRejected, models.StageGuide)

	outcome, err := engine.Decide(thesis, Actor{UserID: "guide-1", Role: models.RoleGuide}, Request{
		Action: ActionGuideReapprove,
		Target: models.StageRegistrar,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusLibrarianReviewed, outcome.Status)
	require.Equal(t, models.StageRegistrar, outcome.Stage)
	require.Equal(t, "vc", outcome.Record.OriginalRejector)
}

func TestEngineReapprovalInvalidTarget(t *testing.T) {
	engine := NewEngine()
	thesis := newThesis(models.StatusLibrarianRejected, models.StageGuide)

	_, err := engine.Decide(thesis, Actor{UserID: "guide-1", Role: models.RoleGuide}, Request{
		Action: ActionGuideReapprove,
		Target: models.StageFinal,
	})
	requireCode(t, err, appErrors.ErrValidation.Code)
}

func TestEngineFinalReject(t *testing.T) {
	engine := NewEngine()
	for _, status := range []models.ThesisStatus{
		models.StatusLibrarianRejected,
		models.StatusRegistrarRejected,
		models.StatusVCRejected,
	} {
		thesis := newThesis(status, models.StageGuide)
		outcome, err := engine.Decide(thesis, Actor{UserID: "guide-1", Role: models.RoleGuide}, Request{
			Action: ActionGuideFinalReject,
		})
		require.NoError(t, err)
		require.Equal(t, models.StatusRejected, outcome.Status)
		require.Equal(t, models.StageScholar, outcome.Stage)
		require.Equal(t, models.ApprovalKeyFinalRejection, outcome.Key)
		require.NotEmpty(t, outcome.Record.Comment)
		require.Equal(t, "guide", outcome.Record.RejectedBy)
		require.Equal(t, strings.TrimSuffix(string(status), "_rejected"), outcome.Record.OriginalRejector)
	}
}

func TestEnginePreconditionMismatch(t *testing.T) {
	engine := NewEngine()

	// Librarian review attempted while the thesis is still with the guide.
	thesis := newThesis(models.StatusSubmitted, models.StageGuide)
	before := *thesis

	_, err := engine.Decide(thesis, Actor{UserID: "lib-1", Role: models.RoleLibrarian}, Request{
		Action:               ActionLibrarianReview,
		Decision:             DecisionPassed,
		PlagiarismPercentage: floatPtr(5),
		Report:               "clean",
	})
	requireCode(t, err, appErrors.ErrPreconditionFailed.Code)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, models.StatusSubmitted, appErr.Details["status"])
	require.Equal(t, models.StageGuide, appErr.Details["currentStage"])
	require.Equal(t, before, *thesis, "failed transition must leave the record unchanged")
}

func TestEngineAuthorization(t *testing.T) {
	engine := NewEngine()

	t.Run("role mismatch", func(t *testing.T) {
		thesis := newThesis(models.StatusLibrarianReviewed, models.StageRegistrar)
		_, err := engine.Decide(thesis, Actor{UserID: "lib-1", Role: models.RoleLibrarian}, Request{
			Action:   ActionRegistrarDecide,
			Decision: DecisionApproved,
		})
		requireCode(t, err, appErrors.ErrForbidden.Code)
	})

	t.Run("guide identity mismatch", func(t *testing.T) {
		// Another guide, right role, wrong identity.
		thesis := newThesis(models.StatusSubmitted, models.StageGuide)
		_, err := engine.Decide(thesis, Actor{UserID: "guide-2", Role: models.RoleGuide}, Request{
			Action:   ActionGuideDecide,
			Decision: DecisionApproved,
		})
		requireCode(t, err, appErrors.ErrForbidden.Code)
	})

	t.Run("identity check also guards reapproval", func(t *testing.T) {
		thesis := newThesis(models.StatusVCRejected, models.StageGuide)
		_, err := engine.Decide(thesis, Actor{UserID: "guide-2", Role: models.RoleGuide}, Request{
			Action: ActionGuideReapprove,
			Target: models.StageVC,
		})
		requireCode(t, err, appErrors.ErrForbidden.Code)
	})
}

func TestEngineLibrarianPayloadValidation(t *testing.T) {
	engine := NewEngine()
	actor := Actor{UserID: "lib-1", Role: models.RoleLibrarian}

	tests := []struct {
		name string
		req  Request
	}{
		{"missing percentage", Request{Action: ActionLibrarianReview, Decision: DecisionPassed, Report: "clean"}},
		{"missing report", Request{Action: ActionLibrarianReview, Decision: DecisionPassed, PlagiarismPercentage: floatPtr(4)}},
		{"missing result", Request{Action: ActionLibrarianReview, PlagiarismPercentage: floatPtr(4), Report: "clean"}},
		{"illegal result value", Request{Action: ActionLibrarianReview, Decision: "approved", PlagiarismPercentage: floatPtr(4), Report: "clean"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			thesis := newThesis(models.StatusGuideApproved, models.StageLibrarian)
			before := *thesis
			_, err := engine.Decide(thesis, actor, tc.req)
			requireCode(t, err, appErrors.ErrValidation.Code)
			require.Equal(t, before, *thesis)
		})
	}
}

func TestEngineTerminalStatesAcceptNothing(t *testing.T) {
	engine := NewEngine()

	actions := map[Action]Actor{
		ActionGuideDecide:      {UserID: "guide-1", Role: models.RoleGuide},
		ActionLibrarianReview:  {UserID: "lib-1", Role: models.RoleLibrarian},
		ActionRegistrarDecide:  {UserID: "reg-1", Role: models.RoleRegistrar},
		ActionVCDecide:         {UserID: "vc-1", Role: models.RoleVC},
		ActionFinalDecide:      {UserID: "guide-1", Role: models.RoleGuide},
		ActionGuideReapprove:   {UserID: "guide-1", Role: models.RoleGuide},
		ActionGuideFinalReject: {UserID: "guide-1", Role: models.RoleGuide},
	}

	terminals := []struct {
		status models.ThesisStatus
		stage  models.ThesisStage
	}{
		{models.StatusApproved, models.StageCompleted},
		{models.StatusRejected, models.StageCompleted},
		{models.StatusRejected, models.StageScholar},
	}

	for _, terminal := range terminals {
		for action, actor := range actions {
			thesis := newThesis(terminal.status, terminal.stage)
			require.True(t, thesis.Terminal())
			_, err := engine.Decide(thesis, actor, Request{
				Action:               action,
				Decision:             DecisionApproved,
				PlagiarismPercentage: floatPtr(1),
				Report:               "n/a",
				Target:               models.StageVC,
			})
			requireCode(t, err, appErrors.ErrPreconditionFailed.Code)
		}
	}
}

// Full lifecycle: submission, guide approval, librarian failure, targeted
// re-approval at the registrar, then approvals through to completion.
func TestEngineFullScenario(t *testing.T) {
	engine := NewEngine()
	thesis := newThesis(models.StatusSubmitted, models.StageGuide)
	guide := Actor{UserID: "guide-1", Role: models.RoleGuide}

	step := func(actor Actor, req Request, wantStatus models.ThesisStatus, wantStage models.ThesisStage) {
		t.Helper()
		outcome, err := engine.Decide(thesis, actor, req)
		require.NoError(t, err)
		applyOutcome(thesis, outcome)
		require.Equal(t, wantStatus, thesis.Status)
		require.Equal(t, wantStage, thesis.CurrentStage)
		require.True(t, ValidPair(thesis.Status, thesis.CurrentStage))
	}

	step(guide, Request{Action: ActionGuideDecide, Decision: DecisionApproved},
		models.StatusGuideApproved, models.StageLibrarian)

	step(Actor{UserID: "lib-1", Role: models.RoleLibrarian}, Request{
		Action:               ActionLibrarianReview,
		Decision:             DecisionFailed,
		PlagiarismPercentage: floatPtr(40),
		Report:               "plagiarized",
	}, models.StatusLibrarianRejected, models.StageGuide)

	step(guide, Request{Action: ActionGuideReapprove, Target: models.StageRegistrar},
		models.StatusLibrarianReviewed, models.StageRegistrar)

	step(Actor{UserID: "reg-1", Role: models.RoleRegistrar}, Request{Action: ActionRegistrarDecide, Decision: DecisionApproved},
		models.StatusRegistrarReviewed, models.StageVC)

	step(Actor{UserID: "vc-1", Role: models.RoleVC}, Request{Action: ActionVCDecide, Decision: DecisionApproved},
		models.StatusVCReviewed, models.StageFinal)

	step(guide, Request{Action: ActionFinalDecide, Decision: DecisionApproved},
		models.StatusApproved, models.StageCompleted)

	// History keeps one record per pass, keyed by stage.
	require.Len(t, thesis.Approvals, 6)
	for _, key := range []models.ApprovalKey{
		models.ApprovalKeyGuide,
		models.ApprovalKeyLibrarian,
		models.ApprovalKeyReapproval,
		models.ApprovalKeyRegistrar,
		models.ApprovalKeyVC,
		models.ApprovalKeyFinal,
	} {
		require.Contains(t, thesis.Approvals, key)
	}

	// Terminal: nothing further is accepted.
	_, err := engine.Decide(thesis, guide, Request{Action: ActionFinalDecide, Decision: DecisionRejected})
	requireCode(t, err, appErrors.ErrPreconditionFailed.Code)
}

func TestValidPairRejectsOffTableCombinations(t *testing.T) {
	require.False(t, ValidPair(models.StatusSubmitted, models.StageLibrarian))
	require.False(t, ValidPair(models.StatusApproved, models.StageGuide))
	require.False(t, ValidPair(models.StatusGuideApproved, models.StageGuide))
	require.True(t, ValidPair(models.StatusRejected, models.StageScholar))
}
