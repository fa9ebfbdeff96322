// Package workflow owns the thesis approval state machine: the closed set of
// (status, stage) pairs, the transition table, and the authorization rules
// applied before every transition. The package is pure (it never touches
// storage), so the full table is testable without infrastructure.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/thesis-track-api/internal/models"
	appErrors "github.com/noah-isme/thesis-track-api/pkg/errors"
)

// Action identifies a transition request, one per row family in the table.
type Action string

const (
	ActionGuideDecide      Action = "guide-decide"
	ActionLibrarianReview  Action = "librarian-review"
	ActionRegistrarDecide  Action = "registrar-decide"
	ActionVCDecide         Action = "vc-decide"
	ActionFinalDecide      Action = "final-decide"
	ActionGuideReapprove   Action = "guide-reapprove"
	ActionGuideFinalReject Action = "guide-final-reject"
)

// Decision values accepted by the decide actions.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
	DecisionPassed   = "passed"
	DecisionFailed   = "failed"
)

// Actor is the identity attempting a transition. The identity context is
// trusted completely; no credential verification happens here.
type Actor struct {
	UserID string
	Role   models.UserRole
}

// Request carries the action and its action-specific payload.
type Request struct {
	Action               Action
	Decision             string
	Comment              string
	PlagiarismPercentage *float64
	Report               string
	Target               models.ThesisStage
}

// Outcome is the committed result of a legal transition: the new state plus
// the approval record to append under Key.
type Outcome struct {
	Status models.ThesisStatus
	Stage  models.ThesisStage
	Key    models.ApprovalKey
	Record models.Approval
}

type rule struct {
	status models.ThesisStatus
	stage  models.ThesisStage
	action Action
}

// transitionTable enumerates every legal (status, stage, action) row. A
// request whose current state matches no row for its action fails with a
// precondition error echoing the current state.
var transitionTable = []rule{
	{models.StatusSubmitted, models.StageGuide, ActionGuideDecide},
	{models.StatusGuideApproved, models.StageLibrarian, ActionLibrarianReview},
	{models.StatusLibrarianReviewed, models.StageRegistrar, ActionRegistrarDecide},
	{models.StatusRegistrarReviewed, models.StageVC, ActionVCDecide},
	{models.StatusVCReviewed, models.StageFinal, ActionFinalDecide},
	{models.StatusLibrarianRejected, models.StageGuide, ActionGuideReapprove},
	{models.StatusRegistrarRejected, models.StageGuide, ActionGuideReapprove},
	{models.StatusVCRejected, models.StageGuide, ActionGuideReapprove},
	{models.StatusLibrarianRejected, models.StageGuide, ActionGuideFinalReject},
	{models.StatusRegistrarRejected, models.StageGuide, ActionGuideFinalReject},
	{models.StatusVCRejected, models.StageGuide, ActionGuideFinalReject},
}

// actionRoles maps each action to the role allowed to perform it. Guide
// actions additionally require the actor to be the thesis's assigned guide;
// librarian, registrar and vc authorize by role alone.
var actionRoles = map[Action]models.UserRole{
	ActionGuideDecide:      models.RoleGuide,
	ActionLibrarianReview:  models.RoleLibrarian,
	ActionRegistrarDecide:  models.RoleRegistrar,
	ActionVCDecide:         models.RoleVC,
	ActionFinalDecide:      models.RoleGuide,
	ActionGuideReapprove:   models.RoleGuide,
	ActionGuideFinalReject: models.RoleGuide,
}

// reapprovalTargets maps a re-approval target stage to the status that
// precedes it. The guide may re-inject the document at any later stage
// without re-running earlier ones; the skip is deliberate and must be
// preserved exactly.
var reapprovalTargets = map[models.ThesisStage]models.ThesisStatus{
	models.StageLibrarian: models.StatusGuideApproved,
	models.StageRegistrar: models.StatusLibrarianReviewed,
	models.StageVC:        models.StatusRegistrarReviewed,
}

// validPairs enumerates every reachable (status, stage) combination. Nothing
// outside this set is ever persisted.
var validPairs = map[models.ThesisStatus]map[models.ThesisStage]struct{}{
	models.StatusSubmitted:         {models.StageGuide: {}},
	models.StatusGuideApproved:     {models.StageLibrarian: {}},
	models.StatusGuideRejected:     {models.StageGuide: {}},
	models.StatusLibrarianReviewed: {models.StageRegistrar: {}},
	models.StatusLibrarianRejected: {models.StageGuide: {}},
	models.StatusRegistrarReviewed: {models.StageVC: {}},
	models.StatusRegistrarRejected: {models.StageGuide: {}},
	models.StatusVCReviewed:        {models.StageFinal: {}},
	models.StatusVCRejected:        {models.StageGuide: {}},
	models.StatusApproved:          {models.StageCompleted: {}},
	models.StatusRejected:          {models.StageCompleted: {}, models.StageScholar: {}},
}

// ValidPair reports whether the combination is one of the reachable rows.
func ValidPair(status models.ThesisStatus, stage models.ThesisStage) bool {
	stages, ok := validPairs[status]
	if !ok {
		return false
	}
	_, ok = stages[stage]
	return ok
}

// Engine interprets the transition table. It is stateless and safe for
// concurrent use.
type Engine struct{}

// NewEngine constructs the engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Decide validates a transition request against the table and returns the
// outcome to persist. The checks run in a fixed order: role, guide identity,
// state row match, payload. No partial result is ever returned alongside an
// error.
func (e *Engine) Decide(thesis *models.Thesis, actor Actor, req Request) (*Outcome, error) {
	role, ok := actionRoles[req.Action]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action: %s", req.Action))
	}
	if actor.Role != role {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("action %s requires role %s", req.Action, role))
	}
	if role == models.RoleGuide && actor.UserID != thesis.GuideID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the assigned guide for this thesis")
	}
	if !e.rowMatches(thesis, req.Action) {
		return nil, preconditionError(thesis)
	}
	return e.apply(thesis, req)
}

func (e *Engine) rowMatches(thesis *models.Thesis, action Action) bool {
	for _, row := range transitionTable {
		if row.action == action && row.status == thesis.Status && row.stage == thesis.CurrentStage {
			return true
		}
	}
	return false
}

func (e *Engine) apply(thesis *models.Thesis, req Request) (*Outcome, error) {
	now := time.Now().UTC()
	switch req.Action {
	case ActionGuideDecide:
		return decideOutcome(req, now, models.ApprovalKeyGuide,
			models.StatusGuideApproved, models.StageLibrarian,
			models.StatusGuideRejected, models.StageGuide)
	case ActionRegistrarDecide:
		return decideOutcome(req, now, models.ApprovalKeyRegistrar,
			models.StatusRegistrarReviewed, models.StageVC,
			models.StatusRegistrarRejected, models.StageGuide)
	case ActionVCDecide:
		return decideOutcome(req, now, models.ApprovalKeyVC,
			models.StatusVCReviewed, models.StageFinal,
			models.StatusVCRejected, models.StageGuide)
	case ActionFinalDecide:
		return decideOutcome(req, now, models.ApprovalKeyFinal,
			models.StatusApproved, models.StageCompleted,
			models.StatusRejected, models.StageCompleted)
	case ActionLibrarianReview:
		return librarianOutcome(req, now)
	case ActionGuideReapprove:
		return reapprovalOutcome(thesis, req, now)
	case ActionGuideFinalReject:
		return finalRejectionOutcome(thesis, req, now)
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action: %s", req.Action))
}

func decideOutcome(req Request, now time.Time, key models.ApprovalKey,
	approvedStatus models.ThesisStatus, approvedStage models.ThesisStage,
	rejectedStatus models.ThesisStatus, rejectedStage models.ThesisStage) (*Outcome, error) {
	record := models.Approval{Decision: req.Decision, Comment: req.Comment, Date: now}
	switch req.Decision {
	case DecisionApproved:
		return &Outcome{Status: approvedStatus, Stage: approvedStage, Key: key, Record: record}, nil
	case DecisionRejected:
		return &Outcome{Status: rejectedStatus, Stage: rejectedStage, Key: key, Record: record}, nil
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, `decision must be "approved" or "rejected"`)
}

func librarianOutcome(req Request, now time.Time) (*Outcome, error) {
	if req.PlagiarismPercentage == nil || strings.TrimSpace(req.Report) == "" || req.Decision == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plagiarism percentage, report, and result are required")
	}
	record := models.Approval{
		Decision:             req.Decision,
		Comment:              req.Comment,
		PlagiarismPercentage: req.PlagiarismPercentage,
		Report:               req.Report,
		Date:                 now,
	}
	switch req.Decision {
	case DecisionPassed:
		return &Outcome{Status: models.StatusLibrarianReviewed, Stage: models.StageRegistrar, Key: models.ApprovalKeyLibrarian, Record: record}, nil
	case DecisionFailed:
		return &Outcome{Status: models.StatusLibrarianRejected, Stage: models.StageGuide, Key: models.ApprovalKeyLibrarian, Record: record}, nil
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, `result must be "passed" or "failed"`)
}

func reapprovalOutcome(thesis *models.Thesis, req Request, now time.Time) (*Outcome, error) {
	status, ok := reapprovalTargets[req.Target]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid re-approval target")
	}
	record := models.Approval{
		Decision:         DecisionApproved,
		Comment:          req.Comment,
		Target:           string(req.Target),
		OriginalRejector: originalRejector(thesis.Status),
		Date:             now,
	}
	return &Outcome{Status: status, Stage: req.Target, Key: models.ApprovalKeyReapproval, Record: record}, nil
}

func finalRejectionOutcome(thesis *models.Thesis, req Request, now time.Time) (*Outcome, error) {
	comment := req.Comment
	if strings.TrimSpace(comment) == "" {
		comment = "thesis finally rejected by guide"
	}
	record := models.Approval{
		Decision:         DecisionRejected,
		Comment:          comment,
		RejectedBy:       "guide",
		OriginalRejector: originalRejector(thesis.Status),
		Date:             now,
	}
	return &Outcome{Status: models.StatusRejected, Stage: models.StageScholar, Key: models.ApprovalKeyFinalRejection, Record: record}, nil
}

func originalRejector(status models.ThesisStatus) string {
	return strings.TrimSuffix(string(status), "_rejected")
}

func preconditionError(thesis *models.Thesis) *appErrors.Error {
	err := appErrors.Clone(appErrors.ErrPreconditionFailed, "thesis is not in a state that allows this action")
	return appErrors.WithDetails(err, map[string]interface{}{
		"status":       thesis.Status,
		"currentStage": thesis.CurrentStage,
	})
}
