package types

// Event is what the hub delivers to connected clients.
type Event struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Event types.
const (
	EventMatchCreated        = "match_created"
	EventMapsGenerated       = "maps_generated"
	EventScoreUpdate         = "score_update"
	EventScoreComplete       = "score_complete"
	EventScoreSubmitted      = "score_submitted"
	EventIssueReported       = "issue_reported"
	EventIssueResolved       = "issue_resolved"
	EventSubmissionCancelled = "submission_cancelled"
	EventMatchClosed         = "match_closed"
	EventMatchResult         = "match_result"
	EventQueueRemoved        = "queue_removed"
)

// MatchAction enumerates the score/state mutations a client can request on a
// match. Decoded once at the API boundary; the domain layer only ever sees the
// tagged variant, never a raw action string.
type MatchAction string

const (
	ActionGenerateMaps     MatchAction = "generate_maps"
	ActionReportWin        MatchAction = "report_win"
	ActionUndo             MatchAction = "undo"
	ActionSubmit           MatchAction = "submit"
	ActionReportIssue      MatchAction = "report_issue"
	ActionResolveIssue     MatchAction = "resolve_issue"
	ActionCancelSubmission MatchAction = "cancel_submission"
	ActionAssignAdmin      MatchAction = "assign_admin"
)

// Valid reports whether the action is a known variant.
func (a MatchAction) Valid() bool {
	switch a {
	case ActionGenerateMaps, ActionReportWin, ActionUndo, ActionSubmit,
		ActionReportIssue, ActionResolveIssue, ActionCancelSubmission, ActionAssignAdmin:
		return true
	}
	return false
}
