package model

// StatusCounts is a point-in-time tally of pipeline rows by state.
type StatusCounts struct {
	Items           int                      `json:"items"`
	Classifications int                      `json:"classifications"`
	FactChecks      map[FactCheckStatus]int  `json:"fact_checks"`
	Notes           map[NoteStatus]int       `json:"notes"`
	Submissions     map[SubmissionStatus]int `json:"submissions"`
}
