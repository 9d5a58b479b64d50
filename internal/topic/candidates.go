package topic

// CandidatePoint is a discussion point proposed by a day- or version-level
// clustering pass. Refs name sub-cluster ids or daily_top_ids.
type CandidatePoint struct {
	Text           string
	Refs           []string
	PlayerOpinions []string
	ExampleQuotes  []string
}

// DayCandidate is one day-level cluster as proposed by the model, before
// back-fill and scoring.
type DayCandidate struct {
	TopicTitle string
	Date       string
	TimeAxis   string
	MemberIDs  []string
	Points     []CandidatePoint
}

// VersionCandidate is one multi-day cluster as proposed by the model.
type VersionCandidate struct {
	TopicTitle string
	Points     []CandidatePoint
}

// Detail is opinion and quote data produced for one sub-cluster after the
// daily ranking.
type Detail struct {
	PlayerOpinions []string
	ExampleQuotes  []string
}
