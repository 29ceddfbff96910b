package domain

// QAPair is a question/answer expansion derived from a context at write
// time. Each pair is indexed as its own stitched unit so paraphrased
// queries hit it directly; the dispatcher collapses hits back to ParentID.
type QAPair struct {
	ParentID   string  `json:"parent_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	FactType   string  `json:"fact_type"`
	Confidence float64 `json:"confidence"`
}

// Stitched returns the unit actually embedded and indexed: question and
// answer joined so either phrasing matches.
func (q QAPair) Stitched() string {
	return q.Question + " " + q.Answer
}
