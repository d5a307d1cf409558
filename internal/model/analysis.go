package model

type AnalysisResult struct {
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Summary     string   `json:"summary"`
	Sentiment   string   `json:"sentiment"`
	ActionItems []string `json:"actionItems"`
	IsRelevant  bool     `json:"isRelevant"`
}
