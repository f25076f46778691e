package stackexchange

// wrapper is the common envelope of every Stack Exchange API response.
type wrapper[T any] struct {
	Items          []T    `json:"items"`
	HasMore        bool   `json:"has_more"`
	QuotaRemaining int    `json:"quota_remaining"`
	Backoff        int    `json:"backoff"`
	ErrorID        int    `json:"error_id"`
	ErrorName      string `json:"error_name"`
	ErrorMessage   string `json:"error_message"`
}

type question struct {
	QuestionID       int      `json:"question_id"`
	Title            string   `json:"title"`
	Body             string   `json:"body"`
	Link             string   `json:"link"`
	Score            int      `json:"score"`
	Tags             []string `json:"tags"`
	CreationDate     int64    `json:"creation_date"`
	AcceptedAnswerID int      `json:"accepted_answer_id"`
}

type answer struct {
	AnswerID   int    `json:"answer_id"`
	QuestionID int    `json:"question_id"`
	Body       string `json:"body"`
	Score      int    `json:"score"`
	IsAccepted bool   `json:"is_accepted"`
}
