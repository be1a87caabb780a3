package types

// CreateRunRequest is the body of the run creation call.
type CreateRunRequest struct {
	ContentRequestID    string  `json:"content_request_id" validate:"required,uuid"`
	ExternalExecutionID *string `json:"n8n_execution_id,omitempty" validate:"omitempty,min=1"`
}

// CreateRunResponse is returned by the run creation call.
type CreateRunResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id"`
}

// ControlRunRequest is the body of the run control call.
type ControlRunRequest struct {
	RunID  string `json:"run_id" validate:"required,uuid"`
	Action Action `json:"action" validate:"required,oneof=pause resume stop"`
}

// ControlRunResponse is returned by the run control call.
type ControlRunResponse struct {
	Success bool      `json:"success"`
	Status  RunStatus `json:"status"`
}

// StageReport is one stage transition reported by the external engine or the poller.
// StageOrder is a pointer so that an explicit zero is distinguishable from a missing field.
type StageReport struct {
	RunID          string         `json:"run_id" validate:"required,uuid"`
	StageName      string         `json:"stage_name" validate:"required"`
	StageOrder     *int           `json:"stage_order" validate:"required,min=0"`
	Status         StageStatus    `json:"status" validate:"required,oneof=pending running completed failed"`
	OutputText     *string        `json:"output_text,omitempty"`
	OutputMetadata map[string]any `json:"output_metadata,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
}

// RunDetail is the run read call's response: the run and its stages by stage_order.
type RunDetail struct {
	Run     *Run            `json:"run"`
	Request *ContentRequest `json:"content_request,omitempty"`
	Stages  []Stage         `json:"stages"`
}

// SubmitContentRequest is the body of the content request submission call.
type SubmitContentRequest struct {
	ArticleTitle   string `json:"article_title" validate:"required,min=1,max=500"`
	ClientName     string `json:"client_name,omitempty" validate:"max=200"`
	PrimaryKeyword string `json:"primary_keyword,omitempty" validate:"max=200"`
}

// BroadcastRequest relays a brief status update to a client channel.
type BroadcastRequest struct {
	ClientID    string         `json:"clientId" validate:"required"`
	BriefUpdate map[string]any `json:"briefUpdate" validate:"required"`
}

// ScoreContentRequest asks for an LLM quality score of stage output.
type ScoreContentRequest struct {
	Content   string `json:"content" validate:"required"`
	StageName string `json:"stage_name,omitempty"`
}

// ScoreContentResponse carries the score and improvement suggestions.
type ScoreContentResponse struct {
	Score       int      `json:"score"`
	Suggestions []string `json:"suggestions"`
}
