package transport

// LeadActionRequest is the body of POST /lead-action.
type LeadActionRequest struct {
	Action string `json:"action" validate:"required"`
	Phone  string `json:"phone" validate:"required"`
}

// LeadActionResponse reports the outcome of a dashboard action.
type LeadActionResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"msgId,omitempty"`
}
