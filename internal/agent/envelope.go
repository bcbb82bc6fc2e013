package agent

// Job is the envelope dispatched to the remote agent. Fun addresses the
// agent-side handler as "<service>.<method>". ResModel/ResMethod name the
// callback that receives the asynchronous result, and PassBack is returned
// with it untouched.
type Job struct {
	Fun            string         `json:"fun"`
	Args           any            `json:"args,omitempty"`
	Kwargs         map[string]any `json:"kwargs,omitempty"`
	Timeout        int            `json:"timeout,omitempty"` // seconds
	ResModel       string         `json:"res_model,omitempty"`
	ResMethod      string         `json:"res_method,omitempty"`
	ResNotifyUID   int64          `json:"res_notify_uid,omitempty"`
	ResNotifyTitle string         `json:"res_notify_title,omitempty"`
	PassBack       map[string]any `json:"pass_back,omitempty"`
}

// CallbackEnvelope is the payload the agent posts back with an asynchronous
// job result.
type CallbackEnvelope struct {
	ResModel    string         `json:"res_model"`
	ResMethod   string         `json:"res_method"`
	Result      any            `json:"result"`
	PassBack    map[string]any `json:"pass_back,omitempty"`
	NotifyUID   int64          `json:"res_notify_uid,omitempty"`
	NotifyTitle string         `json:"res_notify_title,omitempty"`
}

// ValidationError is a user-facing precondition failure. The API layer maps
// it to a 4xx response; the dispatcher uses it for subscription and
// configuration errors.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with the given message.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}
