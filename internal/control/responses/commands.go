package responses

type Response struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Tracked int      `json:"tracked,omitempty"`
	Preview []string `json:"preview,omitempty"`
	RunName string   `json:"run_name,omitempty"`
	RunID   string   `json:"run_id,omitempty"`
	// Changed tells whether a config refresh replaced the target catalog.
	Changed bool `json:"changed,omitempty"`
}

func Failure(err error) *Response {
	return &Response{Error: err.Error()}
}
