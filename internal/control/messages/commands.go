package messages

type Command string

const (
	CommandInfo          Command = "info"
	CommandLog           Command = "log"
	CommandAlert         Command = "alert"
	CommandTrack         Command = "track"
	CommandStart         Command = "start"
	CommandEnd           Command = "end"
	CommandRefreshConfig Command = "refresh_config"
	CommandStop          Command = "stop"
)

// Request is one newline-terminated JSON line sent to the daemon socket.
type Request struct {
	Command Command `json:"command"`
	// Message is the text of a log or alert.
	Message string `json:"message,omitempty"`
	// ProcessName names the short lived process to track.
	ProcessName string `json:"process_name,omitempty"`
	RunName     string `json:"run_name,omitempty"`
}
