package schema

// ResponseCode is the application-level result embedded in some responses.
type ResponseCode int

const (
	// ResponseCodeOK marks a successful response.
	ResponseCodeOK ResponseCode = iota
	// ResponseCodeFailed marks a response the core rejected.
	ResponseCodeFailed
)

func (c ResponseCode) String() string {
	switch c {
	case ResponseCodeOK:
		return "ok"
	case ResponseCodeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MessageType qualifies a CoreInfo report. MessageEmpty means no problem.
type MessageType string

const (
	MessageEmpty              MessageType = ""
	MessageEmptyConfiguration MessageType = "empty-configuration"
	MessageStartService       MessageType = "start-service"
	MessageCreateService      MessageType = "create-service"
	MessageUnexpectedError    MessageType = "unexpected-error"
	MessageAlreadyStarted     MessageType = "already-started"
	MessageAlreadyStopped     MessageType = "already-stopped"
	MessageErrorParsingConfig MessageType = "error-parsing-config"
	MessageErrorBuildConfig   MessageType = "error-building-config"
)

// IsError reports whether the message type signals a failed operation.
// Already-started and already-stopped are informational.
func (m MessageType) IsError() bool {
	switch m {
	case MessageEmpty, MessageAlreadyStarted, MessageAlreadyStopped:
		return false
	default:
		return true
	}
}
