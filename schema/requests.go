package schema

// Settings.

// ChangeSettingsRequest replaces the core's settings document. The JSON is
// passed through without interpretation.
type ChangeSettingsRequest struct {
	SettingsJSON string
}

// SettingsResponse reports the core's current settings document.
type SettingsResponse struct {
	SettingsJSON string
}

// Capabilities describes optional features supported by the core build.
type Capabilities struct {
	SupportsTLSFragment bool
	SupportsQUIC        bool
	SupportsECH         bool
	SchemaVersion       string
}

// Config parsing.

// ParseRequest asks the core to normalize a proxy configuration.
type ParseRequest struct {
	Content string
	Debug   bool
}

// ParseResponse carries the normalized configuration.
type ParseResponse struct {
	Code    ResponseCode
	Content string
	Message string
}

// Lifecycle.

// StartRequest starts the core with the given configuration.
type StartRequest struct {
	ConfigContent   string
	EnableRawConfig bool
}

// CoreInfo is the lifecycle report returned by start/stop and pushed on the
// state stream.
type CoreInfo struct {
	State       CoreState
	MessageType MessageType
	Message     string
}

// CoreState implements the carried-state contract used by command pipelines.
func (i CoreInfo) CoreState() (CoreState, bool) {
	return i.State, i.State.Valid()
}
