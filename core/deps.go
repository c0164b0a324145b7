package core

import (
	"context"

	"github.com/pppwaw/white-label-airport-core/schema"
)

// StateStream yields pushed lifecycle reports. Next returns io.EOF when the
// server ends the stream cleanly; after io.EOF or any other error it must not
// be called again.
type StateStream interface {
	Next(ctx context.Context) (schema.CoreInfo, error)
	Close() error
}

// StateSource opens a push stream of lifecycle reports.
type StateSource interface {
	WatchState(ctx context.Context) (StateStream, error)
}

// StateSink receives decoded remote states.
type StateSink interface {
	ObserveRemoteState(state schema.CoreState) bool
}

// CoreClient is the transport stub for the core service.
type CoreClient interface {
	StateSource
	ChangeSettings(ctx context.Context, req schema.ChangeSettingsRequest) (schema.SettingsResponse, error)
	Settings(ctx context.Context) (schema.SettingsResponse, error)
	Capabilities(ctx context.Context) (schema.Capabilities, error)
	Parse(ctx context.Context, req schema.ParseRequest) (schema.ParseResponse, error)
	Start(ctx context.Context, req schema.StartRequest) (schema.CoreInfo, error)
	Stop(ctx context.Context) (schema.CoreInfo, error)
}
