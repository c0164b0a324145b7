package core

import (
	"context"
	"strings"

	"github.com/pppwaw/white-label-airport-core/internal/logx"
	"github.com/pppwaw/white-label-airport-core/schema"
)

// Pipeline names.
const (
	PipelineConnect    = "connect"
	PipelineDisconnect = "disconnect"
)

// Step names.
const (
	StepSnapshotSettings = "snapshot-settings"
	StepChangeSettings   = "change-settings"
	StepParse            = "parse"
	StepStart            = "start"
	StepStop             = "stop"
)

// ConnectRequest carries the user's input for the connect pipeline. Both
// documents are opaque to the controller.
type ConnectRequest struct {
	// SettingsJSON replaces the core settings before parsing when non-empty.
	SettingsJSON string
	// ConfigContent is the proxy configuration to parse and start.
	ConfigContent string
	Debug         bool
}

type settingsSnapshot struct {
	json string
	ok   bool
}

type settingsChange struct {
	previous settingsSnapshot
	next     string
}

// SettingsResult is the change-settings response. The settings stage is best
// effort: a rejected change leaves Applied false and the run continues.
type SettingsResult struct {
	Applied  bool
	Response schema.SettingsResponse
	Err      error

	previous settingsSnapshot
}

// ConnectSteps returns the connect sequence: optionally snapshot and replace
// the settings, parse the configuration, then start the core with the parsed
// content. Settings failures are logged and do not stop the run. A failed
// parse or start restores the snapshot when one was taken and the change was
// applied.
func ConnectSteps(client CoreClient, req ConnectRequest) []Step {
	steps := make([]Step, 0, 4)
	if strings.TrimSpace(req.SettingsJSON) != "" {
		steps = append(steps,
			NewStep(StepSnapshotSettings, nil,
				func(ctx context.Context, _ struct{}) (settingsSnapshot, error) {
					resp, err := client.Settings(ctx)
					if err != nil {
						if ctx.Err() != nil {
							return settingsSnapshot{}, err
						}
						logx.Ctx(ctx).Warn("settings snapshot failed; restore disabled", "err", err)
						return settingsSnapshot{}, nil
					}
					return settingsSnapshot{json: resp.SettingsJSON, ok: true}, nil
				}, nil),
			Compensated(NewStep(StepChangeSettings,
				func(prior Results) (settingsChange, error) {
					snapshot, _ := ResultOf[settingsSnapshot](prior, StepSnapshotSettings)
					return settingsChange{previous: snapshot, next: req.SettingsJSON}, nil
				},
				func(ctx context.Context, in settingsChange) (SettingsResult, error) {
					resp, err := client.ChangeSettings(ctx, schema.ChangeSettingsRequest{SettingsJSON: in.next})
					if err != nil {
						if ctx.Err() != nil {
							return SettingsResult{}, err
						}
						logx.Ctx(ctx).Warn("settings not applied; continuing", "err", err)
						return SettingsResult{Err: err, previous: in.previous}, nil
					}
					return SettingsResult{Applied: true, Response: resp, previous: in.previous}, nil
				}, nil),
				func(ctx context.Context, changed SettingsResult) error {
					if !changed.Applied || !changed.previous.ok {
						return nil
					}
					_, err := client.ChangeSettings(ctx, schema.ChangeSettingsRequest{SettingsJSON: changed.previous.json})
					return err
				}),
		)
	}
	steps = append(steps,
		NewStep(StepParse,
			func(Results) (schema.ParseRequest, error) {
				if strings.TrimSpace(req.ConfigContent) == "" {
					return schema.ParseRequest{}, schema.ErrEmptyConfig
				}
				return schema.ParseRequest{Content: req.ConfigContent, Debug: req.Debug}, nil
			},
			client.Parse,
			func(resp schema.ParseResponse) error {
				if resp.Code != schema.ResponseCodeOK {
					return ApplicationFailure(StepParse, resp.Message)
				}
				return nil
			}),
		NewStep(StepStart,
			func(prior Results) (schema.StartRequest, error) {
				parsed, _ := ResultOf[schema.ParseResponse](prior, StepParse)
				return schema.StartRequest{ConfigContent: parsed.Content, EnableRawConfig: false}, nil
			},
			client.Start,
			checkCoreInfo(StepStart)),
	)
	return steps
}

// DisconnectSteps returns the disconnect sequence.
func DisconnectSteps(client CoreClient) []Step {
	return []Step{
		NewStep(StepStop, nil,
			func(ctx context.Context, _ struct{}) (schema.CoreInfo, error) {
				return client.Stop(ctx)
			},
			checkCoreInfo(StepStop)),
	}
}

func checkCoreInfo(op string) func(schema.CoreInfo) error {
	return func(info schema.CoreInfo) error {
		if info.MessageType.IsError() {
			message := info.Message
			if message == "" {
				message = op + " failed: " + string(info.MessageType)
			}
			return ApplicationFailure(op, message)
		}
		return nil
	}
}
