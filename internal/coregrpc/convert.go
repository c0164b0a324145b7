package coregrpc

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pppwaw/white-label-airport-core/schema"
)

// Wire field names, matching the core's protobuf JSON names.
const (
	fieldSettingsJSON        = "hiddify_settings_json"
	fieldContent             = "content"
	fieldDebug               = "debug"
	fieldResponseCode        = "response_code"
	fieldMessage             = "message"
	fieldConfigContent       = "config_content"
	fieldEnableRawConfig     = "enable_raw_config"
	fieldCoreState           = "core_state"
	fieldMessageType         = "message_type"
	fieldSupportsTLSFragment = "supports_tls_fragment"
	fieldSupportsQUIC        = "supports_quic"
	fieldSupportsECH         = "supports_ech"
	fieldSchemaVersion       = "schema_version"
)

func newStruct(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	if s == nil {
		return false
	}
	return s.GetFields()[key].GetBoolValue()
}

func intField(s *structpb.Struct, key string) int {
	if s == nil {
		return 0
	}
	return int(s.GetFields()[key].GetNumberValue())
}

func toPBChangeSettings(req schema.ChangeSettingsRequest) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		fieldSettingsJSON: structpb.NewStringValue(req.SettingsJSON),
	})
}

func fromPBChangeSettings(s *structpb.Struct) schema.ChangeSettingsRequest {
	return schema.ChangeSettingsRequest{SettingsJSON: stringField(s, fieldSettingsJSON)}
}

func toPBSettings(resp schema.SettingsResponse) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		fieldSettingsJSON: structpb.NewStringValue(resp.SettingsJSON),
	})
}

func fromPBSettings(s *structpb.Struct) schema.SettingsResponse {
	return schema.SettingsResponse{SettingsJSON: stringField(s, fieldSettingsJSON)}
}

func toPBCapabilities(c schema.Capabilities) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		fieldSupportsTLSFragment: structpb.NewBoolValue(c.SupportsTLSFragment),
		fieldSupportsQUIC:        structpb.NewBoolValue(c.SupportsQUIC),
		fieldSupportsECH:         structpb.NewBoolValue(c.SupportsECH),
		fieldSchemaVersion:       structpb.NewStringValue(c.SchemaVersion),
	})
}

func fromPBCapabilities(s *structpb.Struct) schema.Capabilities {
	return schema.Capabilities{
		SupportsTLSFragment: boolField(s, fieldSupportsTLSFragment),
		SupportsQUIC:        boolField(s, fieldSupportsQUIC),
		SupportsECH:         boolField(s, fieldSupportsECH),
		SchemaVersion:       stringField(s, fieldSchemaVersion),
	}
}

func toPBParseRequest(req schema.ParseRequest) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		fieldContent: structpb.NewStringValue(req.Content),
		fieldDebug:   structpb.NewBoolValue(req.Debug),
	})
}

func fromPBParseRequest(s *structpb.Struct) schema.ParseRequest {
	return schema.ParseRequest{Content: stringField(s, fieldContent), Debug: boolField(s, fieldDebug)}
}

func toPBParseResponse(resp schema.ParseResponse) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		fieldResponseCode: structpb.NewNumberValue(float64(resp.Code)),
		fieldContent:      structpb.NewStringValue(resp.Content),
		fieldMessage:      structpb.NewStringValue(resp.Message),
	})
}

func fromPBParseResponse(s *structpb.Struct) schema.ParseResponse {
	return schema.ParseResponse{
		Code:    schema.ResponseCode(intField(s, fieldResponseCode)),
		Content: stringField(s, fieldContent),
		Message: stringField(s, fieldMessage),
	}
}

func toPBStartRequest(req schema.StartRequest) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		fieldConfigContent:   structpb.NewStringValue(req.ConfigContent),
		fieldEnableRawConfig: structpb.NewBoolValue(req.EnableRawConfig),
	})
}

func fromPBStartRequest(s *structpb.Struct) schema.StartRequest {
	return schema.StartRequest{
		ConfigContent:   stringField(s, fieldConfigContent),
		EnableRawConfig: boolField(s, fieldEnableRawConfig),
	}
}

func toPBCoreInfo(info schema.CoreInfo) *structpb.Struct {
	return newStruct(map[string]*structpb.Value{
		fieldCoreState:   structpb.NewNumberValue(float64(info.State)),
		fieldMessageType: structpb.NewStringValue(string(info.MessageType)),
		fieldMessage:     structpb.NewStringValue(info.Message),
	})
}

// fromPBCoreInfo decodes a lifecycle report. A missing core_state decodes as
// an out-of-range value so the subscriber skips it.
func fromPBCoreInfo(s *structpb.Struct) schema.CoreInfo {
	state := schema.CoreState(-1)
	if v, ok := s.GetFields()[fieldCoreState]; ok {
		if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); isNumber {
			state = schema.CoreState(int(v.GetNumberValue()))
		}
	}
	return schema.CoreInfo{
		State:       state,
		MessageType: schema.MessageType(stringField(s, fieldMessageType)),
		Message:     stringField(s, fieldMessage),
	}
}
