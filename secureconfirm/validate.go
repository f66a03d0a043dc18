package secureconfirm

import (
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
)

const currentSchemaVersion = 2

// validate checks schema version, requestId, type, and forbidden fields.
// Forbidden fields are checked in the raw payload map so a host that
// smuggles prfOutput/wrapKeySeed/etc. under any of the typed shapes is
// still caught before any typed access occurs.
func validate(req *RequestEnvelope) error {
	if req.SchemaVersion != currentSchemaVersion {
		return errorsx.New(errorsx.InvalidRequest, "unsupported schemaVersion")
	}
	if req.RequestID == "" {
		return errorsx.New(errorsx.InvalidRequest, "requestId is required")
	}
	if !isKnownType(req.Type) {
		return errorsx.New(errorsx.InvalidRequest, "unknown request type")
	}
	if req.RawPayload == nil {
		return errorsx.New(errorsx.InvalidRequest, "payload is required")
	}
	if field, found := findForbiddenField(req.RawPayload); found {
		return errorsx.New(errorsx.InvalidRequest, "forbidden field present in payload: "+field)
	}
	if req.Summary != nil {
		if field, found := findForbiddenField(req.Summary); found {
			return errorsx.New(errorsx.InvalidRequest, "forbidden field present in summary: "+field)
		}
	}
	return nil
}

func isKnownType(t RequestType) bool {
	switch t {
	case RequestSignTransaction, RequestSignNep413Message, RequestRegisterAccount,
		RequestLinkDevice, RequestDecryptPrivateKey, RequestShowSecurePrivateKey:
		return true
	default:
		return false
	}
}

// findForbiddenField recursively scans m (and any nested maps, including
// maps held in arrays) for any of forbiddenFields.
func findForbiddenField(m map[string]interface{}) (string, bool) {
	for _, name := range forbiddenFields {
		if _, present := m[name]; present {
			return name, true
		}
	}
	for _, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			if field, found := findForbiddenField(nested); found {
				return field, true
			}
		}
		if list, ok := v.([]interface{}); ok {
			for _, item := range list {
				if nested, ok := item.(map[string]interface{}); ok {
					if field, found := findForbiddenField(nested); found {
						return field, true
					}
				}
			}
		}
	}
	return "", false
}
