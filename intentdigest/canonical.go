// Package intentdigest implements the canonical JSON serializer and the
// domain-separated SHA-256/base64url digest variants that bind UI-visible
// intent to WebAuthn challenges and signed payloads.
package intentdigest

import (
	"encoding/json"
	"fmt"
	"sort"

	orderedjson "github.com/nspcc-dev/go-ordered-json"

	"github.com/tatchi-labs/secureconfirm/internal/cryptoutil"
)

// CanonicalJSON serializes v with alphabetized object keys and preserved
// array order: decode first through the standard library to a generic
// value tree, then re-encode through an ordered-map representation so
// every object, at every nesting depth, has deterministic key order.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("intentdigest: marshal input: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("intentdigest: decode input: %w", err)
	}

	canonical := canonicalize(generic)

	out, err := orderedjson.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("intentdigest: canonical marshal: %w", err)
	}
	return out, nil
}

// canonicalize recursively rebuilds a decoded JSON value so that every
// object becomes an orderedjson.OrderedObject with alphabetized keys,
// while arrays keep their original element order.
func canonicalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		obj := make(orderedjson.OrderedObject, 0, len(keys))
		for _, k := range keys {
			obj = append(obj, orderedjson.Member{Key: k, Value: canonicalize(val[k])})
		}
		return obj
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return val
	}
}

// Digest computes base64url(sha256(canonicalJSON(v))), the shared tail of
// every digest variant in this package.
func Digest(v interface{}) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := cryptoutil.Hash256(canonical)
	return b64url(sum), nil
}
