package control

import (
	"fmt"

	"ppgram/server/internal/ppgerr"
)

func requireString(req map[string]any, key string) (string, error) {
	v, ok := req[key].(string)
	if !ok || v == "" {
		return "", ppgerr.New(ppgerr.KindProtocolJSON, fmt.Sprintf("missing field %q", key))
	}
	return v, nil
}

func requireInt32(req map[string]any, key string) (int32, error) {
	v, ok := req[key].(float64)
	if !ok {
		return 0, ppgerr.New(ppgerr.KindProtocolJSON, fmt.Sprintf("missing field %q", key))
	}
	return int32(v), nil
}

func optString(req map[string]any, key string) *string {
	v, ok := req[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func optStringOr(req map[string]any, key string) string {
	v, _ := req[key].(string)
	return v
}

func optInt32(req map[string]any, key string) *int32 {
	v, ok := req[key].(float64)
	if !ok {
		return nil
	}
	i := int32(v)
	return &i
}

func optBool(req map[string]any, key string) (bool, bool) {
	v, ok := req[key].(bool)
	return v, ok
}

func optStringSlice(req map[string]any, key string) []string {
	raw, ok := req[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
