package cache

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// keyPayload is the serialized part of a request key. Field order is fixed
// and encoding/json sorts map keys, so equal requests produce equal keys.
type keyPayload struct {
	Method string     `json:"method"`
	Params url.Values `json:"params"`
	Data   any        `json:"data"`
}

// RequestKey derives the deterministic key shared by caching and deduplication.
// Format: endpoint:{"method":...,"params":...,"data":...}
//
// Example:
//
//	/incidents:{"method":"GET","params":{"status":["open"]},"data":null}
//
// GET requests never carry a body, so data is always null for them. Empty
// params serialize as {} regardless of whether the map is nil.
func RequestKey(endpoint, method string, params url.Values, data any) string {
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}
	if method == http.MethodGet {
		data = nil
	}
	if params == nil {
		params = url.Values{}
	}

	encoded, err := json.Marshal(keyPayload{Method: method, Params: params, Data: data})
	if err != nil {
		// Unencodable bodies (channels, funcs) still need a stable key per endpoint+method.
		encoded, _ = json.Marshal(keyPayload{Method: method, Params: params})
	}

	return endpoint + ":" + string(encoded)
}
