package httpapi

import (
	"encoding/json"
	"net/http"
)

// decodeJSON decodes r's body into v. An empty body is not an error
// (several endpoints accept a body with every field optional); callers
// that require specific fields validate them after the call.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
