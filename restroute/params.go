package restroute

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Params merges the query string, a JSON object body and the route's URL
// parameters of r, in increasing order of precedence. Numbers in the body
// are decoded as json.Number.
func Params(r *http.Request) (map[string]any, error) {
	out := make(map[string]any)
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = append([]string(nil), vs...)
		}
	}

	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			mt, err := contenttype.GetMediaType(r)
			if err != nil || !mt.Matches(jsonMediaType) {
				return nil, fmt.Errorf("unsupported content type %q", r.Header.Get("Content-Type"))
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var body map[string]any
			if err := dec.Decode(&body); err != nil {
				return nil, fmt.Errorf("decode body: %w", err)
			}
			for k, v := range body {
				out[k] = v
			}
		}
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, k := range rctx.URLParams.Keys {
			if k == "*" {
				continue
			}
			out[k] = rctx.URLParams.Values[i]
		}
	}
	return out, nil
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an error body in the {code, message, data.status}
// shape that Dispatch decodes into *Error.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
		"data":    map[string]int{"status": status},
	})
}
