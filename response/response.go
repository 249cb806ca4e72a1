package response

import (
	"encoding/json"
	"net/http"
)

// Body is the envelope for all JSON responses
type Body struct {
	Result   interface{} `json:"result"`
	Messages []string    `json:"messages"`
}

// WriteResponse will serialize result into the response envelope with HTTP 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Body{
		Result:   result,
		Messages: []string{},
	})
}

// WriteError will serialize an *Error with its status code. The Message is
// prepended to Messages so clients only have one field to display.
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(Body{
		Result:   e.Result,
		Messages: append([]string{e.Message}, e.Messages...),
	})
}
