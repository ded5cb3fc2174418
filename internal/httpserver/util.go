package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var errTrailingData = errors.New("request body must contain a single JSON object")

// maxJSONBody bounds request bodies on JSON endpoints.
const maxJSONBody = 64 << 10

// maxWebhookBody bounds Razorpay webhook payloads.
const maxWebhookBody = 1 << 20

// decodeJSON decodes a size-limited JSON request body into dest.
// strict rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any, strict bool) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer body.Close()

	decoder := json.NewDecoder(body)
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}
