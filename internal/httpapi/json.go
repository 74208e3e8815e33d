package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func writeJSONBody(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
