package fetcher

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// DecodeJSONBytes decodes body into T, keeping numbers as json.Number so
// 64-bit ids survive intact.
func DecodeJSONBytes[T any](body []byte) (*T, error) {
	var obj T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode body")
	}
	return &obj, nil
}
