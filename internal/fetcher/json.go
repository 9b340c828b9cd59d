package fetcher

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DecodeJSONObject decodes a single JSON object from a reader. Unknown
// fields are rejected.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}

// DecodeYAMLObject decodes a single YAML document from a reader. Unknown
// fields are rejected.
func DecodeYAMLObject[T any](r io.Reader) (*T, error) {
	var obj T
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "yaml: decode object")
	}
	return &obj, nil
}
