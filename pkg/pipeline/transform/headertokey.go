package transform

import (
	"errors"
	"slices"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
)

// HeaderToKeyConfig names the header whose value becomes the record key.
type HeaderToKeyConfig struct {
	Header string `mapstructure:"header"`
}

func (c *HeaderToKeyConfig) Validate() error {
	if c.Header == "" {
		return errors.New("header name is required")
	}
	return nil
}

func (c *HeaderToKeyConfig) Type() string {
	return TypeHeaderToKey
}

// HeaderToKey replaces the key with the value of the last header named
// config.Header. Records without that header pass through unchanged.
func HeaderToKey(config *HeaderToKeyConfig) Func {
	return func(r *record.Record) (*record.Record, error) {
		h, ok := r.LastHeader(config.Header)
		if !ok {
			return r, nil
		}
		out := r.Clone()
		out.Key = slices.Clone(h.Value)
		return &out, nil
	}
}
