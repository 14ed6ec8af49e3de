package protocol

import (
	"fmt"

	"github.com/aretw0/foundry/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// DecodeCritique converts a loose report payload into a Critique.
// A nil payload yields a nil critique.
func DecodeCritique(kind string, data map[string]any) (*domain.Critique, error) {
	if data == nil {
		return nil, nil
	}
	c := &domain.Critique{Kind: kind, Data: data}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build critique decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		// Keep the raw payload even when a known field has an unexpected shape.
		return &domain.Critique{Kind: kind, Data: data}, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return c, nil
}
