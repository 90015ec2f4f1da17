package events

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Encode builds an event payload from tag and the JSON form of body.
func Encode(tag Tag, body any) ([]byte, error) {
	if tag == "" {
		return nil, fmt.Errorf("%w: empty tag", ErrMalformedEvent)
	}
	for i := 0; i < len(tag); i++ {
		if !isTagByte(tag[i]) {
			return nil, fmt.Errorf("%w: invalid tag %q", ErrMalformedEvent, tag)
		}
	}
	encoded, err := sonic.ConfigStd.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", tag, err)
	}
	out := make([]byte, 0, len(tag)+len(encoded))
	out = append(out, tag...)
	return append(out, encoded...), nil
}
