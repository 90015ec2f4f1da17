package types

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
)

// Instruments maps metric names to values
type Instruments map[string]float64

// Names returns the metric names in sorted order
func (in Instruments) Names() []string {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hit records how many samples landed on a source location.
// On the wire it is the pair ["<location>", <count>].
type Hit struct {
	Location string
	Count    uint64
}

// MarshalJSON encodes the hit as a two-element array
func (h Hit) MarshalJSON() ([]byte, error) {
	return sonic.ConfigStd.Marshal([]any{h.Location, h.Count})
}

// UnmarshalJSON decodes a two-element array
func (h *Hit) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := sonic.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("hit: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("hit: want [location, count], got %d elements", len(pair))
	}
	if err := sonic.Unmarshal(pair[0], &h.Location); err != nil {
		return fmt.Errorf("hit location: %w", err)
	}
	if err := sonic.Unmarshal(pair[1], &h.Count); err != nil {
		return fmt.Errorf("hit count: %w", err)
	}
	return nil
}

// Profile is the ordered hit record of one capture
type Profile struct {
	Hits []Hit `json:"hits"`
}

// Total returns the sum of all hit counts
func (p *Profile) Total() uint64 {
	var total uint64
	for _, h := range p.Hits {
		total += h.Count
	}
	return total
}

// TopN returns up to n hits with the highest counts. Ties keep their
// recorded order. The profile itself is not modified.
func (p *Profile) TopN(n int) []Hit {
	if n <= 0 || len(p.Hits) == 0 {
		return nil
	}
	hits := make([]Hit, len(p.Hits))
	copy(hits, p.Hits)
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Count > hits[j].Count
	})
	if n < len(hits) {
		hits = hits[:n]
	}
	return hits
}

// ExitStatus describes how a worker process ended.
// Code is -1 when the process was terminated by a signal.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// Success reports whether the worker exited normally with code 0
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == ""
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return "signal " + s.Signal
	}
	return fmt.Sprintf("exit %d", s.Code)
}
