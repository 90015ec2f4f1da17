package types

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileJSON(t *testing.T) {
	var p Profile
	require.NoError(t, sonic.Unmarshal([]byte(`{"hits":[["a.js:1",5],["b.js:7",2]]}`), &p))

	assert.Equal(t, []Hit{{Location: "a.js:1", Count: 5}, {Location: "b.js:7", Count: 2}}, p.Hits)

	data, err := sonic.ConfigStd.Marshal(&p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hits":[["a.js:1",5],["b.js:7",2]]}`, string(data))
}

func TestHitRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"object", `{"location":"a.js:1"}`},
		{"one element", `["a.js:1"]`},
		{"three elements", `["a.js:1",1,2]`},
		{"count not a number", `["a.js:1","5"]`},
		{"location not a string", `[1,5]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Hit
			assert.Error(t, sonic.Unmarshal([]byte(tt.input), &h))
		})
	}
}

func TestProfileTopN(t *testing.T) {
	p := &Profile{Hits: []Hit{
		{"a.js:1", 3},
		{"a.js:2", 9},
		{"a.js:3", 3},
		{"a.js:4", 1},
	}}

	top := p.TopN(3)
	assert.Equal(t, []Hit{{"a.js:2", 9}, {"a.js:1", 3}, {"a.js:3", 3}}, top)
	assert.Equal(t, "a.js:1", p.Hits[0].Location, "TopN must not reorder the profile")

	assert.Len(t, p.TopN(10), 4)
	assert.Nil(t, p.TopN(0))
	assert.Equal(t, uint64(16), p.Total())
}

func TestInstrumentsNames(t *testing.T) {
	in := Instruments{"opsPerSecond": 1000, "allocations": 3}
	assert.Equal(t, []string{"allocations", "opsPerSecond"}, in.Names())
}

func TestExitStatus(t *testing.T) {
	assert.True(t, ExitStatus{Code: 0}.Success())
	assert.False(t, ExitStatus{Code: 15}.Success())
	assert.False(t, ExitStatus{Code: -1, Signal: "killed"}.Success())
	assert.Equal(t, "exit 15", ExitStatus{Code: 15}.String())
	assert.Equal(t, "signal killed", ExitStatus{Code: -1, Signal: "killed"}.String())
}
