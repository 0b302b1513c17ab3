package batchclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandNodeList(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "bare hostname", input: "mel2074", want: []string{"mel2074"}},
		{
			name:  "comma separated",
			input: "mel2074, mel2075,mel2076",
			want:  []string{"mel2074", "mel2075", "mel2076"},
		},
		{
			name:  "bracketed range",
			input: "mel[2074-2076]",
			want:  []string{"mel2074", "mel2075", "mel2076"},
		},
		{
			name:  "bracketed range list with single entry",
			input: "mel[2074-2076,2080]",
			want:  []string{"mel2074", "mel2075", "mel2076", "mel2080"},
		},
		{
			name:  "preserves zero padding width",
			input: "mel[074-076]",
			want:  []string{"mel074", "mel075", "mel076"},
		},
		{name: "empty", input: "", want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExpandNodeList(tc.input)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStatusAliasTable_Normalize(t *testing.T) {
	table := DefaultStatusAliasTable()

	cases := []struct {
		state string
		want  string
	}{
		{"pending", "pending"},
		{"running", "running"},
		{"completing", "running"},
		{"completed", "completed"},
		{"cancelled", "cancelled"},
		{"cancelled by 1000", "cancelled"},
		{"timeout", "failed"},
		{"some_unmapped_state", "some_unmapped_state"},
	}

	for _, tc := range cases {
		t.Run(tc.state, func(t *testing.T) {
			assert.Equal(t, tc.want, table.Normalize(tc.state))
		})
	}
}

func TestStatusAliasTable_CustomMapping(t *testing.T) {
	table := NewStatusAliasTable(map[string]string{
		"boost_pending*": "queued",
		"boost_done":     "completed",
	})

	assert.Equal(t, "queued", table.Normalize("boost_pending_allocation"))
	assert.Equal(t, "completed", table.Normalize("boost_done"))
	assert.Equal(t, "unknown_state", table.Normalize("unknown_state"))
}
