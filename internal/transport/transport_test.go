package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTokenOutput(t *testing.T) {
	cases := []struct {
		name      string
		out       string
		wantToken string
		wantOK    bool
	}{
		{
			name:      "single line",
			out:       "SLURM_JWT=eyJhbGc123\n",
			wantToken: "eyJhbGc123",
			wantOK:    true,
		},
		{
			name:      "leading blank lines",
			out:       "\n\nSLURM_JWT=abc.def.ghi\n",
			wantToken: "abc.def.ghi",
			wantOK:    true,
		},
		{
			name:   "no key-value line",
			out:    "no equals sign here\n",
			wantOK: false,
		},
		{
			name:   "empty output",
			out:    "",
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, ok := parseTokenOutput(tc.out)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantToken, token)
			}
		})
	}
}
