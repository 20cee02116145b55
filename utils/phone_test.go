package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "international with plus", raw: "+98 912 345 6789", want: "989123456789"},
		{name: "international with double zero", raw: "00989123456789", want: "989123456789"},
		{name: "national trunk zero", raw: "09123456789", want: "989123456789"},
		{name: "already normalized", raw: "989123456789", want: "989123456789"},
		{name: "bare subscriber number", raw: "9123456789", want: "989123456789"},
		{name: "punctuation", raw: "(0912) 345-6789", want: "989123456789"},
		{name: "empty", raw: "  ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw, DefaultCountryCode))
		})
	}
}
