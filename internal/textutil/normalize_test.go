package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeWord(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Hello", want: "hello"},
		{in: "José's,", want: "jose"},
		{in: "(MÜLLER)", want: "muller"},
		{in: "O’Brien’s", want: "o’brien"},
		{in: "a@b.com.", want: "a@b.com"},
		{in: "'s", want: "s"},
		{in: "...", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeWord(tt.in))
		})
	}
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"call", "zoe", "at", "5"}, Words("  Call ZOË, at 5 -- "))
	assert.Empty(t, Words(""))
}

func TestRemoveAccents(t *testing.T) {
	assert.Equal(t, "Creme brulee", RemoveAccents("Crème brûlée"))
}
