package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanList(t *testing.T) {
	tests := []struct {
		name   string
		input  []string
		max    int
		maxLen int
		want   []string
	}{
		{name: "nil", input: nil, want: nil},
		{name: "only blanks", input: []string{"", "  "}, want: nil},
		{name: "trims and dedupes in order", input: []string{" selfie: blurry ", "id_front: expired", "selfie: blurry"}, want: []string{"selfie: blurry", "id_front: expired"}},
		{name: "keeps case", input: []string{"Foo", "foo"}, want: []string{"Foo", "foo"}},
		{name: "caps count", input: []string{"a", "b", "c"}, max: 2, want: []string{"a", "b"}},
		{name: "cuts long values by rune", input: []string{"señor", "señal"}, maxLen: 3, want: []string{"señ"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanList(tt.input, tt.max, tt.maxLen))
		})
	}
}
