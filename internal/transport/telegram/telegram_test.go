package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    string
		limit int
		want  int
	}{
		{"short", "hello", 10, 1},
		{"exact", strings.Repeat("a", 10), 10, 1},
		{"hard cut", strings.Repeat("a", 25), 10, 3},
		{"newline cut", strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6), 10, 2},
		{"multibyte", strings.Repeat("签", 12), 5, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tc.in, tc.limit)
			if len(got) != tc.want {
				t.Fatalf("chunks = %d (%q), want %d", len(got), got, tc.want)
			}
			for _, c := range got {
				if n := utf8.RuneCountInString(c); n > tc.limit {
					t.Fatalf("chunk %q has %d runes, limit %d", c, n, tc.limit)
				}
			}
		})
	}
}
