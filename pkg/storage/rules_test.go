package storage

import (
	"testing"

	"chaptervault/pkg/manga"
)

func chapter(t *testing.T, name string, volume, number float64) manga.Chapter {
	t.Helper()
	pub := manga.NewPublication("manifest", "alpha", "Alpha", "")
	return manga.NewChapterFromNumbers(pub, name, volume, number, "", "id")
}

func TestStrictNameMatch(t *testing.T) {
	tests := []struct {
		stem   string
		volume float64
		number float64
		want   bool
	}{
		{"Alpha - Vol.1 Ch.2", 1, 2, true},
		{"Alpha - Vol.1 Ch.2 - Name", 1, 2, true},
		{"Alpha - Vol.1 Ch.2-extra", 1, 2, true},
		{"Alpha - Vol.1 Ch.2.", 1, 2, true},
		{"Alpha - Vol.1 Ch.23", 1, 2, false},
		{"Alpha - Vol.1 Ch.2.3", 1, 2, false},
		{"Alpha - Vol.1 Ch.2.5 - Half", 1, 2, false},
		{"Alpha - Vol.1 Ch.2.5 - Half", 1, 2.5, true},
		{"Alpha - Vol.2 Ch.2", 1, 2, false},
		{"Alpha - Vol.11 Ch.2", 1, 2, false},
		{"Alpha - Ch.2", 1, 2, false},
		{"Alpha - Vol.0 Ch.75.5", 0, 75.5, true},
		{"Alpha - Vol.0 Ch.75.55", 0, 75.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			ch := chapter(t, "", tt.volume, tt.number)
			if got := StrictNameMatch(tt.stem, ch); got != tt.want {
				t.Errorf("StrictNameMatch(%q, Vol.%v Ch.%v) = %v, want %v", tt.stem, tt.volume, tt.number, got, tt.want)
			}
		})
	}
}

// Chapter N must never match an archive named for N.5, for any whole N.
func TestStrictNameMatchRejectsFractionalNeighbours(t *testing.T) {
	for n := 0; n < 200; n++ {
		for _, vol := range []float64{0, 1, 7} {
			whole := chapter(t, "", vol, float64(n))
			half := chapter(t, "", vol, float64(n)+0.5)
			stem := "Alpha - " + half.FileName()
			if StrictNameMatch(stem, whole) {
				t.Fatalf("chapter %v matched %q", whole.Number, stem)
			}
		}
	}
}

func TestFuzzyNameMatch(t *testing.T) {
	tests := []struct {
		file   string
		name   string
		volume float64
		number float64
		want   bool
	}{
		{"alpha - vol.0 ch.12 - the return.cbz", "The Return", 0, 12, true},
		{"Old Title - Vol.0 Ch.12 - The Return.cbz", "The Return", 0, 12, true},
		{"Old Title - Vol.0 Ch.12 - The Ret.cbz", "The Return", 0, 12, true},
		{"Old Title - Vol.0 Ch.12 - The Return of the King.cbz", "The Return", 0, 12, true},
		{"Old Title - Vol.0 Ch.12 - Thee.cbz", "The Return", 0, 12, false},
		{"Old Title - Vol.0 Ch.12 - The Other.cbz", "The Return", 0, 12, true},
		{"Old Title - Vol.0 Ch.12.cbz", "", 0, 12, true},
		{"Old Title - Vol.0 Ch.12.cbz", "The Return", 0, 12, false},
		{"Old Title - Vol.0 Ch.12 - Named.cbz", "", 0, 12, false},
		{"Old Title - Vol.0 Ch.12.0.cbz", "", 0, 12, true},
		{"Old Title - Vol.0 Ch.120.cbz", "", 0, 12, false},
		{"Old Title - Volume.3 Chapter.4.cbz", "", 3, 4, true},
		{"Old Title - Vol.3 Ch.4.cbz", "", 2, 4, false},
		{"Old Title - Vol.0 Ch.75.5 - Half.cbz", "Half", 0, 75.5, true},
		{"Old Title - Vol.0 Ch.75 - Half.cbz", "Half", 0, 75.5, false},
		{"no numbering.cbz", "", 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			ch := chapter(t, tt.name, tt.volume, tt.number)
			if got := FuzzyNameMatch(tt.file, ch); got != tt.want {
				t.Errorf("FuzzyNameMatch(%q, %q) = %v, want %v", tt.file, ch.FileName(), got, tt.want)
			}
		})
	}
}
