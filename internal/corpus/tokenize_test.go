package corpus_test

import (
	"testing"

	"github.com/conceptmaps/trainsvc/internal/corpus"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     []string
	}{
		{"empty", "", nil},
		{"words", "Anna married Tom", []string{"Anna", "married", "Tom"}},
		{"punctuation", "Anna, Tom's wife.", []string{"Anna", ",", "Tom", "'s", "wife", "."}},
		{"hyphen", "Jean-Luc is Anna's son", []string{"Jean-Luc", "is", "Anna", "'s", "son"}},
		{"apostrophe", "O'Neil (b. 1920)", []string{"O'Neil", "(", "b", ".", "1920", ")"}},
		{"unicode", "Zo\u00eb und J\u00fcrgen", []string{"Zo\u00eb", "und", "J\u00fcrgen"}},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			tokens := corpus.Tokenize(corpus.Normalize(tc.given))
			var texts []string
			for i, tok := range tokens {
				require.Equal(t, i, tok.ID)
				texts = append(texts, tok.Text)
			}
			require.Equal(t, tc.then, texts)
		})
	}
}

func TestTokenize_Offsets(t *testing.T) {
	t.Parallel()
	tokens := corpus.Tokenize("Zo\u00eb, Tom")
	require.Equal(t, []corpus.Token{
		{Text: "Zo\u00eb", Start: 0, End: 3, ID: 0},
		{Text: ",", Start: 3, End: 4, ID: 1, WS: true},
		{Text: "Tom", Start: 5, End: 8, ID: 2},
	}, tokens)
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	// e followed by a combining diaeresis
	decomposed := "Zoe\u0308"
	require.Equal(t, "Zo\u00eb", corpus.Normalize(decomposed))
	require.Len(t, []rune(corpus.Normalize(decomposed)), 3)
}
