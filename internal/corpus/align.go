package corpus

import (
	"cmp"
	"slices"
	"strings"

	"github.com/conceptmaps/trainsvc/internal/model"
)

// Relation labels the relation extraction component is trained for.
var Labels = []string{"CHILDREN", "SPOUSE", "SIBLINGS", "UNDEFINED"}

func knownLabel(label string) bool {
	return slices.Contains(Labels, label)
}

func firstName(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return name
}

// alignEntities finds the mentions of all relationship endpoints in the
// sentence. A mention must start and end on a token boundary, longer names
// are matched first and mentions never overlap. A name with no mention is
// searched by its first name.
func alignEntities(text string, tokens []Token, relationships []model.Relationship) []model.EntityToken {
	var names []string
	for _, r := range relationships {
		names = append(names, Normalize(r.FirstEntity), Normalize(r.SecondEntity))
	}
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(len([]rune(b)), len([]rune(a))),
			strings.Compare(a, b),
		)
	})
	names = slices.Compact(names)

	byStart := make(map[int]int, len(tokens))
	byEnd := make(map[int]int, len(tokens))
	for i, t := range tokens {
		byStart[t.Start] = i
		byEnd[t.End] = i
	}
	claimed := make([]bool, len(tokens))
	runes := []rune(text)

	var entities []model.EntityToken
	mention := func(name string) bool {
		found := false
		for _, start := range occurrences(runes, []rune(name)) {
			end := start + len([]rune(name))
			ts, ok1 := byStart[start]
			te, ok2 := byEnd[end]
			if !ok1 || !ok2 || slices.Contains(claimed[ts:te+1], true) {
				continue
			}
			for i := ts; i <= te; i++ {
				claimed[i] = true
			}
			entities = append(entities, model.EntityToken{
				Text:        name,
				Start:       start,
				End:         end,
				TokenStart:  ts,
				TokenEnd:    te,
				EntityLabel: model.DefaultEntityLabel,
			})
			found = true
		}
		return found
	}

	for _, name := range names {
		if name == "" {
			continue
		}
		if !mention(name) {
			if first := firstName(name); first != name {
				mention(first)
			}
		}
	}
	slices.SortFunc(entities, func(a, b model.EntityToken) int {
		return cmp.Compare(a.TokenStart, b.TokenStart)
	})
	return entities
}

// occurrences returns the rune offsets of all non-overlapping occurrences of
// needle in haystack.
func occurrences(haystack, needle []rune) []int {
	var ret []int
	if len(needle) == 0 {
		return nil
	}
	for i := 0; i+len(needle) <= len(haystack); {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			ret = append(ret, i)
			i += len(needle)
			continue
		}
		i++
	}
	return ret
}

// entityByName returns the first mention of name, falling back to its first
// name.
func entityByName(entities []model.EntityToken, name string) (model.EntityToken, bool) {
	name = Normalize(name)
	for _, e := range entities {
		if e.Text == name {
			return e, true
		}
	}
	first := firstName(name)
	for _, e := range entities {
		if e.Text == first {
			return e, true
		}
	}
	return model.EntityToken{}, false
}

// Annotate converts a simple record into an annotated sentence: entity
// mentions and the relations between them. Relationships whose endpoints
// are not found in the sentence are dropped.
func Annotate(rec model.TrainingRecord) model.AnnotatedSentence {
	text := Normalize(rec.Sentence)
	tokens := Tokenize(text)
	entities := alignEntities(text, tokens, rec.Relationships)

	relations := []model.Relation{}
	for _, r := range rec.Relationships {
		first, ok1 := entityByName(entities, r.FirstEntity)
		second, ok2 := entityByName(entities, r.SecondEntity)
		if !ok1 || !ok2 {
			continue
		}
		relations = append(relations, model.Relation{
			Child:         first.TokenStart,
			Head:          second.TokenStart,
			RelationLabel: strings.ToUpper(r.RelationshipType),
		})
	}
	if entities == nil {
		entities = []model.EntityToken{}
	}
	return model.AnnotatedSentence{
		Sentence:  text,
		Tokens:    entities,
		Relations: relations,
	}
}

// Sentences annotates simple records, annotated records are passed through.
func Sentences(records []model.TrainingRecord) []model.AnnotatedSentence {
	ret := make([]model.AnnotatedSentence, 0, len(records))
	for _, rec := range records {
		if rec.IsSimple() {
			ret = append(ret, Annotate(rec))
			continue
		}
		ret = append(ret, model.AnnotatedSentence{
			Sentence:  rec.Sentence,
			Tokens:    rec.Tokens,
			Relations: rec.Relations,
		})
	}
	return ret
}
