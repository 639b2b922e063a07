// Package corpus converts relation training sentences into the train, dev
// and test documents read by the relation extraction trainer.
package corpus

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/conceptmaps/trainsvc/internal/model"
	"github.com/conceptmaps/trainsvc/internal/parallel"
)

var ErrNoExamples = errors.New("no usable training examples")

// File names relative to the job directory.
const (
	TrainFile = "data/relations_training.jsonl"
	DevFile   = "data/relations_dev.jsonl"
	TestFile  = "data/relations_test.jsonl"
)

// Document is one line of the corpus files.
type Document struct {
	Text      string     `json:"text"`
	Tokens    []Token    `json:"tokens"`
	Spans     []Span     `json:"spans"`
	Relations []Relation `json:"relations"`
}

type Span struct {
	Start      int    `json:"start"`
	End        int    `json:"end"`
	TokenStart int    `json:"token_start"`
	TokenEnd   int    `json:"token_end"`
	Label      string `json:"label"`
}

// Relation points from the first token of the head span to the first token
// of the child span.
type Relation struct {
	Head  int    `json:"head"`
	Child int    `json:"child"`
	Label string `json:"label"`
}

// NewDocument builds the document of a record. It returns false if the
// record has no relation with a known label.
func NewDocument(ctx context.Context, rec model.TrainingRecord) (Document, bool, error) {
	var sentence model.AnnotatedSentence
	if rec.IsSimple() {
		sentence = Annotate(rec)
	} else {
		sentence = model.AnnotatedSentence{
			Sentence:  Normalize(rec.Sentence),
			Tokens:    rec.Tokens,
			Relations: rec.Relations,
		}
	}

	doc := Document{
		Text:   sentence.Sentence,
		Tokens: Tokenize(sentence.Sentence),
	}
	starts := make(map[int]bool, len(sentence.Tokens))
	for _, e := range sentence.Tokens {
		if e.TokenStart > e.TokenEnd || e.TokenEnd >= len(doc.Tokens) {
			return Document{}, false, fmt.Errorf("entity %q: tokens %d-%d out of range", e.Text, e.TokenStart, e.TokenEnd)
		}
		if starts[e.TokenStart] {
			continue
		}
		starts[e.TokenStart] = true
		doc.Spans = append(doc.Spans, Span{
			Start:      doc.Tokens[e.TokenStart].Start,
			End:        doc.Tokens[e.TokenEnd].End,
			TokenStart: e.TokenStart,
			TokenEnd:   e.TokenEnd,
			Label:      cmp.Or(e.EntityLabel, model.DefaultEntityLabel),
		})
	}
	slices.SortFunc(doc.Spans, func(a, b Span) int { return cmp.Compare(a.TokenStart, b.TokenStart) })

	for _, r := range sentence.Relations {
		label := strings.ToUpper(r.RelationLabel)
		if !knownLabel(label) {
			slog.WarnContext(ctx, "unknown relation label: skipping", "label", label, "sentence", doc.Text)
			continue
		}
		if !starts[r.Head] || !starts[r.Child] {
			return Document{}, false, fmt.Errorf("relation %s %d->%d does not start on an entity", label, r.Head, r.Child)
		}
		rel := Relation{Head: r.Head, Child: r.Child, Label: label}
		if !slices.Contains(doc.Relations, rel) {
			doc.Relations = append(doc.Relations, rel)
		}
	}
	return doc, len(doc.Relations) > 0, nil
}

// Splits of the corpus.
type Splits struct {
	Train []Document
	Dev   []Document
	Test  []Document
}

func (s Splits) Len() int {
	return len(s.Train) + len(s.Dev) + len(s.Test)
}

// Split shuffles docs and assigns each to test with probability
// testPortion, otherwise to dev with probability testPortion+devPortion,
// otherwise to train.
func Split(docs []Document, testPortion, devPortion float64, rnd *rand.Rand) Splits {
	docs = slices.Clone(docs)
	rnd.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })
	var s Splits
	for _, doc := range docs {
		switch {
		case rnd.Float64() < testPortion:
			s.Test = append(s.Test, doc)
		case rnd.Float64() < testPortion+devPortion:
			s.Dev = append(s.Dev, doc)
		default:
			s.Train = append(s.Train, doc)
		}
	}
	return s
}

// Write stores the splits under dir. Every file is written to a temporary
// file first and renamed, an interrupted write never leaves a half corpus.
func Write(dir string, s Splits) error {
	for _, f := range []struct {
		path string
		docs []Document
	}{
		{TrainFile, s.Train},
		{DevFile, s.Dev},
		{TestFile, s.Test},
	} {
		if err := writeJSONL(filepath.Join(dir, f.path), f.docs); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONL(path string, docs []Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating corpus directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encoding %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// Stats summarize one conversion.
type Stats struct {
	Records int `json:"records"`
	Skipped int `json:"skipped"`
	Train   int `json:"train"`
	Dev     int `json:"dev"`
	Test    int `json:"test"`
}

// Converter turns a training data document into corpus files.
type Converter struct {
	validator   Validator
	testPortion float64
	devPortion  float64

	mx  sync.Mutex
	rnd *rand.Rand
}

func NewConverter(testPortion, devPortion float64) (*Converter, error) {
	if testPortion < 0 || devPortion < 0 || testPortion+devPortion > 1 {
		return nil, fmt.Errorf("invalid split portions: test %.2f, dev %.2f", testPortion, devPortion)
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Converter{
		validator:   validator,
		testPortion: testPortion,
		devPortion:  devPortion,
		rnd:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// WithRand replaces the source of randomness, tests use a seeded one.
func (c *Converter) WithRand(rnd *rand.Rand) *Converter {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.rnd = rnd
	return c
}

func (c *Converter) Validator() Validator { return c.validator }

// Convert has the signature of a job type converter.
func (c *Converter) Convert(ctx context.Context, data []byte, dir string) error {
	_, err := c.ConvertStats(ctx, data, dir)
	return err
}

func (c *Converter) ConvertStats(ctx context.Context, data []byte, dir string) (Stats, error) {
	records, err := c.validator.Parse(data)
	if err != nil {
		return Stats{}, err
	}

	type converted struct {
		idx int
		doc Document
		ok  bool
	}
	convert := func(ctx context.Context, idx int) (converted, error) {
		doc, ok, err := NewDocument(ctx, records[idx])
		if err != nil {
			slog.WarnContext(ctx, "training sentence can't be converted: skipping", "sentence", records[idx].Sentence, "error", err)
		}
		return converted{idx: idx, doc: doc, ok: ok}, err
	}

	stats := Stats{Records: len(records)}
	results := make([]converted, 0, len(records))
	for res, err := range parallel.Map(ctx, runtime.GOMAXPROCS(0), iterIndexes(len(records)), convert) {
		if err != nil || !res.ok {
			stats.Skipped++
			continue
		}
		results = append(results, res)
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	// restore input order, a seeded split is reproducible
	slices.SortFunc(results, func(a, b converted) int { return cmp.Compare(a.idx, b.idx) })
	docs := make([]Document, 0, len(results))
	for _, res := range results {
		docs = append(docs, res.doc)
	}
	if len(docs) == 0 {
		return stats, ErrNoExamples
	}

	c.mx.Lock()
	splits := Split(docs, c.testPortion, c.devPortion, c.rnd)
	c.mx.Unlock()
	stats.Train, stats.Dev, stats.Test = len(splits.Train), len(splits.Dev), len(splits.Test)
	if err := Write(dir, splits); err != nil {
		return stats, err
	}
	slog.InfoContext(ctx, "training corpus written",
		"records", stats.Records,
		"skipped", stats.Skipped,
		"train", stats.Train,
		"dev", stats.Dev,
		"test", stats.Test,
	)
	return stats, nil
}

func iterIndexes(n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range n {
			if !yield(i) {
				return
			}
		}
	}
}
