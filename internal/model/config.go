package model

import (
	"context"
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	JobTypeRelations = "relations"
	JobTypeNRT       = "nrt"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version   int            `json:"version" yaml:"version"` // fixed 0 for now
	Service   Service        `json:"service" yaml:"service"`
	Workspace string         `json:"workspace" yaml:"workspace"` // parent of all job directories
	History   History        `json:"history" yaml:"history"`
	Notify    Notify         `json:"notify" yaml:"notify"`
	Jobs      map[string]Job `json:"jobs" yaml:"jobs"` // keyed by job type
}

// Service holds the HTTP and supervision settings. Durations are ISO 8601.
type Service struct {
	Listen     string `json:"listen" yaml:"listen"`
	Verbose    bool   `json:"verbose" yaml:"verbose"`
	Log        string `json:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
	StatusWait string `json:"status_wait" yaml:"status_wait"`
	Grace      string `json:"grace" yaml:"grace"`
	KillAfter  string `json:"kill_after" yaml:"kill_after"`
}

// History configures the sqlite database with finished runs.
type History struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Notify configures the NATS publication of successfully trained models.
type Notify struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type Job struct {
	Dir         string   `json:"dir" yaml:"dir"` // relative to Config.Workspace
	Clean       *Command `json:"clean,omitempty" yaml:"clean,omitempty"`
	Command     Command  `json:"command" yaml:"command"`
	TestPortion float64  `json:"test_portion" yaml:"test_portion"`
	DevPortion  float64  `json:"dev_portion" yaml:"dev_portion"`
}

type Command struct {
	Path    string            `json:"path" yaml:"path"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig is written to disk when no configuration file exists. It
// drives the spaCy project layout of the concept map models.
func DefaultConfig(_ context.Context) Config {
	spacy := func(args ...string) Command {
		return Command{Path: "spacy", Args: args}
	}
	clean := spacy("project", "run", "clean")
	return Config{
		Version: 0,
		Service: Service{
			Listen:     "localhost:5001",
			Log:        LogStderr,
			StatusWait: "PT0.25S",
			Grace:      "PT2S",
			KillAfter:  "PT10S",
		},
		Workspace: "models",
		History: History{
			Enabled: true,
			Path:    "trainsvc.db",
		},
		Notify: Notify{
			URL:     "nats://127.0.0.1:4222",
			Subject: "conceptmaps.model.trained",
		},
		Jobs: map[string]Job{
			JobTypeRelations: {
				Dir:         JobTypeRelations,
				Clean:       &clean,
				Command:     spacy("project", "run", "all", "--vars.target=${target}"),
				TestPortion: 0.2,
				DevPortion:  0.3,
			},
			JobTypeNRT: {
				Dir:         JobTypeNRT,
				Command:     spacy("project", "run", "all"),
				TestPortion: 0.2,
				DevPortion:  0.3,
			},
		},
	}
}
