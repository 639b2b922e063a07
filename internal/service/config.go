package service

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/conceptmaps/trainsvc/internal/model"
)

// Vars are the per-run values which can be referenced as ${name} in the
// trainer arguments and environment.
type Vars struct {
	JobType string
	Target  string
	Source  string
	RunID   string
}

// replacer substitutes exactly ${job_type}, ${target}, ${source} and
// ${run_id}, every other byte of an argument is passed through.
func (v Vars) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"${job_type}", v.JobType,
		"${target}", v.Target,
		"${source}", v.Source,
		"${run_id}", v.RunID,
	)
}

// NewCommand resolves the configured command for one run executed in dir.
// Env values starting with $ are expanded from the service environment.
// The trainer inherits the environment of the service plus the configured
// variables and TRAINSVC_TARGET_MODEL, TRAINSVC_SOURCE_MODEL, TRAINSVC_RUN_ID.
func NewCommand(cfg model.Command, dir string, vars Vars) (Command, error) {
	timeout, err := model.DurationOr(cfg.Timeout, 0)
	if err != nil {
		return Command{}, fmt.Errorf("command timeout: %w", err)
	}

	repl := vars.replacer()
	args := make([]string, 0, len(cfg.Args))
	for _, arg := range cfg.Args {
		args = append(args, repl.Replace(arg))
	}

	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(cfg.Env)) {
		v := repl.Replace(cfg.Env[k])
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	env = append(env,
		"TRAINSVC_TARGET_MODEL="+vars.Target,
		"TRAINSVC_SOURCE_MODEL="+vars.Source,
		"TRAINSVC_RUN_ID="+vars.RunID,
	)

	return Command{
		Path:    cfg.Path,
		Args:    args,
		Env:     env,
		Dir:     dir,
		Timeout: timeout,
	}, nil
}
