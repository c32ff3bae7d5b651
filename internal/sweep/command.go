package sweep

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/banshee-data/placesweep/internal/config"
)

// StageSeparator splits a command into sequential stages.
const StageSeparator = ";"

// Command is a tokenised tool invocation. Tokens may contain {key}
// placeholders until they are substituted.
type Command []string

// String joins the tokens with single spaces.
func (c Command) String() string {
	return strings.Join(c, " ")
}

// Substitute returns a copy of tokens with every {key} replaced by its
// binding. Placeholders without a binding are left as they are.
// Bindings are applied in sorted key order, so a value that itself holds a
// placeholder expands the same way on every call.
func Substitute(tokens []string, bindings map[string]string) []string {
	keys := slices.Sorted(maps.Keys(bindings))
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		for _, key := range keys {
			tok = strings.ReplaceAll(tok, "{"+key+"}", bindings[key])
		}
		out[i] = tok
	}
	return out
}

// Routing statistics appended after the configured ones when route is set.
var routeStats = []config.Stat{
	{Name: "post-routing bb cost", Pattern: `Total wirelength: ([0-9.e+-]+), average net length`},
	{Name: "post-routing max delay", Pattern: `Final critical path: ([0-9.e+-]+) ns`},
}

var (
	vprTemplate = Command{
		"./vpr", "{architecture_file}", "{circuit}",
		"--blif_file", "{blif_file}",
		"--net_file", "{net_file}",
		"--place_file", "{place_file}",
		"--route_file", "{route_file}",
		"--fix_pins", "random",
		"--place",
	}
	javaTemplate = Command{
		"java", "-cp", "bin", "-Xmx30g", "interfaces.CLI",
		"{architecture_file}", "{blif_file}",
		"--net_file", "{net_file}",
		"--output_place_file", "{place_file}",
	}
)

// Pipeline describes what the sweep runs for one placer mode.
type Pipeline struct {
	// Base is the placer invocation that receives the argument set.
	Base Command
	// Extra is appended after the argument set; it may start new stages.
	Extra Command
	// Stats lists the statistics beyond the configured ones.
	Stats []config.Stat
}

// Command assembles the full token list for one argument set.
func (p Pipeline) Command(args ArgumentSet) Command {
	cmd := make(Command, 0, len(p.Base)+len(args)+len(p.Extra))
	cmd = append(cmd, p.Base...)
	cmd = append(cmd, args...)
	return append(cmd, p.Extra...)
}

type pipelineBuilder func(route bool) Pipeline

// pipelines maps each placer mode to the stages it needs.
var pipelines = map[config.Placer]pipelineBuilder{
	// The java placer only places. Routing reuses vpr on its placement.
	config.PlacerJava: func(route bool) Pipeline {
		p := Pipeline{Base: clone(javaTemplate)}
		if route {
			p.Extra = append(p.Extra, StageSeparator)
			p.Extra = append(p.Extra, vprTemplate[:len(vprTemplate)-3]...)
			p.Extra = append(p.Extra, "--route")
			p.Stats = clone(routeStats)
		}
		return p
	},
	// vpr places, then the java placer reports on the vpr placement.
	config.PlacerVPR: func(route bool) Pipeline {
		p := Pipeline{Base: clone(vprTemplate)}
		if route {
			p.Extra = append(p.Extra, "--route")
			p.Stats = clone(routeStats)
		}
		p.Extra = append(p.Extra, StageSeparator)
		p.Extra = append(p.Extra, javaTemplate[:len(javaTemplate)-2]...)
		p.Extra = append(p.Extra, "--input_place_file", "{place_file}")
		return p
	},
}

// PipelineFor returns the pipeline for a placer mode.
func PipelineFor(placer config.Placer, route bool) (Pipeline, error) {
	build, ok := pipelines[placer]
	if !ok {
		return Pipeline{}, fmt.Errorf("%w %q", config.ErrUnknownPlacer, placer)
	}
	return build(route), nil
}

func clone[T any](s []T) []T {
	return append([]T(nil), s...)
}
