// Package config loads experiment descriptions for placement sweeps.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigNames are the file names searched, in order, inside an experiment folder.
var ConfigNames = []string{"config.json", "config.yaml", "config.yml"}

const maxFileSize = 1 * 1024 * 1024 // 1MB

var (
	// ErrMissingKey is returned when a required key is absent.
	ErrMissingKey = errors.New("missing required configuration key")
	// ErrUnknownPlacer is returned for a placer outside the supported set.
	ErrUnknownPlacer = errors.New("unknown placer")
)

// Placer selects the external tool invoked for each run.
type Placer string

const (
	PlacerVPR  Placer = "vpr"
	PlacerJava Placer = "java"
)

// Stat is one named metric and the pattern that extracts it from tool output.
type Stat struct {
	Name    string
	Pattern string
}

// ArgumentsShape records which of the two accepted layouts the
// arguments key used in the source file.
type ArgumentsShape int

const (
	// ShapeMapping is {"--name": value-or-list, ...}.
	ShapeMapping ArgumentsShape = iota
	// ShapePair is [[names...], [values...]].
	ShapePair
)

// Arguments is the canonical ordered form of the swept arguments.
// Values[i] holds the candidate values of Names[i], already stringified.
type Arguments struct {
	Shape  ArgumentsShape
	Names  []string
	Values [][]string
}

// Experiment is one immutable experiment description.
type Experiment struct {
	Architecture string
	BlifFile     string
	NetFile      string
	Placer       Placer
	Route        bool
	Stats        []Stat
	Circuits     []string
	Arguments    Arguments

	// Timeout bounds each invocation; zero means wait indefinitely.
	Timeout time.Duration
	// Byproducts are extra file templates removed after each invocation.
	Byproducts []string

	// Optional outputs produced after the sweep.
	Workbook bool
	Charts   bool
	Database bool
}

// StatNames returns the declared statistic names in order.
func (e *Experiment) StatNames() []string {
	names := make([]string, len(e.Stats))
	for i, s := range e.Stats {
		names[i] = s.Name
	}
	return names
}

// FindExperiment returns the config file path inside dir.
func FindExperiment(dir string) (string, error) {
	for _, name := range ConfigNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s found in %s", strings.Join(ConfigNames, "/"), dir)
}

// LoadExperiment loads an Experiment from a JSON or YAML file.
// The file is validated to have a supported extension and to be under the max file size.
func LoadExperiment(path string) (*Experiment, error) {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	parse := ParseExperiment
	if filepath.Ext(cleanPath) == ".json" {
		parse = ParseExperimentJSON
	}
	exp, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return exp, nil
}

// ParseExperiment decodes and validates a YAML experiment document.
// Decoding goes through yaml.Node so that mapping order is kept for stats
// and arguments.
func ParseExperiment(data []byte) (*Experiment, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("config is empty")
	}
	return decodeExperiment(doc.Content[0])
}

// ParseExperimentJSON decodes and validates a JSON experiment document.
// Object member order is kept for stats and arguments.
func ParseExperimentJSON(data []byte) (*Experiment, error) {
	root, err := parseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return decodeExperiment(root)
}

func decodeExperiment(root *yaml.Node) (*Experiment, error) {
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("config root must be a mapping")
	}

	keys := make(map[string]*yaml.Node, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keys[root.Content[i].Value] = root.Content[i+1]
	}

	required := func(name string) (*yaml.Node, error) {
		n, ok := keys[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, name)
		}
		return n, nil
	}

	exp := &Experiment{}
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"architecture", &exp.Architecture},
		{"blif_file", &exp.BlifFile},
		{"net_file", &exp.NetFile},
	} {
		n, err := required(f.key)
		if err != nil {
			return nil, err
		}
		if err := n.Decode(f.dst); err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	n, err := required("placer")
	if err != nil {
		return nil, err
	}
	exp.Placer = Placer(n.Value)

	if n, err = required("route"); err != nil {
		return nil, err
	}
	if err := n.Decode(&exp.Route); err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	if n, err = required("stats"); err != nil {
		return nil, err
	}
	if exp.Stats, err = decodeStats(n); err != nil {
		return nil, err
	}

	if n, err = required("circuits"); err != nil {
		return nil, err
	}
	if exp.Circuits, err = decodeCircuits(n); err != nil {
		return nil, err
	}

	if n, err = required("arguments"); err != nil {
		return nil, err
	}
	if exp.Arguments, err = decodeArguments(n); err != nil {
		return nil, err
	}

	if n, ok := keys["timeout"]; ok {
		d, err := time.ParseDuration(n.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout '%s': %w", n.Value, err)
		}
		exp.Timeout = d
	}
	if n, ok := keys["byproducts"]; ok {
		if err := n.Decode(&exp.Byproducts); err != nil {
			return nil, fmt.Errorf("byproducts: %w", err)
		}
	}
	for _, f := range []struct {
		key string
		dst *bool
	}{
		{"workbook", &exp.Workbook},
		{"charts", &exp.Charts},
		{"database", &exp.Database},
	} {
		if n, ok := keys[f.key]; ok {
			if err := n.Decode(f.dst); err != nil {
				return nil, fmt.Errorf("%s: %w", f.key, err)
			}
		}
	}

	if err := exp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return exp, nil
}

// Validate checks that the configuration values are usable.
func (e *Experiment) Validate() error {
	switch e.Placer {
	case PlacerVPR, PlacerJava:
	default:
		return fmt.Errorf("%w %q (must be %s or %s)", ErrUnknownPlacer, e.Placer, PlacerVPR, PlacerJava)
	}

	if len(e.Circuits) == 0 {
		return errors.New("circuits must list at least one circuit")
	}
	// Circuit names become report file names inside the experiment folder.
	for _, c := range e.Circuits {
		if c == "" || c == "." || c == ".." || strings.ContainsAny(c, `/\`) {
			return fmt.Errorf("circuit %q: name must not be empty or contain a path separator", c)
		}
	}

	for _, s := range e.Stats {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("stat %q: invalid pattern: %w", s.Name, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("stat %q: pattern %q has no capture group", s.Name, s.Pattern)
		}
	}

	if len(e.Arguments.Names) != len(e.Arguments.Values) {
		return fmt.Errorf("arguments: %d names but %d value lists", len(e.Arguments.Names), len(e.Arguments.Values))
	}

	if e.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %s", e.Timeout)
	}
	return nil
}

func decodeStats(n *yaml.Node) ([]Stat, error) {
	if n.Kind != yaml.MappingNode {
		return nil, errors.New("stats must be a mapping of name to pattern")
	}
	stats := make([]Stat, 0, len(n.Content)/2)
	seen := make(map[string]int)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("stats: pattern for %q must be a string", k.Value)
		}
		if j, ok := seen[k.Value]; ok {
			stats[j].Pattern = v.Value
			continue
		}
		seen[k.Value] = len(stats)
		stats = append(stats, Stat{Name: k.Value, Pattern: v.Value})
	}
	return stats, nil
}

func decodeCircuits(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return strings.Fields(n.Value), nil
	case yaml.SequenceNode:
		circuits := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				return nil, errors.New("circuits: entries must be strings")
			}
			circuits = append(circuits, c.Value)
		}
		return circuits, nil
	default:
		return nil, errors.New("circuits must be a list or a space separated string")
	}
}

func decodeArguments(n *yaml.Node) (Arguments, error) {
	switch n.Kind {
	case yaml.MappingNode:
		// A repeated name keeps its first position and its last value.
		args := Arguments{Shape: ShapeMapping}
		seen := make(map[string]int)
		for i := 0; i+1 < len(n.Content); i += 2 {
			name, err := scalarString(n.Content[i])
			if err != nil {
				return Arguments{}, fmt.Errorf("arguments: %w", err)
			}
			values, err := candidateValues(n.Content[i+1])
			if err != nil {
				return Arguments{}, fmt.Errorf("arguments[%s]: %w", name, err)
			}
			if j, ok := seen[name]; ok {
				args.Values[j] = values
				continue
			}
			seen[name] = len(args.Names)
			args.Names = append(args.Names, name)
			args.Values = append(args.Values, values)
		}
		return args, nil

	case yaml.SequenceNode:
		if len(n.Content) != 2 || n.Content[0].Kind != yaml.SequenceNode || n.Content[1].Kind != yaml.SequenceNode {
			return Arguments{}, errors.New("arguments: explicit form must be [[names...], [values...]]")
		}
		namesNode, valuesNode := n.Content[0], n.Content[1]
		if len(namesNode.Content) != len(valuesNode.Content) {
			return Arguments{}, fmt.Errorf("arguments: %d names but %d value lists", len(namesNode.Content), len(valuesNode.Content))
		}
		args := Arguments{Shape: ShapePair}
		for i, nameNode := range namesNode.Content {
			name, err := scalarString(nameNode)
			if err != nil {
				return Arguments{}, fmt.Errorf("arguments: %w", err)
			}
			values, err := candidateValues(valuesNode.Content[i])
			if err != nil {
				return Arguments{}, fmt.Errorf("arguments[%s]: %w", name, err)
			}
			args.Names = append(args.Names, name)
			args.Values = append(args.Values, values)
		}
		return args, nil

	default:
		return Arguments{}, errors.New("arguments must be a mapping or a [names, values] pair")
	}
}

// candidateValues normalises a scalar to a singleton list.
func candidateValues(n *yaml.Node) ([]string, error) {
	if n.Kind == yaml.ScalarNode {
		s, err := scalarString(n)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, errors.New("value must be a scalar or a list of scalars")
	}
	values := make([]string, 0, len(n.Content))
	for _, v := range n.Content {
		s, err := scalarString(v)
		if err != nil {
			return nil, err
		}
		values = append(values, s)
	}
	return values, nil
}

// scalarString renders a scalar the way it appears on a tool command line.
// Numbers keep their literal spelling from the file; booleans and null
// follow the True/False/None spelling the placer CLIs accept.
func scalarString(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		if n.Line > 0 {
			return "", fmt.Errorf("expected a scalar at line %d", n.Line)
		}
		return "", errors.New("expected a scalar")
	}
	switch n.ShortTag() {
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return "", err
		}
		if b {
			return "True", nil
		}
		return "False", nil
	case "!!null":
		return "None", nil
	}
	return n.Value, nil
}
