package scenario

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/peterhellberg/duration"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// FormatVersion is the newest catalog document version this build reads.
// Documents with the same major version and an equal or older minor version
// are accepted.
const FormatVersion = "v1.1.0"

// document is the on-disk YAML shape of a catalog file.
type document struct {
	Version   string        `yaml:"version"`
	Scenarios []scenarioDoc `yaml:"scenarios"`
}

type scenarioDoc struct {
	ID                 string      `yaml:"id"`
	Title              string      `yaml:"title"`
	Summary            string      `yaml:"summary"`
	Kind               Kind        `yaml:"kind"`
	Difficulty         string      `yaml:"difficulty"`
	TimeLimit          string      `yaml:"time_limit"`
	InvestigationSteps []Step      `yaml:"investigation_steps"`
	ResolutionSteps    []Step      `yaml:"resolution_steps"`
	Objectives         []Objective `yaml:"objectives"`
	Hints              []hintDoc   `yaml:"hints"`
	Weights            *Weights    `yaml:"weights"`
	RootCauseKeywords  []string    `yaml:"root_cause_keywords"`
	Solution           string      `yaml:"solution"`
}

type hintDoc struct {
	ID       string      `yaml:"id"`
	Trigger  TriggerKind `yaml:"trigger"`
	After    string      `yaml:"after"`
	Penalty  *float64    `yaml:"penalty"`
	Category string      `yaml:"category"`
	Text     string      `yaml:"text"`
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) ([]Scenario, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := checkVersion(doc.Version); err != nil {
		return nil, err
	}

	out := make([]Scenario, 0, len(doc.Scenarios))
	for _, sd := range doc.Scenarios {
		sc, err := sd.toScenario()
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sd.ID, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

func checkVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("catalog version %q is not a semantic version", v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return fmt.Errorf("catalog version %s: unsupported major version (want %s)", v, semver.Major(FormatVersion))
	}
	if semver.Compare(v, FormatVersion) > 0 {
		return fmt.Errorf("catalog version %s is newer than supported %s", v, FormatVersion)
	}
	return nil
}

// validateDocument checks a decoded YAML tree against catalogSchema.
func validateDocument(raw any) error {
	schema, err := getCompiledSchema()
	if err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}

	// The validator expects JSON-shaped values (float64 numbers, string keys).
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("normalize catalog: %w", err)
	}
	var parsed any
	if err := json.Unmarshal(b, &parsed); err != nil {
		return fmt.Errorf("normalize catalog: %w", err)
	}

	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("catalog schema validation failed: %w", err)
	}
	return nil
}

func getCompiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		defBytes, err := json.Marshal(catalogSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema definition: %w", err)
			return
		}
		var defParsed any
		if err := json.Unmarshal(defBytes, &defParsed); err != nil {
			compileErr = fmt.Errorf("parse schema definition: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		const url = "schema://scenario-catalog.json"
		if err := c.AddResource(url, defParsed); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(url)
	})
	return compiledSchema, compileErr
}

func (d scenarioDoc) toScenario() (Scenario, error) {
	limit, err := parseDuration(d.TimeLimit)
	if err != nil {
		return Scenario{}, fmt.Errorf("time_limit: %w", err)
	}
	if limit <= 0 {
		return Scenario{}, fmt.Errorf("time_limit must be positive")
	}

	sc := Scenario{
		ID:                 d.ID,
		Title:              d.Title,
		Summary:            d.Summary,
		Kind:               d.Kind,
		Difficulty:         d.Difficulty,
		TimeLimit:          limit,
		InvestigationSteps: d.InvestigationSteps,
		ResolutionSteps:    d.ResolutionSteps,
		Objectives:         d.Objectives,
		RootCauseKeywords:  d.RootCauseKeywords,
		Solution:           d.Solution,
		Weights:            DefaultWeights(),
	}
	if d.Weights != nil {
		sc.Weights = *d.Weights
	}

	for _, hd := range d.Hints {
		h := Hint{
			ID:                hd.ID,
			Trigger:           hd.Trigger,
			Category:          hd.Category,
			Text:              hd.Text,
			PenaltyMultiplier: 1.0,
		}
		if hd.Penalty != nil {
			h.PenaltyMultiplier = *hd.Penalty
		}
		if hd.Trigger != TriggerOnRequest {
			if hd.After == "" {
				return Scenario{}, fmt.Errorf("hint %q: %s trigger requires after", hd.ID, hd.Trigger)
			}
			h.Threshold, err = parseDuration(hd.After)
			if err != nil {
				return Scenario{}, fmt.Errorf("hint %q: %w", hd.ID, err)
			}
		}
		sc.Hints = append(sc.Hints, h)
	}

	if err := validateScenario(sc); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// parseDuration accepts ISO 8601 durations ("PT45M").
func parseDuration(s string) (time.Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}
