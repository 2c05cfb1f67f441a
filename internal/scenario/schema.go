package scenario

// catalogSchema is the JSON schema every catalog document must satisfy
// before it is decoded into scenarios.
var catalogSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"version": map[string]any{
			"type":    "string",
			"pattern": `^v[0-9]+\.[0-9]+\.[0-9]+$`,
		},
		"scenarios": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    scenarioSchema,
		},
	},
	"required":             []any{"version", "scenarios"},
	"additionalProperties": false,
}

var stepSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":          map[string]any{"type": "string", "minLength": 1},
		"title":       map[string]any{"type": "string"},
		"description": map[string]any{"type": "string"},
	},
	"required":             []any{"id", "title"},
	"additionalProperties": false,
}

var scenarioSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":         map[string]any{"type": "string", "pattern": `^[a-z0-9][a-z0-9-]*$`},
		"title":      map[string]any{"type": "string", "minLength": 1},
		"summary":    map[string]any{"type": "string"},
		"kind":       map[string]any{"enum": []any{string(KindDetailed), string(KindChecklist)}},
		"difficulty": map[string]any{"type": "string"},
		"time_limit": map[string]any{
			"type":        "string",
			"description": "ISO 8601 duration, e.g. PT45M",
		},
		"investigation_steps": map[string]any{"type": "array", "items": stepSchema},
		"resolution_steps":    map[string]any{"type": "array", "items": stepSchema},
		"objectives": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          map[string]any{"type": "string", "minLength": 1},
					"description": map[string]any{"type": "string"},
				},
				"required":             []any{"id", "description"},
				"additionalProperties": false,
			},
		},
		"hints": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string", "minLength": 1},
					"trigger": map[string]any{
						"enum": []any{string(TriggerElapsed), string(TriggerIdle), string(TriggerOnRequest)},
					},
					"after":    map[string]any{"type": "string"},
					"penalty":  map[string]any{"type": "number", "minimum": 0.0},
					"category": map[string]any{"type": "string"},
					"text":     map[string]any{"type": "string", "minLength": 1},
				},
				"required":             []any{"id", "trigger", "text"},
				"additionalProperties": false,
			},
		},
		"weights": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"accuracy":   map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
				"efficiency": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
				"completion": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			},
			"additionalProperties": false,
		},
		"root_cause_keywords": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
		"solution": map[string]any{"type": "string"},
	},
	"required":             []any{"id", "title", "kind", "time_limit"},
	"additionalProperties": false,
}
