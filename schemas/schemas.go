// Package schemas holds the embedded JSON Schemas used to validate payloads
// received from the assessment API before the engine acts on them.
package schemas

// TaskSchemaJSON is the JSON Schema for a task payload served by the
// assessment task endpoint.
const TaskSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "Assessment task",
  "type": "object",
  "required": ["id", "title", "scenario", "category", "difficulty", "options"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "title": { "type": "string", "minLength": 3, "maxLength": 200 },
    "description": { "type": "string", "maxLength": 1000 },
    "scenario": { "type": "string", "minLength": 10, "maxLength": 2000 },
    "category": {
      "type": "string",
      "enum": [
        "problem_solving",
        "communication",
        "decision_confidence",
        "analytical_thinking",
        "speed_accuracy"
      ]
    },
    "difficulty": { "type": "string", "enum": ["easy", "medium", "hard"] },
    "time_limit_seconds": { "type": "integer", "minimum": 30, "maximum": 1800 },
    "options": {
      "type": "array",
      "minItems": 2,
      "maxItems": 6,
      "items": {
        "type": "object",
        "required": ["id", "text"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "text": { "type": "string", "minLength": 1, "maxLength": 500 }
        }
      }
    },
    "reasoning_required": { "type": "boolean" },
    "reasoning_min_length": { "type": "integer", "minimum": 0, "maximum": 500 }
  }
}`
