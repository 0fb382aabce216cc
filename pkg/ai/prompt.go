package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const discursiveSchema = `{
  "type": "object",
  "required": ["score", "feedback"],
  "properties": {
    "score": {"type": "number"},
    "feedback": {"type": "string"},
    "key_points_found": {"type": "array", "items": {"type": "string"}}
  }
}`

const essaySchema = `{
  "type": "object",
  "required": ["score", "general_feedback"],
  "properties": {
    "score": {"type": "number"},
    "general_feedback": {"type": "string"},
    "competences": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "score"],
        "properties": {
          "name": {"type": "string"},
          "score": {"type": "number"},
          "max_score": {"type": "number"},
          "feedback": {"type": "string"}
        }
      }
    }
  }
}`

var (
	discursiveResponseSchema = jsonschema.MustCompileString("discursive_response.json", discursiveSchema)
	essayResponseSchema      = jsonschema.MustCompileString("essay_response.json", essaySchema)
)

func discursiveSystemPrompt() string {
	return "You are an exam grader for open-ended (discursive) questions. Respond with a JSON object containing score " +
		"(0 to max_score), feedback addressed to the student, and key_points_found listing the ids of the key points " +
		"present in the answer. Judge only the content of the answer."
}

func essaySystemPrompt() string {
	return "You are an essay grader. Respond with a JSON object containing score (0 to max_score), general_feedback " +
		"addressed to the student, and competences: a list of objects with name, score, max_score and feedback that " +
		"break the score down."
}

func rigorInstruction(rigor float64) string {
	switch {
	case rigor >= 0.75:
		return fmt.Sprintf("Rigor %.2f: be strict, award credit only for precise and complete reasoning.", rigor)
	case rigor <= 0.25:
		return fmt.Sprintf("Rigor %.2f: be lenient, award partial credit for the right direction.", rigor)
	default:
		return fmt.Sprintf("Rigor %.2f: be balanced, award partial credit for partially correct reasoning.", rigor)
	}
}

func buildDiscursivePrompt(input DiscursiveInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(input.Statement)
	builder.WriteString(fmt.Sprintf("\n\n## Max score\n%g", input.MaxScore))
	if input.ExpectedAnswer != "" {
		builder.WriteString("\n\n## Expected answer (not shown to the student)\n")
		builder.WriteString(input.ExpectedAnswer)
	}
	if len(input.KeyPoints) > 0 {
		builder.WriteString("\n\n## Key points\n")
		for _, point := range input.KeyPoints {
			builder.WriteString(fmt.Sprintf("- [%s] (weight %g) %s\n", point.ID, point.Weight, point.Description))
		}
	}
	builder.WriteString("\n\n## Grading\n")
	builder.WriteString(rigorInstruction(input.Rigor))
	builder.WriteString("\n\n## Student answer\n")
	builder.WriteString(input.Answer)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func buildEssayPrompt(input EssayInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Essay prompt\n")
	builder.WriteString(input.Statement)
	builder.WriteString(fmt.Sprintf("\n\n## Max score\n%g", input.MaxScore))
	builder.WriteString("\n\n## Grading\n")
	builder.WriteString(rigorInstruction(input.Rigor))
	builder.WriteString("\n\n## Essay\n")
	builder.WriteString(input.Answer)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func validateAgainst(schema *jsonschema.Schema, content string) error {
	decoder := json.NewDecoder(bytes.NewReader([]byte(content)))
	decoder.UseNumber()

	var document interface{}
	if err := decoder.Decode(&document); err != nil {
		return fmt.Errorf("parse grading json: %w", err)
	}
	if err := schema.Validate(document); err != nil {
		return fmt.Errorf("grading json does not match schema: %w", err)
	}
	return nil
}

func parseDiscursiveResponse(content string, input DiscursiveInput) (DiscursiveResult, error) {
	content = stripCodeFence(content)
	if err := validateAgainst(discursiveResponseSchema, content); err != nil {
		return DiscursiveResult{}, err
	}

	var data DiscursiveResult
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return DiscursiveResult{}, fmt.Errorf("parse grading json: %w", err)
	}

	known := make(map[string]struct{}, len(input.KeyPoints))
	for _, point := range input.KeyPoints {
		known[point.ID] = struct{}{}
	}
	found := make([]string, 0, len(data.KeyPointsFound))
	for _, id := range data.KeyPointsFound {
		if _, ok := known[id]; ok {
			found = append(found, id)
		}
	}

	return DiscursiveResult{
		Score:          clamp(data.Score, input.MaxScore),
		MaxScore:       input.MaxScore,
		Feedback:       strings.TrimSpace(data.Feedback),
		KeyPointsFound: found,
	}, nil
}

func parseEssayResponse(content string, input EssayInput) (EssayResult, error) {
	content = stripCodeFence(content)
	if err := validateAgainst(essayResponseSchema, content); err != nil {
		return EssayResult{}, err
	}

	var data EssayResult
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return EssayResult{}, fmt.Errorf("parse grading json: %w", err)
	}

	competences := make([]Competence, 0, len(data.Competences))
	for _, competence := range data.Competences {
		if competence.MaxScore > 0 {
			competence.Score = clamp(competence.Score, competence.MaxScore)
		} else if competence.Score < 0 {
			competence.Score = 0
		}
		competences = append(competences, competence)
	}

	return EssayResult{
		Score:           clamp(data.Score, input.MaxScore),
		MaxScore:        input.MaxScore,
		Competences:     competences,
		GeneralFeedback: strings.TrimSpace(data.GeneralFeedback),
	}, nil
}

// stripCodeFence removes a markdown fence some models wrap around JSON output.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func clamp(score, limit float64) float64 {
	if score < 0 {
		return 0
	}
	if limit > 0 && score > limit {
		return limit
	}
	return score
}
