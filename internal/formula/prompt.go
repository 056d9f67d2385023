package formula

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are SASKA (Smart AI Supplement Knowledge Assistant).
Analyze the user's biological data and create a personalized supplement stack.

Output rules:
1. Output MUST be a single valid JSON object and nothing else.
2. Be scientifically accurate but concise.

JSON shape:
{
  "summary": {
    "proteinNeed": "low" | "moderate" | "high",
    "creatineNeed": "low" | "moderate" | "high",
    "recoveryStatus": "poor" | "average" | "good",
    "energyIndex": number (0-100),
    "stressLevel": "low" | "moderate" | "high",
    "priority": "string"
  },
  "stacks": [
    {
      "name": "string (English name of the supplement)",
      "dosage": "string (e.g. 5g daily)",
      "timing": "string (e.g. after workout)",
      "reason": "string",
      "priority": number (1-5, 5 is highest)
    }
  ],
  "alerts": [
    {
      "type": "interaction" | "dosage" | "general",
      "message": "string",
      "severity": "low" | "medium" | "high"
    }
  ],
  "confidenceScore": number (0-1)
}`

func userPrompt(q QuizAnswers) string {
	var b strings.Builder
	b.WriteString("User Profile:\n")
	fmt.Fprintf(&b, "- Gender: %s\n", q.Gender)
	fmt.Fprintf(&b, "- Age: %s\n", q.Age)
	fmt.Fprintf(&b, "- Weight: %skg\n", q.Weight)
	fmt.Fprintf(&b, "- Goal: %s\n", q.Goal)
	fmt.Fprintf(&b, "- Exercise Intensity: %s\n", q.ExerciseLevel)
	fmt.Fprintf(&b, "- Sleep Duration: %s hours\n", q.Sleep)
	fmt.Fprintf(&b, "- Diet Description: %s\n\n", q.Nutrition)
	b.WriteString("Generate the formula now.")
	return b.String()
}
