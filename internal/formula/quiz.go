package formula

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"fitpro/internal/apperr"
)

// Number accepts a JSON number or a numeric string.
type Number struct {
	Value float64
	Set   bool
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	n.Set = true
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			n.Set = false
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		n.Value, n.Valid = v, true
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return nil
	}
	n.Value, n.Valid = v, true
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n Number) String() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// QuizAnswers is the biometric and lifestyle questionnaire.
type QuizAnswers struct {
	Gender        string `json:"gender"`
	Age           Number `json:"age"`
	Weight        Number `json:"weight"`
	Goal          string `json:"goal"`
	ExerciseLevel string `json:"exerciseLevel"`
	Sleep         Number `json:"sleep"`
	Nutrition     string `json:"nutrition"`
}

var (
	genders        = []string{"male", "female", "other"}
	goals          = []string{"lose-fat", "build-muscle", "maintain"}
	exerciseLevels = []string{"none", "light", "moderate", "heavy"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func checkRange(details map[string]string, field string, n Number, min, max float64) {
	switch {
	case !n.Set:
		details[field] = "required"
	case !n.Valid:
		details[field] = "must be numeric"
	case n.Value < min || n.Value > max:
		details[field] = fmt.Sprintf("must be between %g and %g", min, max)
	}
}

// Validate checks every field and reports all violations at once.
func (q *QuizAnswers) Validate() error {
	q.Gender = strings.ToLower(strings.TrimSpace(q.Gender))
	q.Goal = strings.ToLower(strings.TrimSpace(q.Goal))
	q.ExerciseLevel = strings.ToLower(strings.TrimSpace(q.ExerciseLevel))
	q.Nutrition = strings.TrimSpace(q.Nutrition)

	details := map[string]string{}
	if !oneOf(q.Gender, genders) {
		details["gender"] = "must be one of " + strings.Join(genders, ", ")
	}
	checkRange(details, "age", q.Age, 10, 100)
	checkRange(details, "weight", q.Weight, 30, 300)
	if !oneOf(q.Goal, goals) {
		details["goal"] = "must be one of " + strings.Join(goals, ", ")
	}
	if !oneOf(q.ExerciseLevel, exerciseLevels) {
		details["exerciseLevel"] = "must be one of " + strings.Join(exerciseLevels, ", ")
	}
	checkRange(details, "sleep", q.Sleep, 0, 24)
	if q.Nutrition == "" {
		details["nutrition"] = "required"
	}

	if len(details) > 0 {
		return apperr.Validation("invalid quiz answers", details)
	}
	return nil
}
