package formula

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"

	"fitpro/internal/ai"
	"fitpro/internal/apperr"
	"fitpro/internal/db"
	"fitpro/internal/gpt"
	"fitpro/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const validOutput = `{
  "summary": {"proteinNeed":"high","creatineNeed":"moderate","recoveryStatus":"average","energyIndex":72,"stressLevel":"low","priority":"recovery"},
  "stacks": [
    {"id":"ai-1","name":"Creatine Monohydrate","dosage":"5g daily","timing":"after workout","reason":"strength","priority":5},
    {"name":"Magnesium","dosage":"300mg","timing":"before sleep","reason":"sleep quality","priority":3}
  ],
  "alerts": [{"type":"general","message":"drink water","severity":"low"}]
}`

type fakeRouter struct {
	calls int
	env   ai.Envelope
	last  ai.Options
}

func (f *fakeRouter) Text(_ context.Context, _ []gpt.Message, opts ai.Options) ai.Envelope {
	f.calls++
	f.last = opts
	return f.env
}

func okEnvelope(text string) ai.Envelope {
	return ai.Envelope{Success: true, Data: &gpt.Result{Text: text, GroundingChunks: []gpt.GroundingChunk{}}}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

func validQuiz() QuizAnswers {
	var q QuizAnswers
	_ = json.Unmarshal([]byte(`{"gender":"male","age":"28","weight":82,"goal":"build-muscle","exerciseLevel":"heavy","sleep":"7","nutrition":"high protein"}`), &q)
	return q
}

func countRows(t *testing.T, gdb *gorm.DB) (formulas, stacks, alerts int64) {
	t.Helper()
	gdb.Model(&models.Formula{}).Count(&formulas)
	gdb.Model(&models.SupplementStack{}).Count(&stacks)
	gdb.Model(&models.BioAlert{}).Count(&alerts)
	return
}

func TestGenerateRejectsInvalidQuizWithoutProviderCall(t *testing.T) {
	r := &fakeRouter{env: okEnvelope(validOutput)}
	svc := NewService(r, nil, nil, nil, "test", nil)

	var q QuizAnswers
	_ = json.Unmarshal([]byte(`{"gender":"robot","age":"abc","weight":5,"goal":"build-muscle","exerciseLevel":"heavy","sleep":30,"nutrition":""}`), &q)

	_, err := svc.Generate(context.Background(), uuid.New(), q)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("not an app error: %v", err)
	}
	for _, field := range []string{"gender", "age", "weight", "sleep", "nutrition"} {
		if _, ok := ae.Details[field]; !ok {
			t.Errorf("missing detail for %s: %v", field, ae.Details)
		}
	}
	if r.calls != 0 {
		t.Fatalf("provider called %d times", r.calls)
	}
}

func TestGeneratePersistsAggregate(t *testing.T) {
	gdb := setupTestDB(t)
	r := &fakeRouter{env: okEnvelope(validOutput)}
	svc := NewService(r, db.NewFormulaStore(gdb), db.NewEventStore(gdb), nil, "SASKA test", nil)
	user := uuid.New()

	res, err := svc.Generate(context.Background(), user, validQuiz())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !regexp.MustCompile(`^MFP-\d{4}-BLD$`).MatchString(res.Formula.Code) {
		t.Fatalf("code = %q", res.Formula.Code)
	}
	if len(res.Stacks) < 1 {
		t.Fatal("expected at least one stack")
	}
	if res.Stacks[0].ID == uuid.Nil {
		t.Fatal("stack ids must be server generated")
	}
	if res.Formula.AIVersion != "SASKA test" || res.Formula.ConfidenceScore != defaultConfidence {
		t.Fatalf("unexpected formula %+v", res.Formula)
	}
	if !r.last.JSONMode || r.last.UserID != user {
		t.Fatalf("router options %+v", r.last)
	}

	f, s, a := countRows(t, gdb)
	if f != 1 || s != 2 || a != 1 {
		t.Fatalf("rows formulas=%d stacks=%d alerts=%d", f, s, a)
	}

	n, _ := db.NewEventStore(gdb).Count(context.Background(), user, models.EventQuizCompleted)
	if n != 1 {
		t.Fatalf("expected QUIZ_COMPLETED event, got %d", n)
	}

	history, err := svc.History(context.Background(), user)
	if err != nil || len(history) != 1 || history[0].Formula.ID != res.Formula.ID {
		t.Fatalf("history = %v, err = %v", history, err)
	}
}

func TestGenerateCutSuffix(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, "", nil)
	for _, goal := range []string{"lose-fat", "maintain"} {
		if code := svc.Code(goal); !regexp.MustCompile(`^MFP-\d{4}-CUT$`).MatchString(code) {
			t.Fatalf("goal %s code %q", goal, code)
		}
	}
}

func TestGenerateFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name string
		env  ai.Envelope
		kind apperr.Kind
	}{
		{"transport", ai.Envelope{Success: false, Error: "dial tcp: timeout"}, apperr.KindProviderTransport},
		{"not json", okEnvelope("here is your formula!"), apperr.KindMalformedAIOutput},
		{"empty stacks", okEnvelope(`{"summary":{"proteinNeed":"high","creatineNeed":"low","recoveryStatus":"good","energyIndex":50,"stressLevel":"low","priority":"x"},"stacks":[],"alerts":[]}`), apperr.KindMalformedAIOutput},
		{"missing summary", okEnvelope(`{"stacks":[{"name":"Zinc"}],"alerts":[]}`), apperr.KindMalformedAIOutput},
		{"bad alert severity", okEnvelope(strings.Replace(validOutput, `"severity":"low"`, `"severity":"extreme"`, 1)), apperr.KindMalformedAIOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb := setupTestDB(t)
			svc := NewService(&fakeRouter{env: tt.env}, db.NewFormulaStore(gdb), db.NewEventStore(gdb), nil, "test", nil)

			_, err := svc.Generate(context.Background(), uuid.New(), validQuiz())
			if !apperr.Is(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			f, s, a := countRows(t, gdb)
			if f+s+a != 0 {
				t.Fatalf("rows written: formulas=%d stacks=%d alerts=%d", f, s, a)
			}
		})
	}
}

func TestGenerateAcceptsFencedJSON(t *testing.T) {
	gdb := setupTestDB(t)
	svc := NewService(&fakeRouter{env: okEnvelope("```json\n" + validOutput + "\n```")}, db.NewFormulaStore(gdb), nil, nil, "test", nil)
	if _, err := svc.Generate(context.Background(), uuid.New(), validQuiz()); err != nil {
		t.Fatalf("generate: %v", err)
	}
}

func TestUpdateStackItem(t *testing.T) {
	gdb := setupTestDB(t)
	svc := NewService(&fakeRouter{env: okEnvelope(validOutput)}, db.NewFormulaStore(gdb), db.NewEventStore(gdb), nil, "test", nil)
	ctx := context.Background()
	owner := uuid.New()

	res, err := svc.Generate(ctx, owner, validQuiz())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	stackID := res.Stacks[1].ID

	bad := 9
	if _, err := svc.UpdateStackItem(ctx, owner, res.Formula.ID, stackID, StackPatch{Rating: &bad}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.UpdateStackItem(ctx, owner, res.Formula.ID, stackID, StackPatch{}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("empty patch should fail, got %v", err)
	}

	done := true
	item, err := svc.UpdateStackItem(ctx, owner, res.Formula.ID, stackID, StackPatch{Completed: &done})
	if err != nil || !item.IsCompleted {
		t.Fatalf("update: %+v %v", item, err)
	}

	if _, err := svc.UpdateStackItem(ctx, uuid.New(), res.Formula.ID, stackID, StackPatch{Completed: &done}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}

	got, err := svc.Get(ctx, owner, res.Formula.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Stacks[1].IsCompleted || got.Stacks[0].IsCompleted {
		t.Fatal("only the targeted stack row should change")
	}
}

func TestRedact(t *testing.T) {
	a := &Analysis{Stacks: []models.SupplementStack{{Name: "Zinc", Reason: "immune"}}}

	free := a.ForViewer(&models.User{Role: models.RoleUser})
	if free.Stacks[0].Reason != "" {
		t.Fatal("reason must be hidden from free users")
	}
	if a.Stacks[0].Reason != "immune" {
		t.Fatal("redaction must not mutate the original")
	}
	if a.ForViewer(&models.User{Role: models.RolePremium}).Stacks[0].Reason != "immune" {
		t.Fatal("premium users see the reason")
	}
}

func TestNumberAcceptsStringsAndNumbers(t *testing.T) {
	var q QuizAnswers
	if err := json.Unmarshal([]byte(`{"age":"31","weight":70.5,"sleep":" 8 "}`), &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if q.Age.Value != 31 || q.Weight.Value != 70.5 || q.Sleep.Value != 8 {
		t.Fatalf("got %+v", q)
	}
	if !q.Age.Valid || !q.Weight.Valid || !q.Sleep.Valid {
		t.Fatal("values should be valid")
	}
}
