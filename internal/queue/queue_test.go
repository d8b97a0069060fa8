package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/store"
	"github.com/sbenjam1n/surveyflow/internal/survey"
)

func TestDecodeCompletion(t *testing.T) {
	rec := store.CompletionRecord{
		ID:        "c-1",
		SurveyID:  "pets",
		Action:    engine.ActionCancel,
		State:     survey.PersistedState{Section: "s1", Data: map[string]any{"hasPet": false}},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	payload, _ := json.Marshal(rec)

	tests := []struct {
		name    string
		values  map[string]any
		wantErr bool
	}{
		{"full payload", map[string]any{"payload": string(payload)}, false},
		{"missing payload", map[string]any{"survey_id": "pets"}, true},
		{"garbage payload", map[string]any{"payload": "{"}, true},
		{"bad action", map[string]any{"payload": `{"id":"x","survey_id":"pets","action":"abort"}`}, true},
		{"id from field", map[string]any{"completion_id": "c-9", "payload": `{"survey_id":"pets","action":"submit"}`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeCompletion(tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.ID == "" || got.SurveyID != "pets" {
				t.Errorf("record = %+v", got)
			}
		})
	}

	got, err := decodeCompletion(map[string]any{"payload": string(payload)})
	if err != nil {
		t.Fatal(err)
	}
	if got.Action != engine.ActionCancel || !got.CreatedAt.Equal(rec.CreatedAt) || got.State.Data["hasPet"] != false {
		t.Errorf("decoded = %+v", got)
	}
}

func TestGetString(t *testing.T) {
	values := map[string]any{"a": "x", "b": 3}
	if getString(values, "a") != "x" || getString(values, "b") != "" || getString(values, "c") != "" {
		t.Error("getString returned unexpected values")
	}
}
