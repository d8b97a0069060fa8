package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sbenjam1n/surveyflow/internal/engine"
	"github.com/sbenjam1n/surveyflow/internal/survey"
)

type fakePublisher struct {
	recs  []CompletionRecord
	err   error
	flaky int // calls that reach the stream but still report an error
}

func (f *fakePublisher) PublishCompletion(_ context.Context, rec CompletionRecord) error {
	if f.err != nil {
		return f.err
	}
	if f.flaky > 0 {
		f.flaky--
		f.recs = append(f.recs, rec)
		return errors.New("i/o timeout after XADD")
	}
	f.recs = append(f.recs, rec)
	return nil
}

func TestSinkRecordCompletion(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	final := survey.PersistedState{Section: "s2", Data: map[string]any{"hasPet": true, "kind": "dog"}}

	tests := []struct {
		name          string
		publisher     *fakePublisher
		wantPublished int
		wantStored    int
		wantErr       bool
	}{
		{name: "direct insert without publisher", wantStored: 1},
		{name: "published when queue present", publisher: &fakePublisher{}, wantPublished: 1},
		{name: "publish failure surfaces", publisher: &fakePublisher{err: errors.New("redis down")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openTestStore(t)
			if err := st.SaveDefinition(ctx, loadPets(t), false); err != nil {
				t.Fatal(err)
			}
			sink := &Sink{Store: st, Now: func() time.Time { return fixed }}
			if tt.publisher != nil {
				sink.Events = tt.publisher
			}

			err := sink.RecordCompletion(ctx, "pets", engine.Completion{ID: "done-1", Action: engine.ActionSubmit, State: final})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}

			got, err := st.FetchDefinition(ctx, "pets")
			if err != nil {
				t.Fatal(err)
			}
			if got.State.Data["kind"] != "dog" {
				t.Errorf("final state not saved: %+v", got.State)
			}
			stored, _ := st.Completions(ctx, "pets")
			if len(stored) != tt.wantStored {
				t.Errorf("stored completions = %d, want %d", len(stored), tt.wantStored)
			}
			if tt.publisher != nil && len(tt.publisher.recs) != tt.wantPublished {
				t.Errorf("published = %d, want %d", len(tt.publisher.recs), tt.wantPublished)
			}
			if tt.wantPublished > 0 {
				rec := tt.publisher.recs[0]
				if rec.ID != "done-1" || !rec.CreatedAt.Equal(fixed) || rec.SurveyID != "pets" {
					t.Errorf("record = %+v", rec)
				}
			}
		})
	}
}

func TestSinkRetryKeepsCompletionID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if err := st.SaveDefinition(ctx, loadPets(t), false); err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{flaky: 1}
	sink := &Sink{Store: st, Events: pub}
	done := engine.Completion{ID: "done-7", Action: engine.ActionCancel, State: survey.PersistedState{Section: "s1", Data: map[string]any{}}}

	if err := sink.RecordCompletion(ctx, "pets", done); err == nil {
		t.Fatal("first publish should report the timeout")
	}
	if err := sink.RecordCompletion(ctx, "pets", done); err != nil {
		t.Fatal(err)
	}
	if len(pub.recs) != 2 || pub.recs[0].ID != "done-7" || pub.recs[1].ID != "done-7" {
		t.Fatalf("published = %+v, want the same id twice", pub.recs)
	}

	// The archiver sees both messages; the store keeps one row.
	for _, rec := range pub.recs {
		if err := st.InsertCompletion(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	stored, err := st.Completions(ctx, "pets")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].ID != "done-7" {
		t.Errorf("stored = %+v, want one completion", stored)
	}
}

func TestSinkPersistTransitionDelegates(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if err := st.SaveDefinition(ctx, loadPets(t), false); err != nil {
		t.Fatal(err)
	}
	sink := &Sink{Store: st}
	if err := sink.PersistTransition(ctx, "pets", survey.PersistedState{Section: "s1", Data: map[string]any{}}); err != nil {
		t.Fatal(err)
	}
	trs, _ := st.Transitions(ctx, "pets")
	if len(trs) != 1 {
		t.Fatalf("transitions = %d, want 1", len(trs))
	}
}

func TestMarshalDefinitionStripsState(t *testing.T) {
	sv := loadPets(t)
	sv.State = survey.PersistedState{Section: "s2", Data: map[string]any{"kind": "cat"}}
	data, err := marshalDefinition(sv)
	if err != nil {
		t.Fatal(err)
	}
	back, err := unmarshalSurvey(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if back.State.Section != "" || len(back.State.Data) != 0 {
		t.Errorf("state leaked into definition: %+v", back.State)
	}
	if sv.State.Section != "s2" {
		t.Errorf("marshalDefinition mutated the survey")
	}
}
