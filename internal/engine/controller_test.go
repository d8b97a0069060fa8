package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/sbenjam1n/surveyflow/internal/survey"
	"github.com/sbenjam1n/surveyflow/internal/validator"
)

// --- fakes ---

type fakeSource struct {
	defs  map[string]string
	state map[string]survey.PersistedState
}

func (f *fakeSource) FetchDefinition(_ context.Context, id string) (*survey.Survey, error) {
	doc, ok := f.defs[id]
	if !ok {
		return nil, fmt.Errorf("survey %s: %w", id, survey.ErrNotFound)
	}
	s, err := survey.ParseYAML([]byte(doc))
	if err != nil {
		return nil, err
	}
	if st, ok := f.state[id]; ok {
		s.State = st
	}
	return s, nil
}

type fakeSink struct {
	failures         int
	calls            int
	completeFailures int
	transitions      []survey.PersistedState
	completions      []Action
	finalStates      []survey.PersistedState
	completionIDs    []string
}

func (f *fakeSink) PersistTransition(_ context.Context, _ string, st survey.PersistedState) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("store unavailable")
	}
	f.transitions = append(f.transitions, st)
	return nil
}

func (f *fakeSink) RecordCompletion(_ context.Context, _ string, c Completion) error {
	f.completionIDs = append(f.completionIDs, c.ID)
	if f.completeFailures > 0 {
		f.completeFailures--
		return errors.New("publish timed out")
	}
	f.completions = append(f.completions, c.Action)
	f.finalStates = append(f.finalStates, c.State)
	return nil
}

type fakeFlows struct {
	paused, resumed []string
}

func (f *fakeFlows) Pause(_ context.Context, id string) error {
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeFlows) Resume(_ context.Context, id string) error {
	f.resumed = append(f.resumed, id)
	return nil
}

// --- fixtures ---

const carSurvey = `
id: car
sections:
  - id: s1
    items:
      - {field: hasCar, type: boolean}
      - {field: name, type: short_text}
    validations:
      name: {required: true}
  - id: s2
    dependencies:
      hasCar: {include_values: [true]}
    items:
      - {field: brand, type: option, value: vw}
      - {field: brand, type: option, value: bmw}
      - {field: brand, type: option, value: fiat}
      - {field: mileage, type: numeric, scale: 1}
    validations:
      mileage: {min_value: 0}
  - id: s3
    items:
      - {field: comment, type: long_text}
      - {field: reason, type: short_text, dependencies: {hasCar: {exclude_values: [true]}}}
    validations:
      reason: {required: true}
`

func newHarness(t *testing.T, doc string, st *survey.PersistedState) (*Controller, *fakeSink, *fakeFlows) {
	t.Helper()
	src := &fakeSource{defs: map[string]string{"car": doc}}
	if st != nil {
		src.state = map[string]survey.PersistedState{"car": *st}
	}
	sink := &fakeSink{}
	flows := &fakeFlows{}
	c, err := Open(context.Background(), "car", Collaborators{Definitions: src, Flows: flows, Sink: sink},
		Options{PersistAttempts: 3, PersistBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c, sink, flows
}

func item(t *testing.T, c *Controller, field, value string) *survey.Item {
	t.Helper()
	for _, it := range c.Survey().ItemsFor(field) {
		if it.Value == value {
			return it
		}
	}
	t.Fatalf("no item %s=%q", field, value)
	return nil
}

func mustSet(t *testing.T, c *Controller, it *survey.Item, v any) {
	t.Helper()
	if err := c.SetValue(it, v); err != nil {
		t.Fatalf("SetValue(%s, %v): %v", it.Field, v, err)
	}
}

func sectionIDs(secs []*survey.Section) []string {
	out := make([]string, len(secs))
	for i, s := range secs {
		out[i] = s.ID
	}
	return out
}

// --- tests ---

func TestOpenUnknownSurveyIsFatal(t *testing.T) {
	src := &fakeSource{defs: map[string]string{}}
	c, err := Open(context.Background(), "nope", Collaborators{Definitions: src, Sink: &fakeSink{}}, Options{})
	if c != nil {
		t.Fatal("expected no controller")
	}
	if !errors.Is(err, ErrDefinitionNotFound) {
		t.Fatalf("err = %v, want ErrDefinitionNotFound", err)
	}
}

func TestOpenRejectsBadRegexAtLoad(t *testing.T) {
	doc := `
id: car
sections:
  - id: s1
    items: [{field: code, type: short_text}]
    validations:
      code: {reg_ex: "([a-z"}
`
	src := &fakeSource{defs: map[string]string{"car": doc}}
	flows := &fakeFlows{}
	_, err := Open(context.Background(), "car", Collaborators{Definitions: src, Flows: flows, Sink: &fakeSink{}}, Options{})
	var defErr *survey.DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatalf("err = %v, want DefinitionError", err)
	}
	if len(flows.resumed) != 1 {
		t.Errorf("paused flow should be resumed on a failed open, resumed=%v", flows.resumed)
	}
}

func TestOpenSeatsPersistedSection(t *testing.T) {
	st := survey.PersistedState{Section: "s3", Data: map[string]any{"hasCar": false, "name": "Ann"}}
	c, _, flows := newHarness(t, carSurvey, &st)

	if got := sectionIDs(c.EnabledSections()); !reflect.DeepEqual(got, []string{"s1", "s3"}) {
		t.Fatalf("enabled = %v", got)
	}
	if c.CurrentSection().ID != "s3" {
		t.Errorf("current = %s, want s3", c.CurrentSection().ID)
	}
	if len(flows.paused) != 1 || flows.paused[0] != "car" {
		t.Errorf("paused = %v", flows.paused)
	}
}

func TestOpenFallsBackToFirstEnabledSection(t *testing.T) {
	st := survey.PersistedState{Section: "s2", Data: map[string]any{"hasCar": false}}
	c, _, _ := newHarness(t, carSurvey, &st)
	if c.CurrentSection().ID != "s1" {
		t.Errorf("current = %s, want s1 because s2 is disabled", c.CurrentSection().ID)
	}
}

func TestDisablingSectionEndsFlow(t *testing.T) {
	doc := `
id: car
sections:
  - id: s1
    items: [{field: hasCar, type: boolean}]
  - id: s2
    dependencies:
      hasCar: {include_values: [true]}
    items: [{field: brand, type: short_text}]
`
	c, _, _ := newHarness(t, doc, nil)
	hasCar := item(t, c, "hasCar", "")

	mustSet(t, c, hasCar, true)
	if len(c.EnabledSections()) != 2 || c.IsLastPage() {
		t.Fatalf("with hasCar=true expected two sections, got %v", sectionIDs(c.EnabledSections()))
	}

	mustSet(t, c, hasCar, false)
	if got := sectionIDs(c.EnabledSections()); !reflect.DeepEqual(got, []string{"s1"}) {
		t.Fatalf("enabled = %v, want [s1]", got)
	}
	moved, err := c.MoveNext(context.Background())
	if err != nil || moved {
		t.Errorf("MoveNext = (%v, %v), want no move", moved, err)
	}
	if !c.IsLastPage() {
		t.Error("IsLastPage should be true")
	}
}

func TestOptionExclusivity(t *testing.T) {
	c, _, _ := newHarness(t, carSurvey, nil)
	mustSet(t, c, item(t, c, "hasCar", ""), true)

	mustSet(t, c, item(t, c, "brand", "vw"), true)
	mustSet(t, c, item(t, c, "brand", "bmw"), true)

	want := map[string]bool{"vw": false, "bmw": true, "fiat": false}
	if got := c.State()["brand"].Flags; !reflect.DeepEqual(got, want) {
		t.Errorf("brand flags = %v, want %v", got, want)
	}
	if got := c.Persisted().Data["brand"]; got != "bmw" {
		t.Errorf("persisted brand = %v, want bmw", got)
	}
}

func TestSegmentOptionsSelectOne(t *testing.T) {
	doc := `
id: car
sections:
  - id: s1
    items:
      - {field: size, type: segment_options, value: s}
      - {field: size, type: segment_options, value: m}
      - {field: size, type: segment_options, value: l}
`
	c, _, _ := newHarness(t, doc, nil)
	mustSet(t, c, item(t, c, "size", "s"), true)
	mustSet(t, c, item(t, c, "size", "l"), true)

	want := map[string]bool{"s": false, "m": false, "l": true}
	if got := c.State()["size"].Flags; !reflect.DeepEqual(got, want) {
		t.Errorf("size flags = %v, want %v", got, want)
	}
	if got := c.Persisted().Data["size"]; got != "l" {
		t.Errorf("persisted size = %v, want l", got)
	}
}

func TestNumericMinValue(t *testing.T) {
	c, _, _ := newHarness(t, carSurvey, nil)
	mustSet(t, c, item(t, c, "hasCar", ""), true)
	mileage := item(t, c, "mileage", "")

	mustSet(t, c, mileage, -5)
	if want := []string{"Value cannot be less than 0"}; !reflect.DeepEqual(mileage.Messages, want) {
		t.Fatalf("messages = %v, want %v", mileage.Messages, want)
	}
	if mileage.Section.Valid {
		t.Error("section should be invalid")
	}

	mustSet(t, c, mileage, 10)
	if len(mileage.Messages) != 0 || !mileage.Valid || !mileage.Section.Valid {
		t.Errorf("after 10: messages=%v valid=%v", mileage.Messages, mileage.Valid)
	}
}

func TestNumericRoundsToScale(t *testing.T) {
	c, _, _ := newHarness(t, carSurvey, nil)
	mustSet(t, c, item(t, c, "hasCar", ""), true)
	mustSet(t, c, item(t, c, "mileage", ""), "12.345")

	if got := c.State().Scalar("mileage"); got != 12.3 {
		t.Errorf("mileage = %v, want 12.3", got)
	}
	if err := c.SetValue(item(t, c, "mileage", ""), "lots"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("err = %v, want ErrInvalidValue", err)
	}
}

func TestDisabledFieldDoesNotBlockSection(t *testing.T) {
	c, _, _ := newHarness(t, carSurvey, nil)
	reason := item(t, c, "reason", "")
	s3 := c.Survey().SectionByID("s3")

	if want := []string{validator.MsgRequired}; !reflect.DeepEqual(reason.Messages, want) {
		t.Fatalf("reason messages = %v, want %v", reason.Messages, want)
	}
	if s3.Valid {
		t.Fatal("s3 should be invalid while reason is required and empty")
	}

	mustSet(t, c, item(t, c, "hasCar", ""), true)
	if reason.Enabled {
		t.Fatal("reason should be disabled when hasCar is true")
	}
	if len(reason.Messages) != 0 || !reason.Valid {
		t.Errorf("disabled reason: messages=%v valid=%v", reason.Messages, reason.Valid)
	}
	if !s3.Valid {
		t.Error("s3 should be valid once its only failing field is disabled")
	}
	if _, ok := c.Persisted().Data["reason"]; ok {
		t.Error("disabled field must not be persisted")
	}
}

func TestNavigationGate(t *testing.T) {
	c, _, _ := newHarness(t, carSurvey, nil)
	ctx := context.Background()
	mustSet(t, c, item(t, c, "hasCar", ""), true)

	// s1 requires a name.
	if c.CanMoveNext() {
		t.Fatal("forward move must be blocked while s1 is invalid")
	}
	moved, err := c.MoveNext(ctx)
	if err != nil || moved {
		t.Fatalf("MoveNext = (%v, %v), want silent denial", moved, err)
	}
	if c.CurrentIndex() != 0 {
		t.Fatalf("pointer moved to %d", c.CurrentIndex())
	}

	mustSet(t, c, item(t, c, "name", ""), "Ann")
	if ok, err := c.SetSection(ctx, 2); !ok || err != nil {
		t.Fatalf("SetSection(2) = (%v, %v)", ok, err)
	}

	// Invalidate s1 from s3: going back stays allowed, forward is closed.
	mustSet(t, c, item(t, c, "name", ""), "")
	for j := 0; j <= c.CurrentIndex(); j++ {
		if !c.CanMoveToSection(j) {
			t.Errorf("CanMoveToSection(%d) = false, want true for j <= current", j)
		}
	}
	if ok, _ := c.SetSection(ctx, 1); !ok {
		t.Error("moving back must be allowed")
	}
	if c.CanMoveToSection(2) {
		t.Error("CanMoveToSection(2) must be false while s1 is invalid")
	}
	if c.CanMoveToSection(5) || c.CanMoveToSection(-1) {
		t.Error("out of range targets must be denied")
	}
}

func TestTransitionPersistsEncodedState(t *testing.T) {
	c, sink, _ := newHarness(t, carSurvey, nil)
	ctx := context.Background()
	mustSet(t, c, item(t, c, "name", ""), "Ann")

	if ok, err := c.MoveNext(ctx); !ok || err != nil {
		t.Fatalf("MoveNext = (%v, %v)", ok, err)
	}
	if len(sink.transitions) != 1 {
		t.Fatalf("transitions = %d, want 1", len(sink.transitions))
	}
	got := sink.transitions[0]
	if got.Section != "s3" || got.Data["name"] != "Ann" {
		t.Errorf("persisted = %+v", got)
	}
	if ok, _ := c.SetSection(ctx, c.CurrentIndex()); !ok || len(sink.transitions) != 1 {
		t.Error("staying on the current section must not persist")
	}
}

func TestPersistenceRetriesThenSucceeds(t *testing.T) {
	c, sink, _ := newHarness(t, carSurvey, nil)
	sink.failures = 2
	mustSet(t, c, item(t, c, "name", ""), "Ann")

	ok, err := c.MoveNext(context.Background())
	if !ok || err != nil {
		t.Fatalf("MoveNext = (%v, %v)", ok, err)
	}
	if sink.calls != 3 {
		t.Errorf("calls = %d, want 3", sink.calls)
	}
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	c, sink, _ := newHarness(t, carSurvey, nil)
	sink.failures = 10
	mustSet(t, c, item(t, c, "name", ""), "Ann")

	ok, err := c.MoveNext(context.Background())
	if ok {
		t.Fatal("move should report failure")
	}
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if perr.Attempts != 3 || perr.Section != "s3" {
		t.Errorf("PersistenceError = %+v", perr)
	}
	if c.CurrentSection().ID != "s1" || c.Persisted().Section != "s1" {
		t.Errorf("pointer not rolled back: %s", c.CurrentSection().ID)
	}
	if c.InFlight() {
		t.Error("in-flight token must be released")
	}
}

func TestInFlightTransitionBlocksSecondCommit(t *testing.T) {
	c, sink, _ := newHarness(t, carSurvey, nil)
	mustSet(t, c, item(t, c, "name", ""), "Ann")

	tr, ok, err := c.BeginTransition(1)
	if err != nil || !ok || tr == nil {
		t.Fatalf("BeginTransition = (%v, %v, %v)", tr, ok, err)
	}
	if _, _, err := c.BeginTransition(0); !errors.Is(err, ErrTransitionInFlight) {
		t.Fatalf("second commit err = %v, want ErrTransitionInFlight", err)
	}

	// Edits keep working while persistence is outstanding and do not leak
	// into the snapshot.
	mustSet(t, c, item(t, c, "comment", ""), "later")
	if err := c.EndTransition(tr, tr.Persist(context.Background())); err != nil {
		t.Fatalf("EndTransition: %v", err)
	}
	if _, ok := sink.transitions[0].Data["comment"]; ok {
		t.Error("snapshot must not see edits made after the commit")
	}
	if _, _, err := c.BeginTransition(0); err != nil {
		t.Errorf("commit after release: %v", err)
	}
}

func TestCompleteSurveyAndFinish(t *testing.T) {
	c, sink, flows := newHarness(t, carSurvey, nil)
	ctx := context.Background()

	if c.CompleteSurvey() {
		t.Fatal("s1 is invalid without a name")
	}
	if !item(t, c, "name", "").Touched {
		t.Error("CompleteSurvey must touch the current section's fields")
	}
	if err := c.Finish(ctx, ActionSubmit); !errors.Is(err, ErrSectionInvalid) {
		t.Fatalf("Finish err = %v, want ErrSectionInvalid", err)
	}
	if len(sink.completions) != 0 {
		t.Fatal("nothing may be recorded for an invalid submit")
	}

	mustSet(t, c, item(t, c, "name", ""), "Ann")
	if err := c.Finish(ctx, ActionSubmit); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !reflect.DeepEqual(sink.completions, []Action{ActionSubmit}) {
		t.Errorf("completions = %v", sink.completions)
	}
	if sink.finalStates[0].Data["name"] != "Ann" {
		t.Errorf("final state = %+v", sink.finalStates[0])
	}
	if len(flows.resumed) != 1 {
		t.Errorf("resumed = %v", flows.resumed)
	}
	if err := c.SetValue(item(t, c, "name", ""), "Bob"); !errors.Is(err, ErrFinished) {
		t.Errorf("edit after finish err = %v", err)
	}
	if err := c.Close(ctx); err != nil || len(flows.resumed) != 1 {
		t.Errorf("Close after finish must not resume again: %v %v", err, flows.resumed)
	}
}

func TestCancelSkipsValidation(t *testing.T) {
	c, sink, _ := newHarness(t, carSurvey, nil)
	if err := c.Finish(context.Background(), ActionCancel); err != nil {
		t.Fatalf("Finish(cancel): %v", err)
	}
	if !reflect.DeepEqual(sink.completions, []Action{ActionCancel}) {
		t.Errorf("completions = %v", sink.completions)
	}
}

func TestFinishReusesCompletionIDAcrossRetries(t *testing.T) {
	c, sink, _ := newHarness(t, carSurvey, nil)
	sink.completeFailures = 2

	if err := c.Finish(context.Background(), ActionCancel); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(sink.completionIDs) != 3 {
		t.Fatalf("attempts = %d, want 3", len(sink.completionIDs))
	}
	for _, id := range sink.completionIDs {
		if id == "" || id != sink.completionIDs[0] {
			t.Fatalf("completion ids across retries = %v, want one id", sink.completionIDs)
		}
	}
}

func TestSetValueRejectsNonFinite(t *testing.T) {
	c, _, _ := newHarness(t, carSurvey, nil)
	mustSet(t, c, item(t, c, "hasCar", ""), true)
	mileage := item(t, c, "mileage", "")
	mustSet(t, c, mileage, 10)

	for _, v := range []any{"NaN", "Inf", "-infinity", math.NaN(), math.Inf(1)} {
		if err := c.SetValue(mileage, v); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("SetValue(%v) err = %v, want ErrInvalidValue", v, err)
		}
	}
	if got := c.State().Scalar("mileage"); got != 10.0 {
		t.Errorf("mileage = %v, want the last finite value 10", got)
	}
	if err := c.SetText("mileage", "NaN"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("SetText err = %v, want ErrInvalidValue", err)
	}
	if _, err := json.Marshal(c.Persisted()); err != nil {
		t.Errorf("persisted state no longer encodes: %v", err)
	}
}

func TestValueChangedEvent(t *testing.T) {
	c, _, _ := newHarness(t, carSurvey, nil)
	var events []ValueChanged
	c.OnValueChanged(func(ev ValueChanged) { events = append(events, ev) })

	mustSet(t, c, item(t, c, "name", ""), "Ann")
	if len(events) != 1 || events[0].Field != "name" || events[0].Value != "Ann" {
		t.Errorf("events = %+v", events)
	}
	if c.CurrentIndex() != 0 {
		t.Error("edits must not navigate")
	}
}

func TestSetText(t *testing.T) {
	doc := `
id: car
sections:
  - id: s1
    items:
      - {field: days, type: boolean, value: mon}
      - {field: days, type: boolean, value: tue}
      - {field: days, type: boolean, value: wed}
      - {field: color, type: option, value: red}
      - {field: color, type: option, value: blue}
      - {field: agree, type: boolean}
      - {field: born, type: date}
`
	c, _, _ := newHarness(t, doc, nil)
	for field, text := range map[string]string{"days": "mon, wed", "color": "blue", "agree": "yes", "born": "2001-02-03"} {
		if err := c.SetText(field, text); err != nil {
			t.Fatalf("SetText(%s, %q): %v", field, text, err)
		}
	}
	data := c.Persisted().Data
	if !reflect.DeepEqual(data["days"], []string{"mon", "wed"}) {
		t.Errorf("days = %#v", data["days"])
	}
	if data["color"] != "blue" || data["agree"] != true || data["born"] != "2001-02-03" {
		t.Errorf("data = %#v", data)
	}
	if err := c.SetText("days", "sun"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("unknown sub-value err = %v", err)
	}
	if err := c.SetText("nope", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown field err = %v", err)
	}
}

func TestRecordVideo(t *testing.T) {
	c, _, _ := newHarness(t, carSurvey, nil)
	if err := c.RecordVideo("s1", 12.5, false); err != nil {
		t.Fatal(err)
	}
	if err := c.RecordVideo("s1", 7.5, true); err != nil {
		t.Fatal(err)
	}
	data := c.Persisted().Data
	if data["video_s1_view_count"] != 2 || data["video_s1_view_duration"] != 20.0 || data["video_s1_completed"] != true {
		t.Errorf("video keys = %v %v %v", data["video_s1_view_count"], data["video_s1_view_duration"], data["video_s1_completed"])
	}
	if err := c.RecordVideo("zz", 1, false); err == nil {
		t.Error("unknown section should fail")
	}
}
