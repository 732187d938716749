package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/autosave"
	"github.com/dukerupert/smartform/internal/form"
	"github.com/dukerupert/smartform/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	step    int
	data    form.Data
	saves   int
	saveErr error
	initial *model.FormProgress
}

func (m *memStore) SaveProgress(ctx context.Context, step int, data form.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.step, m.data = step, data
	return nil
}

func (m *memStore) LoadProgress(ctx context.Context) (*model.FormProgress, error) {
	return m.initial, nil
}

func (m *memStore) setSaveErr(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

func (m *memStore) savedStep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

type fakeSubmitter struct {
	got form.Data
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, data form.Data) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.got = data
	return "sub-1", nil
}

func complete() form.Data {
	return form.Data{
		Step1: &form.Personal{FullName: "Ada Lovelace", Email: "ada@example.com", Phone: "5551234567", Location: "London"},
		Step2: &form.Experience{CurrentPosition: "Engineer", Company: "Analytical", YearsOfExperience: form.Years(7), KeyAchievements: "Wrote the first program"},
		Step3: &form.Skills{PrimarySkills: "Mathematics", ProgrammingLanguages: "Go", FrameworksAndTools: "Engines"},
		Step4: &form.Motivation{Motivation: "I want to build thinking machines.", StartDate: "2026-11-01"},
	}
}

func setup(t *testing.T, initial *model.FormProgress) (*Wizard, *autosave.Coordinator, *memStore, *fakeSubmitter) {
	t.Helper()
	st := &memStore{initial: initial}
	c := autosave.New(st, autosave.WithDelay(time.Hour))
	if err := c.Mount(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })
	sub := &fakeSubmitter{}
	return New(c, sub), c, st, sub
}

func TestStartsAtRestoredStep(t *testing.T) {
	w, _, _, _ := setup(t, &model.FormProgress{CurrentStep: 3, FormData: complete()})
	if w.State() != Step3 {
		t.Errorf("state = %v, want step3", w.State())
	}
}

func TestNextBlockedByInvalidStep(t *testing.T) {
	w, c, st, _ := setup(t, nil)
	c.Update(func(d *form.Data) { d.Step1 = &form.Personal{FullName: "A"} })

	err := w.Next(context.Background())
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	var ae *apperr.Error
	errors.As(err, &ae)
	if ae.Fields["step1.email"] == "" {
		t.Errorf("fields = %v, want step1.email", ae.Fields)
	}
	if w.State() != Step1 {
		t.Errorf("state = %v, want step1", w.State())
	}
	if st.saves != 0 {
		t.Errorf("saves = %d, want 0", st.saves)
	}
}

func TestNextSavesTargetStepBeforeAdvancing(t *testing.T) {
	w, c, st, _ := setup(t, nil)
	c.Update(func(d *form.Data) { *d = complete() })

	if err := w.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if w.State() != Step2 {
		t.Errorf("state = %v, want step2", w.State())
	}
	if st.savedStep() != 2 {
		t.Errorf("saved step = %d, want 2", st.savedStep())
	}
}

func TestNextDoesNotAdvanceWhenSaveFails(t *testing.T) {
	w, c, st, _ := setup(t, nil)
	c.Update(func(d *form.Data) { *d = complete() })
	st.setSaveErr(errors.New("offline"))

	if err := w.Next(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if w.State() != Step1 {
		t.Errorf("state = %v, want step1", w.State())
	}
	if step, _ := c.Snapshot(); step != 1 {
		t.Errorf("draft step = %d, want 1", step)
	}
}

// brokenDraft fails every save and refuses to move back to restoreTo.
type brokenDraft struct {
	step      int
	restoreTo int
}

var (
	errOffline = errors.New("offline")
	errLocked  = errors.New("draft locked")
)

func (d *brokenDraft) Snapshot() (int, form.Data) { return d.step, complete() }

func (d *brokenDraft) SetStep(n int) error {
	if n == d.restoreTo && d.step != n {
		return errLocked
	}
	d.step = n
	return nil
}

func (d *brokenDraft) Flush(context.Context) error { return errOffline }

func (d *brokenDraft) Reset() {}

func TestNextReportsFailedRestore(t *testing.T) {
	w := New(&brokenDraft{step: 1, restoreTo: 1}, &fakeSubmitter{})

	err := w.Next(context.Background())
	if !errors.Is(err, errOffline) || !errors.Is(err, errLocked) {
		t.Fatalf("err = %v, want both save and restore failures", err)
	}
	if w.State() != Step1 {
		t.Errorf("state = %v, want step1", w.State())
	}
}

func TestEditRestoresStepWhenSaveFails(t *testing.T) {
	w, c, st, _ := setup(t, nil)
	c.Update(func(d *form.Data) { *d = complete() })
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := w.Next(ctx); err != nil {
			t.Fatalf("Next %d: %v", i+1, err)
		}
	}
	st.setSaveErr(errOffline)

	if err := w.Edit(ctx, 2); !errors.Is(err, errOffline) {
		t.Fatalf("Edit err = %v, want offline", err)
	}
	if w.State() != Review {
		t.Errorf("state = %v, want review", w.State())
	}
	if step, _ := c.Snapshot(); step != 4 {
		t.Errorf("draft step = %d, want 4", step)
	}
}

func TestFullPathToSubmission(t *testing.T) {
	w, c, _, sub := setup(t, nil)
	c.Update(func(d *form.Data) { *d = complete() })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := w.Next(ctx); err != nil {
			t.Fatalf("Next %d: %v", i+1, err)
		}
	}
	if w.State() != Review {
		t.Fatalf("state = %v, want review", w.State())
	}
	if err := w.Next(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Next from review err = %v", err)
	}
	if err := w.Previous(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Previous from review err = %v", err)
	}

	id, err := w.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "sub-1" || sub.got.Step4 == nil {
		t.Errorf("id = %q, submitted = %+v", id, sub.got)
	}
	if w.State() != Submitted {
		t.Errorf("state = %v, want submitted", w.State())
	}
	if _, d := c.Snapshot(); !d.Empty() {
		t.Error("draft should be reset after submission")
	}
	if _, err := w.Submit(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Submit err = %v", err)
	}
	if err := w.Edit(ctx, 1); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Edit after submit err = %v", err)
	}
}

func TestEditFromReview(t *testing.T) {
	w, c, st, _ := setup(t, nil)
	c.Update(func(d *form.Data) { *d = complete() })
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		w.Next(ctx)
	}

	if err := w.Edit(ctx, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Edit(0) err = %v", err)
	}
	if err := w.Edit(ctx, 2); err != nil {
		t.Fatalf("Edit(2): %v", err)
	}
	if w.State() != Step2 || st.savedStep() != 2 {
		t.Errorf("state = %v, saved step = %d", w.State(), st.savedStep())
	}
}

func TestPrevious(t *testing.T) {
	w, _, _, _ := setup(t, &model.FormProgress{CurrentStep: 2, FormData: complete()})
	ctx := context.Background()

	if err := w.Previous(ctx); err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if w.State() != Step1 {
		t.Errorf("state = %v, want step1", w.State())
	}
	if err := w.Previous(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Previous from step1 err = %v", err)
	}
}

func TestSubmitFailureStaysInReview(t *testing.T) {
	w, c, _, sub := setup(t, nil)
	c.Update(func(d *form.Data) { *d = complete() })
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		w.Next(ctx)
	}
	sub.err = apperr.Store("submit", errors.New("down"))

	if _, err := w.Submit(ctx); err == nil {
		t.Fatal("expected error")
	}
	if w.State() != Review {
		t.Errorf("state = %v, want review", w.State())
	}
	if _, d := c.Snapshot(); d.Empty() {
		t.Error("draft should survive a failed submission")
	}
}

func TestStateString(t *testing.T) {
	if Step3.String() != "step3" || Review.String() != "review" || Submitted.String() != "submitted" {
		t.Error("unexpected State names")
	}
}
