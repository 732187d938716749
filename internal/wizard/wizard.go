// Package wizard drives the four-step form through review to submission.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/form"
)

var ErrInvalidTransition = errors.New("wizard: invalid transition")

type State int

const (
	Step1 State = iota + 1
	Step2
	Step3
	Step4
	Review
	Submitted
)

func (s State) String() string {
	switch s {
	case Step1, Step2, Step3, Step4:
		return fmt.Sprintf("step%d", int(s))
	case Review:
		return "review"
	case Submitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// Draft is the autosaved form state the wizard edits through.
// *autosave.Coordinator satisfies it.
type Draft interface {
	Snapshot() (int, form.Data)
	SetStep(n int) error
	Flush(ctx context.Context) error
	Reset()
}

// Submitter sends a complete form and returns the submission id.
type Submitter interface {
	Submit(ctx context.Context, data form.Data) (string, error)
}

type Wizard struct {
	draft     Draft
	submitter Submitter

	mu    sync.Mutex
	state State
}

// New starts the wizard at the step restored into draft.
func New(draft Draft, submitter Submitter) *Wizard {
	step, _ := draft.Snapshot()
	if !form.ValidStep(step) {
		step = 1
	}
	return &Wizard{draft: draft, submitter: submitter, state: State(step)}
}

func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Next validates the current step, saves synchronously and advances. On a
// validation or save failure the wizard stays where it is.
func (w *Wizard) Next(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state < Step1 || w.state > Step4 {
		return ErrInvalidTransition
	}
	n := int(w.state)
	_, data := w.draft.Snapshot()
	if fields := form.ValidateStep(n, data); fields != nil {
		return apperr.Validation("Please correct the highlighted fields", fields)
	}

	target := w.state + 1
	if err := w.moveTo(ctx, min(n+1, form.Steps)); err != nil {
		return err
	}
	w.state = target
	return nil
}

// Previous steps back one page. Review is left only through Edit.
func (w *Wizard) Previous(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state <= Step1 || w.state > Step4 {
		return ErrInvalidTransition
	}
	if err := w.draft.SetStep(int(w.state) - 1); err != nil {
		return err
	}
	w.state--
	return nil
}

// Edit jumps from review back to step k.
func (w *Wizard) Edit(ctx context.Context, k int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Review || !form.ValidStep(k) {
		return ErrInvalidTransition
	}
	if err := w.moveTo(ctx, k); err != nil {
		return err
	}
	w.state = State(k)
	return nil
}

// Submit sends the complete form from review. The draft is reset on
// success; the server validates again regardless.
func (w *Wizard) Submit(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Review {
		return "", ErrInvalidTransition
	}
	_, data := w.draft.Snapshot()
	if err := form.ValidateComplete(data); err != nil {
		return "", err
	}
	id, err := w.submitter.Submit(ctx, data)
	if err != nil {
		return "", err
	}
	w.state = Submitted
	w.draft.Reset()
	return id, nil
}

// moveTo sets the draft step and saves it. When the save fails the draft
// step is put back.
func (w *Wizard) moveTo(ctx context.Context, step int) error {
	prev, _ := w.draft.Snapshot()
	if err := w.draft.SetStep(step); err != nil {
		return err
	}
	if err := w.draft.Flush(ctx); err != nil {
		err = fmt.Errorf("save progress: %w", err)
		if rerr := w.draft.SetStep(prev); rerr != nil {
			return errors.Join(err, fmt.Errorf("restore step %d: %w", prev, rerr))
		}
		return err
	}
	return nil
}
