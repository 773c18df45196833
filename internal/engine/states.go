package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
)

// Choice pairs a stable machine token with the human label shown and matched.
type Choice struct {
	Value string
	Label string
}

// DisplayChoices renders choices as a 1-based numbered list, one per line.
func DisplayChoices(choices []Choice) string {
	var b strings.Builder
	for i, c := range choices {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, c.Label)
	}
	return b.String()
}

// ValidationError carries user-facing text from a FreeText validator. The
// engine re-prompts with the text instead of treating it as a failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// EndState ends the session: it clears the session id, sends its text with a
// session-close signal, and optionally clears accumulated answers. With no
// next state it is re-entrant, leaving the state name pointing at itself.
type EndState struct {
	app        *App
	text       string
	next       string
	clearState bool
}

// EndOption customizes an EndState.
type EndOption func(*EndState)

// EndNext moves the user to the named state after the session closes.
func EndNext(name string) EndOption {
	return func(s *EndState) { s.next = name }
}

// EndKeepAnswers preserves accumulated answers across the session boundary.
func EndKeepAnswers() EndOption {
	return func(s *EndState) { s.clearState = false }
}

func NewEndState(app *App, text string, opts ...EndOption) *EndState {
	s := &EndState{app: app, text: text, clearState: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EndState) ProcessMessage(ctx context.Context, msg models.Message) error {
	s.app.User().SessionID = ""
	if s.next != "" {
		s.app.SetState(s.next)
	}
	if s.clearState {
		s.app.User().Answers = map[string]any{}
	}
	return s.app.SendMessage(s.text, false)
}

func (s *EndState) Display(ctx context.Context, msg models.Message) error {
	return s.ProcessMessage(ctx, msg)
}

// NextStates reports literal successors for registry validation.
func (s *EndState) NextStates() []string {
	return []string{s.next}
}

// NextFunc computes the destination state from the matched choice.
type NextFunc func(ctx context.Context, choice Choice) (string, error)

// ChoiceConfig describes a ChoiceState. Exactly one of Next or NextFunc
// should be set. NumbersOnly disables label matching so only a numeric
// selection is accepted.
type ChoiceConfig struct {
	Question    string
	Choices     []Choice
	Error       string
	Next        string
	NextFunc    NextFunc
	NumbersOnly bool
}

// ChoiceState asks a question with numbered options. Unmatched input
// re-prompts with the error text and the option list; a match records the
// answer and chains into the destination state's display.
type ChoiceState struct {
	app          *App
	question     string
	choices      []Choice
	errorText    string
	next         string
	nextFunc     NextFunc
	acceptLabels bool
	menu         bool
}

func NewChoiceState(app *App, cfg ChoiceConfig) *ChoiceState {
	return &ChoiceState{
		app:          app,
		question:     cfg.Question,
		choices:      cfg.Choices,
		errorText:    cfg.Error,
		next:         cfg.Next,
		nextFunc:     cfg.NextFunc,
		acceptLabels: !cfg.NumbersOnly,
	}
}

// NewMenuState builds a ChoiceState whose choice values double as destination
// state names.
func NewMenuState(app *App, question string, choices []Choice, errorText string) *ChoiceState {
	return &ChoiceState{
		app:          app,
		question:     question,
		choices:      choices,
		errorText:    errorText,
		acceptLabels: true,
		menu:         true,
		nextFunc: func(_ context.Context, choice Choice) (string, error) {
			return choice.Value, nil
		},
	}
}

// match resolves inbound content to a choice: first as a 1-based index, then
// as a case-insensitive label. Numeric parse failures and out-of-range
// numbers fall through to label matching rather than erroring.
func (s *ChoiceState) match(content string) (Choice, bool) {
	content = strings.TrimSpace(content)

	if n, err := strconv.Atoi(content); err == nil {
		if n > 0 && n <= len(s.choices) {
			return s.choices[n-1], true
		}
	}

	if s.acceptLabels {
		for _, choice := range s.choices {
			if strings.EqualFold(content, strings.TrimSpace(choice.Label)) {
				return choice, true
			}
		}
	}
	return Choice{}, false
}

func (s *ChoiceState) resolveNext(ctx context.Context, choice Choice) (string, error) {
	if s.nextFunc != nil {
		return s.nextFunc(ctx, choice)
	}
	return s.next, nil
}

func (s *ChoiceState) ProcessMessage(ctx context.Context, msg models.Message) error {
	choice, ok := s.match(msg.Content)
	if !ok {
		return s.app.SendMessage(s.errorText+"\n"+DisplayChoices(s.choices), true)
	}

	s.app.SaveAnswer(s.app.StateName(), choice.Value)
	next, err := s.resolveNext(ctx, choice)
	if err != nil {
		return err
	}
	s.app.SetState(next)
	state, err := s.app.currentState()
	if err != nil {
		return err
	}
	return state.Display(ctx, msg)
}

func (s *ChoiceState) Display(ctx context.Context, msg models.Message) error {
	return s.app.SendMessage(s.question+"\n"+DisplayChoices(s.choices), true)
}

// NextStates reports literal successors for registry validation. Menu states
// transition to their choice values; a NextFunc otherwise makes successors
// dynamic and unvalidatable.
func (s *ChoiceState) NextStates() []string {
	if s.menu {
		values := make([]string, 0, len(s.choices))
		for _, choice := range s.choices {
			values = append(values, choice.Value)
		}
		return values
	}
	if s.nextFunc != nil {
		return nil
	}
	return []string{s.next}
}

// Validator checks raw FreeText input. Returning a *ValidationError re-prompts
// the user with its message; any other error aborts processing.
type Validator func(ctx context.Context, content string) error

// FreeText asks a question and stores the raw reply.
type FreeText struct {
	app      *App
	question string
	next     string
	check    Validator
}

// FreeTextOption customizes a FreeText state.
type FreeTextOption func(*FreeText)

// FreeTextCheck installs an input validator.
func FreeTextCheck(check Validator) FreeTextOption {
	return func(s *FreeText) { s.check = check }
}

func NewFreeText(app *App, question, next string, opts ...FreeTextOption) *FreeText {
	s := &FreeText{app: app, question: question, next: next}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FreeText) ProcessMessage(ctx context.Context, msg models.Message) error {
	if s.check != nil {
		if err := s.check(ctx, msg.Content); err != nil {
			var validation *ValidationError
			if errors.As(err, &validation) {
				return s.app.SendMessage(validation.Message, true)
			}
			return err
		}
	}

	s.app.SaveAnswer(s.app.StateName(), msg.Content)
	s.app.SetState(s.next)
	state, err := s.app.currentState()
	if err != nil {
		return err
	}
	return state.Display(ctx, msg)
}

func (s *FreeText) Display(ctx context.Context, msg models.Message) error {
	return s.app.SendMessage(s.question, true)
}

// NextStates reports literal successors for registry validation.
func (s *FreeText) NextStates() []string {
	return []string{s.next}
}
