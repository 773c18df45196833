package engine

import (
	"context"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/observability/metrics"
)

// ResetCommand wipes the user's conversation when received as message content.
const ResetCommand = "!reset"

// State is one step of the conversation. Display introduces the step to the
// user; ProcessMessage interprets the user's reply to it.
type State interface {
	Display(ctx context.Context, msg models.Message) error
	ProcessMessage(ctx context.Context, msg models.Message) error
}

// PreProcess runs before dispatch on every inbound message, letting a survey
// script re-route based on transport-level signals (e.g. session close).
type PreProcess func(app *App, msg models.Message)

// App drives one user's conversation for the span of a single inbound
// message. It owns the outbound and answer accumulators for that call; the
// worker takes them over once processing returns. Apps are never reused
// across messages.
type App struct {
	registry *Registry
	user     *models.User
	metrics  *metrics.EngineMetrics
	pre      PreProcess

	inbound  models.Message
	outbound []models.Message
	answers  []models.Answer
}

// AppOption customizes an App.
type AppOption func(*App)

// WithMetrics wires the state-change counter.
func WithMetrics(m *metrics.EngineMetrics) AppOption {
	return func(a *App) { a.metrics = m }
}

// WithPreProcess installs a hook that runs before reset handling and state
// dispatch on every message.
func WithPreProcess(pre PreProcess) AppOption {
	return func(a *App) { a.pre = pre }
}

// NewApp binds the registry to one user's session record for one message.
func NewApp(registry *Registry, user *models.User, opts ...AppOption) *App {
	if registry == nil {
		panic("engine: registry cannot be nil")
	}
	if user == nil {
		panic("engine: user cannot be nil")
	}
	app := &App{registry: registry, user: user}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// User exposes the session record the app is mutating.
func (a *App) User() *models.User {
	return a.user
}

// StateName returns the user's current state name.
func (a *App) StateName() string {
	return a.user.State.Name
}

// SetState moves the user to the named state and records the transition.
func (a *App) SetState(name string) {
	a.metrics.ObserveStateChange(a.user.State.Name, name)
	a.user.State.Name = name
}

// ProcessMessage advances the conversation with one inbound message and
// returns the ordered replies generated along the way.
func (a *App) ProcessMessage(ctx context.Context, msg models.Message) ([]models.Message, error) {
	a.inbound = msg

	if a.pre != nil {
		a.pre(a, msg)
	}

	if msg.Content == ResetCommand {
		a.SetState(a.registry.Start())
		a.user.Answers = map[string]any{}
		a.user.SessionID = ""
	}

	state, err := a.currentState()
	if err != nil {
		return nil, err
	}

	if msg.SessionEvent == models.SessionEventNew || a.user.SessionID == "" {
		a.user.SessionID = models.FlexID(models.NewID())
		err = state.Display(ctx, msg)
	} else {
		err = state.ProcessMessage(ctx, msg)
	}
	if err != nil {
		return nil, err
	}
	return a.outbound, nil
}

// Answers returns the answer records produced while processing, in order.
func (a *App) Answers() []models.Answer {
	return a.answers
}

// SendMessage queues a reply to the inbound message. continueSession=false
// closes the transport session on the produced message.
func (a *App) SendMessage(content string, continueSession bool, opts ...models.ReplyOption) error {
	reply, err := a.inbound.Reply(content, continueSession, opts...)
	if err != nil {
		return err
	}
	a.outbound = append(a.outbound, reply)
	return nil
}

// SaveAnswer records the user's answer to the named question and queues an
// answer event for later publication.
func (a *App) SaveAnswer(question string, value any) {
	a.user.Answers[question] = value
	sessionID := a.user.SessionID
	if sessionID == "" {
		sessionID = models.FlexID(models.NewID())
	}
	a.answers = append(a.answers, models.NewAnswer(question, value, models.FlexID(a.user.Address), sessionID))
}

// currentState resolves the state object for the user's current state name,
// substituting the start state when the user has none yet.
func (a *App) currentState() (State, error) {
	if a.user.State.Name == "" {
		a.SetState(a.registry.Start())
	}
	build, err := a.registry.resolve(a.user.State.Name)
	if err != nil {
		return nil, err
	}
	return build(a), nil
}
