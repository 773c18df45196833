// Package cessation contains the smoking-cessation survey script. It is a
// consumer of the conversation engine: all flow logic lives in the state
// registry it builds, none in the engine itself.
package cessation

import (
	"context"
	"strings"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/engine"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/observability/metrics"
)

// StartState is where new and reset conversations begin.
const StartState = "state_age"

const stateTimeout = "state_timeout"

var eligibleAges = map[string]struct{}{
	"25_35": {},
	"35_45": {},
	"45_55": {},
	"55+":   {},
}

// Registry builds the validated state registry for the survey.
func Registry() (*engine.Registry, error) {
	return engine.NewRegistry(StartState, map[string]engine.Constructor{
		"state_age":               stateAge,
		"state_result_ineligible": stateResultIneligible,
		"state_end":               stateEnd,
		stateTimeout:              stateTimeoutEnd,
	})
}

// NewApp binds the survey to a user's session for one inbound message.
// Transport session-close events route the user to the timeout notice before
// normal dispatch.
func NewApp(registry *engine.Registry, user *models.User, m *metrics.EngineMetrics) *engine.App {
	return engine.NewApp(registry, user,
		engine.WithMetrics(m),
		engine.WithPreProcess(func(app *engine.App, msg models.Message) {
			if msg.SessionEvent == models.SessionEventClose {
				app.SetState(stateTimeout)
			}
		}),
	)
}

func stateAge(app *engine.App) engine.State {
	return engine.NewChoiceState(app, engine.ChoiceConfig{
		Question: strings.Join([]string{
			"Let's get started!",
			"We have 5 short questions to find out more about you and your " +
				"tobacco use habits. After that we'll help you choose your " +
				"quit date 🚬 ",
			"",
			"⬛⬜⬜⬜⬜",
			"",
			"How old are you?",
			"",
		}, "\n"),
		Error: strings.Join([]string{
			"⚠️ This service works best when you use the numbered options available",
			"",
			"Please confirm how old you are.",
		}, "\n"),
		Choices: []engine.Choice{
			{Value: "<25", Label: "Under 25"},
			{Value: "25_35", Label: "25-35"},
			{Value: "35_45", Label: "35-45"},
			{Value: "45_55", Label: "45-55"},
			{Value: "55+", Label: "55+"},
			{Value: "skip", Label: "Skip this question"},
		},
		NextFunc: func(_ context.Context, choice engine.Choice) (string, error) {
			if _, eligible := eligibleAges[choice.Value]; !eligible {
				return "state_result_ineligible", nil
			}
			return "state_end", nil
		},
	})
}

func stateResultIneligible(app *engine.App) engine.State {
	return engine.NewEndState(app, strings.Join([]string{
		"Based on your age you are currently NOT able to participate in " +
			"the QUIT challenge. ",
		"",
		"___",
		"",
		"Reply :",
		"*32* to return to our tobacco content",
		"📌  *0* for the WHO main *MENU*,",
	}, "\n"), engine.EndNext(StartState))
}

func stateEnd(app *engine.App) engine.State {
	return engine.NewEndState(app, strings.Join([]string{
		"That's it for now - well done!",
		"",
		"The countdown begins! 🎉 We are here to help you prepare & " +
			"follow through. Get ready!",
		"",
		"Over the next few days, you will receive tips to help you prepare " +
			"for your quit date.",
		"",
		"Additional support is available to you 24/7. Why not check out " +
			"our list of 100 reasons to quit tobacco:  " +
			"https://who.medium.com/more-than-100-reasons-to-quit-tobacco-e2c4060e64e8 ",
		"",
		"Reply with a word in bold (or emoji) at any time to get more information:",
		"",
		"*Motivation* 💪",
		"*Cravings* 👿",
		"*Triggers* 🗯️",
		"",
		"___",
		"",
		"Reply :",
		"*32* to return to our tobacco content",
		"📌  *0* for the WHO main *MENU*,",
	}, "\n"), engine.EndNext(StartState))
}

func stateTimeoutEnd(app *engine.App) engine.State {
	return engine.NewEndState(app, strings.Join([]string{
		"We're sorry, but you've taken too long to reply and your session has expired.",
		"If you would like to continue, you can at anytime by typing the word *QUIT*.",
		"",
		"Reply :",
		"*32* to return to our tobacco content" +
			"📌  *0* for the WHO main *MENU*",
	}, "\n"))
}
