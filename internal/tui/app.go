// internal/tui/app.go
//
// This is the TUI (Terminal User Interface) for Stagehand.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The TUI never mutates workflow state directly: every action goes
// through the engine (run / undo / decide / skip), and the view is
// re-read from the engine afterwards.

package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/stagehand/internal/engine"
	"github.com/kingrea/stagehand/internal/logbook"
	"github.com/kingrea/stagehand/internal/logging"
	"github.com/kingrea/stagehand/internal/state"
	"github.com/kingrea/stagehand/internal/supervisor"
	"github.com/kingrea/stagehand/internal/workflow"
)

// pollInterval paces the output relay while a script runs. Each poll
// drains everything buffered, so the interval only bounds latency.
const pollInterval = 100 * time.Millisecond

var (
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	stylePending      = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	styleCompleted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleSkipped      = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	styleAwaiting     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	styleRunning      = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleError        = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleSelection    = lipgloss.NewStyle().Background(lipgloss.Color("#3A3F4B"))
	styleHelp         = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	stylePromptBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// appMode represents which "screen" the operator is on.
type appMode int

const (
	modeBrowse  appMode = iota // step list, pick something to do
	modeInputs                 // collecting declared step inputs
	modeRunning                // relaying a live script
	modeDecide                 // Yes/No prompt for a conditional step
)

type pollMsg struct {
	update supervisor.Update
	err    error
}

type runFinishedMsg struct {
	result *engine.RunResult
	err    error
}

// App is the main application model. In bubbletea, this holds ALL state.
type App struct {
	eng    *engine.Engine
	book   *logbook.Logbook
	logger *logging.Logger

	rows      []engine.StepStatus
	selection int
	mode      appMode
	status    string
	err       error

	// declared-input collection
	inputStep   workflow.Step
	inputIndex  int
	inputValues map[string]string

	// live run relay
	runningStep string
	output      viewport.Model
	outputText  strings.Builder
	line        textinput.Model

	// decision prompt
	decisionStep string
	decisionText string

	width  int
	height int
}

// NewApp builds the TUI model around an already-opened engine.
func NewApp(eng *engine.Engine, book *logbook.Logbook, logger *logging.Logger) *App {
	line := textinput.New()
	line.Placeholder = "type input for the script and press enter"
	app := &App{
		eng:    eng,
		book:   book,
		logger: logger,
		output: viewport.New(80, 16),
		line:   line,
	}
	app.refresh()
	return app
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// refresh re-reads step rows from the engine.
func (a *App) refresh() {
	a.rows = a.eng.Statuses()
	if a.selection >= len(a.rows) {
		a.selection = len(a.rows) - 1
	}
	if a.selection < 0 {
		a.selection = 0
	}
}

func (a *App) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// Update routes messages to the handler for the current mode.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.output.Width = m.Width - 4
		a.output.Height = m.Height / 2
		return a, nil
	case pollMsg:
		return a.handlePoll(m)
	case runFinishedMsg:
		return a.handleRunFinished(m)
	case tea.KeyMsg:
		switch a.mode {
		case modeBrowse:
			return a.updateBrowse(m)
		case modeInputs:
			return a.updateInputs(m)
		case modeRunning:
			return a.updateRunning(m)
		case modeDecide:
			return a.updateDecide(m)
		}
	}
	return a, nil
}

func (a *App) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "up", "k":
		if a.selection > 0 {
			a.selection--
		}
	case "down", "j":
		if a.selection < len(a.rows)-1 {
			a.selection++
		}
	case "enter":
		return a.activateSelection()
	case "u":
		result, err := a.eng.Undo()
		if err != nil {
			a.err = err
		} else {
			a.err = nil
			a.status = fmt.Sprintf("reversed %s (restored %s)", result.Step, result.Restored)
		}
		a.refresh()
	case "s":
		if len(a.rows) > 0 {
			if err := a.eng.SkipTo(a.rows[a.selection].ID); err != nil {
				a.err = err
			} else {
				a.err = nil
				a.status = fmt.Sprintf("skipped ahead to %s", a.rows[a.selection].ID)
			}
			a.refresh()
		}
	}
	return a, nil
}

// activateSelection decides what "enter" means for the selected row:
// answer its decision, or run it.
func (a *App) activateSelection() (tea.Model, tea.Cmd) {
	if len(a.rows) == 0 {
		return a, nil
	}
	row := a.rows[a.selection]
	if row.Status == state.StatusAwaitingDecision {
		a.mode = modeDecide
		a.decisionStep = row.ID
		a.decisionText = row.Prompt
		return a, nil
	}
	if !row.Runnable {
		a.status = fmt.Sprintf("%s is %s and cannot run now", row.ID, row.Status)
		return a, nil
	}
	step, ok := a.eng.Definition().StepByID(row.ID)
	if !ok {
		return a, nil
	}
	if len(step.Inputs) > 0 {
		a.mode = modeInputs
		a.inputStep = step
		a.inputIndex = 0
		a.inputValues = map[string]string{}
		a.line.Placeholder = step.Inputs[0].Label
		a.line.SetValue("")
		a.line.Focus()
		return a, nil
	}
	return a.startRun(step.ID, nil)
}

func (a *App) updateInputs(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = modeBrowse
		a.line.Blur()
		return a, nil
	case "enter":
		input := a.inputStep.Inputs[a.inputIndex]
		a.inputValues[input.Flag] = strings.TrimSpace(a.line.Value())
		a.inputIndex++
		if a.inputIndex < len(a.inputStep.Inputs) {
			a.line.Placeholder = a.inputStep.Inputs[a.inputIndex].Label
			a.line.SetValue("")
			return a, nil
		}
		a.line.Blur()
		return a.startRun(a.inputStep.ID, a.inputValues)
	}
	var cmd tea.Cmd
	a.line, cmd = a.line.Update(msg)
	return a, cmd
}

func (a *App) startRun(id string, inputs map[string]string) (tea.Model, tea.Cmd) {
	if err := a.eng.StartStep(id, inputs); err != nil {
		a.err = err
		a.mode = modeBrowse
		a.refresh()
		return a, nil
	}
	a.err = nil
	a.mode = modeRunning
	a.runningStep = id
	a.outputText.Reset()
	a.output.SetContent("")
	a.line.Placeholder = "type input for the script and press enter"
	a.line.SetValue("")
	a.line.Focus()
	a.status = fmt.Sprintf("running %s", id)
	a.logf("tui: started %s", id)
	a.refresh()
	return a, a.schedulePoll()
}

func (a *App) schedulePoll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		update, err := a.eng.Poll()
		return pollMsg{update: update, err: err}
	})
}

func (a *App) handlePoll(msg pollMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.err = msg.err
		a.mode = modeBrowse
		a.refresh()
		return a, nil
	}
	if msg.update.Output != "" {
		a.outputText.WriteString(msg.update.Output)
		a.output.SetContent(a.outputText.String())
		a.output.GotoBottom()
	}
	if msg.update.ExitCode == nil {
		return a, a.schedulePoll()
	}
	// The script exited: hand the exit to the engine for verification.
	return a, func() tea.Msg {
		result, err := a.eng.FinishStep(context.Background())
		return runFinishedMsg{result: result, err: err}
	}
}

func (a *App) handleRunFinished(msg runFinishedMsg) (tea.Model, tea.Cmd) {
	a.mode = modeBrowse
	a.line.Blur()
	a.refresh()
	if msg.err != nil {
		a.err = msg.err
		return a, nil
	}
	a.err = nil
	a.status = describeResult(msg.result)
	return a, nil
}

// describeResult keeps the three rollback shapes visibly distinct.
func describeResult(result *engine.RunResult) string {
	if result.Verified {
		return fmt.Sprintf("%s completed (run %d)", result.Step, result.Run)
	}
	reason := fmt.Sprintf("exit %d", result.ExitCode)
	if result.ExitCode == 0 && !result.MarkerFound {
		reason = "no success marker"
	}
	switch result.Rollback {
	case engine.RollbackOK:
		return fmt.Sprintf("%s failed (%s): rolled back successfully", result.Step, reason)
	case engine.RollbackSecondary:
		return fmt.Sprintf("%s failed (%s): rolled back with a secondary failure: %v", result.Step, reason, result.RollbackErr)
	default:
		return fmt.Sprintf("%s failed (%s): COULD NOT ROLL BACK: %v", result.Step, reason, result.RollbackErr)
	}
}

func (a *App) updateRunning(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if err := a.eng.Terminate(); err != nil {
			a.err = err
		}
		return a, nil
	case "enter":
		if err := a.eng.SendInput(a.line.Value()); err != nil {
			a.err = err
		}
		a.line.SetValue("")
		return a, nil
	case "pgup":
		a.output.LineUp(5)
		return a, nil
	case "pgdown":
		a.output.LineDown(5)
		return a, nil
	}
	var cmd tea.Cmd
	a.line, cmd = a.line.Update(msg)
	return a, cmd
}

func (a *App) updateDecide(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		return a.resolveDecision(true)
	case "n", "N":
		return a.resolveDecision(false)
	case "esc":
		a.mode = modeBrowse
	}
	return a, nil
}

func (a *App) resolveDecision(yes bool) (tea.Model, tea.Cmd) {
	if err := a.eng.Decide(a.decisionStep, yes); err != nil {
		a.err = err
	} else {
		a.err = nil
		answer := "no"
		if yes {
			answer = "yes"
		}
		a.status = fmt.Sprintf("decision for %s: %s", a.decisionStep, answer)
	}
	a.mode = modeBrowse
	a.refresh()
	return a, nil
}

// View renders the current screen.
func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("stagehand"))
	b.WriteString("\n\n")
	for i, row := range a.rows {
		b.WriteString(a.renderRow(i, row))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	switch a.mode {
	case modeRunning:
		b.WriteString(styleRunning.Render(fmt.Sprintf("── %s ──", a.runningStep)))
		b.WriteString("\n")
		b.WriteString(a.output.View())
		b.WriteString("\n")
		b.WriteString(a.line.View())
		b.WriteString("\n")
		b.WriteString(styleHelp.Render("enter send input · ctrl+c terminate"))
	case modeDecide:
		prompt := a.decisionText
		if prompt == "" {
			prompt = fmt.Sprintf("Proceed with %s?", a.decisionStep)
		}
		b.WriteString(stylePromptBorder.Render(prompt + "  [y/n]"))
	case modeInputs:
		input := a.inputStep.Inputs[a.inputIndex]
		b.WriteString(fmt.Sprintf("%s (%s)\n", input.Label, input.Flag))
		b.WriteString(a.line.View())
		b.WriteString("\n")
		b.WriteString(styleHelp.Render("enter confirm · esc cancel"))
	default:
		b.WriteString(styleHelp.Render("enter run/answer · u undo · s skip to · q quit"))
		if a.book != nil {
			lines, _ := a.book.Tail(3)
			if len(lines) > 0 {
				b.WriteString("\n\n")
				b.WriteString(styleHelp.Render(strings.Join(lines, "\n")))
			}
		}
	}
	if a.status != "" {
		b.WriteString("\n\n")
		b.WriteString(styleHelp.Render(a.status))
	}
	if a.err != nil {
		b.WriteString("\n")
		b.WriteString(styleError.Render(a.err.Error()))
	}
	return b.String()
}

func (a *App) renderRow(index int, row engine.StepStatus) string {
	label := statusLabel(row)
	line := fmt.Sprintf("  %-24s %s", row.Name, label)
	if a.mode == modeRunning && row.ID == a.runningStep {
		line = fmt.Sprintf("  %-24s %s", row.Name, styleRunning.Render("running"))
	}
	if index == a.selection && a.mode == modeBrowse {
		return styleSelection.Render("▸" + line[1:])
	}
	return line
}

// statusLabel maps a step row to its rendered status text.
func statusLabel(row engine.StepStatus) string {
	switch row.Status {
	case state.StatusCompleted:
		text := "completed"
		if row.Runs > 1 {
			text = fmt.Sprintf("completed ×%d", row.Runs)
		}
		return styleCompleted.Render(text)
	case state.StatusSkipped:
		return styleSkipped.Render("skipped")
	case state.StatusSkippedConditional:
		return styleSkipped.Render("skipped (decision)")
	case state.StatusAwaitingDecision:
		return styleAwaiting.Render("awaiting decision")
	default:
		if row.Runnable {
			return stylePending.Render("pending ◂ next")
		}
		return stylePending.Render("pending")
	}
}
