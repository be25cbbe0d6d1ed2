package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/bladeloader/pkg/controller"
	"github.com/gwillem/bladeloader/pkg/logging"
	"github.com/gwillem/bladeloader/pkg/workflow"
)

type CycleCommand struct {
	Step bool `long:"step" description:"Wait for a key press before every state"`
}

const (
	headerHeight = 4 // title, state, progress, blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	tickInterval = 100 * time.Millisecond
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	zStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
	safeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

type cycleModel struct {
	ctx      context.Context
	ctrl     *controller.Controller
	stream   *workflow.Stream
	lines    *logging.Lines
	chart    *streamlinechart.Model
	step     bool
	width    int
	height   int
	logs     []string
	running  bool
	lastErr  error
	quitting bool
}

// Messages from the controller
type eventMsg workflow.Event
type logMsg string
type slogMsg string
type tickMsg time.Time
type doneMsg struct{ err error }

func waitForEvent(s *workflow.Stream) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-s.Events())
	}
}

func waitForLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ch)
	}
}

func waitForSlog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		return slogMsg(<-ch)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *cycleModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// run executes the whole cycle, or one state in step mode.
func (m cycleModel) run() tea.Cmd {
	ctrl, ctx, step := m.ctrl, m.ctx, m.step
	return func() tea.Msg {
		if !step {
			return doneMsg{ctrl.RunCycle(ctx)}
		}
		if ctrl.Engine().State() == workflow.Idle {
			if err := ctrl.StartCycle(); err != nil {
				return doneMsg{err}
			}
		}
		return doneMsg{ctrl.StepCycle(ctx)}
	}
}

func (m cycleModel) recoverArm() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		return doneMsg{ctrl.Recover(ctx)}
	}
}

func (m *cycleModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 16 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-footerHeight-borderSize-2, 8)
	return width, height
}

func newCycleModel(ctx context.Context, s *session, stream *workflow.Stream, lines *logging.Lines, step bool) cycleModel {
	chart := streamlinechart.New(80, 16,
		streamlinechart.WithYRange(s.cfg.Workspace.ZMin, s.cfg.Workspace.ZMax),
	)
	chart.SetDataSetStyles("z", runes.ThinLineStyle, zStyle)
	chart.SetDataSetStyles("safe", runes.ThinLineStyle, safeStyle)

	return cycleModel{
		ctx:     ctx,
		ctrl:    s.ctrl,
		stream:  stream,
		lines:   lines,
		chart:   &chart,
		step:    step,
		running: true, // Init starts the first run
	}
}

func (m cycleModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.stream),
		waitForLog(m.ctrl.Logs()),
		waitForSlog(m.lines.C()),
		tick(),
		m.run(),
	)
}

func (m cycleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if !m.running {
				return m, tea.Quit
			}
			m.ctrl.StopCycle()
		case "s":
			m.ctrl.StopCycle()
		case "x", " ":
			if err := m.ctrl.QuickStop(m.ctx); err != nil {
				m.addLog(err.Error())
			}
		case "r":
			if !m.running && m.ctrl.Engine().State() == workflow.Error {
				m.running = true
				return m, m.recoverArm()
			}
		case "enter", "c":
			if !m.running {
				m.running = true
				return m, m.run()
			}
		}

	case eventMsg:
		if msg.Kind == workflow.EventComplete {
			m.addLog(successStyle.Render(fmt.Sprintf("cycle complete: %d hooks in %s",
				msg.Summary.Hooks, msg.Summary.Duration.Round(time.Second))))
		}
		return m, waitForEvent(m.stream)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl.Logs())

	case slogMsg:
		if m.step || strings.Contains(string(msg), "level=WARN") || strings.Contains(string(msg), "level=ERROR") {
			m.addLog(statusStyle.Render(string(msg)))
		}
		return m, waitForSlog(m.lines.C())

	case tickMsg:
		st := m.ctrl.Status()
		if st.Arm.Known {
			m.chart.PushDataSet("z", st.Arm.Position.Z)
			m.chart.PushDataSet("safe", st.Arm.SafeZ)
			m.chart.DrawAll()
		}
		return m, tick()

	case doneMsg:
		m.running = false
		m.lastErr = msg.err
		if m.quitting {
			return m, tea.Quit
		}
		if msg.err == nil && m.step && m.ctrl.Engine().State() != workflow.Idle {
			m.addLog("press enter for the next state")
		}
	}

	return m, nil
}

func (m cycleModel) View() string {
	if m.quitting && !m.running {
		return "Cycle stopped.\n"
	}

	var sb strings.Builder
	st := m.ctrl.Status()

	sb.WriteString(titleStyle.Render("bladeloader cycle"))
	if st.CycleID != "" {
		sb.WriteString(statusStyle.Render("  " + st.CycleID))
	}
	sb.WriteString("\n")

	state := st.Workflow.String()
	if st.Workflow == workflow.Error {
		state = errorStyle.Render(state)
	}
	fmt.Fprintf(&sb, "State: %s   Position: %s   Suction: %s   Carrying: %v\n",
		state, st.Arm.Position, st.Arm.Suction, st.Arm.CarryingBlade)
	fmt.Fprintf(&sb, "Hooks: %d/%d", st.HooksDone, st.HooksAll)
	if m.lastErr != nil && !errors.Is(m.lastErr, workflow.ErrStopped) {
		sb.WriteString("   " + errorStyle.Render(m.lastErr.Error()))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(zStyle.Render("━━") + " z   " + safeStyle.Render("━━") + " safe z\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 40))

	logLines := statusStyle.Render("q quit  s stop  x/space quick-stop  r recover  c continue")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (c *CycleCommand) Execute(args []string) error {
	stream := workflow.NewStream(32)
	lines := logging.NewLines(32)
	so := sessionOptions{logOutput: lines, observer: stream}

	return runSession(so, func(ctx context.Context, s *session) error {
		if err := syncIfHomed(ctx, s); err != nil {
			return err
		}
		p := tea.NewProgram(newCycleModel(ctx, s, stream, lines, c.Step), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("run tui: %w", err)
		}
		return nil
	})
}
