package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/ugo-pro/pkg/follower"
	"github.com/gwillem/ugo-pro/pkg/teleop"
)

type TeleoperateCommand struct {
	Hz     int     `long:"hz" default:"60" description:"Control loop frequency"`
	Gain   float64 `long:"gain" default:"1.0" description:"Leader-to-follower scaling factor"`
	Mirror bool    `long:"mirror" description:"Swap arms for face-to-face operation"`
	Role   string  `long:"role" default:"dual" choice:"dual" choice:"left" choice:"right" description:"Which follower arm to drive"`
	Config string  `long:"config" description:"Config file path (default ugo.json)"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// One distinct color per joint, cycled between the two arms.
var jointPalette = []string{"196", "208", "226", "46", "51", "201", "99"}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	holdingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func jointColor(i int) string {
	return jointPalette[i%len(jointPalette)]
}

type teleopModel struct {
	ctrl        *teleop.Controller
	jointIDs    []int // fixed legend/chart order
	chart       *streamlinechart.Model
	width       int
	height      int
	logs        []string
	supervisor  follower.SupervisorState
	quitting    bool
	lastTargets map[int]float64 // previous targets, to freeze the chart when idle
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *teleopModel) hasMovement(targets map[int]float64) bool {
	if m.lastTargets == nil {
		return true
	}
	for id, v := range targets {
		if last, ok := m.lastTargets[id]; !ok || v != last {
			return true
		}
	}
	return false
}

type stateMsg teleop.State
type logMsg string

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialTeleopModel(ctrl *teleop.Controller, jointIDs []int) teleopModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-180, 180),
	)

	for i, id := range jointIDs {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColor(i)))
		chart.SetDataSetStyles(jointName(id), runes.ThinLineStyle, style)
	}

	return teleopModel{
		ctrl:     ctrl,
		jointIDs: jointIDs,
		chart:    &chart,
	}
}

func jointName(id int) string {
	return fmt.Sprintf("joint %d", id)
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		state := teleop.State(msg)
		m.supervisor = state.Supervisor
		if state.TargetsDeg != nil && m.hasMovement(state.TargetsDeg) {
			for id, v := range state.TargetsDeg {
				m.chart.PushDataSet(jointName(id), v)
			}
			m.chart.DrawAll()
			m.lastTargets = state.TargetsDeg
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("ugo Teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.supervisor == follower.StateStreaming {
		sb.WriteString(statusStyle.Render("  [streaming]"))
	} else {
		sb.WriteString(holdingStyle.Render("  [" + m.supervisor.String() + "]"))
	}
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m teleopModel) renderLegend() string {
	var items []string
	for i, id := range m.jointIDs {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColor(i))).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+jointName(id))
	}
	return strings.Join(items, "  ")
}

func (c *TeleoperateCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'ugo setup' first.")
		os.Exit(1)
	}

	role := teleop.Role(c.Role)
	if (role != teleop.RoleRight && cfg.Leader.Left.Port == "") ||
		(role != teleop.RoleLeft && cfg.Leader.Right.Port == "") {
		fmt.Fprintln(os.Stderr, "Leader arms not configured. Run 'ugo setup' first.")
		os.Exit(1)
	}

	fol, err := follower.NewFollower(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create follower: %v", err)
	}

	ctrl, err := teleop.NewController(teleop.Config{
		LeftPort:         cfg.Leader.Left.Port,
		LeftCalibration:  cfg.Leader.Left.Calibration,
		RightPort:        cfg.Leader.Right.Port,
		RightCalibration: cfg.Leader.Right.Calibration,
		Hz:               c.Hz,
		Gain:             c.Gain,
		Mirror:           c.Mirror,
		Role:             role,
	}, fol, cfg)
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := ctrl.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Controller error: %v", err)
		}
	}()

	jointIDs := chartJoints(cfg, role)
	p := tea.NewProgram(initialTeleopModel(ctrl, jointIDs), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	return nil
}

func loadConfig(path string) (*follower.Config, error) {
	if path != "" {
		return follower.LoadFrom(path)
	}
	return follower.Load()
}

// chartJoints returns the driven joints in a stable order for the chart
// legend.
func chartJoints(cfg *follower.Config, role teleop.Role) []int {
	var ids []int
	if role != teleop.RoleRight {
		ids = append(ids, cfg.LeftArmIDs...)
	}
	if role != teleop.RoleLeft {
		ids = append(ids, cfg.RightArmIDs...)
	}
	sort.Ints(ids)
	return ids
}
