package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/ugo-pro/pkg/command"
	"github.com/gwillem/ugo-pro/pkg/telemetry"
)

// MonitorCommand shows live telemetry without sending any motion commands.
// Useful for checking the controller link before teleoperating.
type MonitorCommand struct {
	Listen     string `long:"listen" default:"0.0.0.0:8886" description:"Local host:port for inbound telemetry"`
	Controller string `long:"controller" description:"Controller host:port, poked once so it starts streaming"`
}

type monitorModel struct {
	store    *telemetry.Store
	quitting bool
}

type monitorTickMsg time.Time

func monitorTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTick()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case monitorTickMsg:
		return m, monitorTick()
	}
	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("ugo Monitor"))
	sb.WriteString("\n\n")

	frame, ok := m.store.Snapshot()
	if !ok {
		sb.WriteString(statusStyle.Render("Waiting for telemetry..."))
		sb.WriteString("\n\n")
		sb.WriteString(statusStyle.Render("Press 'q' to quit"))
		return sb.String()
	}

	age := m.store.Age()
	ageStr := fmt.Sprintf("%.0f ms", float64(age)/float64(time.Millisecond))
	if age > 200*time.Millisecond {
		sb.WriteString(holdingStyle.Render("STALE " + ageStr))
	} else {
		sb.WriteString(statusStyle.Render("age " + ageStr))
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  cycle %.0f ms (read %.0f, write %.0f)  health %s",
		frame.CycleIntervalMS, frame.ReadLatencyMS, frame.WriteLatencyMS, frame.Health)))
	sb.WriteString("\n\n")

	rows := make([][]string, 0, len(frame.JointIDs))
	for _, id := range frame.JointIDs {
		rows = append(rows, []string{
			fmt.Sprintf("%d", id),
			formatAngle(frame.Angles[id]),
			formatEcho(frame.TargetsEcho, id),
			formatRaw(frame.Velocities, id),
			formatRaw(frame.Currents, id),
		})
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusStyle).
		Headers("Joint", "Angle", "Target", "Vel", "Cur").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(statusStyle.Render("Press 'q' to quit"))
	return sb.String()
}

func formatAngle(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%+.1f°", v)
}

func formatEcho(m map[int]float64, id int) string {
	if m == nil {
		return "-"
	}
	v, ok := m[id]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%+.1f°", v)
}

func formatRaw(m map[int]int, id int) string {
	if m == nil {
		return "-"
	}
	v, ok := m[id]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%d", v)
}

func (c *MonitorCommand) Execute(args []string) error {
	store := telemetry.NewStore()
	recv := telemetry.NewReceiver(telemetry.ReceiverConfig{Addr: c.Listen}, telemetry.NewParser(), store)
	if err := recv.Listen(); err != nil {
		return err
	}
	defer recv.Close()

	if c.Controller != "" {
		tx := command.NewTransmitter(command.TransmitterConfig{RemoteAddr: c.Controller}, command.NewEncoder(nil))
		if err := tx.Connect(); err != nil {
			return err
		}
		if err := tx.SendEmpty(); err != nil {
			log.Printf("controller wake packet failed: %v", err)
		}
		tx.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := recv.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("receiver stopped: %v", err)
		}
	}()

	p := tea.NewProgram(monitorModel{store: store}, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
