package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/ugo-pro/pkg/follower"
	"github.com/gwillem/ugo-pro/pkg/teleop"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	Controller string `long:"controller" description:"Controller host:port (skips the prompt)"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("ugo Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━"))
	fmt.Println()

	config := follower.DefaultConfig()
	if err := askControllerAddr(config, c.Controller); err != nil {
		return err
	}

	// Step 1: scan for the leader arms
	leftPort, rightPort := scanForLeaders()
	config.Leader.Left.Port = leftPort
	config.Leader.Right.Port = rightPort

	// Step 2: calibrate each leader
	if leftPort != "" {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Calibrating Left Leader ━━━"))
		fmt.Println()
		config.Leader.Left.Calibration = calibrateLeader(leftPort, "left")
	}
	if rightPort != "" {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Calibrating Right Leader ━━━"))
		fmt.Println()
		config.Leader.Right.Calibration = calibrateLeader(rightPort, "right")
	}

	if err := config.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", follower.DefaultConfigFile)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("ugo teleoperate"))

	return nil
}

func askControllerAddr(config *follower.Config, preset string) error {
	if preset != "" {
		config.ControllerAddr = preset
		return nil
	}
	addr := config.ControllerAddr
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Controller address").
				Description("The robot control box's command host:port").
				Value(&addr),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	config.ControllerAddr = addr
	return nil
}

// scanForLeaders finds the SO-101 leader arms and asks the operator which
// side each one is.
func scanForLeaders() (leftPort, rightPort string) {
	fmt.Println("Scanning for leader arms...")
	fmt.Println()

	arms := findArms()
	if len(arms) == 0 {
		fmt.Println("No SO-101 leader arms found.")
		fmt.Println("Make sure your arms are connected and powered on.")
		os.Exit(1)
	}

	fmt.Printf("Found %d arm(s). Let's identify them...\n\n", len(arms))

	for _, arm := range arms {
		side := identifyArmWithWiggle(arm, leftPort == "", rightPort == "")
		switch side {
		case "left":
			leftPort = arm.port
		case "right":
			rightPort = arm.port
		}
		if leftPort != "" && rightPort != "" {
			break
		}
	}

	fmt.Println()
	if leftPort == "" && rightPort == "" {
		fmt.Println("No leader arm identified.")
		os.Exit(1)
	}

	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Arms identified:"))
	if leftPort != "" {
		fmt.Printf("  Left:  %s\n", leftPort)
	}
	if rightPort != "" {
		fmt.Printf("  Right: %s\n", rightPort)
	}
	return leftPort, rightPort
}

// calibrateLeader records the arm's range of motion and writes the
// calibration file, returning its path.
func calibrateLeader(port, side string) string {
	fmt.Printf("Calibrating %s leader on %s\n", side, port)
	fmt.Println()

	bus, servos, err := connectToArm(port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to arm: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	servoMap := make(map[int]*feetech.Servo)
	for _, s := range servos {
		servoMap[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}

	// Torque off so the operator can move the arm freely.
	ctx := context.Background()
	for _, servo := range servoMap {
		servo.Disable(ctx)
	}

	motors := teleop.LeaderMotors()

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("Explore the full range of motion for all joints.")
	fmt.Println()

	curPositions := make(map[teleop.MotorName]int)
	minPositions := make(map[teleop.MotorName]int)
	maxPositions := make(map[teleop.MotorName]int)
	for i, motorName := range motors {
		servoID := i + 1
		pos, _ := servoMap[servoID].Position(ctx)
		curPositions[motorName] = pos
		minPositions[motorName] = pos
		maxPositions[motorName] = pos
	}

	model := newCalibrationModel(motors, servoMap, curPositions, minPositions, maxPositions)
	p := tea.NewProgram(model)
	finalModel, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running calibration: %v\n", err)
		os.Exit(1)
	}
	cm := finalModel.(calibrationModel)

	calibration := make(teleop.Calibration)
	for i, motorName := range motors {
		calibration[motorName] = teleop.MotorCalibration{
			ID:       i + 1,
			RangeMin: cm.minPositions[motorName],
			RangeMax: cm.maxPositions[motorName],
		}
	}

	path := fmt.Sprintf("leader_%s.json", side)
	if err := calibration.Save(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving calibration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("%s leader calibrated, saved to %s.\n", strings.ToUpper(side[:1])+side[1:], path)
	return path
}

type armInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func findArms() []armInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var arms []armInfo

	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)

		bus, err := feetech.NewBus(feetech.BusConfig{
			Port:     port,
			BaudRate: 1_000_000,
			Protocol: feetech.ProtocolSTS,
			Timeout:  100 * time.Millisecond,
		})
		if err != nil {
			cancel()
			continue
		}

		servos, err := bus.Scan(ctx, 1, 6)
		cancel()

		if err != nil {
			bus.Close()
			continue
		}

		if isSOArm(servos) {
			fmt.Printf("  Found SO-101 arm on %s\n", port)
			arms = append(arms, armInfo{
				port:   port,
				servos: servos,
				bus:    bus,
			})
		} else {
			bus.Close()
		}
	}

	return arms
}

// isSOArm checks for the SO-101 configuration: six servos with IDs 1-6.
func isSOArm(servos []feetech.FoundServo) bool {
	if len(servos) != 6 {
		return false
	}

	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}

	for i := 1; i <= 6; i++ {
		if !ids[i] {
			return false
		}
	}

	return true
}

func identifyArmWithWiggle(arm armInfo, needLeft, needRight bool) string {
	defer arm.bus.Close()

	ctx := context.Background()

	// Wiggle the shoulder_pan servo so the operator can tell the arms apart.
	var servo *feetech.Servo
	for _, s := range arm.servos {
		if s.ID == 1 {
			servo = feetech.NewServo(arm.bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return ""
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return ""
	}
	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return ""
	}

	fmt.Printf("\n  Wiggling arm on %s...\n", arm.port)

	wiggleAmount := 30
	moveTimeMs := 500
	servo.SetPositionWithTime(ctx, originalPos+wiggleAmount, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	servo.SetPositionWithTime(ctx, originalPos-wiggleAmount, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	servo.SetPositionWithTime(ctx, originalPos, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)

	servo.Disable(ctx)

	var options []huh.Option[string]
	if needLeft {
		options = append(options, huh.NewOption("Left leader", "left"))
	}
	if needRight {
		options = append(options, huh.NewOption("Right leader", "right"))
	}
	options = append(options, huh.NewOption("Skip this arm", "skip"))

	var side string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Which arm is on %s?", arm.port)).
				Description("The arm that just wiggled").
				Options(options...).
				Value(&side),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	if side == "skip" {
		return ""
	}
	return side
}

func connectToArm(port string) (*feetech.Bus, []feetech.FoundServo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}

	servos, err := bus.Scan(ctx, 1, 6)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}

	if !isSOArm(servos) {
		bus.Close()
		return nil, nil, fmt.Errorf("not an SO-101 arm (expected 6 servos with IDs 1-6)")
	}

	return bus, servos, nil
}

// Calibration TUI model
type calibrationModel struct {
	motors       []teleop.MotorName
	servoMap     map[int]*feetech.Servo
	curPositions map[teleop.MotorName]int
	minPositions map[teleop.MotorName]int
	maxPositions map[teleop.MotorName]int
	quitting     bool
}

type tickMsg time.Time

func newCalibrationModel(
	motors []teleop.MotorName,
	servoMap map[int]*feetech.Servo,
	curPositions, minPositions, maxPositions map[teleop.MotorName]int,
) calibrationModel {
	return calibrationModel{
		motors:       motors,
		servoMap:     servoMap,
		curPositions: curPositions,
		minPositions: minPositions,
		maxPositions: maxPositions,
	}
}

func (m calibrationModel) Init() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		for i, motorName := range m.motors {
			servoID := i + 1
			pos, err := m.servoMap[servoID].Position(ctx)
			if err != nil {
				continue
			}
			m.curPositions[motorName] = pos
			if pos < m.minPositions[motorName] {
				m.minPositions[motorName] = pos
			}
			if pos > m.maxPositions[motorName] {
				m.maxPositions[motorName] = pos
			}
		}
		return m, tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableMotorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.motors))
	ranges := make([]int, 0, len(m.motors))
	for _, motorName := range m.motors {
		rangeSize := m.maxPositions[motorName] - m.minPositions[motorName]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			string(motorName),
			fmt.Sprintf("%d", m.curPositions[motorName]),
			fmt.Sprintf("%d", m.minPositions[motorName]),
			fmt.Sprintf("%d", m.maxPositions[motorName]),
			fmt.Sprintf("%d", rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableMotorStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > 500 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done"))

	return sb.String()
}
