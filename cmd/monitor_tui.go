// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/pidlink/pkg/client"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/varstore"
)

const (
	historyLength = 60
	maxEventLog   = 100
	opTimeout     = 2 * time.Second
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Messages
type monitorTickMsg time.Time

type samplesMsg []pidproto.Sample

type connectionLostMsg struct{ err error }

type variablesMsg struct {
	values varstore.Values
	err    error
}

type streamStateMsg struct {
	running bool
	count   uint64
	err     error
}

type opResultMsg struct {
	what    string
	err     error
	refresh bool
}

type keepaliveMsg struct {
	rtt time.Duration
	err error
}

// variableItem is one row of the variable panel
type variableItem struct {
	id    pidproto.ID
	value string
}

func (v variableItem) Title() string       { return v.id.Name() }
func (v variableItem) Description() string { return v.value }
func (v variableItem) FilterValue() string { return v.id.Name() }

type monitorModel struct {
	client   *client.Client
	connInfo string

	varList   list.Model
	editInput textinput.Model
	editing   bool
	editID    pidproto.ID

	values    varstore.Values
	haveVars  bool
	streaming bool

	lastSample pidproto.Sample
	haveSample bool
	pvHistory  []float32
	outHistory []float32

	stats       pidproto.Statistics
	sampleCount uint64
	rtt         time.Duration
	lost        bool

	eventLog []eventLogEntry
	width    int
	height   int
}

func initialMonitorModel(c *client.Client, connInfo string) monitorModel {
	delegate := list.NewDefaultDelegate()
	l := list.New(variableItems(varstore.Values{}, false), delegate, 30, 20)
	l.Title = "Variables"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	ti := textinput.New()
	ti.Placeholder = "value (limits: lo hi)"
	ti.CharLimit = 40
	ti.Width = 30

	return monitorModel{
		client:    c,
		connInfo:  connInfo,
		varList:   l,
		editInput: ti,
		width:     100,
		height:    30,
	}
}

func variableItems(v varstore.Values, known bool) []list.Item {
	ids := slices.Concat(pidproto.ScalarVariables, pidproto.PairVariables)
	items := make([]list.Item, 0, len(ids))
	for _, id := range ids {
		value := "?"
		if known {
			value = formatVariable(v, id)
		}
		items = append(items, variableItem{id: id, value: value})
	}
	return items
}

func formatVariable(v varstore.Values, id pidproto.ID) string {
	switch id {
	case pidproto.VarSetpoint:
		return fmt.Sprintf("%g", v.Setpoint)
	case pidproto.VarKP:
		return fmt.Sprintf("%g", v.KP)
	case pidproto.VarKI:
		return fmt.Sprintf("%g", v.KI)
	case pidproto.VarKD:
		return fmt.Sprintf("%g", v.KD)
	case pidproto.VarErrI:
		return fmt.Sprintf("%g", v.ErrI)
	case pidproto.VarErrPLimits:
		return fmt.Sprintf("[%g, %g]", v.ErrPLimits.Lo, v.ErrPLimits.Hi)
	case pidproto.VarErrILimits:
		return fmt.Sprintf("[%g, %g]", v.ErrILimits.Lo, v.ErrILimits.Hi)
	}
	return "?"
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(tickMonitor(), readVariables(m.client))
}

func tickMonitor() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func readVariables(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 4*opTimeout)
		defer cancel()
		v, err := c.ReadAll(ctx)
		return variablesMsg{values: v, err: err}
	}
}

func toggleStream(c *client.Client, running bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if running {
			n, err := c.StopStream(ctx)
			return streamStateMsg{running: err != nil, count: n, err: err}
		}
		err := c.StartStream(ctx)
		return streamStateMsg{running: err == nil, err: err}
	}
}

func runOp(what string, refresh bool, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opResultMsg{what: what, err: fn(ctx), refresh: refresh}
	}
}

func sendKeepalive(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		rtt, err := c.CheckConnection(ctx)
		return keepaliveMsg{rtt: rtt, err: err}
	}
}

func (m *monitorModel) addEvent(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[len(m.eventLog)-maxEventLog:]
	}
}

func appendHistory(h []float32, v float32) []float32 {
	h = append(h, v)
	if len(h) > historyLength {
		h = h[len(h)-historyLength:]
	}
	return h
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.varList.SetSize(32, 16)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case monitorTickMsg:
		m.stats = m.client.Stats()
		m.stats.CalculateRates()
		m.sampleCount = m.client.SampleCount()
		cmds := []tea.Cmd{tickMonitor()}
		// The watchdog stops an unattended stream, so keep it fed.
		if m.streaming && !m.lost {
			cmds = append(cmds, sendKeepalive(m.client))
		}
		return m, tea.Batch(cmds...)

	case samplesMsg:
		for _, s := range msg {
			m.pvHistory = appendHistory(m.pvHistory, s.ProcessVariable)
			m.outHistory = appendHistory(m.outHistory, s.ControllerOutput)
		}
		if len(msg) > 0 {
			m.lastSample = msg[len(msg)-1]
			m.haveSample = true
		}
		return m, nil

	case variablesMsg:
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("Read variables failed: %v", msg.err), true)
			return m, nil
		}
		m.values = msg.values
		m.haveVars = true
		cmd := m.varList.SetItems(variableItems(m.values, true))
		return m, cmd

	case streamStateMsg:
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("Stream command failed: %v", msg.err), true)
			return m, nil
		}
		m.streaming = msg.running
		if msg.running {
			m.addEvent("Stream started", false)
		} else {
			m.addEvent(fmt.Sprintf("Stream stopped after %d samples", msg.count), false)
		}
		return m, nil

	case opResultMsg:
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("%s failed: %v", msg.what, msg.err), true)
			return m, nil
		}
		m.addEvent(msg.what+" ok", false)
		if msg.refresh {
			return m, readVariables(m.client)
		}
		return m, nil

	case keepaliveMsg:
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("Keepalive failed: %v", msg.err), true)
			return m, nil
		}
		m.rtt = msg.rtt
		return m, nil

	case connectionLostMsg:
		m.lost = true
		m.streaming = false
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("Connection lost: %v", msg.err), true)
		} else {
			m.addEvent("Connection closed", true)
		}
		return m, nil
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing {
		switch msg.String() {
		case "esc":
			m.editing = false
			m.editInput.Blur()
			return m, nil
		case "enter":
			m.editing = false
			m.editInput.Blur()
			cmd := m.submitEdit()
			return m, cmd
		case "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.editInput, cmd = m.editInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		return m, toggleStream(m.client, m.streaming)
	case "r":
		return m, readVariables(m.client)
	case "z":
		return m, runOp("Reset errI", true, m.client.ResetErrI)
	case "w":
		return m, runOp("Save to EEPROM", false, m.client.SaveToEEPROM)
	case "c":
		n := m.client.ResetSampleCount()
		m.sampleCount = 0
		m.addEvent(fmt.Sprintf("Sample counter reset (was %d)", n), false)
		return m, nil
	case "enter", "e":
		item, ok := m.varList.SelectedItem().(variableItem)
		if !ok {
			return m, nil
		}
		m.editing = true
		m.editID = item.id
		m.editInput.SetValue("")
		if m.haveVars {
			m.editInput.Placeholder = strings.Trim(formatVariable(m.values, item.id), "[]")
		}
		return m, m.editInput.Focus()
	}

	var cmd tea.Cmd
	m.varList, cmd = m.varList.Update(msg)
	return m, cmd
}

// submitEdit turns the edit buffer into a write request
func (m *monitorModel) submitEdit() tea.Cmd {
	id := m.editID
	input := strings.ReplaceAll(m.editInput.Value(), ",", " ")
	values, err := parseValues(strings.Fields(input))
	if err == nil {
		err = pidproto.ValidateRequest(pidproto.OpWrite, id, values)
	}
	if err != nil {
		m.addEvent(fmt.Sprintf("Invalid %s: %v", id.Name(), err), true)
		return nil
	}

	what := "Write " + id.Name()
	c := m.client
	if id.IsPair() {
		p := varstore.Pair{Lo: values[0], Hi: values[1]}
		return runOp(what, true, func(ctx context.Context) error {
			return c.WritePair(ctx, id, p)
		})
	}
	v := values[0]
	return runOp(what, true, func(ctx context.Context) error {
		return c.WriteScalar(ctx, id, v)
	})
}

// renderSparkline scales values into block glyphs between their min and max
func renderSparkline(values []float32) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	var s strings.Builder
	top := len(sparkRunes) - 1
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float32(top))
		}
		s.WriteRune(sparkRunes[min(max(idx, 0), top)])
	}
	return s.String()
}

func (m monitorModel) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	s.WriteString(titleStyle.Render("PIDLINK MONITOR"))
	s.WriteString(" ")
	connStatus := statsValueStyle.Render(m.connInfo)
	if m.lost {
		connStatus = errorStyle.Render("DISCONNECTED")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | s stream  r refresh  enter edit  z reset errI  w save  c reset count  q quit", connStatus)))
	s.WriteString("\n\n")

	leftPanel := boxStyle.Width(34).Render(m.renderVariablePanel(statsLabelStyle, headerStyle))
	rightWidth := max(m.width-34-8, 30)
	rightPanel := boxStyle.Width(rightWidth).Render(m.renderTelemetry(statsLabelStyle, statsValueStyle, warningStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel))
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

func (m monitorModel) renderVariablePanel(statsLabelStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(m.varList.View())
	if m.editing {
		s.WriteString("\n")
		s.WriteString(statsLabelStyle.Render(m.editID.Name() + ": "))
		s.WriteString(m.editInput.View())
		s.WriteString("\n")
		s.WriteString(headerStyle.Render("enter apply  esc cancel"))
	}
	return s.String()
}

func (m monitorModel) renderTelemetry(statsLabelStyle, statsValueStyle, warningStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("TELEMETRY"))
	s.WriteString("\n")

	state := warningStyle.Render("stopped")
	if m.streaming {
		state = statsValueStyle.Render("streaming")
	}
	s.WriteString(fmt.Sprintf("%s %s\n\n", statsLabelStyle.Render("Stream:"), state))

	if !m.haveSample {
		s.WriteString(warningStyle.Render("  (no samples yet)"))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s\n",
		statsLabelStyle.Render("PV:    "),
		statsValueStyle.Render(fmt.Sprintf("%12.4f", m.lastSample.ProcessVariable))))
	s.WriteString(renderSparkline(m.pvHistory))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s %s\n",
		statsLabelStyle.Render("Output:"),
		statsValueStyle.Render(fmt.Sprintf("%12.4f", m.lastSample.ControllerOutput))))
	s.WriteString(renderSparkline(m.outHistory))
	s.WriteString("\n")
	return s.String()
}

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	rtt := "-"
	if m.rtt > 0 {
		rtt = m.rtt.Round(time.Microsecond).String()
	}
	errors := statsValueStyle.Render(fmt.Sprintf("%d", m.stats.ErrorResults+m.stats.DecodeErrors+m.stats.Timeouts))
	if m.stats.ErrorResults+m.stats.DecodeErrors+m.stats.Timeouts > 0 {
		errors = errorStyle.Render(fmt.Sprintf("%d", m.stats.ErrorResults+m.stats.DecodeErrors+m.stats.Timeouts))
	}
	line := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Datagrams:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalDatagrams)),
		statsLabelStyle.Render("Samples:"), statsValueStyle.Render(fmt.Sprintf("%d", m.sampleCount)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", m.stats.SampleRate)),
		statsLabelStyle.Render("Errors:"), errors,
		statsLabelStyle.Render("RTT:"), statsValueStyle.Render(rtt))
	return boxStyle.Width(max(m.width-4, 40)).Render(line)
}

func (m monitorModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := min(len(m.eventLog), 8)
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(max(m.width-4, 40)).Render(s.String())
}
