package observability

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}
var radarIdx = 0

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// termWriter is a mutex-guarded io.Writer for log output so log lines
// never land in the middle of a dashboard redraw.
type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer that serialises writes with PrintLiveStatus.
func NewTermWriter() io.Writer {
	return termWriter{}
}

const banner = `
  ______      __    __     ______      ____
 /_  __/___ _/ /_  / /__  /_  __/___ _/ / /__
  / / / __ '/ __ \/ / _ \  / / / __ '/ / //_/
 / / / /_/ / /_/ / /  __/ / / / /_/ / / ,<
/_/  \__,_/_.___/_/\___/ /_/  \__,_/_/_/|_|

      >> ask your spreadsheet anything <<
`

// PrintBanner writes the centred logo to w.
func PrintBanner(w io.Writer) {
	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

// InitializeTerminal clears the screen, draws the banner in the header
// area and confines scrolling output to the rows below the dashboard.
func InitializeTerminal(w io.Writer) {
	// Header/Logo area: 1-9
	// Dashboard/Status: 10
	// Gap: 11
	// Scrolling Logs: 12+
	termMu.Lock()
	defer termMu.Unlock()
	fmt.Fprint(w, "\033[2J\033[H")
	PrintBanner(w)
	fmt.Fprint(w, "\033[12;r")  // Set scrolling region from line 12 to the bottom
	fmt.Fprint(w, "\033[12;1H") // Move cursor to the start of the scrolling region
}

func CleanupTerminal(w io.Writer) {
	termMu.Lock()
	defer termMu.Unlock()
	fmt.Fprint(w, "\033[r\033[2J\033[H")
}

// PrintLiveStatus redraws the one-line serve-mode dashboard.
func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime).Round(time.Second)
	memMB := float64(m.Alloc) / 1024 / 1024

	role, task, lastHB := GetStatus()
	turns := ActiveTurns()

	pulseIcon := "🔴"
	pulseText := "OFFLINE"
	pulseColor := colorNeonMag

	delta := time.Since(lastHB)
	if delta < 40*time.Second {
		pulseIcon = "🟢"
		pulseText = "HEALTHY"
		pulseColor = colorNeonCyan
	} else if delta < 90*time.Second {
		pulseIcon = "🟡"
		pulseText = "LAGGING"
		pulseColor = colorPurple
	}

	roleColor := colorReset
	radar := " "
	if role != RoleIdle {
		roleColor = colorNeonCyan
		radar = radarFrames[radarIdx]
		radarIdx = (radarIdx + 1) % len(radarFrames)
	}

	displayTask := task
	if displayTask == "" {
		displayTask = "Waiting..."
	}
	if len(displayTask) > 25 {
		displayTask = displayTask[:22] + "..."
	}

	totalMB := float64(m.Sys) / 1024 / 1024
	memPercent := memMB / totalMB

	barWidth := 20
	filled := clamp(int(memPercent*float64(barWidth)), 0, barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)

	barColor := colorNeonCyan
	if memPercent > 0.7 {
		barColor = colorNeonMag
	}

	// Build the status string BEFORE locking, to minimise lock hold time.
	statusStr := fmt.Sprintf(
		"\033[s\033[10;1H\033[K%s[%s] %s%s %-8s%s | %s%-12s%s turns=%d [%s] %s%s%s [%v] [%s%s %.1fMB%s]\033[u",
		colorReset,
		lastHB.Format("15:04:05"),
		pulseColor, pulseIcon, pulseText, colorReset,
		roleColor, role, colorReset,
		turns,
		displayTask,
		colorPurple, radar, colorReset,
		uptime,
		barColor, bar, memMB, colorReset,
	)

	termMu.Lock()
	fmt.Print(statusStr)
	termMu.Unlock()
}
