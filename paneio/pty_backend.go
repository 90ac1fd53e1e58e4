// PTYBackend is the bundled reference Backend: one real OS PTY per
// registered session, rendered through a vt10x terminal emulator so that
// Capture returns plain resolved text instead of raw escape-coded bytes.
// vt10x is deliberately confined to this file: nothing above the Backend
// interface (collector, detector, responder, controller) ever sees a
// cursor or a terminal cell, only the lines Capture returns.
package paneio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/xpty"
	gocache "github.com/patrickmn/go-cache"
	gopsproc "github.com/shirou/gopsutil/v4/process"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// SessionLaunchSpec describes one pane this backend should own and spawn
// a real process for.
type SessionLaunchSpec struct {
	SessionID  string
	Command    []string
	WorkingDir string
	Env        []string
	Rows, Cols int
	Encoding   string // "", "utf-8", "gbk", "gb18030", "gb2312"

	// ShellOverride/ShellEnv are consulted only when Command is empty:
	// the session describes a bare interactive shell rather than a
	// specific program, so one is resolved via ResolveShell.
	ShellOverride string
	ShellEnv      []string
}

type ptyPane struct {
	spec SessionLaunchSpec

	mu       sync.Mutex
	pty      xpty.Pty
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	term     vt10x.Terminal
	gone     bool
	encoding encoding.Encoding
	encName  string

	pid int32
}

// PTYBackend owns a set of real PTY-backed panes, one window/pane per
// registered session (this reference backend does not model multiple
// windows per session — real multiplexer-backed implementations would).
type PTYBackend struct {
	logger *zap.Logger

	mu    sync.RWMutex
	panes map[PaneRef]*ptyPane

	processCache *gocache.Cache
}

// NewPTYBackend builds an empty PTYBackend; call Spawn for each session
// before Enumerate/Capture/SendKeys can see it.
func NewPTYBackend(logger *zap.Logger) *PTYBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PTYBackend{
		logger:       logger,
		panes:        make(map[PaneRef]*ptyPane),
		processCache: gocache.New(3*time.Second, 10*time.Second),
	}
}

func refFor(sessionID string) PaneRef {
	return PaneRef{SessionID: sessionID, WindowIndex: 0, PaneIndex: 0}
}

// Spawn starts the PTY-backed process for spec and registers its single
// pane. Returns the pane's PaneRef.
func (b *PTYBackend) Spawn(ctx context.Context, spec SessionLaunchSpec) (PaneRef, error) {
	command := spec.Command
	if len(command) == 0 {
		shell, err := ResolveShell(spec.ShellOverride, ShellConfig{})
		if err != nil {
			return PaneRef{}, err
		}
		command = shell
	}

	rows, cols := spec.Rows, spec.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	enc, encName, err := resolveEncoding(spec.Encoding)
	if err != nil {
		return PaneRef{}, err
	}

	ptyDevice, err := xpty.NewPty(cols, rows)
	if err != nil {
		return PaneRef{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, command[0], command[1:]...)
	cmd.Dir = spec.WorkingDir
	var env []string
	if len(spec.Command) == 0 {
		env = append(env, spec.ShellEnv...)
	}
	env = append(env, spec.Env...)
	env = append(env, "TERM=xterm-256color")
	cmd.Env = append(os.Environ(), env...)

	if err := ptyDevice.Start(cmd); err != nil {
		cancel()
		_ = ptyDevice.Close()
		return PaneRef{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	pane := &ptyPane{
		spec:     spec,
		pty:      ptyDevice,
		cmd:      cmd,
		cancel:   cancel,
		term:     vt10x.New(),
		encoding: enc,
		encName:  encName,
	}
	pane.term.Resize(cols, rows)
	if cmd.Process != nil {
		pane.pid = int32(cmd.Process.Pid)
	}

	ref := refFor(spec.SessionID)
	b.mu.Lock()
	b.panes[ref] = pane
	b.mu.Unlock()

	go b.pump(ref, pane)
	go b.wait(ref, pane, procCtx)

	return ref, nil
}

// pump continuously reads PTY output into the vt10x emulator so Capture
// always reflects the latest screen state.
func (b *PTYBackend) pump(ref PaneRef, pane *ptyPane) {
	buf := make([]byte, 4096)
	for {
		n, err := pane.pty.Read(buf)
		if n > 0 {
			normalized := normalizeOutput(pane, buf[:n])
			pane.mu.Lock()
			_, _ = pane.term.Write(normalized)
			pane.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (b *PTYBackend) wait(ref PaneRef, pane *ptyPane, ctx context.Context) {
	_ = xpty.WaitProcess(ctx, pane.cmd)
	pane.mu.Lock()
	pane.gone = true
	pane.mu.Unlock()
	b.logger.Debug("paneio: pty session exited", zap.String("session_id", ref.SessionID))
}

// Close terminates the pane's process and releases its PTY.
func (b *PTYBackend) Close(ref PaneRef) error {
	b.mu.Lock()
	pane, ok := b.panes[ref]
	if ok {
		delete(b.panes, ref)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	pane.cancel()
	pane.mu.Lock()
	defer pane.mu.Unlock()
	if pane.cmd != nil && pane.cmd.Process != nil {
		_ = pane.cmd.Process.Kill()
	}
	pane.gone = true
	return pane.pty.Close()
}

func (b *PTYBackend) Enumerate(ctx context.Context) ([]PaneGroup, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	groups := make([]PaneGroup, 0, len(b.panes))
	for ref, pane := range b.panes {
		pane.mu.Lock()
		gone := pane.gone
		pane.mu.Unlock()
		if gone {
			continue
		}
		groups = append(groups, PaneGroup{
			SessionID: ref.SessionID,
			Windows: []WindowRef{{
				Index: ref.WindowIndex,
				Panes: []PaneRef{ref},
			}},
		})
	}
	return groups, nil
}

func (b *PTYBackend) Capture(ctx context.Context, ref PaneRef, maxLines int) (string, error) {
	b.mu.RLock()
	pane, ok := b.panes[ref]
	b.mu.RUnlock()
	if !ok {
		return "", ErrPaneGone
	}

	pane.mu.Lock()
	defer pane.mu.Unlock()
	if pane.gone {
		return "", ErrPaneGone
	}

	cols, totalRows := pane.term.Size()
	start := 0
	if maxLines > 0 && totalRows > maxLines {
		start = totalRows - maxLines
	}
	lines := make([]string, 0, totalRows-start)
	for row := start; row < totalRows; row++ {
		runes := make([]rune, 0, cols)
		for col := 0; col < cols; col++ {
			cell := pane.term.Cell(col, row)
			if cell.Char != 0 {
				runes = append(runes, cell.Char)
			}
		}
		lines = append(lines, strings.TrimRight(string(runes), " "))
	}
	return strings.Join(lines, "\n"), nil
}

func (b *PTYBackend) SendKeys(ctx context.Context, ref PaneRef, keys string, pressEnter bool) error {
	b.mu.RLock()
	pane, ok := b.panes[ref]
	b.mu.RUnlock()
	if !ok {
		return ErrPaneGone
	}

	pane.mu.Lock()
	gone := pane.gone
	pty := pane.pty
	pane.mu.Unlock()
	if gone {
		return ErrPaneGone
	}

	payload := keys
	if pressEnter {
		payload += "\r"
	}
	input := prepareInput(pane, []byte(payload))
	if _, err := pty.Write(input); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// ForegroundCommand reports the command line of the first child process
// gopsutil lists for ref's spawned process, for SessionView enrichment;
// never consulted by detection, only for display.
func (b *PTYBackend) ForegroundCommand(ref PaneRef) string {
	b.mu.RLock()
	pane, ok := b.panes[ref]
	b.mu.RUnlock()
	if !ok || pane.pid <= 0 {
		return ""
	}

	cacheKey := fmt.Sprintf("fg_%d", pane.pid)
	if cached, found := b.processCache.Get(cacheKey); found {
		return cached.(string)
	}

	result := make(chan string, 1)
	go func() {
		proc, err := gopsproc.NewProcess(pane.pid)
		if err != nil {
			result <- ""
			return
		}
		children, err := proc.Children()
		if err != nil || len(children) == 0 {
			result <- ""
			return
		}
		cmdline, err := children[0].Cmdline()
		if err != nil {
			result <- ""
			return
		}
		result <- cmdline
	}()

	select {
	case cmd := <-result:
		b.processCache.Set(cacheKey, cmd, gocache.DefaultExpiration)
		return cmd
	case <-time.After(2 * time.Second):
		b.processCache.Set(cacheKey, "", gocache.DefaultExpiration)
		return ""
	}
}

func normalizeOutput(pane *ptyPane, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	if pane.encoding == nil || pane.encName == "utf-8" {
		return cloneBytes(data)
	}
	decoded, _, err := transform.Bytes(pane.encoding.NewDecoder(), data)
	if err != nil {
		return cloneBytes(data)
	}
	return decoded
}

func prepareInput(pane *ptyPane, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	if pane.encoding == nil || pane.encName == "utf-8" {
		return cloneBytes(data)
	}
	encoded, _, err := transform.Bytes(pane.encoding.NewEncoder(), data)
	if err != nil {
		return cloneBytes(data)
	}
	return encoded
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func resolveEncoding(name string) (encoding.Encoding, string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" || normalized == "utf-8" || normalized == "utf8" {
		return nil, "utf-8", nil
	}
	switch normalized {
	case "gbk":
		return simplifiedchinese.GBK, "gbk", nil
	case "gb18030", "gb-18030":
		return simplifiedchinese.GB18030, "gb18030", nil
	case "gb2312":
		return simplifiedchinese.HZGB2312, "gb2312", nil
	default:
		return nil, normalized, fmt.Errorf("paneio: unsupported encoding %q", name)
	}
}
