// Package monitor spawns and watches an owned hub process.
package monitor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcphub-go/internal/contracts"
)

// ProcessStatus represents the status of a monitored process
type ProcessStatus string

const (
	ProcessStatusStopped  ProcessStatus = "stopped"
	ProcessStatusStarting ProcessStatus = "starting"
	ProcessStatusRunning  ProcessStatus = "running"
	ProcessStatusFailed   ProcessStatus = "failed"
	ProcessStatusExited   ProcessStatus = "exited"
)

// DefaultStartTimeout bounds the wait for the ready record
const DefaultStartTimeout = 30 * time.Second

// terminateGrace is how long a terminated group gets before SIGKILL
const terminateGrace = 5 * time.Second

// ExitInfo contains information about process exit
type ExitInfo struct {
	Code      int
	Signal    string
	Timestamp time.Time
	Error     error
	// Ready is true when the process printed its ready record before exiting
	Ready bool
	// TimedOut is true when the process was terminated for not becoming ready in time
	TimedOut bool
	Runtime  time.Duration
}

// Stream names the pipe a line was read from
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Handler receives process output and lifecycle callbacks. Callbacks are
// serialised; none of them is called after Detach.
type Handler struct {
	OnRecord func(Stream, contracts.LogRecord)
	OnReady  func()
	OnExit   func(ExitInfo)
}

// ProcessConfig contains configuration for process monitoring
type ProcessConfig struct {
	Binary       string
	Args         []string
	Env          []string
	WorkingDir   string
	StartTimeout time.Duration
}

// ProcessMonitor runs one process and reports its output and exit
type ProcessMonitor struct {
	config ProcessConfig
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    ProcessStatus
	pid       int
	exitInfo  *ExitInfo
	startTime time.Time
	ready     bool
	timedOut  bool
	detached  bool
	timer     *time.Timer

	deliverMu sync.Mutex
	handler   Handler

	done chan struct{}
}

// NewProcessMonitor creates a new process monitor
func NewProcessMonitor(config ProcessConfig, logger *zap.SugaredLogger) *ProcessMonitor {
	if config.StartTimeout <= 0 {
		config.StartTimeout = DefaultStartTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ProcessMonitor{
		config: config,
		logger: logger,
		status: ProcessStatusStopped,
		done:   make(chan struct{}),
	}
}

// HubArgs builds the hub command line
func HubArgs(port int, configPath string, autoShutdown bool, shutdownDelay time.Duration, extra []string) []string {
	args := []string{"--port", strconv.Itoa(port), "--config", configPath}
	if autoShutdown {
		args = append(args, "--auto-shutdown", "--shutdown-delay", strconv.FormatInt(shutdownDelay.Milliseconds(), 10))
	}
	return append(args, extra...)
}

// Start spawns the process in its own process group. The process is not tied
// to any context: it keeps running after Detach and after this process exits.
func (pm *ProcessMonitor) Start(h Handler) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.cmd != nil {
		return fmt.Errorf("process already started")
	}

	pm.logger.Infow("Starting hub process",
		"binary", pm.config.Binary,
		"args", maskSensitiveArgs(pm.config.Args),
		"working_dir", pm.config.WorkingDir)

	binary := pm.config.Binary
	if resolved, err := LookPath(binary); err == nil {
		binary = resolved
	}
	cmd := exec.Command(binary, pm.config.Args...)
	if pm.config.WorkingDir != "" {
		cmd.Dir = pm.config.WorkingDir
	}
	if len(pm.config.Env) > 0 {
		cmd.Env = pm.config.Env
	}
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	pm.handler = h
	pm.status = ProcessStatusStarting
	pm.startTime = time.Now()

	if err := cmd.Start(); err != nil {
		pm.status = ProcessStatusFailed
		pm.logger.Errorw("Failed to start hub process", "error", err)
		return fmt.Errorf("failed to start process: %w", err)
	}

	pm.cmd = cmd
	pm.pid = cmd.Process.Pid
	pm.timer = time.AfterFunc(pm.config.StartTimeout, pm.startupTimeout)

	pm.logger.Infow("Hub process started", "pid", pm.pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go pm.captureOutput(stdout, StreamStdout, &readers)
	go pm.captureOutput(stderr, StreamStderr, &readers)
	go pm.monitor(&readers)
	return nil
}

// Detach stops reporting. The process is left running and its output is
// still drained so it never blocks on a full pipe.
func (pm *ProcessMonitor) Detach() {
	pm.mu.Lock()
	pm.detached = true
	if pm.timer != nil {
		pm.timer.Stop()
	}
	pid := pm.pid
	pm.mu.Unlock()
	if pid != 0 {
		pm.logger.Infow("Detached from hub process", "pid", pid)
	}
}

// Terminate signals the process group and waits for it to exit, escalating
// to SIGKILL after a grace period.
func (pm *ProcessMonitor) Terminate() error {
	pm.mu.RLock()
	pid := pm.pid
	pm.mu.RUnlock()

	if pid == 0 {
		return fmt.Errorf("no process to terminate")
	}
	select {
	case <-pm.done:
		return nil
	default:
	}

	pm.logger.Infow("Terminating hub process group", "pid", pid)
	if err := terminateGroup(pid); err != nil {
		pm.logger.Warnw("Failed to signal process group", "pid", pid, "error", err)
	}

	select {
	case <-pm.done:
		return nil
	case <-time.After(terminateGrace):
		pm.logger.Warnw("Hub process did not exit, killing", "pid", pid)
		if err := killGroup(pid); err != nil {
			return err
		}
		<-pm.done
		return errors.New("process force killed")
	}
}

// Done is closed once the process has exited and its output is drained
func (pm *ProcessMonitor) Done() <-chan struct{} {
	return pm.done
}

// Status returns the current process status
func (pm *ProcessMonitor) Status() ProcessStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.status
}

// PID returns the process ID, 0 before Start
func (pm *ProcessMonitor) PID() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.pid
}

// ExitInfo returns information about process exit, nil while running
func (pm *ProcessMonitor) ExitInfo() *ExitInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.exitInfo
}

func (pm *ProcessMonitor) startupTimeout() {
	pm.mu.Lock()
	if pm.ready || pm.detached || pm.exitInfo != nil {
		pm.mu.Unlock()
		return
	}
	pm.timedOut = true
	pm.mu.Unlock()

	pm.logger.Warnw("Hub process did not become ready in time",
		"timeout", pm.config.StartTimeout)
	go func() { _ = pm.Terminate() }()
}

// monitor waits for the output readers to drain, then reaps the process.
func (pm *ProcessMonitor) monitor(readers *sync.WaitGroup) {
	defer close(pm.done)

	readers.Wait()
	err := pm.cmd.Wait()

	pm.mu.Lock()
	if pm.timer != nil {
		pm.timer.Stop()
	}
	info := ExitInfo{
		Timestamp: time.Now(),
		Error:     err,
		Ready:     pm.ready,
		TimedOut:  pm.timedOut,
		Runtime:   time.Since(pm.startTime),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		info.Code = exitErr.ExitCode()
		info.Signal = signalOf(exitErr)
	}
	pm.exitInfo = &info
	pm.status = ProcessStatusExited
	detached := pm.detached
	pid := pm.pid
	pm.mu.Unlock()

	if err != nil {
		pm.logger.Warnw("Hub process exited with error",
			"pid", pid,
			"error", err,
			"exit_code", info.Code,
			"signal", info.Signal,
			"runtime", info.Runtime)
	} else {
		pm.logger.Infow("Hub process exited", "pid", pid, "runtime", info.Runtime)
	}

	if detached {
		return
	}
	pm.deliver(func(h Handler) {
		if h.OnExit != nil {
			h.OnExit(info)
		}
	})
}

// captureOutput parses each line of a pipe as a hub log record
func (pm *ProcessMonitor) captureOutput(pipe io.Reader, stream Stream, readers *sync.WaitGroup) {
	defer readers.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		record := contracts.ParseLogRecord(line)

		becameReady := false
		if record.IsReady() {
			pm.mu.Lock()
			if !pm.ready && !pm.timedOut {
				pm.ready = true
				pm.status = ProcessStatusRunning
				becameReady = true
				if pm.timer != nil {
					pm.timer.Stop()
				}
			}
			pm.mu.Unlock()
		}

		pm.deliver(func(h Handler) {
			if h.OnRecord != nil {
				h.OnRecord(stream, record)
			}
			if becameReady && h.OnReady != nil {
				h.OnReady()
			}
		})
	}

	if err := scanner.Err(); err != nil {
		pm.logger.Warnw("Error reading hub output", "stream", stream, "error", err)
	}
}

func (pm *ProcessMonitor) deliver(fn func(Handler)) {
	pm.deliverMu.Lock()
	defer pm.deliverMu.Unlock()

	pm.mu.RLock()
	detached := pm.detached
	pm.mu.RUnlock()
	if detached {
		return
	}
	fn(pm.handler)
}

// maskSensitiveArgs masks values that look like credentials
func maskSensitiveArgs(args []string) []string {
	masked := make([]string, len(args))
	copy(masked, args)

	for i, arg := range masked {
		lower := strings.ToLower(arg)
		if strings.Contains(lower, "key") ||
			strings.Contains(lower, "secret") ||
			strings.Contains(lower, "token") ||
			strings.Contains(lower, "password") {
			if len(arg) > 8 {
				masked[i] = arg[:4] + "****" + arg[len(arg)-4:]
			} else {
				masked[i] = "****"
			}
		}
	}
	return masked
}
