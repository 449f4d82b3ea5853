// Package process launches the server under test as a child process and
// waits for its readiness line.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultReady matches the startup line of the game server.
var DefaultReady = regexp.MustCompile(`(?i)server (has )?started`)

const tailLines = 50

type Spec struct {
	Args []string
	Dir  string
	// Env is appended to the current environment.
	Env []string

	Ready          *regexp.Regexp
	StartupTimeout time.Duration
	StopTimeout    time.Duration
}

type Process struct {
	cmd    *exec.Cmd
	logger *log.Logger
	stop   time.Duration

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	waitErr   error

	mu   sync.Mutex
	tail []string
}

// Start runs spec and blocks until its output matches the readiness
// pattern, the process exits, the startup timeout passes, or ctx ends.
// Output lines of both streams go to logger.
func Start(ctx context.Context, spec Spec, logger *log.Logger) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("empty server command")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	readyRE := spec.Ready
	if readyRE == nil {
		readyRE = DefaultReady
	}
	startup := spec.StartupTimeout
	if startup <= 0 {
		startup = 30 * time.Second
	}
	stop := spec.StopTimeout
	if stop <= 0 {
		stop = 5 * time.Second
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Args[0], err)
	}

	p := &Process{
		cmd:    cmd,
		logger: logger,
		stop:   stop,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	for _, r := range []io.Reader{stdout, stderr} {
		go func(r io.Reader) {
			defer readers.Done()
			p.scan(r, readyRE)
		}(r)
	}
	go func() {
		// Wait must not run before the pipes are drained.
		readers.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	timer := time.NewTimer(startup)
	defer timer.Stop()
	select {
	case <-p.ready:
		return p, nil
	case <-p.done:
		return nil, fmt.Errorf("server exited before ready (%v): %s", p.waitErr, strings.Join(p.Tail(), " | "))
	case <-timer.C:
		_ = p.Stop()
		return nil, fmt.Errorf("server not ready after %s: %s", startup, strings.Join(p.Tail(), " | "))
	case <-ctx.Done():
		_ = p.Stop()
		return nil, ctx.Err()
	}
}

func (p *Process) scan(r io.Reader, readyRE *regexp.Regexp) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		p.logger.Print(line)

		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > tailLines {
			p.tail = p.tail[len(p.tail)-tailLines:]
		}
		p.mu.Unlock()

		if readyRE.MatchString(line) {
			p.readyOnce.Do(func() { close(p.ready) })
		}
	}
}

// Tail returns the last output lines seen.
func (p *Process) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Stop sends SIGTERM, then kills the process if it has not exited within
// the stop timeout. It returns nil once the process is gone.
func (p *Process) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	t := time.NewTimer(p.stop)
	defer t.Stop()
	select {
	case <-p.done:
		return nil
	case <-t.C:
	}
	p.logger.Printf("server ignored SIGTERM for %s, killing", p.stop)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.done
	return nil
}
