package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process is a running worker.
type Process interface {
	// Stdin carries requests to the worker.
	Stdin() io.WriteCloser

	// Stdout carries responses from the worker.
	Stdout() io.Reader

	// Kill stops the worker immediately.
	Kill() error

	// Wait blocks until the worker has exited.
	Wait() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context) (Process, error)
}

// ExecSpawner starts a worker as a child process.
type ExecSpawner struct {
	Command string
	Args    []string
	Env     []string

	// Stderr receives the child's standard error. Nil discards it.
	Stderr io.Writer
}

// Spawn starts the command. The child outlives ctx; it is stopped with
// Kill or by closing its stdin.
func (s *ExecSpawner) Spawn(_ context.Context) (Process, error) {
	cmd := exec.Command(s.Command, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = s.Stderr
	cmd.WaitDelay = 3 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", s.Command, err)
	}
	log.Debug("worker_started", slog.String("command", s.Command), slog.Int("pid", cmd.Process.Pid))
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	waitOnce sync.Once
	waitErr  error
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Wait() error {
	p.waitOnce.Do(func() { p.waitErr = p.cmd.Wait() })
	return p.waitErr
}

// errKilled is reported to readers of a killed pipe worker.
var errKilled = errors.New("worker killed")

// PipeSpawner runs a Handler on in-memory pipes inside this process.
// It stands in for a child process where spawning one is not wanted.
type PipeSpawner struct {
	Handler Handler

	mu     sync.Mutex
	spawns int
}

// Spawns returns how many workers have been started.
func (s *PipeSpawner) Spawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

// Spawn starts Serve on a fresh pair of pipes.
func (s *PipeSpawner) Spawn(_ context.Context) (Process, error) {
	s.mu.Lock()
	s.spawns++
	s.mu.Unlock()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeProcess{
		inR: inR, inW: inW, outR: outR, outW: outW,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		p.err = Serve(ctx, inR, outW, s.Handler)
		_ = outW.Close()
		_ = inR.Close()
		close(p.done)
	}()
	return p, nil
}

type pipeProcess struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *pipeProcess) Stdin() io.WriteCloser { return p.inW }
func (p *pipeProcess) Stdout() io.Reader     { return p.outR }

func (p *pipeProcess) Kill() error {
	p.cancel()
	_ = p.inR.CloseWithError(errKilled)
	_ = p.outW.CloseWithError(errKilled)
	return nil
}

func (p *pipeProcess) Wait() error {
	<-p.done
	return p.err
}
