// Copyright (c) 2026 RouteOps and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controlplane

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
)

const (
	defaultVtyshPath    = "vtysh"
	defaultVtyshTimeout = 30 * time.Second
)

// VtyshRunner executes vtysh invocations against the local FRR instance.
// Shared between the applier's session provider and the monitor, which
// uses Show for sampling operational state.
type VtyshRunner struct {
	Path    string
	Timeout time.Duration
}

// Show runs a single show command and returns its output.
func (r *VtyshRunner) Show(command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout())
	defer cancel()

	out, err := exec.CommandContext(ctx, r.Path, "-c", command).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "vtysh -c %q failed: %s", command, out)
	}
	return string(out), nil
}

// ApplyFile feeds a command file to vtysh. The returned output is scanned
// by the caller for per-command errors.
func (r *VtyshRunner) ApplyFile(path string, dryRun bool) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout())
	defer cancel()

	args := []string{"-f", path}
	if dryRun {
		args = append([]string{"--dryrun"}, args...)
	}
	out, err := exec.CommandContext(ctx, r.Path, args...).CombinedOutput()
	return string(out), err
}

func (r *VtyshRunner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return defaultVtyshTimeout
}

// VtyshProvider opens vtysh-backed sessions.
//
// FRR has no native transaction support over vtysh, so the session contract
// is honored in two stages: Execute only buffers commands, and Commit first
// runs the whole buffer through a vtysh dry-run (nothing applied on a
// syntax/semantic rejection - a clean rollback) before feeding it to vtysh
// for real. A failure in the second stage can leave FRR ahead of the
// baselines; the next full flush reconverges it.
type VtyshProvider struct {
	Runner *VtyshRunner
	Log    logging.Logger
}

// NewSession implements SessionProvider.
func (p *VtyshProvider) NewSession() (Session, error) {
	return &vtyshSession{provider: p}, nil
}

type vtyshSession struct {
	provider *VtyshProvider
	commands []string
	finished bool
}

// Execute buffers the command text.
func (s *vtyshSession) Execute(command string) error {
	if s.finished {
		return errors.New("session already finished")
	}
	s.commands = append(s.commands, command)
	return nil
}

// Commit validates and applies the buffered commands.
func (s *vtyshSession) Commit() error {
	if s.finished {
		return errors.New("session already finished")
	}
	s.finished = true
	if len(s.commands) == 0 {
		return nil
	}

	file, err := os.CreateTemp("", "bgpcfgd-batch-*.conf")
	if err != nil {
		return errors.Wrap(err, "failed to create batch file")
	}
	defer os.Remove(file.Name())

	var buf bytes.Buffer
	buf.WriteString("configure terminal\n")
	for _, command := range s.commands {
		buf.WriteString(strings.TrimRight(command, "\n"))
		buf.WriteString("\n")
	}
	buf.WriteString("end\n")
	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return errors.Wrap(err, "failed to write batch file")
	}
	file.Close()

	// stage 1: dry-run, nothing applied on rejection
	out, err := s.provider.Runner.ApplyFile(file.Name(), true)
	if rejected := vtyshError(out); rejected != "" || err != nil {
		if rejected == "" {
			rejected = err.Error()
		}
		return errors.Errorf("batch rejected by vtysh dry-run: %s", rejected)
	}

	// stage 2: apply for real
	out, err = s.provider.Runner.ApplyFile(file.Name(), false)
	if err != nil {
		return errors.Wrapf(err, "vtysh apply failed: %s", out)
	}
	if rejected := vtyshError(out); rejected != "" {
		return errors.Errorf("vtysh rejected command: %s", rejected)
	}

	s.provider.Log.Debugf("Committed %d commands", len(s.commands))
	return nil
}

// Abort discards the buffer.
func (s *vtyshSession) Abort() error {
	s.finished = true
	s.commands = nil
	return nil
}

// Close is NOOP for an already finished session.
func (s *vtyshSession) Close() error {
	s.finished = true
	return nil
}

// vtyshError extracts the first error line ("% ...") from vtysh output.
func vtyshError(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "% ") {
			return trimmed
		}
	}
	return ""
}
