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

// Package mockcontrolplane provides a scripted control-plane session
// provider for testing: it records every executed command and can be told
// to fail a particular command or the commit itself.
package mockcontrolplane

import (
	"errors"
	"strings"
	"sync"

	"github.com/routeops/bgpcfgd/plugins/controlplane"
)

// MockControlPlane implements the SessionProvider contract and records the
// committed transactions.
type MockControlPlane struct {
	mu sync.Mutex

	// committed transactions, one command slice per Commit
	committed [][]string

	// aborted counts the discarded sessions
	aborted int

	failExecuteOn string // fail Execute of a command containing this substring
	failCommits   int    // fail this many upcoming commits
	failSessions  int    // fail this many upcoming NewSession calls
}

// MockSession is one recorded transaction.
type MockSession struct {
	owner    *MockControlPlane
	commands []string
	done     bool
}

// NewMockControlPlane is the constructor.
func NewMockControlPlane() *MockControlPlane {
	return &MockControlPlane{}
}

// FailExecuteContaining makes Execute fail for any command containing the
// given substring. Empty string disables the failure.
func (m *MockControlPlane) FailExecuteContaining(substring string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failExecuteOn = substring
}

// FailCommits makes the next n commits fail.
func (m *MockControlPlane) FailCommits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommits = n
}

// FailSessions makes the next n NewSession calls fail.
func (m *MockControlPlane) FailSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSessions = n
}

// Committed returns the committed transactions.
func (m *MockControlPlane) Committed() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	committed := make([][]string, len(m.committed))
	copy(committed, m.committed)
	return committed
}

// CommittedCommands returns all committed commands flattened in order.
func (m *MockControlPlane) CommittedCommands() []string {
	var all []string
	for _, txn := range m.Committed() {
		all = append(all, txn...)
	}
	return all
}

// Aborted returns the number of discarded sessions.
func (m *MockControlPlane) Aborted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}

// Reset forgets the recorded transactions.
func (m *MockControlPlane) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = nil
	m.aborted = 0
}

// NewSession implements SessionProvider.
func (m *MockControlPlane) NewSession() (controlplane.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSessions > 0 {
		m.failSessions--
		return nil, errors.New("mock: session refused")
	}
	return &MockSession{owner: m}, nil
}

// Execute implements Session.
func (s *MockSession) Execute(command string) error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.owner.failExecuteOn != "" && strings.Contains(command, s.owner.failExecuteOn) {
		return errors.New("mock: command rejected")
	}
	s.commands = append(s.commands, command)
	return nil
}

// Commit implements Session.
func (s *MockSession) Commit() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.done {
		return errors.New("mock: session already finished")
	}
	s.done = true
	if s.owner.failCommits > 0 {
		s.owner.failCommits--
		return errors.New("mock: commit failed")
	}
	s.owner.committed = append(s.owner.committed, s.commands)
	return nil
}

// Abort implements Session.
func (s *MockSession) Abort() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if !s.done {
		s.done = true
		s.owner.aborted++
	}
	return nil
}

// Close implements Session.
func (s *MockSession) Close() error {
	return nil
}

var _ controlplane.SessionProvider = (*MockControlPlane)(nil)
var _ controlplane.Session = (*MockSession)(nil)
