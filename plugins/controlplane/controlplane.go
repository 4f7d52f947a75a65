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

// Package controlplane applies command batches to the external routing
// daemon through a transactional session and owns the retry policy for
// failed batches.
package controlplane

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ligato/cn-infra/infra"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
)

const (
	// by default, a failed batch is retried twice more before escalation.
	defaultRetryAttempts = 3

	// by default, retry is executed 1 second after the failed attempt.
	defaultDelayRetry = time.Second

	// by default, retry delay grows exponentially with each failed attempt.
	defaultEnableExpBackoffRetry = true
)

// Plugin implements the command applier.
type Plugin struct {
	Deps

	config *Config

	// serializes batches - one in flight at a time, never pipelined
	applyMu sync.Mutex
}

// Deps lists dependencies of the applier plugin.
type Deps struct {
	infra.PluginDeps

	// Sessions opens transactions against the routing daemon. When nil,
	// Init installs the vtysh-backed provider.
	Sessions SessionProvider
}

// Config holds the applier configuration.
type Config struct {
	// vtysh binary used by the default session provider
	VtyshPath string `json:"vtysh-path"`

	// command timeout for one vtysh invocation
	VtyshTimeout time.Duration `json:"vtysh-timeout"`

	// retry
	RetryAttempts         int           `json:"retry-attempts"`
	DelayRetry            time.Duration `json:"delay-retry"`
	EnableExpBackoffRetry bool          `json:"enable-exp-backoff-retry"`
}

// Init loads the configuration and installs the default session provider.
func (p *Plugin) Init() error {
	if p.config == nil {
		p.config = &Config{
			VtyshPath:             defaultVtyshPath,
			VtyshTimeout:          defaultVtyshTimeout,
			RetryAttempts:         defaultRetryAttempts,
			DelayRetry:            defaultDelayRetry,
			EnableExpBackoffRetry: defaultEnableExpBackoffRetry,
		}
		if p.Cfg != nil {
			if _, err := p.Cfg.LoadValue(p.config); err != nil {
				return err
			}
		}
	}
	p.Log.Infof("Control-plane applier configuration: %+v", *p.config)

	if p.Sessions == nil {
		p.Sessions = &VtyshProvider{
			Runner: &VtyshRunner{
				Path:    p.config.VtyshPath,
				Timeout: p.config.VtyshTimeout,
			},
			Log: p.Log.NewLogger("vtysh"),
		}
	}
	return nil
}

// Close is NOOP.
func (p *Plugin) Close() error {
	return nil
}

// Apply implements API.Apply.
func (p *Plugin) Apply(ctx context.Context, batch []fragment.Command) error {
	if len(batch) == 0 {
		return nil
	}
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	var lastErr error
	delay := p.config.DelayRetry
	for attempt := 1; attempt <= p.config.RetryAttempts; attempt++ {
		lastErr = p.applyOnce(batch)
		if lastErr == nil {
			return nil
		}
		p.Log.Warnf("Batch apply attempt %d/%d failed: %v",
			attempt, p.config.RetryAttempts, lastErr)

		if attempt == p.config.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return &api.PersistentApplyFailure{Attempts: attempt, LastErr: lastErr}
		case <-time.After(delay):
		}
		if p.config.EnableExpBackoffRetry {
			delay *= 2
		}
	}
	return &api.PersistentApplyFailure{
		Attempts: p.config.RetryAttempts,
		LastErr:  lastErr,
	}
}

// applyOnce runs the batch through a single session. Any failure aborts
// the session so that the routing daemon never retains a partial batch.
func (p *Plugin) applyOnce(batch []fragment.Command) error {
	session, err := p.Sessions.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	for idx, cmd := range batch {
		if err := session.Execute(cmd.Text); err != nil {
			session.Abort()
			return &api.PartialFailure{
				CommittedPrefix: idx,
				FailingCommand:  firstLine(cmd.Text),
				Cause:           err,
			}
		}
	}
	if err := session.Commit(); err != nil {
		session.Abort()
		return err
	}
	return nil
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}
