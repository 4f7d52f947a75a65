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

// Package templates renders named configuration-command templates.
// Rendering itself is a pure function of (template name, context); the
// engine only mutates its parsed template set when the override directory
// changes on disk.
package templates

import (
	"bytes"
	"embed"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
)

//go:embed builtin/*.tmpl
var builtinFS embed.FS

const tmplSuffix = ".tmpl"

// Context is the data passed to a single render.
type Context map[string]interface{}

// Engine holds the parsed template set plus deployment constants merged
// into every render context under the "Constants" key.
type Engine struct {
	log logging.Logger

	mu        sync.RWMutex
	set       *template.Template
	constants map[string]interface{}

	overrideDir   string
	constantsFile string

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option customizes the Engine.
type Option func(*Engine)

// WithOverrideDir points the engine at a directory whose *.tmpl files
// replace the built-in templates of the same name. The directory is watched
// and re-parsed on change.
func WithOverrideDir(dir string) Option {
	return func(e *Engine) {
		e.overrideDir = dir
	}
}

// WithConstantsFile loads deployment constants (YAML) available to every
// template as {{ .Constants }}.
func WithConstantsFile(path string) Option {
	return func(e *Engine) {
		e.constantsFile = path
	}
}

// NewEngine parses the built-in template set, applies overrides and loads
// the constants file.
func NewEngine(log logging.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		log:       log,
		constants: map[string]interface{}{},
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}

	if err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// funcMap lists the helper functions available inside templates.
func funcMap() template.FuncMap {
	return template.FuncMap{
		"ipver":     ipVersion,
		"masklen":   maskLen,
		"maxlen":    maxLen,
		"network":   networkAddr,
		"addrcount": addrCount,
	}
}

// reload re-parses built-ins, overrides and constants into a fresh set and
// swaps it in atomically.
func (e *Engine) reload() error {
	set := template.New("bgpcfgd").Option("missingkey=error").Funcs(funcMap())

	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return errors.Wrap(err, "failed to list built-in templates")
	}
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return errors.Wrapf(err, "failed to read built-in template %s", entry.Name())
		}
		name := strings.TrimSuffix(entry.Name(), tmplSuffix)
		if _, err := set.New(name).Parse(string(data)); err != nil {
			return errors.Wrapf(err, "failed to parse built-in template %s", entry.Name())
		}
	}

	if e.overrideDir != "" {
		overrides, err := filepath.Glob(filepath.Join(e.overrideDir, "*"+tmplSuffix))
		if err != nil {
			return errors.Wrap(err, "failed to list template overrides")
		}
		for _, path := range overrides {
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "failed to read template override %s", path)
			}
			name := strings.TrimSuffix(filepath.Base(path), tmplSuffix)
			if _, err := set.New(name).Parse(string(data)); err != nil {
				return errors.Wrapf(err, "failed to parse template override %s", path)
			}
			e.log.Debugf("Loaded template override: %s", name)
		}
	}

	constants := map[string]interface{}{}
	if e.constantsFile != "" {
		data, err := os.ReadFile(e.constantsFile)
		if err != nil {
			return errors.Wrapf(err, "failed to read constants file %s", e.constantsFile)
		}
		if err := yaml.Unmarshal(data, &constants); err != nil {
			return errors.Wrapf(err, "failed to parse constants file %s", e.constantsFile)
		}
	}

	e.mu.Lock()
	e.set = set
	e.constants = constants
	e.mu.Unlock()
	return nil
}

// Render executes the named template with the given context. The engine
// never performs I/O here. A missing template or a reference to an absent
// context field yields an error; callers treat any render error as
// non-fatal and scoped to the identity being rendered.
func (e *Engine) Render(name string, ctx Context) (string, error) {
	e.mu.RLock()
	set := e.set
	constants := e.constants
	e.mu.RUnlock()

	tmpl := set.Lookup(name)
	if tmpl == nil {
		return "", errors.Errorf("unknown template %q", name)
	}

	data := Context{"Constants": constants}
	for key, value := range ctx {
		data[key] = value
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]interface{}(data)); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n") + "\n", nil
}

// StartWatching re-parses the template set whenever the override directory
// or the constants file changes. NOOP when neither is configured.
func (e *Engine) StartWatching() error {
	if e.overrideDir == "" && e.constantsFile == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create template watcher")
	}
	e.watcher = watcher
	if e.overrideDir != "" {
		if err := watcher.Add(e.overrideDir); err != nil {
			watcher.Close()
			return errors.Wrapf(err, "failed to watch template dir %s", e.overrideDir)
		}
	}
	if e.constantsFile != "" {
		if err := watcher.Add(filepath.Dir(e.constantsFile)); err != nil {
			watcher.Close()
			return errors.Wrapf(err, "failed to watch constants file %s", e.constantsFile)
		}
	}

	e.wg.Add(1)
	go e.watch()
	return nil
}

func (e *Engine) watch() {
	defer e.wg.Done()

	for {
		select {
		case <-e.done:
			return

		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			e.log.Infof("Template sources changed (%s), re-parsing", event.Name)
			if err := e.reload(); err != nil {
				// keep serving the previous set
				e.log.Errorf("Failed to reload templates: %v", err)
			}

		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			e.log.Warnf("Template watcher error: %v", err)
		}
	}
}

// Close stops the override-directory watcher.
func (e *Engine) Close() error {
	close(e.done)
	if e.watcher != nil {
		err := e.watcher.Close()
		e.wg.Wait()
		return err
	}
	return nil
}

/***************************** Template helpers *******************************/

// ipVersion returns 4 or 6 for an address or prefix, 0 when unparsable.
func ipVersion(addr string) int {
	host := addr
	if strings.Contains(addr, "/") {
		ip, _, err := net.ParseCIDR(addr)
		if err != nil {
			return 0
		}
		host = ip.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return 0
	}
	if ip.To4() != nil {
		return 4
	}
	return 6
}

// maskLen returns the prefix length of a CIDR string.
func maskLen(prefix string) (int, error) {
	_, ipNet, err := net.ParseCIDR(prefix)
	if err != nil {
		return 0, err
	}
	ones, _ := ipNet.Mask.Size()
	return ones, nil
}

// maxLen returns the address width (32 or 128) for a CIDR string.
func maxLen(prefix string) (int, error) {
	_, ipNet, err := net.ParseCIDR(prefix)
	if err != nil {
		return 0, err
	}
	_, bits := ipNet.Mask.Size()
	return bits, nil
}

// networkAddr canonicalizes a prefix to its network address form.
func networkAddr(prefix string) (string, error) {
	_, ipNet, err := net.ParseCIDR(prefix)
	if err != nil {
		return "", err
	}
	return ipNet.String(), nil
}

// addrCount returns the number of addresses covered by a prefix, used to
// derive the dynamic-neighbor listen limit for peer ranges.
func addrCount(prefix string) (uint64, error) {
	_, ipNet, err := net.ParseCIDR(prefix)
	if err != nil {
		return 0, err
	}
	count := cidr.AddressCount(ipNet)
	return count, nil
}
