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

package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/ligato/cn-infra/health/statuscheck"
	"github.com/ligato/cn-infra/infra"
	prometheusplugin "github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/ligato/cn-infra/rpc/rest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/controlplane"
	"github.com/routeops/bgpcfgd/plugins/statestore"
)

const (
	// how many events can be buffered at most
	eventQueueSize = 1000

	// by default, dirty identities are coalesced for half a second before
	// one render/diff/apply cycle
	defaultDebounceWindow = 500 * time.Millisecond

	// by default, Controller will report error to status check if it does
	// not receive the startup StoreResync event within the first 30secs
	// of runtime
	defaultStartupResyncDeadline = 30 * time.Second

	// by default, the lost store connection is probed every 3 seconds
	// (with one Ping)
	defaultStoreProbingInterval = 3 * time.Second

	// by default, a full flush is re-attempted 5 seconds after the applier
	// gave up on a batch
	defaultDelayAfterFailureRetry = 5 * time.Second

	// by default, the config store is logical DB 4
	defaultConfigDB = 4
)

// defaultTables are the config-store tables watched when none are
// configured explicitly.
var defaultTables = []string{
	"DEVICE_METADATA",
	"VRF",
	"BGP_NEIGHBOR",
	"BGP_PEER_RANGE",
	"PREFIX_SET",
	"ROUTE_MAP",
}

// Controller implements the single event loop of the daemon.
//
// Events are represented by instances of the api.Event interface. A new
// event can be pushed into the loop for processing via the PushEvent method
// from the api.EventLoop interface, implemented by the Controller plugin.
//
// Domain managers implement the api.EventHandler interface and are passed
// to the Controller via the EventHandlers attribute of Deps. The order of
// the handlers in the array matters - if manager B reads the state of
// manager A (e.g. neighbors read the VRF set), then A should precede B in
// the array. All handler calls happen synchronously inside the event loop;
// a manager's desired state is never mutated concurrently.
//
// The loop moves through the states:
//
//	Resyncing -> Steady (first StoreResync processed)
//	Steady -> Resyncing (store connection lost)
//	Steady -> Draining -> Stopped (shutdown)
//
// In Resyncing, incoming StateChange events still update the managers'
// desired state but no rendering or applying happens - this prevents
// spurious removes for keys that simply have not been re-delivered yet.
//
// In Steady, managers mark identities dirty and the Controller owns the
// debounce timer that coalesces bursts of related changes into one flush
// cycle: every interested manager renders its dirty identities, the result
// is diffed against the applied-fragment baselines, ordered (removes before
// adds, globally) and handed to the control-plane applier as one batch.
// Baselines advance only when the batch commits; on failure the next cycle
// renders everything and recomputes the same diff.
//
// Flushes are additionally gated on the control-plane health published by
// the monitor: while the control plane is restarting or down, dirty
// identities accumulate and the flush runs once health recovers.
type Controller struct {
	Deps

	config       *Config
	storeWatcher *storeWatcher

	state     State
	health    api.HealthState
	baselines fragment.Baselines

	pendingFlush   bool
	pendingFull    bool
	retryPending   bool
	retryScheduled bool

	flushTimer   *time.Timer
	timerRunning bool

	evLoopGID          string            // ID of the go routine running the event loop
	delayedEvents      []*QueuedEvent    // events delayed until after the first resync
	eventQueue         chan *QueuedEvent
	followUpEventQueue chan *QueuedEvent // events sent from within the event loop
	startupResyncCheck chan struct{}

	resyncCount int
	evSeqNum    uint64

	eventsProcessed  prometheus.Counter
	batchesCommitted prometheus.Counter
	batchesFailed    prometheus.Counter
	loopState        prometheus.Gauge
	dirtyBacklog     prometheus.Gauge

	historyLock  sync.Mutex
	eventHistory []*EventRecord

	statusLock sync.Mutex
	status     controllerStatus // snapshot for the REST API, updated by the loop

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	closeMu sync.Mutex
}

// Deps lists dependencies of the Controller.
type Deps struct {
	infra.PluginDeps

	StatusCheck  statuscheck.PluginStatusWriter
	HTTPHandlers rest.HTTPHandlers
	Prometheus   prometheusplugin.API

	StateStore   statestore.API
	ControlPlane controlplane.API

	EventHandlers []api.EventHandler
}

// Config holds the Controller configuration.
type Config struct {
	// debounce
	DebounceWindow time.Duration `json:"debounce-window"`

	// startup resync
	StartupResyncDeadline time.Duration `json:"startup-resync-deadline"`

	// store connection
	ConfigDB             int           `json:"config-db"`
	Tables               []string      `json:"tables"`
	StoreProbingInterval time.Duration `json:"store-probing-interval"`

	// retry after the applier gave up on a batch
	DelayAfterFailureRetry time.Duration `json:"delay-after-failure-retry"`
}

// State of the Controller's event loop.
type State int

const (
	// Resyncing means reconciliation is suspended until a full snapshot
	// arrives.
	Resyncing State = iota

	// Steady is the normal operation: coalesce, render, diff, apply.
	Steady

	// Draining means no new events are accepted, the current batch is
	// being completed.
	Draining

	// Stopped means the event loop has exited.
	Stopped
)

// String converts State into a human-readable string.
func (s State) String() string {
	switch s {
	case Resyncing:
		return "Resyncing"
	case Steady:
		return "Steady"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}

// EventRecord is a record of a processed event, added into the history of
// events, available via REST interface.
type EventRecord struct {
	SeqNum          uint64
	IsFollowUp      bool
	FollowUpTo      uint64
	ProcessingStart time.Time
	ProcessingEnd   time.Time
	Name            string
	Description     string
	Method          api.EventMethodType
	Handlers        []*EventHandlingRecord
	Commands        string
	ApplyError      error
	ApplyErrorStr   string
}

// EventHandlingRecord is a record of an event being handled by a given
// handler.
type EventHandlingRecord struct {
	Handler  string
	Change   string // change description for update events
	Error    error  // nil if none
	ErrorStr string // string representation of the error (if any)
}

// QueuedEvent wraps event for the event queue.
type QueuedEvent struct {
	event           api.Event
	isFollowUp      bool
	followUpToEvent uint64 // event sequence number
}

var (
	// ErrClosedController is returned when Controller is used when it is already closed.
	ErrClosedController = errors.New("controller was closed")
	// ErrEventQueueFull is returned when queue for events is full.
	ErrEventQueueFull = errors.New("queue with events is full")
)

// Init loads config file and starts the event loop.
func (c *Controller) Init() error {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.eventQueue = make(chan *QueuedEvent, eventQueueSize)
	c.followUpEventQueue = make(chan *QueuedEvent, eventQueueSize)
	c.startupResyncCheck = make(chan struct{}, 1)
	c.baselines = make(fragment.Baselines)
	c.state = Resyncing
	c.health = api.HealthUnknown
	c.updateStatus()

	c.flushTimer = time.NewTimer(0)
	if !c.flushTimer.Stop() {
		<-c.flushTimer.C
	}

	// default configuration
	if c.config == nil {
		c.config = &Config{
			DebounceWindow:         defaultDebounceWindow,
			StartupResyncDeadline:  defaultStartupResyncDeadline,
			ConfigDB:               defaultConfigDB,
			Tables:                 defaultTables,
			StoreProbingInterval:   defaultStoreProbingInterval,
			DelayAfterFailureRetry: defaultDelayAfterFailureRetry,
		}

		// load configuration
		err := c.loadConfig(c.config)
		if err != nil {
			c.Log.Error(err)
		}
	}
	c.Log.Infof("Controller configuration: %+v", *c.config)

	// register controller with status check
	if c.StatusCheck != nil {
		c.StatusCheck.Register(c.PluginName, nil)
	}

	if err := c.registerMetrics(); err != nil {
		return err
	}

	// start event loop
	c.wg.Add(1)
	go c.eventLoop()

	// start go routine that will send signal to check for status of startup
	// resync when timeout expires
	c.wg.Add(1)
	go c.signalStartupResyncCheck()

	// register REST API handlers
	c.registerHandlers()
	return nil
}

// AfterInit starts the store watcher.
func (c *Controller) AfterInit() error {
	c.storeWatcher = newStoreWatcher(&storeWatcherArgs{
		log:             c.Log.NewLogger("storewatcher"),
		eventLoop:       c,
		store:           c.StateStore,
		db:              c.config.ConfigDB,
		tables:          c.config.Tables,
		probingInterval: c.config.StoreProbingInterval,
	})
	return nil
}

// PushEvent adds the given event into the queue for processing.
func (c *Controller) PushEvent(event api.Event) error {
	callerGID := getGID()
	if callerGID == c.evLoopGID {
		// follow up events (sent from within the event loop) should not be blocking
		// and will be prioritized (won't be overtaken by non-follow-up events)
		if event.IsBlocking() {
			panic("deadlock detected - blocking event sent from within the event loop")
		}
		select {
		case <-c.ctx.Done():
			return ErrClosedController
		case c.followUpEventQueue <- &QueuedEvent{
			event:           event,
			isFollowUp:      true,
			followUpToEvent: c.evSeqNum - 1}:
			return nil
		default:
			return ErrEventQueueFull
		}
	}

	select {
	case <-c.ctx.Done():
		return ErrClosedController
	case c.eventQueue <- &QueuedEvent{event: event}:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// signalStartupResyncCheck sends signal after StartupResyncDeadline to check
// for status of the startup resync (it blocks other events).
func (c *Controller) signalStartupResyncCheck() {
	defer c.wg.Done()

	select {
	case <-c.ctx.Done():
		return
	case <-time.After(c.config.StartupResyncDeadline):
		c.startupResyncCheck <- struct{}{}
		return
	}
}

// eventLoop implements the main event loop of the daemon.
func (c *Controller) eventLoop() {
	defer c.wg.Done()
	c.evLoopGID = getGID()

	for {
		select {
		case <-c.ctx.Done():
			c.state = Stopped
			return

		case event := <-c.followUpEventQueue:
			exit := c.receiveEvent(event)
			if exit {
				return
			}

		case event := <-c.eventQueue:
			exit := c.receiveEvent(event)
			if exit {
				return
			}

		case <-c.flushTimer.C:
			c.timerRunning = false
			exit := c.receiveEvent(&QueuedEvent{
				event:      api.NewFlushRequest(c.retryPending),
				isFollowUp: true,
			})
			if exit {
				return
			}

		case <-c.startupResyncCheck:
			// check that startup resync was performed
			if c.resyncCount == 0 {
				err := fmt.Errorf("startup resync has not executed within the first %v",
					c.config.StartupResyncDeadline)
				c.Log.Error(err)
				if c.StatusCheck != nil {
					c.StatusCheck.ReportStateChange(c.PluginName, statuscheck.Error, err)
				}
			}
		}
	}
}

// receiveEvent receives event from the event queue.
func (c *Controller) receiveEvent(qe *QueuedEvent) (exitLoop bool) {
	// handle startup resync
	if c.resyncCount == 0 {
		// StoreResync must be the first event to process
		if _, isResync := qe.event.(*api.StoreResync); !isResync {
			// events received before the first StoreResync will be replayed
			// afterwards
			c.delayedEvents = append(c.delayedEvents, qe)
			return false // wait until the startup resync
		}
	}

	// process the received event + all the delayed events
	events := append([]*QueuedEvent{qe}, c.delayedEvents...)
	for len(events) > 0 {
		// check if there is any follow-up event
		if !qe.isFollowUp {
			select {
			case followUpEvent := <-c.followUpEventQueue:
				events = append([]*QueuedEvent{followUpEvent}, events...)
			default:
				// NOOP
			}
		}
		// pop and process the first event
		event := events[0]
		events = events[1:]
		err := c.processEvent(event)
		if err != nil {
			if _, fatalErr := err.(*api.FatalError); fatalErr {
				// fatal error -> report to the status check and stop
				if c.StatusCheck != nil {
					c.StatusCheck.ReportStateChange(c.PluginName, statuscheck.Error, err)
				}
				c.state = Stopped
				return true
			}
		}
		if _, isShutdown := event.event.(*api.Shutdown); isShutdown {
			c.state = Stopped
			return true
		}
	}
	c.delayedEvents = []*QueuedEvent{}
	return false
}

// processEvent processes the next event.
func (c *Controller) processEvent(qe *QueuedEvent) error {
	var wasErr error
	event := qe.event

	// 1. prepare for resync
	var snapshot api.TableData
	if event.Method() == api.Resync {
		c.resyncCount++ // first resync has resyncCount == 1
		if storeResync, isStoreResync := event.(*api.StoreResync); isStoreResync {
			snapshot = storeResync.Snapshot
		}
	}

	// 2. get the event handlers interested in the event
	eventHandlers := filterHandlersForEvent(event, c.EventHandlers)

	// 3. prepare record of the event for the history
	evRecord := &EventRecord{
		SeqNum:          c.evSeqNum,
		IsFollowUp:      qe.isFollowUp,
		FollowUpTo:      qe.followUpToEvent,
		ProcessingStart: time.Now(),
		Name:            event.GetName(),
		Description:     event.String(),
		Method:          event.Method(),
	}
	c.evSeqNum++

	// 4. print information about the new event
	c.printNewEvent(evRecord, eventHandlers)

	// 5. execute Resync/Update of every interested handler
	for _, handler := range eventHandlers {
		var (
			change string
			errStr string
			err    error
		)
		if event.Method() == api.Resync {
			err = handler.Resync(event, snapshot, c.resyncCount)
		} else if _, isChange := event.(*api.StateChange); isChange {
			change, err = handler.Update(event)
		}
		if err != nil {
			errStr = err.Error()
			wasErr = err
		}

		// record operation
		if change != "" || err != nil {
			evRecord.Handlers = append(evRecord.Handlers, &EventHandlingRecord{
				Handler:  handler.String(),
				Change:   change,
				Error:    err,
				ErrorStr: errStr,
			})
		}

		if err != nil {
			if _, fatalErr := err.(*api.FatalError); fatalErr {
				break
			}
		}
	}

	// 6. update the loop state and run the flush cycle where the event
	//    requires it
	if wasErr == nil {
		switch ev := event.(type) {
		case *api.StoreResync:
			c.state = Steady
			wasErr = c.flush(evRecord, true)

		case *api.StoreDown:
			c.state = Resyncing
			if c.StatusCheck != nil {
				c.StatusCheck.ReportStateChange(c.PluginName, statuscheck.Error,
					api.NewStoreUnavailableError(ev.Error))
			}

		case *api.HealthUpdate:
			c.health = ev.Current
			if c.healthOK() && c.pendingFlush {
				wasErr = c.flush(evRecord, c.pendingFull)
			}

		case *api.StateChange:
			if c.dirtyCount() > 0 {
				c.scheduleFlush()
			}

		case *api.FlushRequest:
			wasErr = c.flush(evRecord, ev.Full || c.retryPending)

		case *api.Shutdown:
			c.state = Draining
			if c.dirtyCount() > 0 || c.pendingFlush || c.retryPending {
				wasErr = c.flush(evRecord, c.retryPending)
			}
			if abandoned := c.dirtyCount(); abandoned > 0 {
				c.Log.Warnf("Stopping with %d dirty identities left unapplied "+
					"(control-plane health is %v)", abandoned, c.health)
			} else {
				c.Log.Info("Event loop drained clean")
			}
		}
	}

	// 7. finalize event processing
	c.exportLoopMetrics()
	c.updateStatus()
	evRecord.ProcessingEnd = time.Now()
	c.printFinalizedEvent(evRecord)
	c.historyLock.Lock()
	c.eventHistory = append(c.eventHistory, evRecord)
	c.historyLock.Unlock()
	event.Done(wasErr)

	return wasErr
}

// flush runs one render/diff/apply cycle. With full=true all desired
// identities are rendered and the baselines not re-rendered are swept
// (removed from the control plane).
func (c *Controller) flush(evRecord *EventRecord, full bool) error {
	// gate on the loop state and on the control-plane health
	if c.state != Steady && c.state != Draining {
		c.deferFlush(full)
		return nil
	}
	if !c.healthOK() {
		c.Log.Infof("Deferring flush: control-plane health is %v", c.health)
		c.deferFlush(full)
		return nil
	}
	c.pendingFlush = false
	c.pendingFull = false
	if full {
		c.retryScheduled = false
	}

	// render
	txn := newFragmentTxn()
	for _, handler := range c.EventHandlers {
		if err := handler.Flush(txn, full); err != nil {
			// render errors are per-identity and non-fatal; a handler error
			// here means the whole domain failed
			c.Log.Errorf("Flush of %s failed: %v", handler.String(), err)
		}
	}

	// diff against the baselines
	var batch []fragment.Command
	for key, rendered := range txn.puts {
		batch = append(batch, fragment.Diff(key, rendered, c.baseline(key))...)
	}
	for key := range txn.deletes {
		batch = append(batch, fragment.Diff(key, nil, c.baseline(key))...)
	}
	if full {
		// baselines not re-rendered by a full flush are no longer desired
		for key := range c.baselines {
			if _, has := txn.puts[key]; has {
				continue
			}
			if _, has := txn.deletes[key]; has {
				continue
			}
			batch = append(batch, fragment.Diff(key, nil, c.baseline(key))...)
		}
	}
	batch = fragment.Order(batch)
	evRecord.Commands = fragment.DescribeBatch(batch)

	if len(batch) == 0 {
		c.retryPending = false
		return nil
	}

	// apply
	err := c.ControlPlane.Apply(c.ctx, batch)
	if err != nil {
		evRecord.ApplyError = err
		evRecord.ApplyErrorStr = err.Error()
		// baselines stay untouched - the next cycle recomputes the diff
		c.retryPending = true
		if c.batchesFailed != nil {
			c.batchesFailed.Inc()
		}
		if c.StatusCheck != nil {
			c.StatusCheck.ReportStateChange(c.PluginName, statuscheck.Error, err)
		}
		c.scheduleRetry(err)
		return err
	}

	// advance the baselines
	if full {
		c.baselines = make(fragment.Baselines, len(txn.puts))
	}
	for key, rendered := range txn.puts {
		c.baselines[key] = fragment.Applied{Text: rendered.Text, Undo: rendered.Undo}
	}
	for key := range txn.deletes {
		delete(c.baselines, key)
	}
	c.retryPending = false
	if c.batchesCommitted != nil {
		c.batchesCommitted.Inc()
	}

	if c.StatusCheck != nil {
		c.StatusCheck.ReportStateChange(c.PluginName, statuscheck.OK, nil)
	}
	return nil
}

// baseline looks up the applied baseline for the key.
func (c *Controller) baseline(key fragment.Key) *fragment.Applied {
	if applied, has := c.baselines[key]; has {
		return &applied
	}
	return nil
}

// deferFlush remembers that a flush is owed once the gate opens.
func (c *Controller) deferFlush(full bool) {
	c.pendingFlush = true
	c.pendingFull = c.pendingFull || full
}

// healthOK tells whether the control plane can be configured right now.
// Unknown health does not gate - the monitor may not be deployed.
func (c *Controller) healthOK() bool {
	return c.health != api.HealthDown && c.health != api.HealthRestarting
}

// scheduleFlush (re)arms the debounce timer.
func (c *Controller) scheduleFlush() {
	if c.timerRunning {
		return
	}
	c.flushTimer.Reset(c.config.DebounceWindow)
	c.timerRunning = true
}

// scheduleRetry arranges a full flush to run after the applier gave up on
// a batch.
func (c *Controller) scheduleRetry(afterErr error) {
	if c.retryScheduled {
		return
	}
	c.retryScheduled = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.config.DelayAfterFailureRetry):
			err := c.PushEvent(api.NewFlushRequest(true))
			if err != nil {
				c.Log.Warnf("Failed to schedule retry flush (after %v): %v", afterErr, err)
			}
		}
	}()
}

// dirtyCount sums the dirty identities over all handlers.
func (c *Controller) dirtyCount() (count int) {
	for _, handler := range c.EventHandlers {
		count += handler.DirtyCount()
	}
	return count
}

// Close stops the event loop and the store watching.
func (c *Controller) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	if c.storeWatcher != nil {
		c.storeWatcher.close()
	}
	c.cancel()
	c.wg.Wait()
	return nil
}

// loadConfig loads configuration file.
func (c *Controller) loadConfig(config *Config) error {
	if c.Cfg == nil {
		return nil
	}
	found, err := c.Cfg.LoadValue(config)
	if err != nil {
		return err
	} else if !found {
		c.Log.Debugf("%v config not found", c.PluginName)
		return nil
	}
	c.Log.Debugf("%v config found: %+v", c.PluginName, config)
	return err
}

// getGID returns the current goroutine ID as a string.
func getGID() string {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	return string(b)
}

// filterHandlersForEvent returns only those handlers that are actually
// interested in the event.
func filterHandlersForEvent(event api.Event, handlers []api.EventHandler) []api.EventHandler {
	var filteredHandlers []api.EventHandler
	for _, handler := range handlers {
		if handler.HandlesEvent(event) {
			filteredHandlers = append(filteredHandlers, handler)
		}
	}
	return filteredHandlers
}

// eventSeqNumToStr returns string representing event sequence number.
func eventSeqNumToStr(seqNum uint64) string {
	return "#" + strconv.FormatUint(seqNum, 10)
}
