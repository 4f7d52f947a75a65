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
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/onsi/gomega"
	"github.com/unrolled/render"

	mockcontrolplane "github.com/routeops/bgpcfgd/mock/controlplane"
	mockstatestore "github.com/routeops/bgpcfgd/mock/statestore"
	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/controlplane"
	"github.com/routeops/bgpcfgd/plugins/globalcfg"
)

// TestStatusHandlerConcurrentWithEventLoop serves the status API from the
// HTTP goroutine while the event loop is busy processing changes. The
// handler must only read the loop-maintained snapshot, never the
// loop-owned fields or the managers' dirty sets.
func TestStatusHandlerConcurrentWithEventLoop(t *testing.T) {
	gomega.RegisterTestingT(t)

	// The cn-infra logger registry is process-global and panics on duplicate
	// names, so reset it before constructing another set of plugins.
	logging.DefaultRegistry.ClearRegistry()

	engine, err := templates.NewEngine(logrus.DefaultLogger())
	gomega.Expect(err).To(gomega.BeNil())

	store := mockstatestore.NewMockStateStore()
	sessions := mockcontrolplane.NewMockControlPlane()

	applier := controlplane.NewPlugin(
		controlplane.UseDeps(func(deps *controlplane.Deps) {
			deps.Sessions = sessions
		}),
		controlplane.UseConf(controlplane.Config{
			RetryAttempts: 1,
			DelayRetry:    time.Millisecond,
		}),
	)
	gomega.Expect(applier.Init()).To(gomega.BeNil())

	globalMgr := globalcfg.NewPlugin(globalcfg.UseDeps(func(deps *globalcfg.Deps) {
		deps.Templates = engine
	}))
	gomega.Expect(globalMgr.Init()).To(gomega.BeNil())

	const db = 4
	ctrl := NewPlugin(
		UseDeps(func(deps *Deps) {
			deps.StatusCheck = nil
			deps.HTTPHandlers = nil
			deps.Prometheus = nil
			deps.StateStore = store
			deps.ControlPlane = applier
			deps.EventHandlers = []api.EventHandler{globalMgr}
		}),
		UseConf(Config{
			DebounceWindow:         time.Millisecond,
			StartupResyncDeadline:  time.Minute,
			ConfigDB:               db,
			Tables:                 []string{"DEVICE_METADATA"},
			StoreProbingInterval:   5 * time.Millisecond,
			DelayAfterFailureRetry: 20 * time.Millisecond,
		}),
	)
	gomega.Expect(ctrl.Init()).To(gomega.BeNil())
	gomega.Expect(ctrl.AfterInit()).To(gomega.BeNil())
	defer ctrl.Close()

	err = store.Publish(db, "DEVICE_METADATA", "localhost", api.Fields{"bgp_asn": "65100"})
	gomega.Expect(err).To(gomega.BeNil())
	store.Connect()

	handler := ctrl.statusGetHandler(render.New())
	served := make(chan struct{})
	go func() {
		defer close(served)
		for i := 0; i < 500; i++ {
			handler(httptest.NewRecorder(), httptest.NewRequest("GET", statusURL, nil))
		}
	}()

	// keep the loop busy while the handler hammers the status API
	for i := 0; i < 50; i++ {
		asn := "65100"
		if i%2 == 1 {
			asn = "65200"
		}
		err = store.Publish(db, "DEVICE_METADATA", "localhost", api.Fields{"bgp_asn": asn})
		gomega.Expect(err).To(gomega.BeNil())
	}
	<-served

	// once the loop settles, the snapshot reflects the final state
	gomega.Eventually(func() bool {
		recorder := httptest.NewRecorder()
		handler(recorder, httptest.NewRequest("GET", statusURL, nil))
		if recorder.Code != 200 {
			return false
		}
		var status controllerStatus
		if err := json.Unmarshal(recorder.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.State == "Steady" && status.DirtyCount == 0 && status.Baselines >= 1
	}, time.Second, 5*time.Millisecond).Should(gomega.BeTrue())
}
