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

// bgpcfgctl talks to the REST API of a running bgpcfgd.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	host    string
	timeout time.Duration
)

var cmdStatus = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the event loop and the applied baselines",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		get("/controller/status", nil)
	},
}

var (
	historyLast   int
	historySeqNum int
)

var cmdEventHistory = &cobra.Command{
	Use:   "event-history",
	Short: "Show the history of processed events",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		query := url.Values{}
		if cmd.Flags().Changed("seq-num") {
			query.Set("seq-num", strconv.Itoa(historySeqNum))
		} else if cmd.Flags().Changed("last") {
			query.Set("last", strconv.Itoa(historyLast))
		}
		get("/controller/event-history", query)
	},
}

var cmdResync = &cobra.Command{
	Use:   "resync",
	Short: "Ask the daemon to re-snapshot the store and resynchronize",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		post("/controller/resync", nil)
	},
}

var flushFull bool

var cmdFlush = &cobra.Command{
	Use:   "flush",
	Short: "Run a render/diff/apply cycle immediately",
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		query := url.Values{}
		if flushFull {
			query.Set("full", "1")
		}
		post("/controller/flush", query)
	},
}

func main() {
	rootCmd := &cobra.Command{Use: "bgpcfgctl"}
	rootCmd.PersistentFlags().StringVar(&host, "host", "localhost:9191",
		"address of the bgpcfgd REST API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second,
		"HTTP request timeout")

	cmdEventHistory.Flags().IntVar(&historyLast, "last", 10,
		"number of latest records to show")
	cmdEventHistory.Flags().IntVar(&historySeqNum, "seq-num", 0,
		"show the record with the given sequence number")
	cmdFlush.Flags().BoolVar(&flushFull, "full", false,
		"render all desired identities, not just the dirty ones")

	rootCmd.AddCommand(cmdStatus)
	rootCmd.AddCommand(cmdEventHistory)
	rootCmd.AddCommand(cmdResync)
	rootCmd.AddCommand(cmdFlush)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func get(path string, query url.Values) {
	do("GET", path, query)
}

func post(path string, query url.Values) {
	do("POST", path, query)
}

func do(method, path string, query url.Values) {
	reqURL := "http://" + host + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, reqURL, nil)
	if err != nil {
		fail(err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		fail(err)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "%s\n%s\n", resp.Status, body)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(pretty.String())
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
