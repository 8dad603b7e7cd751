/*
Copyright 2021 The KEDA Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package signals gives cmd/changefeedhost a context cancelled on
// SIGINT/SIGTERM, and a forced exit on a second signal during shutdown.
package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
)

// Context returns a context cancelled on the first SIGINT/SIGTERM. A
// second signal while shutdown is still in progress exits the process
// immediately rather than waiting on a hung supervisor.
func Context(log logr.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, beginning shutdown", "signal", sig.String())
		cancel()
		sig = <-sigCh
		log.Info("received second signal during shutdown, exiting immediately", "signal", sig.String())
		os.Exit(1)
	}()
	return ctx
}
