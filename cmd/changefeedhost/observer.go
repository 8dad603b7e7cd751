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

package main

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/Azure/azure-changefeed-go/changefeed"
)

// loggingObserver is a minimal Observer that logs every batch it
// receives; real hosts supply their own business logic in its place.
type loggingObserver struct {
	log logr.Logger
}

func (o *loggingObserver) Open(ctx context.Context, leaseToken string) error {
	o.log.Info("observer opened", "range", leaseToken)
	return nil
}

func (o *loggingObserver) Process(ctx context.Context, octx changefeed.ObserverContext, items [][]byte) error {
	o.log.Info("processed batch", "range", octx.LeaseToken(), "count", len(items))
	return nil
}

func (o *loggingObserver) Close(ctx context.Context, leaseToken string, reason changefeed.CloseReason) error {
	o.log.Info("observer closed", "range", leaseToken, "reason", reason.String())
	return nil
}

func newExampleObserverFactory(log logr.Logger) changefeed.ObserverFactory {
	return func() changefeed.Observer {
		return &loggingObserver{log: log.WithName("observer")}
	}
}
