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

// Command changefeedhost is an example host for the change feed
// processor: it wires configuration, signal handling, and a
// PartitionManager together, the way the teacher's cmd/operator wires a
// controller-runtime manager together.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Azure/azure-changefeed-go/changefeed"
	"github.com/Azure/azure-changefeed-go/changefeed/feed"
	"github.com/Azure/azure-changefeed-go/changefeed/leasestore/blob"
	"github.com/Azure/azure-changefeed-go/changefeed/leasestore/memory"
	"github.com/Azure/azure-changefeed-go/internal/signals"
)

func main() {
	pflag.String("instance-name", hostnameOrDefault(), "This host's unique instance name, used as the lease owner value.")
	pflag.String("lease-prefix", "changefeed", "Prefix namespacing this processor's leases within the store.")
	pflag.String("feed-endpoint", "", "Base URL of the change feed's REST endpoint.")
	pflag.String("lease-store", "memory", "Lease store backend: \"memory\" or \"blob\".")
	pflag.String("lease-storage-endpoint", "", "Blob storage account URL, when lease-store=blob.")
	pflag.String("lease-container", "leases", "Blob container name, when lease-store=blob.")
	pflag.String("metrics-bind-address", ":9090", "Address the Prometheus metrics endpoint binds to.")
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("CHANGEFEED")
	v.AutomaticEnv()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Fprintln(os.Stderr, "bind flags:", err)
		os.Exit(1)
	}

	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer zapLog.Sync() //nolint:errcheck
	log := zapr.NewLogger(zapLog).WithName("changefeedhost")

	ctx := signals.Context(log)

	opts, err := changefeed.NewOptions(v.GetString("instance-name"), v.GetString("lease-prefix"))
	if err != nil {
		log.Error(err, "invalid options")
		os.Exit(1)
	}

	var store changefeed.Store
	switch backend := v.GetString("lease-store"); backend {
	case "memory":
		store = memory.New(opts.LeasePrefix)
	case "blob":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			log.Error(err, "build azure credential")
			os.Exit(1)
		}
		client, err := azblob.NewClient(v.GetString("lease-storage-endpoint"), cred, nil)
		if err != nil {
			log.Error(err, "build blob client")
			os.Exit(1)
		}
		store = blob.New(client, v.GetString("lease-container"), opts.LeasePrefix)
	default:
		log.Error(fmt.Errorf("unknown lease-store %q", backend), "invalid configuration")
		os.Exit(1)
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		log.Error(err, "build azure credential")
		os.Exit(1)
	}
	reader, err := feed.NewRESTReader(v.GetString("feed-endpoint"), cred, nil)
	if err != nil {
		log.Error(err, "build feed reader")
		os.Exit(1)
	}

	manager := changefeed.NewLeaseManager(store, opts.InstanceName)
	bootstrap := changefeed.NewBootstrapper(store, reader, opts.LeasePrefix, log)
	controller := changefeed.NewHealthMonitor(
		changefeed.NewPartitionController(store, manager, reader, newExampleObserverFactory(log), opts, log),
		log,
	)
	balancer := changefeed.NewLoadBalancer(store, controller, nil, opts, log)
	pm := changefeed.NewPartitionManager(bootstrap, controller, balancer, opts, log)

	go serveMetrics(v.GetString("metrics-bind-address"), log)

	if err := pm.Start(ctx); err != nil {
		log.Error(err, "partition manager start failed")
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pm.Stop(stopCtx)
}

func serveMetrics(addr string, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error(err, "metrics server stopped")
	}
}

func hostnameOrDefault() string {
	name, err := os.Hostname()
	if err != nil {
		return "changefeedhost"
	}
	return name
}
