/*
Copyright 2025 The llm-d Authors

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
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/llm-d/llm-d-state-helper/internal/attributes"
	"github.com/llm-d/llm-d-state-helper/internal/config"
	"github.com/llm-d/llm-d-state-helper/internal/controller"
	"github.com/llm-d/llm-d-state-helper/internal/cores"
	"github.com/llm-d/llm-d-state-helper/internal/logging"
	"github.com/llm-d/llm-d-state-helper/internal/metrics"
	"github.com/llm-d/llm-d-state-helper/internal/statewatch"
)

const programName = "state-helper"

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 5 * time.Second

var setupLog = ctrl.Log.WithName("setup")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:          programName,
		Short:        "Keeps the number of online CPU cores in line with the device power state",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Optional YAML config file.")
	cobra.CheckErr(config.BindFlags(root.PersistentFlags(), v))

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the hotplug policy daemon",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.LoadDaemonConfig(v, configFile)
				if err != nil {
					return err
				}
				logging.NewLogger(logging.Options{Development: cfg.LogDevelopment, Verbosity: cfg.LogVerbosity})
				return run(ctrl.SetupSignalHandler(), cfg)
			},
		},
		&cobra.Command{
			Use:   "show-config",
			Short: "Print the effective configuration as YAML",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.LoadDaemonConfig(v, configFile)
				if err != nil {
					return err
				}
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("failed to render configuration: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Println(version.Print(programName))
			},
		},
	)
	return root
}

func newCoreManager(cfg *config.DaemonConfig) (cores.Manager, error) {
	switch cfg.Backend {
	case config.BackendSimulated:
		return cores.NewSimulatedManager(cfg.SimulatedCores)
	default:
		return cores.NewSysfsManager(cfg.SysfsRoot)
	}
}

func run(ctx context.Context, cfg *config.DaemonConfig) error {
	setupLog.Info("Starting", "version", version.Info(), "backend", cfg.Backend)

	mgr, err := newCoreManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up %s backend: %w", cfg.Backend, err)
	}
	policy, err := config.NewPolicyConfig(mgr.TotalCores(), cfg.InitialPolicy())
	if err != nil {
		return fmt.Errorf("invalid initial policy: %w", err)
	}

	if err := ctrlmetrics.Registry.Register(versioncollector.NewCollector("state_helper")); err != nil {
		return fmt.Errorf("failed to register build info: %w", err)
	}
	recorder, err := metrics.NewRecorder(ctrlmetrics.Registry)
	if err != nil {
		return err
	}

	watcher := statewatch.NewFileWatcher(cfg.StateFile)
	defer func() {
		_ = watcher.Close()
	}()

	registry := attributes.NewRegistry()
	c, err := controller.New(ctrl.LoggerInto(ctx, ctrl.Log.WithName(programName)), controller.Options{
		Cores:        mgr,
		Policy:       policy,
		Watcher:      watcher,
		Attributes:   registry,
		SuspendFloor: cfg.SuspendFloor,
		Recorder:     recorder,
	})
	if c == nil {
		return err
	}
	if err != nil {
		setupLog.Error(err, "Policy could not start and stays disabled")
	}
	defer c.Close()

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           newRouter(registry, c, ctrlmetrics.Registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		setupLog.Info("Serving attributes, status and metrics", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	setupLog.Info("Shutting down")
	return err
}
