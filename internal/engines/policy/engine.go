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

// Package policy decides how many cores should be online and drives the
// core manager toward that number.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-state-helper/internal/config"
	"github.com/llm-d/llm-d-state-helper/internal/cores"
	"github.com/llm-d/llm-d-state-helper/internal/logging"
	"github.com/llm-d/llm-d-state-helper/internal/metrics"
	"github.com/llm-d/llm-d-state-helper/internal/statewatch"
)

// StateSource reports the current power state.
type StateSource interface {
	State() statewatch.PowerState
}

// EngineConfig holds the collaborators of an Engine.
type EngineConfig struct {
	Cores  cores.Manager
	Policy *config.PolicyConfig
	State  StateSource
	// SuspendFloor is the number of cores kept online while suspended.
	// Zero means config.DefaultSuspendFloor.
	SuspendFloor int
	// Recorder is optional.
	Recorder *metrics.Recorder
	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// Result describes one reconcile pass.
type Result struct {
	State        statewatch.PowerState
	Target       int
	ActiveBefore int
	ActiveAfter  int
	Activated    []int
	Deactivated  []int
	Failed       []int
	Cores        []cores.Status
	Completed    time.Time
	Duration     time.Duration
}

// Achieved reports whether the pass ended with the target met.
func (r Result) Achieved() bool {
	return r.ActiveAfter == r.Target
}

// OnlineCores returns the indices reported online at the end of the pass.
func (r Result) OnlineCores() []int {
	ids := []int{}
	for _, c := range r.Cores {
		if c.Online {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Engine converges the number of online cores to the policy target. Passes
// are serialized; each one re-reads the power state, the policy and the
// platform, so a pass never acts on stale input.
type Engine struct {
	config *EngineConfig
	clock  clock.PassiveClock

	mu   sync.Mutex
	last *Result
}

// NewEngine creates an Engine after validating its configuration.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Cores == nil || cfg.Policy == nil || cfg.State == nil {
		return nil, fmt.Errorf("cores, policy and state source are required")
	}
	total := cfg.Cores.TotalCores()
	if cfg.Policy.TotalCores() != total {
		return nil, fmt.Errorf("policy sized for %d cores, manager has %d", cfg.Policy.TotalCores(), total)
	}
	if cfg.SuspendFloor == 0 {
		cfg.SuspendFloor = config.DefaultSuspendFloor
	}
	if cfg.SuspendFloor < 1 || cfg.SuspendFloor > total {
		return nil, fmt.Errorf("suspend floor must be between 1 and %d, got %d", total, cfg.SuspendFloor)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{config: cfg, clock: clk}, nil
}

// Target returns the number of cores that should be online for state under
// the current policy.
func (e *Engine) Target(state statewatch.PowerState) int {
	if state == statewatch.Suspended {
		return e.config.SuspendFloor
	}
	return min(e.config.Policy.MaxActiveCores(), e.config.Cores.TotalCores())
}

// SuspendFloor returns the number of cores kept online while suspended.
func (e *Engine) SuspendFloor() int {
	return e.config.SuspendFloor
}

// LastResult returns the most recent reconcile result, if any.
func (e *Engine) LastResult() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Result{}, false
	}
	return *e.last, true
}

// Reconcile brings the number of online cores to the target. Refused
// transitions do not stop the pass; they are collected into the returned
// aggregate error and the pass moves on to the next candidate core.
func (e *Engine) Reconcile(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := ctrl.LoggerFrom(ctx)
	start := e.clock.Now()
	diagnostics := e.config.Policy.Diagnostics()
	state := e.config.State.State()
	target := e.Target(state)
	total := e.config.Cores.TotalCores()

	result := Result{State: state, Target: target}
	var errs []error

	online, err := e.config.Cores.IsActive(cores.PrimaryCore)
	if err != nil {
		errs = append(errs, err)
	} else if !online {
		logger.Info("Primary core found offline, bringing it back")
		if err := e.transition(logger, &result, cores.PrimaryCore, cores.OpActivate, diagnostics); err != nil {
			errs = append(errs, err)
		}
	}

	active, err := e.config.Cores.ActiveCount()
	if err != nil {
		return e.finish(logger, result, start, append(errs, fmt.Errorf("failed to count active cores: %w", err)))
	}
	result.ActiveBefore = active

	if target == active {
		if diagnostics {
			logger.Info("Target already achieved", "target", target)
		}
		if statuses, err := cores.Snapshot(e.config.Cores); err != nil {
			errs = append(errs, fmt.Errorf("failed to read core status: %w", err))
		} else {
			result.Cores = statuses
		}
		result.ActiveAfter = active
		return e.finish(logger, result, start, errs)
	}

	switch {
	case target < active:
		for id := cores.PrimaryCore + 1; id < total && active > target; id++ {
			online, err := e.config.Cores.IsActive(id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !online {
				continue
			}
			if err := e.transition(logger, &result, id, cores.OpDeactivate, diagnostics); err != nil {
				errs = append(errs, err)
				continue
			}
			active--
		}
	default:
		for id := 0; id < total && active < target; id++ {
			online, err := e.config.Cores.IsActive(id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if online {
				continue
			}
			if err := e.transition(logger, &result, id, cores.OpActivate, diagnostics); err != nil {
				errs = append(errs, err)
				continue
			}
			active++
		}
	}

	statuses, err := cores.Snapshot(e.config.Cores)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to read core status: %w", err))
		result.ActiveAfter = active
	} else {
		result.Cores = statuses
		result.ActiveAfter = len(result.OnlineCores())
	}

	if diagnostics {
		logger.Info("Target requested",
			"state", state,
			"target", target,
			"active", result.ActiveAfter,
			"online", cores.FormatCPUList(result.OnlineCores()),
			"offline", cores.FormatCPUList(offlineCores(statuses)))
	}
	return e.finish(logger, result, start, errs)
}

// RestoreAll activates every offline core. It is used when the policy is
// switched off so the machine is left with all cores available.
func (e *Engine) RestoreAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := ctrl.LoggerFrom(ctx)
	diagnostics := e.config.Policy.Diagnostics()
	var result Result
	var errs []error
	for id := 0; id < e.config.Cores.TotalCores(); id++ {
		online, err := e.config.Cores.IsActive(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if online {
			continue
		}
		if err := e.transition(logger, &result, id, cores.OpActivate, diagnostics); err != nil {
			errs = append(errs, err)
		}
	}
	if active, err := e.config.Cores.ActiveCount(); err == nil {
		e.config.Recorder.ObserveActiveCores(active)
	}
	logger.V(logging.DEBUG).Info("Restored cores", "activated", result.Activated, "failed", result.Failed)
	return utilerrors.NewAggregate(errs)
}

func (e *Engine) transition(logger logr.Logger, result *Result, id int, op cores.Operation, diagnostics bool) error {
	var err error
	if op == cores.OpActivate {
		if diagnostics {
			logger.Info(fmt.Sprintf("Switching CPU%d online", id))
		}
		err = e.config.Cores.Activate(id)
	} else {
		if diagnostics {
			logger.Info(fmt.Sprintf("Switching CPU%d offline", id))
		}
		err = e.config.Cores.Deactivate(id)
	}
	e.config.Recorder.ObserveTransition(string(op), err)

	if err != nil {
		result.Failed = append(result.Failed, id)
		if diagnostics {
			logger.Error(err, "Core transition failed", "cpu", id, "operation", op)
		}
		return err
	}
	if op == cores.OpActivate {
		result.Activated = append(result.Activated, id)
	} else {
		result.Deactivated = append(result.Deactivated, id)
	}
	return nil
}

func (e *Engine) finish(logger logr.Logger, result Result, start time.Time, errs []error) (Result, error) {
	result.Completed = e.clock.Now()
	result.Duration = result.Completed.Sub(start)
	agg := utilerrors.NewAggregate(errs)

	e.config.Recorder.ObserveReconcile(result.Target, result.ActiveAfter,
		result.State == statewatch.Suspended, result.Duration, agg)
	logger.V(logging.DEBUG).Info("Reconcile finished",
		"target", result.Target,
		"activeBefore", result.ActiveBefore,
		"activeAfter", result.ActiveAfter,
		"activated", result.Activated,
		"deactivated", result.Deactivated,
		"duration", result.Duration.String())

	last := result
	e.last = &last
	if agg != nil {
		return result, agg
	}
	return result, nil
}

func offlineCores(statuses []cores.Status) []int {
	ids := []int{}
	for _, c := range statuses {
		if !c.Online {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
