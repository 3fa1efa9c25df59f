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

package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-state-helper/internal/attributes"
	"github.com/llm-d/llm-d-state-helper/internal/config"
	"github.com/llm-d/llm-d-state-helper/internal/cores"
	"github.com/llm-d/llm-d-state-helper/internal/debounce"
	"github.com/llm-d/llm-d-state-helper/internal/engines/policy"
	"github.com/llm-d/llm-d-state-helper/internal/logging"
	"github.com/llm-d/llm-d-state-helper/internal/metrics"
	"github.com/llm-d/llm-d-state-helper/internal/statewatch"
)

// GroupName is the attribute group holding the policy tunables.
const GroupName = "state_helper"

const queueName = "state_helper_reconcile"

// newQueueFunc allocates the reconcile queue. Tests replace it to simulate
// allocation failures.
var newQueueFunc = debounce.New

// ErrClosed is returned by tunable writes after Close.
var ErrClosed = errors.New("controller is closed")

// AllocationError reports that Start could not acquire a resource. The
// policy is left disabled.
type AllocationError struct {
	Resource string
	Err      error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("failed to allocate %s: %v", e.Resource, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Options holds the collaborators of a Controller.
type Options struct {
	Cores      cores.Manager
	Policy     *config.PolicyConfig
	Watcher    statewatch.Watcher
	Attributes *attributes.Registry
	// SuspendFloor is passed to the policy engine; zero means the default.
	SuspendFloor int
	// Recorder is optional.
	Recorder *metrics.Recorder
	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// Controller runs the hotplug policy while it is enabled.
type Controller struct {
	ctx     context.Context
	cores   cores.Manager
	policy  *config.PolicyConfig
	watcher statewatch.Watcher
	attrs   *attributes.Registry
	engine  *policy.Engine

	// lifecycle serializes Start, Stop, Close and tunable writes.
	lifecycle   sync.Mutex
	unsubscribe statewatch.CancelFunc
	closed      bool

	// queue is read by watcher callbacks without holding lifecycle.
	queue atomic.Pointer[debounce.Queue]

	conditions conditionSet
}

// New creates the controller, registers its attribute group and starts it
// if the policy defaults say enabled. ctx carries the logger used by the
// reconcile worker and is not used for cancellation.
//
// A failed start is not fatal: the controller is returned disabled, the
// Ready condition records the failure and the error is returned alongside.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Cores == nil || opts.Policy == nil || opts.Watcher == nil || opts.Attributes == nil {
		return nil, fmt.Errorf("cores, policy, watcher and attribute registry are required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	engine, err := policy.NewEngine(&policy.EngineConfig{
		Cores:        opts.Cores,
		Policy:       opts.Policy,
		State:        opts.Watcher,
		SuspendFloor: opts.SuspendFloor,
		Recorder:     opts.Recorder,
		Clock:        clk,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	c := &Controller{
		ctx:     ctrl.LoggerInto(ctx, ctrl.LoggerFrom(ctx).WithName("controller")),
		cores:   opts.Cores,
		policy:  opts.Policy,
		watcher: opts.Watcher,
		attrs:   opts.Attributes,
		engine:  engine,
	}
	c.conditions.init(clk)

	opts.Policy.Reset()
	if err := opts.Attributes.Register(c.attributeGroup()); err != nil {
		return nil, fmt.Errorf("failed to register attributes: %w", err)
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if opts.Policy.Enabled() {
		if err := c.startLocked(); err != nil {
			return c, err
		}
	} else {
		c.conditions.setReady(false, disabledReason, "policy is disabled")
	}
	return c, nil
}

// Close stops the controller if it is running and unregisters its
// attributes. It is safe to call more than once.
func (c *Controller) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.closed {
		return
	}
	if c.policy.Enabled() {
		c.stopLocked()
	}
	c.attrs.Unregister(GroupName)
	c.closed = true
	ctrl.LoggerFrom(c.ctx).V(logging.DEBUG).Info("Controller closed")
}

// SetEnabled writes the enabled tunable. 0→1 starts the controller and 1→0
// stops it; equal values do nothing.
func (c *Controller) SetEnabled(v int) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.closed {
		return ErrClosed
	}
	changed, err := c.policy.SetEnabled(v)
	if err != nil || !changed {
		return err
	}
	if c.policy.Enabled() {
		return c.startLocked()
	}
	c.stopLocked()
	return nil
}

// SetMaxActiveCores writes the ceiling and schedules a reconcile if the
// controller is running.
func (c *Controller) SetMaxActiveCores(v int) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.closed {
		return ErrClosed
	}
	changed, err := c.policy.SetMaxActiveCores(v)
	if err != nil || !changed {
		return err
	}
	if c.policy.Enabled() {
		c.enqueue()
	}
	return nil
}

// SetDiagnostics writes the diagnostics tunable. It takes effect on the next
// reconcile.
func (c *Controller) SetDiagnostics(v int) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err := c.policy.SetDiagnostics(v)
	return err
}

// Running reports whether a reconcile queue is live.
func (c *Controller) Running() bool {
	return c.queue.Load() != nil
}

func (c *Controller) startLocked() error {
	logger := ctrl.LoggerFrom(c.ctx)

	q, err := newQueueFunc(queueName, c.reconcile)
	if err != nil {
		return c.failStartLocked(&AllocationError{Resource: "reconcile queue", Err: err})
	}
	q.Start(c.ctx)
	c.queue.Store(q)

	unsubscribe, err := c.watcher.Subscribe(c.onStateChange)
	if err != nil {
		c.queue.Store(nil)
		q.DrainAndStop()
		return c.failStartLocked(&AllocationError{Resource: "power-state subscription", Err: err})
	}
	c.unsubscribe = unsubscribe

	c.conditions.setReady(true, runningReason, "reconcile queue and subscription are live")
	logger.Info("Core hotplug policy started", "maxActiveCores", c.policy.MaxActiveCores())
	q.Enqueue()
	return nil
}

func (c *Controller) failStartLocked(err *AllocationError) error {
	if _, resetErr := c.policy.SetEnabled(0); resetErr != nil {
		ctrl.LoggerFrom(c.ctx).Error(resetErr, "Failed to switch policy off")
	}
	c.conditions.setReady(false, allocationFailedReason, err.Error())
	ctrl.LoggerFrom(c.ctx).Error(err, "Failed to start core hotplug policy")
	return err
}

func (c *Controller) stopLocked() {
	logger := ctrl.LoggerFrom(c.ctx)

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if q := c.queue.Swap(nil); q != nil {
		q.DrainAndStop()
	}
	if err := c.engine.RestoreAll(c.ctx); err != nil {
		logger.Error(err, "Failed to bring every core back online")
	}
	c.conditions.setReady(false, disabledReason, "policy is disabled")
	logger.Info("Core hotplug policy stopped")
}

// onStateChange runs on the watcher's goroutine.
func (c *Controller) onStateChange() {
	if !c.policy.Enabled() {
		return
	}
	ctrl.LoggerFrom(c.ctx).V(logging.TRACE).Info("Power state changed", "state", c.watcher.State())
	c.enqueue()
}

func (c *Controller) enqueue() {
	if q := c.queue.Load(); q != nil {
		q.Enqueue()
	}
}

func (c *Controller) reconcile(ctx context.Context) {
	result, err := c.engine.Reconcile(ctx)
	if err != nil {
		ctrl.LoggerFrom(ctx).Error(err, "Reconcile left transitions undone", "target", result.Target, "failed", result.Failed)
	}
	c.conditions.setTargetAchieved(result, err)
}

func (c *Controller) attributeGroup() attributes.Group {
	return attributes.Group{
		Name: GroupName,
		Attributes: []attributes.Attribute{
			{
				Name: config.AttrEnabled,
				Show: func() string { return config.FormatBool(c.policy.Enabled()) },
				Store: func(raw string) error {
					v, err := config.ParseValue(config.AttrEnabled, raw)
					if err != nil {
						return err
					}
					return c.SetEnabled(v)
				},
			},
			{
				Name: config.AttrMaxActiveCores,
				Show: func() string { return strconv.Itoa(c.policy.MaxActiveCores()) },
				Store: func(raw string) error {
					v, err := config.ParseValue(config.AttrMaxActiveCores, raw)
					if err != nil {
						return err
					}
					return c.SetMaxActiveCores(v)
				},
			},
			{
				Name: config.AttrDiagnostics,
				Show: func() string { return config.FormatBool(c.policy.Diagnostics()) },
				Store: func(raw string) error {
					v, err := config.ParseValue(config.AttrDiagnostics, raw)
					if err != nil {
						return err
					}
					return c.SetDiagnostics(v)
				},
			},
		},
	}
}
