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

// Package debounce runs a single task on one background worker, coalescing
// bursts of triggers into at most one pending run.
//
// The queue holds a single key in a client-go workqueue, which already gives
// the needed semantics: adding the key while it is waiting is a no-op, and
// adding it while the task is running schedules exactly one follow-up run.
package debounce

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-state-helper/internal/logging"
)

const taskKey = "reconcile"

// Task is the work executed by the queue's worker.
type Task func(ctx context.Context)

// Queue is a single-slot coalescing task runner. A Queue is started once and
// stopped once; allocate a new one to run again.
type Queue struct {
	name     string
	task     Task
	queue    workqueue.TypedInterface[string]
	stopping atomic.Bool
	started  atomic.Bool
	wg       sync.WaitGroup
}

// New allocates a queue running task.
func New(name string, task Task) (*Queue, error) {
	if name == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	if task == nil {
		return nil, fmt.Errorf("queue task cannot be nil")
	}
	return &Queue{
		name: name,
		task: task,
		queue: workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[string]{
			Name: name,
		}),
	}, nil
}

// Start launches the worker. The context is handed to every task run and is
// never cancelled by the queue itself.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	q.wg.Add(1)
	go q.runWorker(ctx)
}

// Enqueue requests a run without blocking. It is a no-op while a run is
// already pending and after DrainAndStop.
func (q *Queue) Enqueue() {
	q.queue.Add(taskKey)
}

// Pending reports whether a run is waiting to start.
func (q *Queue) Pending() bool {
	return q.queue.Len() > 0
}

// DrainAndStop waits for a running task to finish, cancels a pending one and
// stops the worker. No task runs after it returns.
func (q *Queue) DrainAndStop() {
	q.stopping.Store(true)
	q.queue.ShutDown()
	q.wg.Wait()
}

func (q *Queue) runWorker(ctx context.Context) {
	defer q.wg.Done()
	logger := ctrl.LoggerFrom(ctx).WithValues("queue", q.name)

	for q.processNext(ctx, logger) {
	}
	logger.V(logging.DEBUG).Info("Queue worker stopped")
}

func (q *Queue) processNext(ctx context.Context, logger logr.Logger) bool {
	key, shutdown := q.queue.Get()
	if shutdown {
		return false
	}
	defer q.queue.Done(key)

	if q.stopping.Load() {
		logger.V(logging.DEBUG).Info("Cancelled pending task")
		return true
	}
	q.task(ctx)
	return true
}
