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

// Package controller ties the core hotplug policy together.
//
// A Controller owns the policy engine and, while enabled, a debounce queue
// and a power-state subscription:
//
//	power-state event ─► Queue.Enqueue ─► worker ─► Engine.Reconcile ─► cores.Manager
//
// # Lifecycle
//
// New resets the policy to its defaults, registers the state_helper
// attribute group and starts when the defaults say enabled. Writing the
// enabled attribute 0→1 starts, 1→0 stops. Close stops if needed and removes
// the attribute group.
//
// Start allocates a fresh queue and subscribes to the watcher. If either
// step fails the policy is switched back off and an *AllocationError is
// returned; nothing is left allocated.
//
// Stop unsubscribes, waits for a running reconcile, drops a pending one and
// then brings every core back online.
//
// # Concurrency
//
// Lifecycle transitions and attribute writes are serialized by one mutex.
// Watcher callbacks never take it: they read the enabled flag and the current
// queue pointer and only enqueue.
//
// # Status
//
// Status reports the tunables, live core state, the last reconcile and two
// conditions:
//   - Ready: the controller is enabled and its queue and subscription are live
//   - TargetAchieved: the last reconcile reached its target
package controller
