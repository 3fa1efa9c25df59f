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

// Package v1alpha1 contains the documents the state helper daemon serves:
// the tunables it runs with and the status of the last reconcile.
package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// GroupVersion is the apiVersion stamped on served documents.
	GroupVersion = "statehelper.llm-d.ai/v1alpha1"
	// Kind is the kind stamped on served documents.
	Kind = "StateHelper"
)

// StateHelperSpec holds the policy tunables in effect.
type StateHelperSpec struct {
	// Enabled reports whether the policy is driving the cores.
	Enabled bool `json:"enabled"`

	// MaxActiveCores is the ceiling applied while the device is active.
	// +kubebuilder:validation:Minimum=1
	MaxActiveCores int32 `json:"maxActiveCores"`

	// SuspendFloor is the number of cores kept online while suspended.
	// +kubebuilder:validation:Minimum=1
	SuspendFloor int32 `json:"suspendFloor"`

	// Diagnostics reports whether reconcile passes log their decisions.
	Diagnostics bool `json:"diagnostics"`
}

// CoreStatus is the observed state of one core.
type CoreStatus struct {
	// ID is the core index.
	ID int32 `json:"id"`

	// Online reports whether the core was online when last read.
	Online bool `json:"online"`
}

// ReconcileStatus summarizes the most recent reconcile pass.
type ReconcileStatus struct {
	// LastRunTime is when the pass completed.
	LastRunTime metav1.Time `json:"lastRunTime,omitempty"`

	// PowerState is the state the pass acted on.
	PowerState string `json:"powerState"`

	// Target is the number of cores the pass aimed for.
	Target int32 `json:"target"`

	// ActiveBefore and ActiveAfter count online cores around the pass.
	ActiveBefore int32 `json:"activeBefore"`
	ActiveAfter  int32 `json:"activeAfter"`

	// +optional
	Activated []int32 `json:"activated,omitempty"`
	// +optional
	Deactivated []int32 `json:"deactivated,omitempty"`
	// Failed lists cores whose transition the platform refused.
	// +optional
	Failed []int32 `json:"failed,omitempty"`

	// Duration is the wall time of the pass, in Go duration format.
	Duration string `json:"duration,omitempty"`
}

// StateHelperStatus is the observed state of the machine and the controller.
type StateHelperStatus struct {
	// PowerState is the current power state ("active" or "suspended").
	PowerState string `json:"powerState"`

	// TotalCores is the number of managed cores.
	TotalCores int32 `json:"totalCores"`

	// ActiveCores is the number of cores online right now.
	ActiveCores int32 `json:"activeCores"`

	// Online lists the online cores in cpulist form, e.g. "0,6-7".
	Online string `json:"online"`

	// Cores holds per-core state in ascending index order.
	// +optional
	Cores []CoreStatus `json:"cores,omitempty"`

	// LastReconcile is absent until the first pass completes.
	// +optional
	LastReconcile *ReconcileStatus `json:"lastReconcile,omitempty"`

	// Conditions represent the latest available observations of the controller's state
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty" patchStrategy:"merge" patchMergeKey:"type"`
}

// StateHelper is the document served by the daemon's status endpoint.
type StateHelper struct {
	metav1.TypeMeta `json:",inline"`

	Spec   StateHelperSpec   `json:"spec"`
	Status StateHelperStatus `json:"status,omitempty"`
}

// NewStateHelper returns a document with its type metadata set.
func NewStateHelper() *StateHelper {
	return &StateHelper{
		TypeMeta: metav1.TypeMeta{
			APIVersion: GroupVersion,
			Kind:       Kind,
		},
	}
}

// Condition Types for StateHelper
const (
	// TypeReady indicates whether the controller is enabled and receiving power-state events
	TypeReady = "Ready"
	// TypeTargetAchieved indicates whether the last reconcile reached its target
	TypeTargetAchieved = "TargetAchieved"
)

// Condition Reasons for Ready
const (
	// ReasonRunning indicates the queue and the subscription are live
	ReasonRunning = "Running"
	// ReasonDisabled indicates the policy is switched off
	ReasonDisabled = "Disabled"
	// ReasonAllocationFailed indicates the last start could not allocate its resources
	ReasonAllocationFailed = "AllocationFailed"
)

// Condition Reasons for TargetAchieved
const (
	// ReasonTargetReached indicates the active count matches the target
	ReasonTargetReached = "TargetReached"
	// ReasonTransitionsFailed indicates the platform refused one or more transitions
	ReasonTransitionsFailed = "TransitionsFailed"
	// ReasonNotReconciled indicates no reconcile has completed yet
	ReasonNotReconciled = "NotReconciled"
)
