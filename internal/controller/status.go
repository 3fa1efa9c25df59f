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
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-state-helper/api/v1alpha1"
	"github.com/llm-d/llm-d-state-helper/internal/cores"
	"github.com/llm-d/llm-d-state-helper/internal/engines/policy"
)

const (
	runningReason          = v1alpha1.ReasonRunning
	disabledReason         = v1alpha1.ReasonDisabled
	allocationFailedReason = v1alpha1.ReasonAllocationFailed
)

// conditionSet holds the controller's conditions behind its own lock so the
// reconcile worker can update them without touching the lifecycle mutex.
type conditionSet struct {
	mu         sync.Mutex
	clock      clock.PassiveClock
	conditions []metav1.Condition
}

func (s *conditionSet) init(clk clock.PassiveClock) {
	s.clock = clk
	s.set(metav1.Condition{
		Type:    v1alpha1.TypeTargetAchieved,
		Status:  metav1.ConditionUnknown,
		Reason:  v1alpha1.ReasonNotReconciled,
		Message: "no reconcile has completed",
	})
}

func (s *conditionSet) set(cond metav1.Condition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cond.LastTransitionTime = metav1.NewTime(s.clock.Now())
	apimeta.SetStatusCondition(&s.conditions, cond)
}

func (s *conditionSet) setReady(ready bool, reason, message string) {
	status := metav1.ConditionFalse
	if ready {
		status = metav1.ConditionTrue
	}
	s.set(metav1.Condition{Type: v1alpha1.TypeReady, Status: status, Reason: reason, Message: message})
}

func (s *conditionSet) setTargetAchieved(result policy.Result, err error) {
	cond := metav1.Condition{Type: v1alpha1.TypeTargetAchieved}
	switch {
	case err == nil && result.Achieved():
		cond.Status = metav1.ConditionTrue
		cond.Reason = v1alpha1.ReasonTargetReached
		cond.Message = fmt.Sprintf("%d of %d target cores online", result.ActiveAfter, result.Target)
	default:
		cond.Status = metav1.ConditionFalse
		cond.Reason = v1alpha1.ReasonTransitionsFailed
		cond.Message = fmt.Sprintf("%d cores online, target %d, failed cores %v", result.ActiveAfter, result.Target, result.Failed)
	}
	s.set(cond)
}

func (s *conditionSet) get(condType string) *metav1.Condition {
	s.mu.Lock()
	defer s.mu.Unlock()
	cond := apimeta.FindStatusCondition(s.conditions, condType)
	if cond == nil {
		return nil
	}
	return cond.DeepCopy()
}

func (s *conditionSet) list() []metav1.Condition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]metav1.Condition, len(s.conditions))
	for i := range s.conditions {
		s.conditions[i].DeepCopyInto(&out[i])
	}
	return out
}

// Condition returns a copy of the named condition, or nil.
func (c *Controller) Condition(condType string) *metav1.Condition {
	return c.conditions.get(condType)
}

// Status builds the status document from live state.
func (c *Controller) Status() (*v1alpha1.StateHelper, error) {
	snapshot := c.policy.Snapshot()
	sh := v1alpha1.NewStateHelper()
	sh.Spec = v1alpha1.StateHelperSpec{
		Enabled:        snapshot.Enabled,
		MaxActiveCores: int32(snapshot.MaxActiveCores),
		SuspendFloor:   int32(c.engine.SuspendFloor()),
		Diagnostics:    snapshot.Diagnostics,
	}

	statuses, err := cores.Snapshot(c.cores)
	if err != nil {
		return nil, fmt.Errorf("failed to read core status: %w", err)
	}
	online := []int{}
	for _, s := range statuses {
		sh.Status.Cores = append(sh.Status.Cores, v1alpha1.CoreStatus{ID: int32(s.ID), Online: s.Online})
		if s.Online {
			online = append(online, s.ID)
		}
	}
	sh.Status.PowerState = string(c.watcher.State())
	sh.Status.TotalCores = int32(c.cores.TotalCores())
	sh.Status.ActiveCores = int32(len(online))
	sh.Status.Online = cores.FormatCPUList(online)
	sh.Status.Conditions = c.conditions.list()

	if last, ok := c.engine.LastResult(); ok {
		sh.Status.LastReconcile = &v1alpha1.ReconcileStatus{
			LastRunTime:  metav1.NewTime(last.Completed),
			PowerState:   string(last.State),
			Target:       int32(last.Target),
			ActiveBefore: int32(last.ActiveBefore),
			ActiveAfter:  int32(last.ActiveAfter),
			Activated:    toInt32s(last.Activated),
			Deactivated:  toInt32s(last.Deactivated),
			Failed:       toInt32s(last.Failed),
			Duration:     last.Duration.String(),
		}
	}
	return sh, nil
}

// ReadyCheck fails while the last start attempt failed. It has the
// signature of a controller-runtime healthz checker.
func (c *Controller) ReadyCheck(_ *http.Request) error {
	cond := c.conditions.get(v1alpha1.TypeReady)
	if cond != nil && cond.Reason == allocationFailedReason {
		return fmt.Errorf("controller failed to start: %s", cond.Message)
	}
	return nil
}

// RegisterRoutes mounts GET /status on router.
func (c *Controller) RegisterRoutes(router gin.IRoutes) {
	router.GET("/status", func(ctx *gin.Context) {
		sh, err := c.Status()
		if err != nil {
			ctrl.LoggerFrom(c.ctx).Error(err, "Failed to build status")
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, sh)
	})
}

func toInt32s(in []int) []int32 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
