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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DeepCopyInto copies the receiver into out.
func (in *ReconcileStatus) DeepCopyInto(out *ReconcileStatus) {
	*out = *in
	in.LastRunTime.DeepCopyInto(&out.LastRunTime)
	out.Activated = copyInt32s(in.Activated)
	out.Deactivated = copyInt32s(in.Deactivated)
	out.Failed = copyInt32s(in.Failed)
}

// DeepCopy returns a copy of the receiver.
func (in *ReconcileStatus) DeepCopy() *ReconcileStatus {
	if in == nil {
		return nil
	}
	out := new(ReconcileStatus)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (in *StateHelperStatus) DeepCopyInto(out *StateHelperStatus) {
	*out = *in
	if in.Cores != nil {
		out.Cores = make([]CoreStatus, len(in.Cores))
		copy(out.Cores, in.Cores)
	}
	if in.LastReconcile != nil {
		out.LastReconcile = in.LastReconcile.DeepCopy()
	}
	if in.Conditions != nil {
		out.Conditions = make([]metav1.Condition, len(in.Conditions))
		for i := range in.Conditions {
			in.Conditions[i].DeepCopyInto(&out.Conditions[i])
		}
	}
}

// DeepCopy returns a copy of the receiver.
func (in *StateHelperStatus) DeepCopy() *StateHelperStatus {
	if in == nil {
		return nil
	}
	out := new(StateHelperStatus)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (in *StateHelper) DeepCopyInto(out *StateHelper) {
	*out = *in
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy returns a copy of the receiver.
func (in *StateHelper) DeepCopy() *StateHelper {
	if in == nil {
		return nil
	}
	out := new(StateHelper)
	in.DeepCopyInto(out)
	return out
}

func copyInt32s(in []int32) []int32 {
	if in == nil {
		return nil
	}
	out := make([]int32, len(in))
	copy(out, in)
	return out
}
