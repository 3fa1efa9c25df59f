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

package cores

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCPUList parses the kernel cpulist format used by files such as
// /sys/devices/system/cpu/present ("0-3,6,8-9") into ascending core indices.
func ParseCPUList(list string) ([]int, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return []int{}, nil
	}

	var ids []int
	for _, part := range strings.Split(list, ",") {
		bounds := strings.SplitN(part, "-", 2)
		low, err := strconv.Atoi(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("invalid cpulist entry %q: %w", part, err)
		}
		high := low
		if len(bounds) == 2 {
			if high, err = strconv.Atoi(bounds[1]); err != nil {
				return nil, fmt.Errorf("invalid cpulist entry %q: %w", part, err)
			}
		}
		if low < 0 || high < low {
			return nil, fmt.Errorf("invalid cpulist range %q", part)
		}
		for id := low; id <= high; id++ {
			if len(ids) > 0 && id <= ids[len(ids)-1] {
				return nil, fmt.Errorf("cpulist %q is not ascending", list)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FormatCPUList renders ascending core indices in cpulist form, collapsing
// runs into ranges.
func FormatCPUList(ids []int) string {
	var b strings.Builder
	for i := 0; i < len(ids); {
		j := i
		for j+1 < len(ids) && ids[j+1] == ids[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(ids[i]))
		if j > i {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(ids[j]))
		}
		i = j + 1
	}
	return b.String()
}
