// Package outcome 记录任务中每个合成步骤的结果。
// 可降级的失败（照片缺失、emoji 无法解析、字体回退）记录在这里，而不是作为错误返回。
package outcome

import (
	"fmt"
	"sort"
	"strings"
)

// Status 表示单个合成步骤的状态。
type Status int

const (
	OK Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Scope 标识结果所属的元素类型。
type Scope string

const (
	ScopePhoto Scope = "photo"
	ScopeText  Scope = "text"
	ScopeEmoji Scope = "emoji"
	ScopeFont  Scope = "font"
	ScopeOrder Scope = "order"
)

// Item 是单个合成步骤的结果。
type Item struct {
	Scope  Scope
	Ref    string
	Status Status
	Err    error
}

func (i Item) String() string {
	if i.Err == nil {
		return fmt.Sprintf("%s %s: %s", i.Scope, i.Ref, i.Status)
	}
	return fmt.Sprintf("%s %s: %s (%v)", i.Scope, i.Ref, i.Status, i.Err)
}

// Done 返回成功的结果。
func Done(scope Scope, ref string) Item { return Item{Scope: scope, Ref: ref, Status: OK} }

// Skip 返回被跳过的结果，err 说明原因。
func Skip(scope Scope, ref string, err error) Item {
	return Item{Scope: scope, Ref: ref, Status: Skipped, Err: err}
}

// Fail 返回失败的结果。
func Fail(scope Scope, ref string, err error) Item {
	return Item{Scope: scope, Ref: ref, Status: Failed, Err: err}
}

// Report 汇总一个任务的所有结果，零值可直接使用。
type Report struct {
	Items []Item
}

func (r *Report) Add(items ...Item) {
	r.Items = append(r.Items, items...)
}

// Merge 合并另一个 Report。
func (r *Report) Merge(other Report) {
	r.Items = append(r.Items, other.Items...)
}

// Degraded 返回未正常完成的结果。
func (r Report) Degraded() []Item {
	var out []Item
	for _, it := range r.Items {
		if it.Status != OK {
			out = append(out, it)
		}
	}
	return out
}

// Count 统计指定类型和状态的结果数量。
func (r Report) Count(scope Scope, status Status) int {
	n := 0
	for _, it := range r.Items {
		if it.Scope == scope && it.Status == status {
			n++
		}
	}
	return n
}

// MissingKeys 返回降级结果的去重引用列表（已排序）。
func (r Report) MissingKeys() []string {
	uniq := make(map[string]struct{})
	for _, it := range r.Degraded() {
		key := strings.TrimSpace(it.Ref)
		if key == "" {
			continue
		}
		uniq[key] = struct{}{}
	}
	keys := make([]string, 0, len(uniq))
	for k := range uniq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
