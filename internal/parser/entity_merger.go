package parser

import (
	"resume-extractor/internal/types"
)

// dedupFields 合并后需要去重的列表字段
var dedupFields = []string{types.FieldSkills, types.FieldCertifications}

// MergeEntityRecords 按输入顺序把多条实体片段折叠成一个字段映射：
//   - 空值（null、空串、空数组、空对象）被跳过
//   - 字段未出现时直接写入
//   - 已有值与新值都是数组时追加
//   - 已有值为空占位时覆盖
//   - 其余情况保留先出现的值
//
// 折叠完成后 skills 与 certifications 去重，保留首次出现的顺序。
// 输入记录不会被修改。
func MergeEntityRecords(records []types.EntityRecord) map[string]types.FieldValue {
	merged := make(map[string]types.FieldValue)

	for _, record := range records {
		for field, value := range record.Fields {
			if value.IsEmpty() {
				continue
			}

			existing, ok := merged[field]
			switch {
			case !ok:
				merged[field] = value.Clone()
			case existing.IsSequence() && value.IsSequence():
				existing.Items = append(existing.Items, value.Items...)
				merged[field] = existing
			case existing.IsEmpty():
				merged[field] = value.Clone()
			}
		}
	}

	for _, field := range dedupFields {
		if value, ok := merged[field]; ok && value.IsSequence() {
			value.Items = dedupItems(value.Items)
			merged[field] = value
		}
	}

	return merged
}

// dedupItems 去除重复元素，保留首次出现的顺序。元素按其字符串形式精确比较。
func dedupItems(items []any) []any {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, item := range items {
		key := types.ScalarText(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// AggregateProfile 合并实体片段并构建候选人档案。
// 没有记录或合并后没有任何字段时返回 nil（"无数据"），这不是错误。
func AggregateProfile(records []types.EntityRecord) *types.CandidateProfile {
	if len(records) == 0 {
		return nil
	}
	return BuildCandidateProfile(MergeEntityRecords(records))
}
