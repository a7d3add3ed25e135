package parser

import (
	"strings"

	"resume-extractor/internal/types"
)

// BuildCandidateProfile 把合并后的字段映射转换为显式的档案结构。
// 映射为空（或全部字段为空）时返回 nil。
func BuildCandidateProfile(merged map[string]types.FieldValue) *types.CandidateProfile {
	profile := &types.CandidateProfile{}
	populated := false

	for field, value := range merged {
		if value.IsEmpty() {
			continue
		}
		populated = true

		switch field {
		case types.FieldFirstName:
			profile.FirstName = value.Text()
		case types.FieldLastName:
			profile.LastName = value.Text()
		case types.FieldEmail:
			profile.Email = value.Text()
		case types.FieldPhone:
			profile.Phone = value.Text()
		case types.FieldLocation:
			profile.Location = value.Text()
		case types.FieldSummary:
			profile.Summary = value.Text()
		case types.FieldSkills:
			profile.Skills = value.Strings()
		case types.FieldCertifications:
			profile.Certifications = value.Strings()
		case types.FieldExperience:
			profile.Experience = buildExperience(value)
		case types.FieldEducation:
			profile.Education = buildEducation(value)
		default:
			if profile.Extra == nil {
				profile.Extra = make(map[string]any)
			}
			profile.Extra[field] = value.Interface()
		}
	}

	if !populated {
		return nil
	}
	return profile
}

// objectItems 把字段值展开为条目列表：数组取各元素，单个对象视为一条
func objectItems(value types.FieldValue) []any {
	switch value.Kind {
	case types.KindSequence:
		return value.Items
	case types.KindObject:
		return []any{value.Object}
	case types.KindScalar:
		return []any{value.Scalar}
	default:
		return nil
	}
}

func buildExperience(value types.FieldValue) []types.Experience {
	var out []types.Experience
	for _, item := range objectItems(value) {
		var exp types.Experience
		switch v := item.(type) {
		case map[string]any:
			exp = types.Experience{
				Company:     lookupText(v, "company"),
				Position:    lookupText(v, "position"),
				Duration:    lookupText(v, "duration"),
				Description: lookupText(v, "description"),
			}
		default:
			// 非对象条目保留为描述，避免丢失信息
			exp.Description = types.ScalarText(v)
		}
		if exp != (types.Experience{}) {
			out = append(out, exp)
		}
	}
	return out
}

func buildEducation(value types.FieldValue) []types.Education {
	var out []types.Education
	for _, item := range objectItems(value) {
		var edu types.Education
		switch v := item.(type) {
		case map[string]any:
			edu = types.Education{
				Institution:    lookupText(v, "institution"),
				Degree:         lookupText(v, "degree"),
				GraduationYear: lookupText(v, "graduationYear", "graduation_year"),
			}
		default:
			edu.Institution = types.ScalarText(v)
		}
		if edu != (types.Education{}) {
			out = append(out, edu)
		}
	}
	return out
}

// lookupText 依次尝试多个键，返回第一个非空的字符串值
func lookupText(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			if s := strings.TrimSpace(types.ScalarText(v)); s != "" {
				return s
			}
		}
	}
	return ""
}
