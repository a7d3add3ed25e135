package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resume-extractor/internal/constants"
	"resume-extractor/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectArray(description string, props map[string]any) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items": map[string]any{
			"type":       "object",
			"properties": props,
		},
	}
}

// ResumeEntitySchema 简历抽取使用的实体 JSON Schema
func ResumeEntitySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			types.FieldFirstName: stringProp("First name of the candidate"),
			types.FieldLastName:  stringProp("Last name of the candidate"),
			types.FieldEmail:     stringProp("Email address"),
			types.FieldPhone:     stringProp("Phone number"),
			types.FieldLocation:  stringProp("City, State or full address"),
			types.FieldSummary:   stringProp("Professional summary or objective statement"),
			types.FieldSkills: map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Array of technical and professional skills",
			},
			types.FieldExperience: objectArray("Array of work experience entries", map[string]any{
				"company":     stringProp("Company name"),
				"position":    stringProp("Job title/position"),
				"duration":    stringProp("Employment duration"),
				"description": stringProp("Brief job description"),
			}),
			types.FieldEducation: objectArray("Array of education entries", map[string]any{
				"institution":    stringProp("School/University name"),
				"degree":         stringProp("Degree type and field"),
				"graduationYear": stringProp("Year of graduation"),
			}),
			types.FieldCertifications: map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Array of professional certifications",
			},
		},
	}
}

// NewResumeExtractionSchema 生成简历抽取指令，名称带上创建时间戳以便区分
func NewResumeExtractionSchema(namePrefix string, now time.Time) types.ExtractionSchema {
	prefix := strings.TrimSpace(namePrefix)
	if prefix == "" {
		prefix = "Resume Parser"
	}
	return types.ExtractionSchema{
		Name:         fmt.Sprintf("%s %d", prefix, now.Unix()),
		Prompt:       constants.DefaultInstructionPrompt,
		EntitySchema: ResumeEntitySchema(),
		Active:       true,
		Scope:        constants.InstructionScopeDocument,
	}
}

// ValidateEntitySchema 在提交远程服务前编译检查 entity_schema
func ValidateEntitySchema(schema map[string]any) error {
	if len(schema) == 0 {
		return fmt.Errorf("entity_schema 不能为空")
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("序列化 entity_schema 失败: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("entity_schema.json", strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("加载 entity_schema 失败: %w", err)
	}
	if _, err := compiler.Compile("entity_schema.json"); err != nil {
		return fmt.Errorf("entity_schema 不是合法的 JSON Schema: %w", err)
	}
	return nil
}

// ValidateExtractionSchema 检查抽取指令的必填项与 entity_schema
func ValidateExtractionSchema(schema types.ExtractionSchema) error {
	if strings.TrimSpace(schema.Name) == "" {
		return fmt.Errorf("抽取指令名称不能为空")
	}
	if strings.TrimSpace(schema.Prompt) == "" {
		return fmt.Errorf("抽取指令提示词不能为空")
	}
	return ValidateEntitySchema(schema.EntitySchema)
}
