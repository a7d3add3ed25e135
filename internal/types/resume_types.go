package types

import (
	"encoding/json"
	"time"
)

// 实体字段名，与抽取指令中的 entity_schema 保持一致
const (
	FieldFirstName      = "firstName"
	FieldLastName       = "lastName"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldLocation       = "location"
	FieldSummary        = "summary"
	FieldSkills         = "skills"
	FieldExperience     = "experience"
	FieldEducation      = "education"
	FieldCertifications = "certifications"
)

// EntityRecord 远程服务针对某个文档返回的一条实体片段
type EntityRecord struct {
	ID            string                `json:"id"`
	DocumentID    string                `json:"document_id"`
	InstructionID string                `json:"instruction_id"`
	Fields        map[string]FieldValue `json:"data"`
}

// Field 按名称取值，不存在时返回缺失值
func (r EntityRecord) Field(name string) FieldValue {
	if r.Fields == nil {
		return FieldValue{}
	}
	return r.Fields[name]
}

// Experience 工作经历
type Experience struct {
	Company     string `json:"company,omitempty"`
	Position    string `json:"position,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Description string `json:"description,omitempty"`
}

// Education 教育经历
type Education struct {
	Institution    string `json:"institution,omitempty"`
	Degree         string `json:"degree,omitempty"`
	GraduationYear string `json:"graduationYear,omitempty"`
}

// CandidateProfile 一份简历合并后的候选人档案。
// 字段缺失时保持零值；Extra 保存抽取指令之外、远程服务额外返回的字段。
type CandidateProfile struct {
	FirstName      string         `json:"firstName,omitempty"`
	LastName       string         `json:"lastName,omitempty"`
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Location       string         `json:"location,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Skills         []string       `json:"skills,omitempty"`
	Experience     []Experience   `json:"experience,omitempty"`
	Education      []Education    `json:"education,omitempty"`
	Certifications []string       `json:"certifications,omitempty"`
	Extra          map[string]any `json:"-"`
}

type candidateProfileAlias CandidateProfile

var knownProfileFields = map[string]bool{
	FieldFirstName: true, FieldLastName: true, FieldEmail: true, FieldPhone: true,
	FieldLocation: true, FieldSummary: true, FieldSkills: true, FieldExperience: true,
	FieldEducation: true, FieldCertifications: true,
}

// MarshalJSON 输出与抽取结果一致的扁平对象，Extra 中的字段与已知字段并列
func (p CandidateProfile) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(candidateProfileAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(p.Extra)+10)
	for k, v := range p.Extra {
		if !knownProfileFields[k] {
			merged[k] = v
		}
	}
	var knownMap map[string]any
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON 读取已知字段，其余字段放入 Extra
func (p *CandidateProfile) UnmarshalJSON(data []byte) error {
	var alias candidateProfileAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*p = CandidateProfile(alias)
	for k, v := range all {
		if knownProfileFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return nil
}

// FullName 名与姓拼接
func (p *CandidateProfile) FullName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

// DocumentStatus 远程文档处理状态
type DocumentStatus string

const (
	DocumentStatusPending        DocumentStatus = "pending"
	DocumentStatusPartitioning   DocumentStatus = "partitioning"
	DocumentStatusPartitioned    DocumentStatus = "partitioned"
	DocumentStatusRefined        DocumentStatus = "refined"
	DocumentStatusChunked        DocumentStatus = "chunked"
	DocumentStatusIndexed        DocumentStatus = "indexed"
	DocumentStatusSummaryIndexed DocumentStatus = "summary_indexed"
	DocumentStatusKeywordIndexed DocumentStatus = "keyword_indexed"
	DocumentStatusReady          DocumentStatus = "ready"
	DocumentStatusFailed         DocumentStatus = "failed"
)

// IsReady 文档已完成处理，实体可查询
func (s DocumentStatus) IsReady() bool {
	return s == DocumentStatusReady
}

// IsFailed 远程处理失败
func (s DocumentStatus) IsFailed() bool {
	return s == DocumentStatusFailed
}

// RemoteDocument 远程服务中的文档
type RemoteDocument struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    DocumentStatus `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Instruction 远程服务中的抽取指令（抽取模式）
type Instruction struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Prompt       string         `json:"prompt,omitempty"`
	Active       bool           `json:"active"`
	Scope        string         `json:"scope,omitempty"`
	EntitySchema map[string]any `json:"entity_schema,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ExtractionSchema 创建抽取指令所需的定义
type ExtractionSchema struct {
	Name         string         `json:"name"`
	Prompt       string         `json:"prompt"`
	EntitySchema map[string]any `json:"entity_schema"`
	Active       bool           `json:"active"`
	Scope        string         `json:"scope"`
	Filter       map[string]any `json:"filter,omitempty"`
}

// ProfileResult 单个文档的处理结果，由调用方持有
type ProfileResult struct {
	FileName       string            `json:"file_name"`
	SubmissionUUID string            `json:"submission_uuid,omitempty"`
	DocumentID     string            `json:"document_id,omitempty"`
	Status         string            `json:"status"`
	EntityCount    int               `json:"entity_count"`
	Profile        *CandidateProfile `json:"extracted_data,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	Error          string            `json:"error,omitempty"`
	Err            error             `json:"-"`
}

// HasProfile 是否得到了非空档案
func (r ProfileResult) HasProfile() bool {
	return r.Profile != nil
}
