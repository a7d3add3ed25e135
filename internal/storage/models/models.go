package models

import (
	"encoding/json"
	"time"

	"resume-extractor/internal/types"

	"gorm.io/datatypes"
)

// ResumeSubmission 简历提交记录，保存远程抽取的状态与合并后的档案
type ResumeSubmission struct {
	SubmissionUUID      string         `gorm:"type:char(36);primaryKey"`
	SubmissionTimestamp time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_rs_submission_timestamp"`
	SourceChannel       string         `gorm:"type:varchar(100)"`
	OriginalFilename    string         `gorm:"type:varchar(255)"`
	OriginalFilePathOSS string         `gorm:"type:varchar(1024)"`
	RawFileMD5          string         `gorm:"type:char(32);index:idx_rs_raw_file_md5"`
	DocumentID          string         `gorm:"type:varchar(64);index:idx_rs_document_id"` // 远程服务返回的文档ID
	InstructionID       string         `gorm:"type:varchar(64)"`
	ProcessingStatus    string         `gorm:"type:varchar(50);default:'PENDING_EXTRACTION';index:idx_rs_processing_status"`
	EntityCount         int            `gorm:"default:0"`
	ProfileJSON         datatypes.JSON `gorm:"type:json"`
	WarningsJSON        datatypes.JSON `gorm:"type:json"`
	ErrorMessage        string         `gorm:"type:text"`
	CompletedAt         *time.Time     `gorm:"type:datetime(6)"`
	CreatedAt           time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt           time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ResumeSubmission) TableName() string {
	return "resume_submissions"
}

// Profile 解码保存的候选人档案，没有档案时返回 nil
func (s *ResumeSubmission) Profile() (*types.CandidateProfile, error) {
	if len(s.ProfileJSON) == 0 || string(s.ProfileJSON) == "null" {
		return nil, nil
	}
	var profile types.CandidateProfile
	if err := json.Unmarshal(s.ProfileJSON, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ToProfileResult 转换为对外返回的处理结果
func (s *ResumeSubmission) ToProfileResult() (types.ProfileResult, error) {
	result := types.ProfileResult{
		FileName:       s.OriginalFilename,
		SubmissionUUID: s.SubmissionUUID,
		DocumentID:     s.DocumentID,
		Status:         s.ProcessingStatus,
		EntityCount:    s.EntityCount,
		Error:          s.ErrorMessage,
	}
	if len(s.WarningsJSON) > 0 {
		if err := json.Unmarshal(s.WarningsJSON, &result.Warnings); err != nil {
			return result, err
		}
	}
	profile, err := s.Profile()
	if err != nil {
		return result, err
	}
	result.Profile = profile
	return result, nil
}

// ResultUpdate 一次抽取完成后需要落库的字段
type ResultUpdate struct {
	Status        string
	DocumentID    string
	InstructionID string
	EntityCount   int
	Profile       *types.CandidateProfile
	Warnings      []string
	ErrorMessage  string
}

// Columns 转换为 gorm Updates 使用的列映射
func (u ResultUpdate) Columns(now time.Time) (map[string]interface{}, error) {
	columns := map[string]interface{}{
		"processing_status": u.Status,
		"document_id":       u.DocumentID,
		"instruction_id":    u.InstructionID,
		"entity_count":      u.EntityCount,
		"error_message":     u.ErrorMessage,
		"completed_at":      now,
	}

	if u.Profile != nil {
		profileJSON, err := json.Marshal(u.Profile)
		if err != nil {
			return nil, err
		}
		columns["profile_json"] = datatypes.JSON(profileJSON)
	}
	if len(u.Warnings) > 0 {
		warningsJSON, err := json.Marshal(u.Warnings)
		if err != nil {
			return nil, err
		}
		columns["warnings_json"] = datatypes.JSON(warningsJSON)
	}
	return columns, nil
}
