package constants

import "time"

const (
	// ServiceName 服务名，用于tracing与日志
	ServiceName = "resume-extractor"

	// DefaultInstructionPrompt 自动创建抽取指令时使用的提示词
	DefaultInstructionPrompt = "Extract structured information from resume documents including personal details, skills, experience, education, and certifications. If any field is not found, set it to null or empty array as appropriate."

	// InstructionScopeDocument 指令作用域：整篇文档抽取一次
	InstructionScopeDocument = "document"

	// EventTypeResumeUploaded outbox 事件类型
	EventTypeResumeUploaded = "RESUME_UPLOADED"

	// 导出文件名
	ExportJSONFileName  = "resume_parsing_results.json"
	ExportJSONLFileName = "resume_parsing_results.jsonl"
	ExportCSVFileName   = "resume_parsing_results.csv"
	ExportXLSXFileName  = "resume_parsing_results.xlsx"

	// NotAvailable 展示层缺省值
	NotAvailable = "N/A"

	DefaultPresignedURLExpiry = 24 * time.Hour
)

// 处理状态，落库到 resume_submissions.processing_status
const (
	StatusPendingExtraction = "PENDING_EXTRACTION"  // 已上传，等待抽取
	StatusExtracting        = "EXTRACTING"          // 已提交远程服务
	StatusCompleted         = "COMPLETED"           // 得到非空的候选人档案
	StatusDuplicateFile     = "DUPLICATE_FILE"      // 相同文件已提交过
	StatusSubmissionFailed  = "SUBMISSION_FAILED"   // 提交远程服务失败
	StatusRemoteFailed      = "REMOTE_FAILED"       // 远程服务报告处理失败
	StatusProcessingTimeout = "PROCESSING_TIMEOUT"  // 等待超时，远程仍在处理
	StatusQueryFailed       = "STATUS_QUERY_FAILED" // 无法查询远程文档状态
	StatusNoEntities        = "NO_ENTITIES"         // 处理完成但没有返回任何实体
	StatusEmptyProfile      = "EMPTY_PROFILE"       // 有实体但合并后没有任何字段
	StatusFailed            = "FAILED"              // 其他错误
)

// IsTerminalStatus 判断状态是否为终态
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusPendingExtraction, StatusExtracting:
		return false
	default:
		return true
	}
}
