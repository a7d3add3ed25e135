package processor

import (
	"time"

	"resume-extractor/internal/config"
)

// ProcessorOption 处理器选项函数类型
type ProcessorOption func(*ResumeProcessor)

// WithPollPolicy 设置等待远程处理完成的策略
func WithPollPolicy(policy PollPolicy) ProcessorOption {
	return func(rp *ResumeProcessor) {
		rp.poll = policy.normalized()
	}
}

// WithWorkers 设置批处理并发数，1 表示顺序处理
func WithWorkers(workers int) ProcessorOption {
	return func(rp *ResumeProcessor) {
		if workers > 0 {
			rp.workers = workers
		}
	}
}

// WithInstructionID 使用已存在的抽取指令，不再自动创建
func WithInstructionID(instructionID string) ProcessorOption {
	return func(rp *ResumeProcessor) {
		rp.instructionID = instructionID
	}
}

// WithInstructionNamePrefix 自动创建指令时的名称前缀
func WithInstructionNamePrefix(prefix string) ProcessorOption {
	return func(rp *ResumeProcessor) {
		rp.namePrefix = prefix
	}
}

// WithAutoCreateInstruction 是否在首次提交前自动创建抽取指令
func WithAutoCreateInstruction(enabled bool) ProcessorOption {
	return func(rp *ResumeProcessor) {
		rp.autoCreateInstruction = enabled
	}
}

// WithAllowedExtensions 限制可处理的文件扩展名，空表示不限制
func WithAllowedExtensions(exts []string) ProcessorOption {
	return func(rp *ResumeProcessor) {
		rp.allowedExtensions = exts
	}
}

// WithDocumentMetadata 附加到每个提交文档上的元数据
func WithDocumentMetadata(metadata map[string]any) ProcessorOption {
	return func(rp *ResumeProcessor) {
		rp.metadata = metadata
	}
}

// WithClock 替换时间来源，用于生成指令名称
func WithClock(now func() time.Time) ProcessorOption {
	return func(rp *ResumeProcessor) {
		if now != nil {
			rp.now = now
		}
	}
}

// OptionsFromConfig 把配置转换为处理器选项
func OptionsFromConfig(cfg *config.Config) []ProcessorOption {
	return []ProcessorOption{
		WithPollPolicy(PollPolicyFromConfig(cfg.Extraction.Poll)),
		WithWorkers(cfg.Processing.Workers),
		WithInstructionID(cfg.Extraction.InstructionID),
		WithInstructionNamePrefix(cfg.Extraction.InstructionNamePrefix),
		WithAllowedExtensions(cfg.Processing.AllowedExtensions),
	}
}
