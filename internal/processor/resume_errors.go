package processor

import (
	"context"
	"errors"
	"fmt"

	"resume-extractor/internal/constants"
	"resume-extractor/internal/tracing"
)

// 定义基础错误类型，每种对应一个可区分的处理结果
var (
	ErrSchemaCreationFailed   = errors.New("创建抽取指令失败")
	ErrFileUnreadable         = errors.New("无法读取简历文件")
	ErrUnsupportedFileType    = errors.New("不支持的文件类型")
	ErrSubmissionFailed       = errors.New("提交文档到抽取服务失败")
	ErrRemoteProcessingFailed = errors.New("抽取服务处理文档失败")
	ErrProcessingTimeout      = errors.New("等待抽取结果超时，文档仍在处理中")
	ErrStatusQueryFailed      = errors.New("查询文档状态失败")
	ErrFileTooLarge           = errors.New("文件超过大小上限")
	ErrEntityQueryFailed      = errors.New("查询抽取结果失败")
	ErrNoEntities             = errors.New("抽取服务未返回任何实体")
	ErrEmptyProfile           = errors.New("抽取结果合并后为空")
	ErrDatabaseFailed         = errors.New("数据库操作失败")
	ErrStorageNotInit         = errors.New("storage is not initialized")
)

// ResumeProcessError 包含详细错误信息的自定义错误
type ResumeProcessError struct {
	SubmissionUUID string
	FileName       string
	Op             string
	BaseErr        error
	Detail         string
	Cause          error
}

func (e *ResumeProcessError) Error() string {
	subject := e.FileName
	if e.SubmissionUUID != "" {
		subject = e.SubmissionUUID
	}
	msg := fmt.Sprintf("%s (操作:%s, 文档:%s)", e.BaseErr, e.Op, subject)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResumeProcessError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.BaseErr}
	}
	return []error{e.BaseErr, e.Cause}
}

func newProcessError(base error, op, fileName, detail string, cause error) error {
	return &ResumeProcessError{
		FileName: fileName,
		Op:       op,
		BaseErr:  base,
		Detail:   detail,
		Cause:    cause,
	}
}

// 错误构造函数
func NewSchemaError(detail string, cause error) error {
	return newProcessError(ErrSchemaCreationFailed, "schema", "", detail, cause)
}

func NewFileError(fileName string, cause error) error {
	return newProcessError(ErrFileUnreadable, "open", fileName, "", cause)
}

func NewUnsupportedTypeError(fileName string) error {
	return newProcessError(ErrUnsupportedFileType, "validate", fileName, "", nil)
}

func NewFileTooLargeError(fileName string, size, limit int64) error {
	return newProcessError(ErrFileTooLarge, "validate", fileName, fmt.Sprintf("size=%d, limit=%d", size, limit), nil)
}

func NewSubmissionError(fileName string, cause error) error {
	return newProcessError(ErrSubmissionFailed, "submit", fileName, "", cause)
}

func NewRemoteFailedError(fileName, documentID string) error {
	return newProcessError(ErrRemoteProcessingFailed, "poll", fileName, "document_id="+documentID, nil)
}

func NewTimeoutError(fileName, documentID string, lastStatus string) error {
	return newProcessError(ErrProcessingTimeout, "poll", fileName,
		fmt.Sprintf("document_id=%s, last_status=%s", documentID, lastStatus), nil)
}

func NewStatusQueryError(fileName, documentID string, cause error) error {
	return newProcessError(ErrStatusQueryFailed, "poll", fileName, "document_id="+documentID, cause)
}

func NewEntityQueryError(fileName, documentID string, cause error) error {
	return newProcessError(ErrEntityQueryFailed, "list_entities", fileName, "document_id="+documentID, cause)
}

func NewNoEntitiesError(fileName, documentID string) error {
	return newProcessError(ErrNoEntities, "list_entities", fileName, "document_id="+documentID, nil)
}

func NewEmptyProfileError(fileName, documentID string, entityCount int) error {
	return newProcessError(ErrEmptyProfile, "aggregate", fileName,
		fmt.Sprintf("document_id=%s, entities=%d", documentID, entityCount), nil)
}

func NewDatabaseError(uuid, detail string, cause error) error {
	return &ResumeProcessError{
		SubmissionUUID: uuid,
		Op:             "database",
		BaseErr:        ErrDatabaseFailed,
		Detail:         detail,
		Cause:          cause,
	}
}

// StatusForError 把处理错误映射为落库/展示用的状态
func StatusForError(err error) string {
	switch {
	case err == nil:
		return constants.StatusCompleted
	case errors.Is(err, ErrSubmissionFailed), errors.Is(err, ErrFileUnreadable), errors.Is(err, ErrUnsupportedFileType),
		errors.Is(err, ErrFileTooLarge):
		return constants.StatusSubmissionFailed
	case errors.Is(err, ErrRemoteProcessingFailed):
		return constants.StatusRemoteFailed
	case errors.Is(err, ErrProcessingTimeout):
		return constants.StatusProcessingTimeout
	case errors.Is(err, ErrStatusQueryFailed):
		return constants.StatusQueryFailed
	case errors.Is(err, ErrNoEntities):
		return constants.StatusNoEntities
	case errors.Is(err, ErrEmptyProfile):
		return constants.StatusEmptyProfile
	default:
		return constants.StatusFailed
	}
}

// errorTypeFor 把处理错误归类为追踪用的错误类型
func errorTypeFor(err error) tracing.ErrorType {
	switch {
	case errors.Is(err, ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return tracing.ErrorTypeTimeout
	case errors.Is(err, ErrRemoteProcessingFailed):
		return tracing.ErrorTypeRemoteProcessing
	case errors.Is(err, ErrUnsupportedFileType), errors.Is(err, ErrFileUnreadable), errors.Is(err, ErrFileTooLarge):
		return tracing.ErrorTypeValidation
	case errors.Is(err, ErrDatabaseFailed):
		return tracing.ErrorTypeDB
	case errors.Is(err, ErrNoEntities), errors.Is(err, ErrEmptyProfile):
		return tracing.ErrorTypeInternal
	default:
		return tracing.ErrorTypeExternal
	}
}
