package handler

import (
	"context"

	"resume-extractor/internal/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// SchemaResponse 抽取指令的摘要
type SchemaResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SchemaHandler 管理远端抽取指令
type SchemaHandler struct {
	processor BatchProcessor
}

func NewSchemaHandler(processor BatchProcessor) *SchemaHandler {
	return &SchemaHandler{processor: processor}
}

// HandleCreate 创建一个新的抽取指令
func (h *SchemaHandler) HandleCreate(ctx context.Context, c *app.RequestContext) {
	inst, err := h.processor.CreateSchema(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("创建抽取指令失败")
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusCreated, SchemaResponse{ID: inst.ID, Name: inst.Name})
}

// HandleList 列出远端已有的抽取指令
func (h *SchemaHandler) HandleList(ctx context.Context, c *app.RequestContext) {
	instructions, err := h.processor.ListSchemas(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]SchemaResponse, 0, len(instructions))
	for _, inst := range instructions {
		resp = append(resp, SchemaResponse{ID: inst.ID, Name: inst.Name})
	}
	c.JSON(consts.StatusOK, resp)
}
