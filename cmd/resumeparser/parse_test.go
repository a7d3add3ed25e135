package main

import (
	"bytes"
	"context"
	"testing"

	"resume-extractor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintResults(t *testing.T) {
	results := []types.ProfileResult{
		{
			FileName: "ada.pdf",
			Status:   "COMPLETED",
			Profile: &types.CandidateProfile{
				FirstName: "Ada",
				Skills:    []string{"Go", "SQL"},
			},
			Warnings: []string{"email 有多个候选值"},
		},
		{FileName: "scan.pdf", Status: "NO_ENTITIES", Error: "抽取服务未返回任何实体"},
	}

	var buf bytes.Buffer
	printResults(&buf, results)
	out := buf.String()

	assert.Contains(t, out, "✓ ada.pdf")
	assert.Contains(t, out, "姓名: Ada N/A")
	assert.Contains(t, out, "邮箱: N/A")
	assert.Contains(t, out, "技能: Go, SQL")
	assert.Contains(t, out, "! email 有多个候选值")
	assert.Contains(t, out, "✗ scan.pdf [NO_ENTITIES]")
}

func TestPrintSummary_SortedStatuses(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, []types.ProfileResult{
		{Status: "NO_ENTITIES"}, {Status: "COMPLETED"}, {Status: "COMPLETED"},
	})
	assert.Equal(t, "\n共 3 个文件: COMPLETED=2 NO_ENTITIES=1\n", buf.String())
}

func TestRunParse_ArgumentErrors(t *testing.T) {
	err := runParse(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "至少需要一个简历文件")

	err = runParse(context.Background(), []string{"--format", "pdf", "a.pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不支持的导出格式")
}

func TestRunSchema_RequiresAction(t *testing.T) {
	err := runSchema(context.Background(), nil)
	require.Error(t, err)
}
