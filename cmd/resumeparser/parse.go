package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"resume-extractor/internal/export"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/processor"
	"resume-extractor/internal/types"

	"github.com/spf13/pflag"
)

type parseFlags struct {
	commonFlags
	formats []string
	outDir  string
	workers int
	sftp    bool
	quiet   bool
}

func runParse(ctx context.Context, args []string) error {
	var f parseFlags
	fs := pflag.NewFlagSet("parse", pflag.ContinueOnError)
	f.register(fs)
	fs.StringSliceVarP(&f.formats, "format", "f", []string{"json"}, "导出格式，可多选: json,jsonl,csv,xlsx")
	fs.StringVarP(&f.outDir, "out", "o", "", "导出目录（默认使用配置 export.output_dir）")
	fs.IntVarP(&f.workers, "workers", "w", 0, "并发提交的文件数（默认使用配置）")
	fs.BoolVar(&f.sftp, "sftp", false, "导出后通过 SFTP 投递")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "不打印档案摘要")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("至少需要一个简历文件")
	}

	formats := make([]export.Format, 0, len(f.formats))
	for _, raw := range f.formats {
		format, err := export.ParseFormat(raw)
		if err != nil {
			return err
		}
		formats = append(formats, format)
	}

	cfg, proc, cleanup, err := f.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if f.workers > 0 {
		processor.WithWorkers(f.workers)(proc)
	}
	outDir := f.outDir
	if outDir == "" {
		outDir = cfg.Export.OutputDir
	}

	var uploader *export.SFTPUploader
	if f.sftp || cfg.Export.SFTP.Enabled {
		if uploader, err = export.NewSFTPUploader(cfg.Export.SFTP); err != nil {
			return err
		}
	}

	paths := fs.Args()
	logger.Info().Int("files", len(paths)).Msg("开始处理简历")
	results := proc.ProcessFiles(ctx, paths)

	if !f.quiet {
		printResults(os.Stdout, results)
	}
	printSummary(os.Stdout, results)

	if len(processor.SuccessfulResults(results)) == 0 {
		return errors.New("没有任何文件得到候选人档案")
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("创建导出目录失败: %w", err)
	}
	for _, format := range formats {
		data, err := export.Bytes(format, results)
		if err != nil {
			return err
		}
		localPath := filepath.Join(outDir, format.FileName())
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			return fmt.Errorf("写入导出文件失败: %w", err)
		}
		fmt.Fprintf(os.Stdout, "已导出: %s\n", localPath)

		if uploader != nil {
			remotePath, err := uploader.Upload(ctx, format.FileName(), bytes.NewReader(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "已投递: %s\n", remotePath)
		}
	}
	return nil
}

func printResults(w io.Writer, results []types.ProfileResult) {
	for _, r := range results {
		if !r.HasProfile() {
			fmt.Fprintf(w, "\n✗ %s [%s] %s\n", r.FileName, r.Status, r.Error)
			continue
		}
		v := export.NewProfileView(r.FileName, r.Profile)
		fmt.Fprintf(w, "\n✓ %s\n", v.FileName)
		fmt.Fprintf(w, "  姓名: %s\n  邮箱: %s\n  电话: %s\n  地点: %s\n", v.Name, v.Email, v.Phone, v.Location)
		if v.Skills != "" {
			fmt.Fprintf(w, "  技能: %s\n", v.Skills)
		}
		for _, e := range v.Experience {
			fmt.Fprintf(w, "  经历: %s @ %s %s\n", e.Position, e.Company, e.Duration)
		}
		for _, e := range v.Education {
			fmt.Fprintf(w, "  教育: %s, %s %s\n", e.Degree, e.Institution, e.GraduationYear)
		}
		if len(v.Certifications) > 0 {
			fmt.Fprintf(w, "  证书: %s\n", strings.Join(v.Certifications, ", "))
		}
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "  ! %s\n", warning)
		}
	}
}

func printSummary(w io.Writer, results []types.ProfileResult) {
	summary := processor.Summary(results)
	statuses := make([]string, 0, len(summary))
	for s := range summary {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	fmt.Fprintf(w, "\n共 %d 个文件:", len(results))
	for _, s := range statuses {
		fmt.Fprintf(w, " %s=%d", s, summary[s])
	}
	fmt.Fprintln(w)
}
