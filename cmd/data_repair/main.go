package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/constants"
	"resume-extractor/internal/extraction"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/processor"
	"resume-extractor/internal/storage"
	"resume-extractor/internal/storage/models"

	"github.com/spf13/pflag"
)

// 重新抽取卡住或可重试失败的提交记录。
// 消费者崩溃后停在 PENDING_EXTRACTION / EXTRACTING 的记录，以及
// SUBMISSION_FAILED / REMOTE_FAILED / PROCESSING_TIMEOUT / STATUS_QUERY_FAILED（--include-failed）的记录
// 会被重置为 PENDING_EXTRACTION 并直接走一遍抽取流程。
func main() {
	var (
		configPath    string
		olderThan     time.Duration
		limit         int
		concurrency   int
		batchSize     int
		includeFailed bool
		dryRun        bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.DurationVar(&olderThan, "older-than", 30*time.Minute, "只处理超过该时长未更新的记录")
	pflag.IntVar(&limit, "limit", 200, "本次最多处理的记录数")
	pflag.IntVar(&concurrency, "concurrency", 5, "并发数")
	pflag.IntVar(&batchSize, "batch-size", 20, "每批处理的记录数")
	pflag.BoolVar(&includeFailed, "include-failed", false, "同时重试可重试的失败状态")
	pflag.BoolVar(&dryRun, "dry-run", false, "只列出待处理记录")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	closer, err := logger.Init(logger.Config{Level: cfg.Logger.Level, Format: "pretty", File: cfg.Logger.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	if storageManager.MySQL == nil {
		logger.Fatal().Msg("MySQL 未配置，无法修复")
	}

	statuses := []string{constants.StatusPendingExtraction, constants.StatusExtracting}
	if includeFailed {
		statuses = append(statuses, constants.StatusSubmissionFailed, constants.StatusRemoteFailed, constants.StatusProcessingTimeout, constants.StatusQueryFailed)
	}
	submissions, err := storageManager.MySQL.FindSubmissionsByStatus(ctx, statuses, time.Now().Add(-olderThan), limit)
	if err != nil {
		logger.Fatal().Err(err).Msg("查询待修复记录失败")
	}
	logger.Info().Int("count", len(submissions)).Strs("statuses", statuses).Msg("找到待修复的提交记录")

	if dryRun {
		for _, s := range submissions {
			fmt.Printf("%s\t%s\t%s\t%s\n", s.SubmissionUUID, s.ProcessingStatus, s.UpdatedAt.Format(time.RFC3339), s.OriginalFilename)
		}
		return
	}
	if len(submissions) == 0 {
		return
	}

	extractor, err := extraction.NewClientFromConfig(cfg.Extraction)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化抽取服务客户端失败")
	}
	proc := processor.NewResumeProcessor(extractor, processor.OptionsFromConfig(cfg)...)
	service, err := processor.NewResumeServiceFromStorage(proc, storageManager, processor.ServiceSettingsFromConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化服务失败")
	}
	// 先创建一次指令，避免并发时重复创建
	if _, err := proc.EnsureInstruction(ctx); err != nil {
		logger.Warn().Err(err).Msg("创建抽取指令失败，将在处理时重试")
	}

	repaired, failed := repair(ctx, storageManager.MySQL, service, submissions, concurrency, batchSize)
	logger.Info().Int("repaired", repaired).Int("failed", failed).Msg("修复完成")
}

func repair(ctx context.Context, db *storage.MySQL, service *processor.ResumeService, submissions []models.ResumeSubmission, concurrency, batchSize int) (int, int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if batchSize <= 0 {
		batchSize = len(submissions)
	}

	var (
		mu       sync.Mutex
		repaired int
		failed   int
	)
	semaphore := make(chan struct{}, concurrency)

	for i := 0; i < len(submissions); i += batchSize {
		end := min(i+batchSize, len(submissions))
		logger.Info().Int("from", i).Int("to", end-1).Msg("处理批次")

		var wg sync.WaitGroup
		for _, s := range submissions[i:end] {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			semaphore <- struct{}{}
			go func(s models.ResumeSubmission) {
				defer func() {
					<-semaphore
					wg.Done()
				}()
				err := repairOne(ctx, db, service, s)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					logger.Error().Err(err).Str("submission_uuid", s.SubmissionUUID).Msg("修复失败")
					return
				}
				repaired++
			}(s)
		}
		wg.Wait()
		if ctx.Err() != nil {
			break
		}
	}
	return repaired, failed
}

func repairOne(ctx context.Context, db *storage.MySQL, service *processor.ResumeService, s models.ResumeSubmission) error {
	if constants.IsTerminalStatus(s.ProcessingStatus) {
		if err := db.UpdateStatus(ctx, s.SubmissionUUID, constants.StatusPendingExtraction); err != nil {
			return fmt.Errorf("重置状态失败: %w", err)
		}
	}
	return service.HandleUploadedMessage(ctx, storage.ResumeUploadMessage{
		SubmissionUUID:      s.SubmissionUUID,
		SubmissionTimestamp: s.SubmissionTimestamp,
		SourceChannel:       s.SourceChannel,
		OriginalFilename:    s.OriginalFilename,
		OriginalFilePathOSS: s.OriginalFilePathOSS,
		RawFileMD5:          s.RawFileMD5,
	})
}
