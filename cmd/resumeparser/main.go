package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"resume-extractor/internal/config"
	"resume-extractor/internal/extraction"
	"resume-extractor/internal/logger"
	"resume-extractor/internal/processor"

	"github.com/spf13/pflag"
)

const usage = `用法:
  resumeparser parse [flags] <file>...   提交简历并导出抽取结果
  resumeparser schema create [flags]     创建新的抽取指令
  resumeparser schema list [flags]       列出已有的抽取指令

通用参数:
  -c, --config string   配置文件路径
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "parse":
		err = runParse(ctx, os.Args[2:])
	case "schema":
		err = runSchema(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		err = fmt.Errorf("未知命令 %q", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
	}
	if err != nil {
		logger.Error().Err(err).Msg("执行失败")
		os.Exit(1)
	}
}

// commonFlags 所有子命令共用的参数
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", "", "配置文件路径（默认自动查找 config.yaml）")
	fs.StringVar(&c.logLevel, "log-level", "", "日志级别，覆盖配置文件")
}

// setup 加载配置、初始化日志并创建处理器
func (c *commonFlags) setup() (*config.Config, *processor.ResumeProcessor, func(), error) {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if c.logLevel != "" {
		cfg.Logger.Level = c.logLevel
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "pretty"
	}
	closer, err := logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		File:         cfg.Logger.File,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := extraction.NewClientFromConfig(cfg.Extraction)
	if err != nil {
		_ = closer.Close()
		return nil, nil, nil, fmt.Errorf("%w（请设置 %s）", err, config.EnvRagieAuthToken)
	}
	proc := processor.NewResumeProcessor(client, processor.OptionsFromConfig(cfg)...)
	return cfg, proc, func() { _ = closer.Close() }, nil
}
