package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

func runSchema(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("schema 需要子命令 create 或 list")
	}
	action := args[0]

	var f commonFlags
	fs := pflag.NewFlagSet("schema "+action, pflag.ContinueOnError)
	f.register(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	_, proc, cleanup, err := f.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	switch action {
	case "create":
		inst, err := proc.CreateSchema(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("已创建抽取指令 %s (%s)\n", inst.ID, inst.Name)
		fmt.Println("可将其写入配置 extraction.instruction_id 以复用")
		return nil
	case "list":
		instructions, err := proc.ListSchemas(ctx)
		if err != nil {
			return err
		}
		if len(instructions) == 0 {
			fmt.Println("没有抽取指令")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME")
		for _, inst := range instructions {
			fmt.Fprintf(tw, "%s\t%s\n", inst.ID, inst.Name)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("未知的 schema 子命令 %q", action)
	}
}
