package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"memchain/cmd/memchain/cmds"
	"memchain/process"

	"github.com/mattn/go-colorable"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCommand := cmds.New()
	rootCommand.SetOut(colorable.NewColorableStdout())
	rootCommand.SetErr(colorable.NewColorableStderr())

	if err := rootCommand.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCommand.ErrOrStderr(), "Error:", err)
		if hint := process.Hint(err); hint != err.Error() {
			fmt.Fprintln(rootCommand.ErrOrStderr(), "Hint:", hint)
		}
		stop()
		os.Exit(1)
	}
}
