package main

import (
	"fmt"
	"io"
	"os"

	config "github.com/maheshrc27/threadpost/configs"
	"github.com/maheshrc27/threadpost/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app holds what every command shares once the persistent pre-run has
// loaded configuration.
type app struct {
	envFile string
	cfg     *config.Config
	logger  *logrus.Logger
	closer  io.Closer
	out     io.Writer
}

func (a *app) preRun(cmd *cobra.Command, args []string) error {
	var envFiles []string
	if a.envFile != "" {
		envFiles = append(envFiles, a.envFile)
	}
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		return err
	}

	l, closer, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.closer = cfg, l, closer
	return nil
}

func (a *app) postRun(cmd *cobra.Command, args []string) {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

func (a *app) log(component string) *logrus.Entry {
	return logger.Component(a.logger, component)
}

func newCLI(out io.Writer) *cobra.Command {
	a := &app{out: out}

	rootCmd := &cobra.Command{
		Use:               "threadpost",
		Short:             "Multi-account Threads posting scheduler",
		SilenceUsage:      true,
		PersistentPreRunE: a.preRun,
		PersistentPostRun: a.postRun,
	}
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env", "", "env file to load before THREADPOST_* variables (defaults to .env)")
	rootCmd.SetOut(out)

	rootCmd.AddCommand(postCommand(a))
	rootCmd.AddCommand(schedulerCommand(a))
	rootCmd.AddCommand(syncCommand(a))
	rootCmd.AddCommand(serveCommand(a))
	rootCmd.AddCommand(workerCommand(a))
	rootCmd.AddCommand(tokenCommand(a))
	return rootCmd
}

func main() {
	if err := newCLI(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
