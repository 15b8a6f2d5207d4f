package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gopalm/internal/config"
	"gopalm/internal/errors"
)

func main() {
	// a missing .env is not an error
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Exit(report(err))
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(report(err))
	}
}

// report prints err with its code and returns the process exit status
func report(err error) int {
	err = classify(err)
	fmt.Fprintf(os.Stderr, "[%s] %v\n", errors.GetCode(err), err)
	return exitCode(err)
}

// classify tags errors raised outside the application, such as cobra flag
// parsing failures, as invalid input
func classify(err error) error {
	if errors.IsAppError(err) {
		return err
	}
	return errors.WithCode(errors.CodeInvalidInput, err)
}

// exitCode is 1 for internal and I/O failures and 2 for rejected input
func exitCode(err error) int {
	if errors.HasCode(err, errors.CodeInternalError) || errors.HasCode(err, errors.CodeIO) {
		return 1
	}
	return 2
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "palm",
		Short:         "Permutation inference for second-level group analyses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRunCmd(cfg))
	return rootCmd
}
