package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	pkgversion "github.com/brunorijsman/qkd-cascade/pkg/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cascade version %s\n", getVersion())
			fmt.Fprintf(out, "%s\n", pkgversion.Full())
			if buildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", buildTime)
			}
			if gitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			}
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			if st := crypto.RunSelfTest(); st.Passed {
				fmt.Fprintln(out, "Crypto self-test: passed")
			} else {
				fmt.Fprintf(out, "Crypto self-test: FAILED %v\n", st.Errors)
			}
			if crypto.FIPSMode() {
				fmt.Fprintln(out, "FIPS mode: enabled")
			}
		},
	}
}
