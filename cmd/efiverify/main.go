// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	efiverify "github.com/saferwall/efiverify"
)

var (
	jsonOutput bool
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "efiverify <image>",
		Short: "Verify an Apple-signed EFI boot image",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	root.Flags().BoolVar(&jsonOutput, "json", false, "print the result as JSON")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", path, err)
	}
	defer data.Unmap()

	logger := zap.NewNop().Sugar()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer l.Sync()
		logger = l.Sugar()
	}

	result, verifyErr := efiverify.Verify(data, &efiverify.Options{Logger: logger})

	if jsonOutput {
		out, err := json.MarshalIndent(struct {
			Result *efiverify.Result `json:"result"`
			Error  string            `json:"error,omitempty"`
		}{Result: result, Error: errString(verifyErr)}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		printResult(result)
	}

	if verifyErr != nil || result == nil || !result.OK() {
		os.Exit(1)
	}
	return nil
}

func printResult(result *efiverify.Result) {
	if result == nil {
		fmt.Println("verification failed before any slice could be parsed")
		return
	}
	if !result.IsFat {
		fmt.Println("single PE image")
	} else {
		fmt.Printf("fat container with %d architecture slices\n", len(result.Slices))
	}
	for _, s := range result.Slices {
		switch {
		case s.Skipped:
			fmt.Printf("  cpu_type=0x%x offset=0x%x size=0x%x: skipped (unsupported architecture)\n", s.CPUType, s.Offset, s.Size)
		case s.Verified:
			fmt.Printf("  cpu_type=0x%x offset=0x%x size=0x%x: verified\n", s.CPUType, s.Offset, s.Size)
		default:
			fmt.Printf("  cpu_type=0x%x offset=0x%x size=0x%x: FAILED: %v\n", s.CPUType, s.Offset, s.Size, s.Err)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
