// Copyright (c) 2021 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package cmd contains the commands of the mobilecheck command line.
package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Root returns the mobilecheck command with all subcommands.
func Root() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mobilecheck",
		Short: "Check mobile backups and filesystem dumps for traces of compromise",
	}
	rootCmd.AddCommand(CheckBackup(), CheckFS(), ListModules(), FileID(), Archive())
	return rootCmd
}

func requireOneArchive(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("requires exactly one archive")
	}
	if _, err := os.Stat(args[0]); os.IsNotExist(err) {
		return errors.Wrap(os.ErrNotExist, args[0])
	}
	return nil
}
