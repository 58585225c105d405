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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/mobilecheck/archive"
	"github.com/forensicanalysis/mobilecheck/backup"
	"github.com/forensicanalysis/mobilecheck/modules"
)

// ListModules is the list-modules commandline subcommand.
func ListModules() *cobra.Command {
	return &cobra.Command{
		Use:   "list-modules",
		Short: "List the available modules",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range modules.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

// FileID is the file-id commandline subcommand.
func FileID() *cobra.Command {
	return &cobra.Command{
		Use:   "file-id <domain> <relative path>",
		Short: "Print the backup file id of a domain and relative path",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), backup.ComputeFileID(args[0], args[1]))
		},
	}
}

// Archive is the archive commandline subcommand.
func Archive() *cobra.Command {
	archiveCommand := &cobra.Command{
		Use:   "archive",
		Short: "Inspect the artifact archive of a scan",
	}
	archiveCommand.AddCommand(ls(), unpack())
	return archiveCommand
}

func ls() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <archive>",
		Short: "List files in the archive",
		Args:  requireOneArchive,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := archive.New(args[0])
			if err != nil {
				return err
			}
			defer a.Close()

			infos, err := a.List()
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", info.MTime.Format("2006-01-02 15:04:05"), info.Size, info.Name)
			}
			return nil
		},
	}
}

func unpack() *cobra.Command {
	var mode, dest string
	unpackCmd := &cobra.Command{
		Use:   "unpack <archive>",
		Short: "Extract files from the archive",
		Args:  requireOneArchive,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := archive.New(args[0])
			if err != nil {
				return err
			}
			defer a.Close()

			dest, err := filepath.Abs(dest)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dest, 0750); err != nil {
				return err
			}
			return a.Extract(afero.NewBasePathFs(afero.NewOsFs(), dest), mode)
		},
	}

	usage := `define the export filename and folder structure. can be one of:
folder (e.g. 'HomeDomain/Library/SMS/sms.db')
compact (e.g. 'HomeDomain_Library_SMS_sms.db')
basename (e.g. 'sms.db')
`
	unpackCmd.Flags().StringVar(&mode, "mode", archive.Compact, usage)
	unpackCmd.Flags().StringVarP(&dest, "dest", "d", ".", "destination folder")
	return unpackCmd
}
