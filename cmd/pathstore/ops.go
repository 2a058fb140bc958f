package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <local-file> [folder]",
	Short: "Store a local file",
	Long: `Store a local file under a folder path, creating missing folders.
Any file with the same name already in the folder is replaced.

Examples:
  pathstore put report.pdf docs/2024
  pathstore put notes.txt`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := ""
		if len(args) == 2 {
			folder = args[1]
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Storage.Store(cmd.Context(), args[0], folder)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Retrieve a file into the staging directory",
	Long: `Download a file into the staging directory and print the local path.

Example:
  pathstore get docs/2024/report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		local, err := a.Storage.Retrieve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), local)
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Write a file's content to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		rc, err := a.Storage.RetrieveStream(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.Copy(cmd.OutOrStdout(), rc)
		return err
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a file",
	Long: `Remove every file or folder named after the path's last component in
its parent folder.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Storage.Remove(cmd.Context(), args[0])
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a folder path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Storage.CreateFolder(cmd.Context(), args[0])
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir <path>",
	Short: "Remove a folder",
	Long: `Remove a folder. Whether a non-empty folder is removed with its
content depends on the backend: Drive removes it, the others refuse.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Storage.RemoveFolder(cmd.Context(), args[0])
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [path]",
	Short: "Print the node ID of a folder path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		id, err := a.Storage.FolderID(cmd.Context(), path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Empty the staging directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Storage.Clean(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "cleaned %s\n", a.Storage.StagingDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(putCmd, getCmd, catCmd, rmCmd, mkdirCmd, rmdirCmd, resolveCmd, cleanCmd)
}
