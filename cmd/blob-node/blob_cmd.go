package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/validation"
)

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <tenant> [file]",
		Short: "Store a blob and print its id",
		Long:  "Store the contents of file, or of stdin when file is omitted or \"-\", and print the new blob id.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				src      io.Reader = cmd.InOrStdin()
				sizeHint int64     = -1
			)
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				if info, err := f.Stat(); err == nil {
					sizeHint = info.Size()
				}
				src = f
			}

			n, err := a.open()
			if err != nil {
				return err
			}
			record, err := n.Coordinator.Put(cmd.Context(), args[0], src, sizeHint)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), record.ID)
			return err
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <tenant> <id>",
		Short: "Write a blob's content to stdout or a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := validation.ParseBlobID(args[1])
			if err != nil {
				return err
			}
			n, err := a.open()
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = n.Coordinator.Get(cmd.Context(), args[0], id, cmd.OutOrStdout())
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			_, err = n.Coordinator.Get(cmd.Context(), args[0], id, f)
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				// content may have been streamed before verification failed
				if rerr := os.Remove(output); rerr != nil {
					a.logger.Warn("Failed to remove partial output",
						zap.String("path", output),
						zap.Error(rerr))
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write content to this file instead of stdout")
	return cmd
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <tenant> <id>",
		Short: "Show a blob's metadata without reading content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := validation.ParseBlobID(args[1])
			if err != nil {
				return err
			}
			n, err := a.open()
			if err != nil {
				return err
			}
			record, err := n.Coordinator.Stat(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}

			// the record is authoritative; the chunk is shown as found on disk
			chunk, err := n.Chunks.Stat(id)
			if err != nil && !errors.IsNotFound(err) {
				return err
			}
			var info *model.ChunkInfo
			if err == nil {
				info = &chunk
			}
			return writeRecordDetail(cmd.OutOrStdout(), record, info)
		},
	}
}

func newListBlobsCmd(a *app) *cobra.Command {
	var (
		after  string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "list-blobs <tenant>",
		Short: "List a tenant's blobs in id order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{Limit: limit}
			if after != "" {
				id, err := validation.ParseBlobID(after)
				if err != nil {
					return err
				}
				opts.After = id
			}
			if format != "table" && format != "yaml" {
				return fmt.Errorf("unknown output format %q (allowed: table, yaml)", format)
			}

			n, err := a.open()
			if err != nil {
				return err
			}
			records, err := n.Coordinator.ListBlobs(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if format == "yaml" {
				return writeYAML(cmd.OutOrStdout(), records)
			}
			return writeRecordTable(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "start after this blob id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of blobs (0 for all)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or yaml")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant> <id>",
		Short: "Delete a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := validation.ParseBlobID(args[1])
			if err != nil {
				return err
			}
			n, err := a.open()
			if err != nil {
				return err
			}
			return n.Coordinator.Delete(cmd.Context(), args[0], id)
		},
	}
}
