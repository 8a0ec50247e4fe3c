package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

// changePrinter writes one line per changed path: "+" added, "-" removed,
// "~" modified.
type changePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *changePrinter) Notify(changes vfs.Changes) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range []struct {
		mark  string
		paths []string
	}{
		{"+", changes.Added},
		{"-", changes.Removed},
		{"~", changes.Modified},
	} {
		for _, path := range c.paths {
			fmt.Fprintf(p.w, "%s %s\n", c.mark, path)
		}
	}
}

func newWatchCommand(g *globalOptions) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "watch [archive-path...]",
		Short: "Print changes to archive paths",
		Long: `Watch archive paths and print each change as it is reported: "+" for an
added path, "-" for a removed one and "~" for a modified one. A path prefixed
with "!" covers only itself and its immediate children. Without paths the
whole archive is watched. Changes inside a nested archive are reported as a
modification of its mount point.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = []string{pathutil.Root}
			}

			sys, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			err = sys.Watch(ctx, paths, &changePrinter{w: cmd.OutOrStdout()})
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long, 0 watches until interrupted")

	return cmd
}
