package main

import (
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

// fsName converts an archive path into an io/fs name.
func fsName(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	clean, ok := pathutil.Clean(p)
	if !ok {
		return "", fmt.Errorf("invalid archive path %q", p)
	}
	if pathutil.IsRoot(clean) {
		return ".", nil
	}
	return clean[1:], nil
}

func archivePath(name string) string {
	if name == "." {
		return pathutil.Root
	}
	return "/" + name
}

// mountOf returns where an archive sits in the tree it belongs to.
func mountOf(a *vfs.Archive) string {
	p := ""
	for {
		parent, mount, ok := a.Parent()
		if !ok {
			break
		}
		p = mount + p
		a = parent
	}
	if p == "" {
		return pathutil.Root
	}
	return p
}

func kindOf(info fs.FileInfo) string {
	rule, _ := info.Sys().(*vfs.Rule)
	if rule == nil {
		return "-"
	}
	return rule.Kind().String()
}

func newLsCommand(g *globalOptions) *cobra.Command {
	var (
		long      bool
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "ls [archive-path]",
		Short: "List an archive directory",
		Long: `List the entries of an archive directory, sorted by name. Directories
are shown with a trailing slash. With --long each line also shows the kind
of rule presenting the entry ("-" for intermediate directories), its size
and its modification time.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := pathutil.Root
			if len(args) == 1 {
				target = args[0]
			}
			name, err := fsName(target)
			if err != nil {
				return err
			}

			sys, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()

			fsys := sys.Archive.FS()
			out := cmd.OutOrStdout()
			show := func(display string, info fs.FileInfo) {
				if info.IsDir() {
					display += "/"
				}
				if !long {
					fmt.Fprintln(out, display)
					return
				}
				mod := "-"
				if t := info.ModTime(); !t.IsZero() {
					mod = t.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%-7s %10d  %-25s  %s\n", kindOf(info), info.Size(), mod, display)
			}

			if recursive {
				return fs.WalkDir(fsys, name, func(p string, d fs.DirEntry, err error) error {
					if err != nil {
						return err
					}
					if p == name {
						return nil
					}
					info, err := d.Info()
					if err != nil {
						return err
					}
					show(archivePath(p), info)
					return nil
				})
			}

			entries, err := fs.ReadDir(fsys, name)
			if err != nil {
				return err
			}
			for _, d := range entries {
				info, err := d.Info()
				if err != nil {
					return err
				}
				show(d.Name(), info)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "show rule kind, size and modification time")
	cmd.Flags().BoolVarP(&recursive, "recursive", "R", false, "list the whole subtree with full archive paths")

	return cmd
}

func newCatCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat archive-path...",
		Short: "Print archive files",
		Long:  "Print the contents of archive files, in order, to standard output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()

			for _, arg := range args {
				name, err := fsName(arg)
				if err != nil {
					return err
				}
				if err := copyFile(cmd.OutOrStdout(), sys.Archive.FS(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func copyFile(w io.Writer, fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", archivePath(name))
	}
	_, err = io.Copy(w, f)
	return err
}

func newStatCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat archive-path",
		Short: "Describe an archive entry",
		Long: `Describe an archive entry: the archive that presents it, the rule that
wins for it and the file on disk behind it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()

			e, ok := sys.Archive.Find(args[0])
			if !ok {
				return &fs.PathError{Op: "stat", Path: args[0], Err: fs.ErrNotExist}
			}

			out := cmd.OutOrStdout()
			rule := "(intermediate directory)"
			if !e.IsPassThrough() {
				rule = e.Rule().String()
			}
			kind := "file"
			if e.IsDir() {
				kind = "directory"
			}
			fmt.Fprintf(out, "path:     %s\n", args[0])
			fmt.Fprintf(out, "archive:  %s\n", mountOf(e.Archive()))
			fmt.Fprintf(out, "entry:    %s\n", e.Path())
			fmt.Fprintf(out, "rule:     %s\n", rule)
			fmt.Fprintf(out, "type:     %s\n", kind)
			if disk, ok := e.PhysicalPath(); ok {
				fmt.Fprintf(out, "disk:     %s\n", disk)
				fmt.Fprintf(out, "size:     %d\n", e.Size())
				if t := e.ModTime(); !t.IsZero() {
					fmt.Fprintf(out, "modified: %s\n", t.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func newURLsCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "urls archive-path",
		Short: "List the disk locations behind an archive path",
		Long: `List file URLs for every rule presenting an archive path, in rule order.
The first URL is the one that wins.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()

			a, p := sys.Archive, args[0]
			if e, ok := sys.Archive.Find(p); ok {
				a, p = e.Archive(), e.Path()
			}
			urls := a.URLs(p)
			if len(urls) == 0 {
				return &fs.PathError{Op: "urls", Path: args[0], Err: fs.ErrNotExist}
			}
			for _, u := range urls {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		},
	}
}
