package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskboard/internal/board"
	"taskboard/internal/exitcode"
)

func init() {
	Register(&AddCmd{})
}

// AddCmd implements the add command.
type AddCmd struct {
	description string
	imagePath   string
	now         func() time.Time
}

// SetClock sets the clock used for image names (for testing).
func (c *AddCmd) SetClock(now func() time.Time) {
	c.now = now
}

func (c *AddCmd) Name() string      { return "add" }
func (c *AddCmd) Aliases() []string { return []string{"create"} }
func (c *AddCmd) Synopsis() string  { return "Create a task" }
func (c *AddCmd) Usage() string {
	return "taskboard add [--description <text>] [--image <file>] <title...>"
}
func (c *AddCmd) NeedsAuth() bool { return true }

func (c *AddCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.description, "description", "", "")
	fs.StringVar(&c.description, "d", "", "")
	fs.StringVar(&c.imagePath, "image", "", "")
	fs.StringVar(&c.imagePath, "i", "", "")
}

func (c *AddCmd) Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int {
	form := board.Form{
		Title:       strings.Join(args, " "),
		Description: c.description,
	}

	if c.imagePath != "" {
		f, err := os.Open(c.imagePath)
		if err != nil {
			fmt.Fprintf(errOut, "error: cannot open image: %v\n", err)
			return exitcode.UserError
		}
		defer f.Close()

		contentType, err := detectContentType(f, c.imagePath)
		if err != nil {
			fmt.Fprintf(errOut, "error: cannot read image: %v\n", err)
			return exitcode.UserError
		}
		form.Image = &board.Image{
			Name:        filepath.Base(c.imagePath),
			ContentType: contentType,
			Body:        f,
		}
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}

	created, err := board.Create(ctx, env.Service, env.email(), form, now())
	if created.UploadErr != nil {
		env.Logger.Error("error uploading image", "error", created.UploadErr)
		fmt.Fprintf(errOut, "warning: image upload failed: %v\n", created.UploadErr)
	}
	if err != nil {
		return backendError(errOut, err)
	}

	if !env.Config.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}

// detectContentType guesses the image type from the extension, falling
// back to sniffing the first bytes. f is rewound afterwards.
func detectContentType(f *os.File, path string) (string, error) {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct, nil
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
