package servers

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
	"remote-projects/pkg/workspace"
)

// ErrServerChanged is returned when the server a project belongs to is no longer in the
// registry at the expected index.
var ErrServerChanged = errors.New("server changed while picking a project")

// Handoff records a chosen project against its server and opens it.
type Handoff struct {
	Store  Persistence
	Opener workspace.Opener
	Logger *log.Logger
}

type handoffDoneMsg struct {
	seq int
	err error
}

func (h *Handoff) logger() *log.Logger {
	if h.Logger == nil {
		return log.New(io.Discard)
	}
	return h.Logger
}

// Persist adds the project to the server at index. The server is matched by connection
// identity so that nickname or policy edits in between do not lose the project.
func (h *Handoff) Persist(index int, server registry.ServerRecord, paths []string) (registry.ProjectRecord, error) {
	project := registry.NewProject(paths...)
	if len(project.Paths) == 0 {
		return project, &workspace.OpenError{Err: workspace.ErrNoPaths}
	}
	key := server.ConnectionKey()
	var stale bool
	err := h.Store.Update(func(r *registry.Registry) {
		s, ok := r.Server(index)
		if !ok || s.ConnectionKey() != key {
			stale = true
			return
		}
		r.AddProject(index, project)
	})
	if err != nil {
		return project, err
	}
	if stale {
		return project, ErrServerChanged
	}
	return project, nil
}

// Open opens project on the remote end of sess.
func (h *Handoff) Open(ctx context.Context, sess remote.Session, project registry.ProjectRecord) error {
	if err := h.Opener.Open(ctx, sess, project.Paths); err != nil {
		var oe *workspace.OpenError
		if errors.As(err, &oe) {
			return err
		}
		return &workspace.OpenError{Paths: project.Paths, Err: err}
	}
	h.logger().Info("opened project", "host", sess.Options().ConnectionString(), "paths", project.Paths)
	return nil
}

// Resolve persists the project and then opens it.
func (h *Handoff) Resolve(ctx context.Context, index int, server registry.ServerRecord, sess remote.Session, paths []string) error {
	project, err := h.Persist(index, server, paths)
	if err != nil {
		return err
	}
	return h.Open(ctx, sess, project)
}

func (h *Handoff) openCmd(ctx context.Context, seq int, sess remote.Session, project registry.ProjectRecord) tea.Cmd {
	return func() tea.Msg {
		return handoffDoneMsg{seq: seq, err: h.Open(ctx, sess, project)}
	}
}
