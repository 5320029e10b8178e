package servers

import (
	"context"
	"errors"
	"testing"

	"remote-projects/pkg/registry"
	"remote-projects/pkg/remote"
	"remote-projects/pkg/workspace"
)

func TestPathPicker_DirOfQuery(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"relative/dir": "",
		"/":            "/",
		"/ho":          "/",
		"/home/":       "/home",
		"/home/al":     "/home",
	}
	for q, want := range cases {
		p := newPathPicker()
		p.input.SetValue(q)
		if got := p.dirOfQuery(); got != want {
			t.Fatalf("dirOfQuery(%q): expected %q, got %q", q, want, got)
		}
	}
}

func TestPathPicker_ListingIsRequestedOncePerDir(t *testing.T) {
	p := newPathPicker()
	dir, ok := p.setQuery("/srv/")
	if !ok || dir != "/srv" {
		t.Fatalf("expected listing of /srv, got %q %v", dir, ok)
	}
	if _, ok := p.setQuery("/srv/a"); ok {
		t.Fatalf("expected no new listing for the same directory")
	}

	// A listing for an older request is dropped.
	p.setListing(dirListingMsg{seq: p.seq - 1, dir: "/srv", dirs: []string{"/srv/old"}})
	if len(p.dirs) != 0 || !p.loading {
		t.Fatalf("expected stale listing to be ignored, got %v", p.dirs)
	}

	p.setListing(dirListingMsg{seq: p.seq, dir: "/srv", dirs: []string{"/srv/api", "/srv/app", "/srv/web"}})
	if p.loading {
		t.Fatalf("expected loading to finish")
	}
	if len(p.matches) != 2 || p.matches[0] != "/srv/api" || p.matches[1] != "/srv/app" {
		t.Fatalf("unexpected matches %v", p.matches)
	}
}

func TestPathPicker_SuggestionsAreCapped(t *testing.T) {
	p := newPathPicker()
	p.setQuery("/d/")
	var dirs []string
	for _, c := range "abcdefghijkl" {
		dirs = append(dirs, "/d/"+string(c))
	}
	p.setListing(dirListingMsg{seq: p.seq, dir: "/d", dirs: dirs})
	if len(p.matches) != maxSuggestions {
		t.Fatalf("expected %d suggestions, got %d", maxSuggestions, len(p.matches))
	}
}

func TestPathPicker_CompleteAndSelection(t *testing.T) {
	p := newPathPicker()
	p.setQuery("/srv/w")
	p.setListing(dirListingMsg{seq: p.seq, dir: "/srv", dirs: []string{"/srv/api", "/srv/web"}})

	dir, ok := p.complete()
	if !ok || dir != "/srv/web" {
		t.Fatalf("expected completion into /srv/web, got %q %v", dir, ok)
	}
	if p.input.Value() != "/srv/web/" {
		t.Fatalf("unexpected query %q", p.input.Value())
	}
	sel, ok := p.selection()
	if !ok || sel != "/srv/web" {
		t.Fatalf("expected /srv/web, got %q %v", sel, ok)
	}

	p.setQuery("srv")
	if _, ok := p.selection(); ok {
		t.Fatalf("expected relative path to be rejected")
	}
	if p.loading {
		t.Fatalf("expected no listing for a relative path")
	}
}

func TestPathPicker_ListingErrorIsShown(t *testing.T) {
	p := newPathPicker()
	p.setQuery("/root/")
	p.setListing(dirListingMsg{seq: p.seq, dir: "/root", err: errors.New("permission denied")})
	if p.err == "" || p.loading {
		t.Fatalf("expected error to be recorded, got %+v", p)
	}
}

func TestHandoff_PersistIsGuardedByConnection(t *testing.T) {
	store := &memStore{}
	store.reg.AddServer(remote.ConnectionOptions{Host: "a.example.com"})
	store.reg.AddServer(remote.ConnectionOptions{Host: "b.example.com"})
	h := &Handoff{Store: store, Opener: &fakeOpener{}}

	server, _ := store.Snapshot().Server(1)
	store.edit(func(r *registry.Registry) { r.SetNickname(1, "bee") })
	if _, err := h.Persist(1, server, []string{"/srv/app"}); err != nil {
		t.Fatalf("expected nickname edit not to block persist, got %v", err)
	}
	got, _ := store.Snapshot().Server(1)
	if !got.HasProject(registry.NewProject("/srv/app")) {
		t.Fatalf("expected project on server 1, got %+v", got.Projects)
	}

	store.edit(func(r *registry.Registry) { r.RemoveServer(0) })
	if _, err := h.Persist(1, server, []string{"/srv/other"}); !errors.Is(err, ErrServerChanged) {
		t.Fatalf("expected ErrServerChanged, got %v", err)
	}
}

func TestHandoff_EmptyPathsAndOpenErrors(t *testing.T) {
	store := &memStore{}
	store.reg.AddServer(remote.ConnectionOptions{Host: "a.example.com"})
	server, _ := store.Snapshot().Server(0)
	opener := &fakeOpener{err: errors.New("tmux exploded")}
	h := &Handoff{Store: store, Opener: opener}

	if _, err := h.Persist(0, server, nil); !errors.Is(err, workspace.ErrNoPaths) {
		t.Fatalf("expected ErrNoPaths, got %v", err)
	}

	sess := &fakeSession{opts: server.Options()}
	err := h.Resolve(context.Background(), 0, server, sess, []string{"/srv/app"})
	var oe *workspace.OpenError
	if !errors.As(err, &oe) || oe.Paths[0] != "/srv/app" {
		t.Fatalf("expected OpenError for /srv/app, got %v", err)
	}
	got, _ := store.Snapshot().Server(0)
	if !got.HasProject(registry.NewProject("/srv/app")) {
		t.Fatalf("expected project to be saved before opening")
	}
}
