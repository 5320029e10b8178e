package registry

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"remote-projects/pkg/remote"
)

func threeServers() Registry {
	var r Registry
	r.AddServer(remote.ConnectionOptions{Host: "a.example.com"})
	r.AddServer(remote.ConnectionOptions{Host: "b.example.com", Username: "bob", Port: 2222})
	r.AddServer(remote.ConnectionOptions{Host: "c.example.com", Args: []string{"-A"}})
	return r
}

func TestAddServer_PermitsDuplicates(t *testing.T) {
	var r Registry
	opts := remote.ConnectionOptions{Host: "example.com", Username: "alice"}
	i := r.AddServer(opts)
	j := r.AddServer(opts)
	if i != 0 || j != 1 || len(r.Servers) != 2 {
		t.Fatalf("expected two entries at 0 and 1, got %d %d (len %d)", i, j, len(r.Servers))
	}
	if r.Servers[0].Projects != nil {
		t.Fatalf("expected new server to have no projects")
	}
}

func TestRemoveServer_OutOfRangeIsNoop(t *testing.T) {
	r := threeServers()
	before := r.Clone()
	for _, i := range []int{-1, 3, 99} {
		if r.RemoveServer(i) {
			t.Fatalf("expected RemoveServer(%d) to report no change", i)
		}
	}
	if !r.Equal(before) {
		t.Fatalf("expected registry unchanged")
	}
	if !r.RemoveServer(1) || len(r.Servers) != 2 || r.Servers[1].Host != "c.example.com" {
		t.Fatalf("expected index 1 removed and later entries shifted, got %+v", r.Servers)
	}
}

func TestAddProject_SetSemantics(t *testing.T) {
	r := threeServers()
	p := NewProject("/srv/app", "/srv/lib")
	if !r.AddProject(0, p) {
		t.Fatalf("expected first add to change registry")
	}
	if r.AddProject(0, NewProject("/srv/lib", "/srv/app/", "/srv/app")) {
		t.Fatalf("expected re-adding the same path set to be a no-op")
	}
	if len(r.Servers[0].Projects) != 1 {
		t.Fatalf("expected one project, got %d", len(r.Servers[0].Projects))
	}
	if r.AddProject(5, p) {
		t.Fatalf("expected out-of-range add to be a no-op")
	}
}

func TestRemoveProject_Idempotent(t *testing.T) {
	r := threeServers()
	p := NewProject("/home/bob/src")
	r.AddProject(1, p)
	r.AddProject(1, NewProject("/home/bob/other"))

	once := r.Clone()
	once.RemoveProject(1, p)
	twice := once.Clone()
	if twice.RemoveProject(1, p) {
		t.Fatalf("expected second removal to report no change")
	}
	if !once.Equal(twice) {
		t.Fatalf("expected removing twice to equal removing once")
	}
	if len(once.Servers[1].Projects) != 1 || once.Servers[1].Projects[0].Paths[0] != "/home/bob/other" {
		t.Fatalf("unexpected projects after removal: %+v", once.Servers[1].Projects)
	}
}

func TestSetNickname_EmptyClears(t *testing.T) {
	r := threeServers()
	r.SetNickname(2, "work box")
	if r.Servers[2].Nickname != "work box" {
		t.Fatalf("expected nickname set, got %q", r.Servers[2].Nickname)
	}
	r.SetNickname(2, "   ")
	if r.Servers[2].Nickname != "" {
		t.Fatalf("expected blank nickname to clear, got %q", r.Servers[2].Nickname)
	}
	if r.Servers[2].DisplayName() != "c.example.com" {
		t.Fatalf("expected display name to fall back to connection string, got %q", r.Servers[2].DisplayName())
	}
}

func TestMatches_DetectsChangedRecord(t *testing.T) {
	r := threeServers()
	fp := r.Servers[1].Fingerprint()
	if !r.Matches(1, fp) {
		t.Fatalf("expected fingerprint to match")
	}
	r.RemoveServer(0)
	if r.Matches(1, fp) {
		t.Fatalf("expected index 1 to no longer match after a removal shifted it")
	}
	if r.Matches(7, fp) {
		t.Fatalf("expected out-of-range index not to match")
	}
}

func TestFingerprint_IgnoresProjectOrder(t *testing.T) {
	a := ServerRecord{Host: "h", Projects: []ProjectRecord{{Paths: []string{"/b"}}, {Paths: []string{"/a"}}}}
	b := ServerRecord{Host: "h", Projects: []ProjectRecord{{Paths: []string{"/a"}}, {Paths: []string{"/b"}}}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected project order not to affect fingerprint")
	}
	b.Nickname = "x"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected nickname to affect fingerprint")
	}
}

func TestSetUploadPolicy(t *testing.T) {
	r := threeServers()
	if r.SetUploadPolicy(0, UploadPolicy("sometimes")) {
		t.Fatalf("expected unknown policy rejected")
	}
	if !r.SetUploadPolicy(0, UploadNever) || r.Servers[0].UploadBinaryPolicy != UploadNever {
		t.Fatalf("expected policy set")
	}
	if UploadNever.Next() != UploadUnset {
		t.Fatalf("expected policy cycle to wrap, got %q", UploadNever.Next())
	}
}

func TestValidate(t *testing.T) {
	r := threeServers()
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Servers[1].Projects = []ProjectRecord{{Paths: []string{"relative/dir"}}}
	err := r.Validate()
	if err == nil || !strings.Contains(err.Error(), "servers[1]") {
		t.Fatalf("expected error naming servers[1], got %v", err)
	}
	r = threeServers()
	r.Servers[0].Host = " "
	if err := r.Validate(); err == nil {
		t.Fatalf("expected empty host rejected")
	}
}

func TestProjectSetProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		genPath := rapid.SampledFrom([]string{"/a", "/b", "/c", "/a/b", "/srv/app"})
		paths := rapid.SliceOfN(genPath, 1, 3).Draw(t, "paths")
		others := rapid.SliceOfN(rapid.SliceOfN(genPath, 1, 3), 0, 4).Draw(t, "others")

		var r Registry
		r.AddServer(remote.ConnectionOptions{Host: "h"})
		for _, o := range others {
			r.AddProject(0, NewProject(o...))
		}
		p := NewProject(paths...)

		r.AddProject(0, p)
		r.AddProject(0, p)
		count := 0
		for _, q := range r.Servers[0].Projects {
			if q.Equal(p) {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("expected exactly one copy of %v, got %d", p.Paths, count)
		}

		r.RemoveProject(0, p)
		once := r.Clone()
		r.RemoveProject(0, p)
		if !r.Equal(once) {
			t.Fatalf("expected RemoveProject to be idempotent")
		}
		if r.Servers[0].HasProject(p) {
			t.Fatalf("expected %v removed", p.Paths)
		}
	})
}
