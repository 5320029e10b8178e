// Package registry holds the durable list of remote servers and the project path-sets opened on
// them. Servers are addressed by index; every mutation is a small transform applied through a
// Store so concurrent writers serialize on the file.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"remote-projects/pkg/remote"
)

// UploadPolicy controls whether the remote helper binary may be uploaded over ssh.
type UploadPolicy string

const (
	UploadUnset  UploadPolicy = ""
	UploadAlways UploadPolicy = "always"
	UploadNever  UploadPolicy = "never"
	UploadAuto   UploadPolicy = "auto"
)

// UploadPolicies lists the settable policies in cycle order.
var UploadPolicies = []UploadPolicy{UploadUnset, UploadAuto, UploadAlways, UploadNever}

func (p UploadPolicy) Valid() bool {
	switch p {
	case UploadUnset, UploadAlways, UploadNever, UploadAuto:
		return true
	}
	return false
}

// Next returns the policy after p in UploadPolicies.
func (p UploadPolicy) Next() UploadPolicy {
	for i, q := range UploadPolicies {
		if q == p {
			return UploadPolicies[(i+1)%len(UploadPolicies)]
		}
	}
	return UploadUnset
}

func (p UploadPolicy) String() string {
	if p == UploadUnset {
		return "default"
	}
	return string(p)
}

// ProjectRecord is a set of absolute paths opened together.
type ProjectRecord struct {
	Paths []string `yaml:"paths" toml:"paths"`
}

// NewProject returns a project with paths cleaned, deduplicated and sorted.
func NewProject(paths ...string) ProjectRecord {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = path.Clean(p)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return ProjectRecord{Paths: out}
}

// Key identifies the path set; two projects are equal iff their keys are equal.
func (p ProjectRecord) Key() string {
	return strings.Join(NewProject(p.Paths...).Paths, "\x00")
}

func (p ProjectRecord) Equal(o ProjectRecord) bool { return p.Key() == o.Key() }

func (p ProjectRecord) String() string { return strings.Join(p.Paths, ", ") }

// ServerRecord is one configured remote server.
type ServerRecord struct {
	Host               string          `yaml:"host" toml:"host"`
	Port               uint16          `yaml:"port,omitempty" toml:"port,omitempty"`
	Username           string          `yaml:"username,omitempty" toml:"username,omitempty"`
	Args               []string        `yaml:"args,omitempty" toml:"args,omitempty"`
	Nickname           string          `yaml:"nickname,omitempty" toml:"nickname,omitempty"`
	UploadBinaryPolicy UploadPolicy    `yaml:"upload_binary_policy,omitempty" toml:"upload_binary_policy,omitempty"`
	Projects           []ProjectRecord `yaml:"projects,omitempty" toml:"projects,omitempty"`
}

// FromOptions builds a record with no projects.
func FromOptions(opts remote.ConnectionOptions) ServerRecord {
	return ServerRecord{
		Host:     opts.Host,
		Port:     opts.Port,
		Username: opts.Username,
		Args:     append([]string(nil), opts.Args...),
	}
}

func (s ServerRecord) Options() remote.ConnectionOptions {
	return remote.ConnectionOptions{
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Args:     append([]string(nil), s.Args...),
	}
}

func (s ServerRecord) ConnectionString() string { return s.Options().ConnectionString() }

// DisplayName is the nickname when set, otherwise the connection string.
func (s ServerRecord) DisplayName() string {
	if s.Nickname != "" {
		return s.Nickname
	}
	return s.ConnectionString()
}

// ConnectionKey identifies how the server is reached, ignoring nickname, policy and projects.
func (s ServerRecord) ConnectionKey() string {
	return strings.Join(append([]string{s.Host, fmt.Sprint(s.Port), s.Username}, s.Args...), "\x00")
}

// Fingerprint hashes the whole normalized record. Index-addressed mutations compare it to
// detect that the record under an index changed since it was read.
func (s ServerRecord) Fingerprint() string {
	n := s.Clone()
	n.normalize()
	b, err := yaml.Marshal(n)
	if err != nil {
		b = []byte(fmt.Sprintf("%#v", n))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HasProject reports whether a project with the same path set is saved.
func (s ServerRecord) HasProject(p ProjectRecord) bool {
	key := p.Key()
	for _, q := range s.Projects {
		if q.Key() == key {
			return true
		}
	}
	return false
}

func (s ServerRecord) Clone() ServerRecord {
	c := s
	c.Args = append([]string(nil), s.Args...)
	c.Projects = make([]ProjectRecord, len(s.Projects))
	for i, p := range s.Projects {
		c.Projects[i] = ProjectRecord{Paths: append([]string(nil), p.Paths...)}
	}
	return c
}

func (s *ServerRecord) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	s.Username = strings.TrimSpace(s.Username)
	s.Nickname = strings.TrimSpace(s.Nickname)
	if len(s.Args) == 0 {
		s.Args = nil
	}

	seen := make(map[string]struct{}, len(s.Projects))
	projects := make([]ProjectRecord, 0, len(s.Projects))
	for _, p := range s.Projects {
		p = NewProject(p.Paths...)
		if len(p.Paths) == 0 {
			continue
		}
		if _, ok := seen[p.Key()]; ok {
			continue
		}
		seen[p.Key()] = struct{}{}
		projects = append(projects, p)
	}
	sort.SliceStable(projects, func(i, j int) bool { return projects[i].Key() < projects[j].Key() })
	if len(projects) == 0 {
		projects = nil
	}
	s.Projects = projects
}

// Registry is the ordered list of servers. Index is identity.
type Registry struct {
	Servers []ServerRecord `yaml:"servers" toml:"servers"`
}

func (r Registry) Clone() Registry {
	c := Registry{Servers: make([]ServerRecord, len(r.Servers))}
	for i, s := range r.Servers {
		c.Servers[i] = s.Clone()
	}
	return c
}

// Normalize canonicalizes every record: trimmed strings, project sets deduplicated and sorted.
func (r *Registry) Normalize() {
	for i := range r.Servers {
		r.Servers[i].normalize()
	}
}

// Equal compares normalized content.
func (r Registry) Equal(o Registry) bool {
	if len(r.Servers) != len(o.Servers) {
		return false
	}
	for i := range r.Servers {
		if r.Servers[i].Fingerprint() != o.Servers[i].Fingerprint() {
			return false
		}
	}
	return true
}

// Server returns the record at index i.
func (r Registry) Server(i int) (ServerRecord, bool) {
	if i < 0 || i >= len(r.Servers) {
		return ServerRecord{}, false
	}
	return r.Servers[i].Clone(), true
}

// Matches reports whether index i still holds a record with the given fingerprint.
func (r Registry) Matches(i int, fingerprint string) bool {
	s, ok := r.Server(i)
	return ok && s.Fingerprint() == fingerprint
}

// AddServer appends a record for opts and returns its index. Duplicates are permitted.
func (r *Registry) AddServer(opts remote.ConnectionOptions) int {
	r.Servers = append(r.Servers, FromOptions(opts))
	return len(r.Servers) - 1
}

// RemoveServer deletes index i. Out of range is a no-op.
func (r *Registry) RemoveServer(i int) bool {
	if i < 0 || i >= len(r.Servers) {
		return false
	}
	r.Servers = append(r.Servers[:i], r.Servers[i+1:]...)
	return true
}

// AddProject inserts p into server i's project set. Re-adding the same path set is a no-op.
func (r *Registry) AddProject(i int, p ProjectRecord) bool {
	if i < 0 || i >= len(r.Servers) {
		return false
	}
	p = NewProject(p.Paths...)
	if len(p.Paths) == 0 || r.Servers[i].HasProject(p) {
		return false
	}
	r.Servers[i].Projects = append(r.Servers[i].Projects, p)
	r.Servers[i].normalize()
	return true
}

// RemoveProject deletes the project with p's path set from server i.
func (r *Registry) RemoveProject(i int, p ProjectRecord) bool {
	if i < 0 || i >= len(r.Servers) {
		return false
	}
	key := p.Key()
	projects := r.Servers[i].Projects
	for j, q := range projects {
		if q.Key() == key {
			r.Servers[i].Projects = append(projects[:j:j], projects[j+1:]...)
			if len(r.Servers[i].Projects) == 0 {
				r.Servers[i].Projects = nil
			}
			return true
		}
	}
	return false
}

// SetNickname replaces server i's nickname. Blank clears it.
func (r *Registry) SetNickname(i int, nickname string) bool {
	if i < 0 || i >= len(r.Servers) {
		return false
	}
	nickname = strings.TrimSpace(nickname)
	if r.Servers[i].Nickname == nickname {
		return false
	}
	r.Servers[i].Nickname = nickname
	return true
}

func (r *Registry) SetUploadPolicy(i int, p UploadPolicy) bool {
	if i < 0 || i >= len(r.Servers) || !p.Valid() {
		return false
	}
	if r.Servers[i].UploadBinaryPolicy == p {
		return false
	}
	r.Servers[i].UploadBinaryPolicy = p
	return true
}

// Validate checks structural invariants after loading from disk.
func (r Registry) Validate() error {
	for i, s := range r.Servers {
		if strings.TrimSpace(s.Host) == "" {
			return fmt.Errorf("servers[%d]: host is required", i)
		}
		if strings.ContainsAny(s.Host, " \t@") {
			return fmt.Errorf("servers[%d](%s): host must not contain whitespace or '@'", i, s.Host)
		}
		if !s.UploadBinaryPolicy.Valid() {
			return fmt.Errorf("servers[%d](%s): upload_binary_policy must be one of always, never, auto", i, s.Host)
		}
		for j, p := range s.Projects {
			if len(p.Paths) == 0 {
				return fmt.Errorf("servers[%d](%s).projects[%d]: paths must not be empty", i, s.Host, j)
			}
			for _, pp := range p.Paths {
				if !path.IsAbs(pp) {
					return fmt.Errorf("servers[%d](%s).projects[%d]: path %q is not absolute", i, s.Host, j, pp)
				}
			}
		}
	}
	return nil
}
