package library

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Descriptor identifies a named folder of media files rooted at an absolute
// directory. Descriptors are immutable once the library is constructed.
type Descriptor struct {
	Name string
	Root string
}

// Credential holds the Basic-auth pair guarding a folder. The password may be
// either a plaintext value or a pbkdf2 hash in the storage format understood by
// the auth package.
type Credential struct {
	Folder   string
	Username string
	Password string
}

// Library maps folder names to filesystem roots and credentials. It is built
// once at startup and is safe for unsynchronized concurrent reads afterwards.
type Library struct {
	folders     map[string]Descriptor
	credentials map[string]Credential
	names       []string
}

// New constructs a Library from parsed folder and credential tables. Folder
// roots are resolved to absolute paths; a folder configured with a relative
// root is resolved against the working directory at startup.
func New(folders map[string]string, credentials map[string]Credential) (*Library, error) {
	lib := &Library{
		folders:     make(map[string]Descriptor, len(folders)),
		credentials: make(map[string]Credential, len(credentials)),
	}
	for name, root := range folders {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve folder %s root: %w", name, err)
		}
		lib.folders[name] = Descriptor{Name: name, Root: abs}
		lib.names = append(lib.names, name)
	}
	for folder, cred := range credentials {
		folder = strings.TrimSpace(folder)
		if folder == "" {
			continue
		}
		cred.Folder = folder
		lib.credentials[folder] = cred
	}
	Sort(lib.names)
	return lib, nil
}

// Resolve returns the descriptor for the named folder.
func (l *Library) Resolve(name string) (Descriptor, bool) {
	desc, ok := l.folders[name]
	return desc, ok
}

// CredentialFor returns the credential guarding the named folder. Folders
// configured without a credential are treated as unknown by the auth gate.
func (l *Library) CredentialFor(name string) (Credential, bool) {
	cred, ok := l.credentials[name]
	return cred, ok
}

// Names returns the configured folder names in display order.
func (l *Library) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// Len reports how many folders the library serves.
func (l *Library) Len() int {
	return len(l.folders)
}

// Sort orders names the way they are presented to clients: case-insensitive
// and locale-aware, so "Abbey Road" sorts next to "abbey road extras".
func Sort(names []string) {
	c := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(names, func(i, j int) bool {
		return c.CompareString(names[i], names[j]) < 0
	})
}
