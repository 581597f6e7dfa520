package library

import "strings"

// The folder and credential tables arrive as comma-delimited, colon-separated
// lists intended for hand editing:
//
//	TONECRATE_FOLDERS="jazz:/srv/music/jazz,rock:/srv/music/rock"
//	TONECRATE_FOLDER_CREDENTIALS="jazz:miles:kindofblue,rock:jimi:voodoo"
//
// Entries missing a field are skipped rather than reported: a half-finished
// edit should never take the whole service down.

// ParseFolderList parses "name:path" pairs. The path keeps any further colons,
// so drive-letter style roots survive. Malformed pairs are dropped.
func ParseFolderList(raw string) map[string]string {
	folders := make(map[string]string)
	for _, pair := range splitEntries(raw) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		path := strings.TrimSpace(parts[1])
		if name == "" || path == "" {
			continue
		}
		folders[name] = path
	}
	return folders
}

// ParseCredentialList parses "folder:username:password" triples. The password
// keeps any further colons. Malformed triples are dropped. Later entries for
// the same folder win, matching last-writer map semantics of the original
// configuration format.
func ParseCredentialList(raw string) map[string]Credential {
	credentials := make(map[string]Credential)
	for _, triple := range splitEntries(raw) {
		parts := strings.SplitN(triple, ":", 3)
		if len(parts) != 3 {
			continue
		}
		folder := strings.TrimSpace(parts[0])
		username := strings.TrimSpace(parts[1])
		password := parts[2]
		if folder == "" || username == "" || password == "" {
			continue
		}
		credentials[folder] = Credential{Folder: folder, Username: username, Password: password}
	}
	return credentials
}

func splitEntries(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
