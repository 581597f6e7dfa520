// Command hash-credential derives a storable password hash for a folder
// credential so the plaintext never appears in configuration.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"tonecrate/internal/auth"
)

func main() {
	var (
		folder   string
		username string
		password string
	)

	flag.StringVar(&folder, "folder", "", "Folder name the credential guards")
	flag.StringVar(&username, "username", "", "Username for the folder credential")
	flag.StringVar(&password, "password", "", "Password to hash (omit to read from stdin)")
	flag.Parse()

	if strings.TrimSpace(folder) == "" {
		fatalf("--folder is required")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if strings.Contains(folder, ":") || strings.Contains(username, ":") {
		fatalf("folder and username must not contain ':'")
	}

	if password == "" {
		var err error
		password, err = readPassword(os.Stdin)
		if err != nil {
			fatalf("read password: %v", err)
		}
	}
	if len(password) < 8 {
		fatalf("password must be at least 8 characters")
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		fatalf("hash password: %v", err)
	}

	fmt.Printf("%s:%s:%s\n", strings.TrimSpace(folder), strings.TrimSpace(username), hashed)
	fmt.Fprintln(os.Stderr, "Add this triple to TONECRATE_FOLDER_CREDENTIALS or --folder-credentials.")
}

func readPassword(in *os.File) (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
