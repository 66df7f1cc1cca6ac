// Package wordlist resolves the bundled wordlists and resolver lists
// used for bruteforce default injection. The bundle layout under the
// configured root is fixed:
//
//	<root>/wordlists/static-dns/best-dns-wordlist.txt
//	<root>/wordlists/dynamic-dns/words-merged.txt
//	<root>/resolvers/resolvers.txt
package wordlist

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Paths resolves bundled files relative to a root directory.
type Paths struct {
	Root string
}

// Static returns the path of the bundled static-phase DNS wordlist.
func (p Paths) Static() string {
	return filepath.Join(p.Root, "wordlists", "static-dns", "best-dns-wordlist.txt")
}

// Dynamic returns the path of the bundled dynamic-phase DNS wordlist.
func (p Paths) Dynamic() string {
	return filepath.Join(p.Root, "wordlists", "dynamic-dns", "words-merged.txt")
}

// Resolvers returns the path of the bundled resolver list.
func (p Paths) Resolvers() string {
	return filepath.Join(p.Root, "resolvers", "resolvers.txt")
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Count returns the number of non-blank lines in the file at path.
// Large wordlists are scanned line by line rather than read whole.
func Count(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n, scanner.Err()
}
