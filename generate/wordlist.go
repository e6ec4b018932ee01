package generate

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/RowanDark/smartrecon/internal/intern"
)

const (
	scannerBufferSize      = 64 * 1024
	maxWordSize            = 4 * 1024 * 1024
	largeWordlistThreshold = 10 * 1024 * 1024
)

// LoadWordlist reads a newline separated wordlist. Blank lines and lines
// starting with '#' are skipped, duplicates are dropped and file order is
// kept.
func LoadWordlist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wordlist: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat wordlist: %w", err)
	}

	size := info.Size()
	if size > largeWordlistThreshold && info.Mode().IsRegular() && size <= int64(^uint(0)>>1) {
		data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
		if err == nil {
			words, readErr := readWordlist(bytes.NewReader(data), int(size))
			_ = unix.Munmap(data)
			return words, readErr
		}
		// fall back to the streaming reader if mmap fails
	}

	hint := 0
	if size <= int64(^uint(0)>>1) {
		hint = int(size)
	}
	return readWordlist(file, hint)
}

func readWordlist(r io.Reader, sizeHint int) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scannerBufferSize), maxWordSize)

	capacity := 64
	if estimate := sizeHint / 8; estimate > capacity {
		capacity = estimate
	}

	words := make([]string, 0, capacity)
	seen := make(map[string]struct{}, capacity)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		word = intern.Intern(word)
		seen[word] = struct{}{}
		words = append(words, word)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading wordlist: %w", err)
	}
	return words, nil
}
