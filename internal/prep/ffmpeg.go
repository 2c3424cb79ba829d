package prep

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/solarprep/internal/imagefs"
)

// FFmpegList rewrites a list of file names as an ffmpeg concat demuxer list
// and returns the number of entries written. Blank lines are dropped.
func FFmpegList(r io.Reader, w io.Writer) (int, error) {
	sc := bufio.NewScanner(r)
	bw := bufio.NewWriter(w)
	n := 0
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if _, err := fmt.Fprintf(bw, "file '%s'\n", name); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read list: %w", err)
	}
	return n, bw.Flush()
}

func FFmpegListFile(inPath, outPath string) (int, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", inPath, err)
	}
	defer in.Close()

	if dir := filepath.Dir(outPath); dir != "." {
		if err := imagefs.EnsureDir(dir); err != nil {
			return 0, err
		}
	}
	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", outPath, err)
	}
	n, err := FFmpegList(in, out)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", outPath, err)
	}
	return n, nil
}
