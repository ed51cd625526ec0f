package progress

import (
	"io"
	"os"
	"strings"
)

// tailer reads a log file incrementally. It carries the byte offset and
// any partial trailing line across reads, so each call returns only the
// complete lines appended since the last one.
type tailer struct {
	path    string
	offset  int64
	partial string
}

func newTailer(path string) *tailer {
	return &tailer{path: path}
}

// Lines returns the complete lines appended since the previous call. A
// missing file is not an error; the log may not exist yet.
func (t *tailer) Lines() ([]string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < t.offset {
		// Truncated or replaced; start over.
		t.offset = 0
		t.partial = ""
	}
	if info.Size() == t.offset {
		return nil, nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	t.offset += int64(len(chunk))

	text := t.partial + string(chunk)
	parts := strings.Split(text, "\n")
	t.partial = parts[len(parts)-1]
	return parts[:len(parts)-1], nil
}
