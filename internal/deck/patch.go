package deck

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// DevNoFinalCheck disables the solver's final convergence check. It has no
// counterpart in the package options the writer knows about, so it is
// injected into the written file.
const DevNoFinalCheck = "  DEV_NO_FINAL_CHECK"

var optionsMarker = []byte("options")

// PatchOptions inserts directive as a new line immediately after every line
// that contains "options" in any letter case. Every other byte is kept as is
// and the inserted line reuses the terminator of the line it follows. The
// scan is a single pass: patching already patched input adds the directive
// again.
func PatchOptions(src []byte, directive string) ([]byte, int) {
	var out bytes.Buffer
	out.Grow(len(src) + 2*len(directive))

	n := 0
	for rest := src; len(rest) > 0; {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		rest = rest[len(line):]
		out.Write(line)

		if !bytes.Contains(bytes.ToLower(line), optionsMarker) {
			continue
		}
		term := terminator(line)
		if term == "" {
			// Last line without a newline: give the directive its own line.
			out.WriteByte('\n')
			term = "\n"
		}
		out.WriteString(directive)
		out.WriteString(term)
		n++
	}
	return out.Bytes(), n
}

func terminator(line []byte) string {
	switch {
	case bytes.HasSuffix(line, []byte("\r\n")):
		return "\r\n"
	case bytes.HasSuffix(line, []byte("\n")):
		return "\n"
	}
	return ""
}

// PatchFile applies PatchOptions to the file at path. The file is read fully
// and replaced through a rename, so readers never see a partial rewrite.
// Callers must not run two patches on the same file concurrently.
func PatchFile(path, directive string) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	patched, n := PatchOptions(src, directive)

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(patched); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
