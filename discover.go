package rarar

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

var partStyleRe = regexp.MustCompile(`(?i)^(?P<base>.+)\.part(?P<num>\d+)\.rar$`)

// DiscoverVolumes finds all local volumes belonging to the archive at first.
// Supported schemes: name.part1.rar/.part01.rar sequences (expanded only when
// first is part 1, preserving the number width) and name.rar + name.r00 +
// name.r01 sequences. When no sibling volumes exist the input path is
// returned alone.
func DiscoverVolumes(fs afero.Fs, first string) []string {
	base := filepath.Base(first)
	dir := filepath.Dir(first)

	if m := partStyleRe.FindStringSubmatch(base); m != nil {
		prefix, num := m[1], m[2]
		if !allOnes(num) {
			return []string{first}
		}
		width := len(num)
		vols := []string{first}
		for i := 2; ; i++ {
			name := fmt.Sprintf("%s.part%0*d.rar", prefix, width, i)
			p := filepath.Join(dir, name)
			if ok, _ := afero.Exists(fs, p); !ok {
				break
			}
			vols = append(vols, p)
		}
		return vols
	}

	if strings.EqualFold(filepath.Ext(base), ".rar") {
		prefix := strings.TrimSuffix(first, filepath.Ext(first))
		vols := []string{first}
		for i := 0; ; i++ {
			p := fmt.Sprintf("%s.r%02d", prefix, i)
			if ok, _ := afero.Exists(fs, p); !ok {
				break
			}
			vols = append(vols, p)
		}
		return vols
	}

	return []string{first}
}

// allOnes reports whether num is "1" with optional leading zeros.
func allOnes(num string) bool {
	trimmed := strings.TrimLeft(num, "0")
	return trimmed == "1"
}
