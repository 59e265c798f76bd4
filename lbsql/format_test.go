package lbsql_test

import (
	"bytes"
	"go/format"
	"os"
	"path/filepath"
	"testing"
)

func TestSourcesFormatted(t *testing.T) {
	t.Parallel()

	files, err := filepath.Glob("*.go")
	AssertNoError(t, err)

	for _, filename := range files {
		src, err := os.ReadFile(filename)
		AssertNoError(t, err)

		formatted, err := format.Source(src)
		if err != nil {
			t.Errorf("%s: %v", filename, err)
			continue
		}
		if !bytes.Equal(src, formatted) {
			t.Errorf("%s: not gofmt formatted", filename)
		}
	}
}
