package lbcsv_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/frankframework/ladybug/internal/lbcsv"
	"github.com/google/go-cmp/cmp"
)

func TestEscape(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   lbcsv.Field
		want string
	}{
		{lbcsv.Null(), ``},
		{lbcsv.String(""), `""`},
		{lbcsv.String("abc"), `abc`},
		{lbcsv.String("a,b"), `"a,b"`},
		{lbcsv.String(`say "hi"`), `"say ""hi"""`},
		{lbcsv.String("two\nlines"), "\"two\nlines\""},
	} {
		if have := lbcsv.Escape(tc.in); tc.want != have {
			t.Errorf("%+v: want %q, have %q", tc.in, tc.want, have)
		}
	}
}

func TestWriteRead(t *testing.T) {
	t.Parallel()

	records := [][]lbcsv.Field{
		lbcsv.Strings("storageId", "storageSize", "name"),
		{lbcsv.String("1"), lbcsv.String("42"), lbcsv.String(`quoted "name", with comma`)},
		{lbcsv.String("2"), lbcsv.String("7"), lbcsv.String("")},
		{lbcsv.String("3"), lbcsv.String("9"), lbcsv.Null()},
		{lbcsv.String("4"), lbcsv.String("1"), lbcsv.String("multi\nline")},
	}

	var buf bytes.Buffer
	w := lbcsv.NewWriter(&buf)
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}

	have, err := lbcsv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(records, have) {
		t.Fatal(cmp.Diff(records, have))
	}
}

func TestReadErrors(t *testing.T) {
	t.Parallel()

	if _, err := lbcsv.NewReader(strings.NewReader("a\"b\n")).Read(); err == nil {
		t.Errorf("want error for bare quote")
	}
	if _, err := lbcsv.NewReader(strings.NewReader("\"abc")).Read(); err == nil {
		t.Errorf("want error for unterminated quote")
	}
	if _, err := lbcsv.NewReader(strings.NewReader("")).Read(); err != io.EOF {
		t.Errorf("want io.EOF for empty input, have %v", err)
	}
}
