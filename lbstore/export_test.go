package lbstore_test

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"testing"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbstore"
	"github.com/frankframework/ladybug/lbstore/lbstoretest"
	"github.com/google/go-cmp/cmp"
)

func TestExportImport(t *testing.T) {
	t.Parallel()

	var (
		a = lbstoretest.NewReport("ca", "alpha", "one", "tw\"o,\nlines")
		b = lbstoretest.NewReport("cb", "beta")
	)
	AssertNoError(t, a.SetCheckpointMessage(1, []byte{0xde, 0xad, 0xbe, 0xef}))

	var buf bytes.Buffer
	AssertNoError(t, lbstore.Export(&buf, a, b))

	reports, err := lbstore.Import(&buf)
	AssertNoError(t, err)
	AssertEqual(t, 2, len(reports))

	for i, want := range []*ladybug.Report{a, b} {
		have := reports[i]
		ExpectEqual(t, want.CorrelationID, have.CorrelationID)
		ExpectEqual(t, want.Name, have.Name)
		AssertEqual(t, len(want.Checkpoints), len(have.Checkpoints))
		for j := range want.Checkpoints {
			if diff := cmp.Diff(want.Checkpoints[j].Value(), have.Checkpoints[j].Value()); diff != "" {
				t.Errorf("report %d checkpoint %d: %s", i, j, diff)
			}
		}
	}
}

func TestExportFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	AssertNoError(t, lbstore.Export(&buf, lbstoretest.NewReport("c", "n")))

	zr, err := gzip.NewReader(&buf)
	AssertNoError(t, err)
	dec := json.NewDecoder(zr)

	var version string
	AssertNoError(t, dec.Decode(&version))
	AssertEqual(t, lbstore.ExportVersion, version)

	var obj map[string]any
	AssertNoError(t, dec.Decode(&obj))
	AssertEqual(t, "c", obj["correlationId"].(string))

	if err := dec.Decode(&obj); err != io.EOF {
		t.Errorf("want EOF, have %v", err)
	}
}

func TestImportErrors(t *testing.T) {
	t.Parallel()

	if _, err := lbstore.Import(bytes.NewReader([]byte("not gzip"))); err == nil {
		t.Errorf("want error for non-gzip input")
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	json.NewEncoder(zw).Encode("something-else/1")
	zw.Close()
	if _, err := lbstore.Import(&buf); err == nil {
		t.Errorf("want error for unknown version")
	}

	if err := lbstore.Export(io.Discard); err == nil {
		t.Errorf("want error for empty export")
	}
}

func TestCodecs(t *testing.T) {
	t.Parallel()

	r := lbstoretest.NewReport("c", "codec", "payload")
	for _, codec := range []lbstore.Codec{lbstore.CodecGzip, lbstore.CodecLZ4} {
		data, err := codec.Encode(r)
		AssertNoError(t, err)

		decoded, err := codec.Decode(data)
		AssertNoError(t, err)
		ExpectEqual(t, "codec", decoded.Name)

		sniffed, err := lbstore.Decode(data)
		AssertNoError(t, err)
		ExpectEqual(t, "payload", sniffed.Checkpoints[1].Message)

		byName, err := lbstore.CodecByName(codec.Name())
		AssertNoError(t, err)
		ExpectEqual(t, codec.Name(), byName.Name())
	}
}
