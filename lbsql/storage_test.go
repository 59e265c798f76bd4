package lbsql_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbsql"
	"github.com/frankframework/ladybug/lbstore"
	"github.com/frankframework/ladybug/lbstore/lbstoretest"
)

func openSQLite(t *testing.T, cfg lbsql.Config) *lbsql.Storage {
	t.Helper()

	cfg.Dialect = lbsql.SQLite
	s, err := lbsql.Open(context.Background(), ":memory:", cfg)
	AssertNoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteCrud(t *testing.T) {
	t.Parallel()
	lbstoretest.TestCrud(t, openSQLite(t, lbsql.Config{}))
}

func TestSQLiteLog(t *testing.T) {
	t.Parallel()
	lbstoretest.TestLog(t, openSQLite(t, lbsql.Config{Codec: lbstore.CodecLZ4}))
}

func TestSQLitePagedLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openSQLite(t, lbsql.Config{PageSize: 2})

	for _, name := range []string{"a1", "b1", "a2", "b2", "a3", "b3", "a4"} {
		AssertNoError(t, s.Store(ctx, lbstoretest.NewReport(name, name)))
	}

	// Regexes aren't pushed down, so pages are filtered in process.
	recs, err := s.Metadata(ctx, lbstore.MetadataRequest{
		Limit:        3,
		Fields:       []string{lbstore.FieldStorageID, lbstore.FieldName},
		SearchValues: []string{"", "(^a)"},
	})
	AssertNoError(t, err)
	AssertEqual(t, 3, len(recs))
	ExpectEqual(t, "a4", recs[0][1].(string))
	ExpectEqual(t, "a3", recs[1][1].(string))
	ExpectEqual(t, "a2", recs[2][1].(string))
}

func TestSQLitePruneBySize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openSQLite(t, lbsql.Config{MaxStorageSize: 1})

	for _, name := range []string{"a", "b", "c"} {
		AssertNoError(t, s.Store(ctx, lbstoretest.NewReport(name, name)))
	}

	ids, err := s.StorageIDs(ctx)
	AssertNoError(t, err)
	AssertEqual(t, 1, len(ids))
	AssertEqual(t, 3, ids[0])
}

func TestSQLitePruneByAge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openSQLite(t, lbsql.Config{MaxAge: time.Hour})

	old := lbstoretest.NewReport("old", "old")
	AssertNoError(t, s.Store(ctx, old))

	recent := lbstoretest.NewReport("new", "new")
	recent.StartTime = time.Now().Add(-time.Minute)
	recent.EndTime = time.Now()
	AssertNoError(t, s.Store(ctx, recent))

	if _, err := s.Report(ctx, old.StorageID); !errors.Is(err, lbstore.ErrNotFound) {
		t.Errorf("old report: want ErrNotFound, have %v", err)
	}

	r, err := s.Report(ctx, recent.StorageID)
	AssertNoError(t, err)
	ExpectEqual(t, "new", r.Name)
}

func TestSQLiteCustomFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := lbstore.NewExtractor()

	fields, err := lbstore.LoadFields(strings.NewReader(`
fields:
  - name: storageId
  - name: name
    length: 4
  - name: startTime
  - name: duration
  - name: variable:customer
    column: customer
`), x)
	AssertNoError(t, err)

	s := openSQLite(t, lbsql.Config{Table: "reports", Fields: fields, Extractor: x, StoreXML: true})

	a := lbstoretest.NewReport("ca", "alphabet", "x")
	a.Variables = map[string]string{"customer": "42"}
	b := lbstoretest.NewReport("cb", "beta")
	for _, r := range []*ladybug.Report{a, b} {
		AssertNoError(t, s.Store(ctx, r))
	}

	// Fields that aren't columns are extracted from the stored report.
	recs, err := s.Metadata(ctx, lbstore.MetadataRequest{
		Fields: []string{lbstore.FieldName, "variable:customer", lbstore.FieldCorrelationID, lbstore.FieldDuration},
	})
	AssertNoError(t, err)
	AssertEqual(t, 2, len(recs))
	ExpectEqual(t, "alph", recs[1][0].(string))
	ExpectEqual(t, "42", recs[1][1].(string))
	ExpectEqual(t, "ca", recs[1][2].(string))
	ExpectEqual(t, 2*time.Millisecond, recs[1][3].(time.Duration))
	ExpectEqual(t, nil, recs[0][1])

	for _, tc := range []struct {
		fields []string
		search []string
		want   int
	}{
		{[]string{"variable:customer"}, []string{"null"}, 1},
		{[]string{"variable:customer"}, []string{"[42]"}, 1},
		{[]string{lbstore.FieldStartTime}, []string{"<2024-03-01|2024-03-01>"}, 2},
		{[]string{lbstore.FieldStartTime}, []string{"<2024-03-02|>"}, 0},
		{[]string{lbstore.FieldStartTime}, []string{"2024-03-01T12*"}, 2},
		{[]string{lbstore.FieldDuration}, []string{"<1.5|2>"}, 1},
		{[]string{lbstore.FieldCorrelationID}, []string{"[CB]"}, 1},
		{[]string{lbstore.FieldName}, []string{"[[alph]]"}, 1},
		{[]string{lbstore.FieldName}, []string{"[[ALPH]]"}, 0},
		{[]string{lbstore.FieldName}, []string{"l%"}, 0},
	} {
		recs, err := s.Metadata(ctx, lbstore.MetadataRequest{Fields: tc.fields, SearchValues: tc.search})
		if err != nil {
			t.Errorf("%v %v: %v", tc.fields, tc.search, err)
			continue
		}
		if want, have := tc.want, len(recs); want != have {
			t.Errorf("%v %v: want %d records, have %d", tc.fields, tc.search, want, have)
		}
	}
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for _, cfg := range []lbsql.Config{
		{},
		{Dialect: lbsql.SQLite, Table: "bad table"},
		{Dialect: lbsql.SQLite, MaxAge: time.Hour, AgeField: lbstore.FieldName},
	} {
		var cerr *lbstore.ConfigurationError
		if _, err := lbsql.New(ctx, nil, cfg); !errors.As(err, &cerr) {
			t.Errorf("%+v: want ConfigurationError, have %v", cfg, err)
		}
	}

	if _, err := lbsql.DialectByName("oracle"); err == nil {
		t.Errorf("want error for unknown dialect")
	}
	for _, name := range []string{"sqlite", "postgres", "mysql"} {
		d, err := lbsql.DialectByName(name)
		AssertNoError(t, err)
		ExpectEqual(t, name, d.Name())
	}
}
