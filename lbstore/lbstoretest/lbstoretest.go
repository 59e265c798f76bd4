// Package lbstoretest provides tests shared by every storage backend.
package lbstoretest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbstore"
)

// NewReport returns a closed report with a Startpoint, one Infopoint per
// message, and an Endpoint.
func NewReport(correlationID, name string, messages ...string) *ladybug.Report {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	r := ladybug.NewReport(correlationID, name)
	r.StartTime = start
	r.EndTime = start.Add(time.Duration(len(messages)+1) * time.Millisecond)

	add := func(typ ladybug.CheckpointType, cpname string, level int, message string) {
		r.Checkpoints = append(r.Checkpoints, &ladybug.Checkpoint{
			UID:        fmt.Sprintf("%s-%d", correlationID, len(r.Checkpoints)),
			Index:      len(r.Checkpoints),
			Name:       cpname,
			Type:       typ,
			Level:      level,
			ThreadName: ladybug.DefaultThreadName,
			Message:    message,
			Stub:       ladybug.StubFollowReport,
			Time:       start.Add(time.Duration(len(r.Checkpoints)) * time.Millisecond),
		})
	}

	add(ladybug.Startpoint, name, 0, "start "+name)
	for i, m := range messages {
		add(ladybug.Infopoint, fmt.Sprintf("info %d", i+1), 1, m)
	}
	add(ladybug.Endpoint, name, 0, "end "+name)

	return r
}

// TestCrud exercises a crud storage, which must be empty.
func TestCrud(t *testing.T, s lbstore.CrudStorage) {
	t.Helper()
	ctx := context.Background()

	var (
		a = NewReport("ca", "alpha", "one")
		b = NewReport("cb", "beta", "two", "three")
		c = NewReport("cc", "gamma")
	)
	for _, r := range []*ladybug.Report{a, b, c} {
		if err := s.Store(ctx, r); err != nil {
			t.Fatalf("Store(%s): %v", r.Name, err)
		}
	}

	if a.StorageID == b.StorageID || b.StorageID == c.StorageID || a.StorageID == c.StorageID {
		t.Fatalf("storage IDs not unique: %d %d %d", a.StorageID, b.StorageID, c.StorageID)
	}

	ids, err := s.StorageIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := fmt.Sprint([]int{c.StorageID, b.StorageID, a.StorageID}), fmt.Sprint(ids); want != have {
		t.Errorf("StorageIDs: want %s, have %s", want, have)
	}

	got, err := s.Report(ctx, b.StorageID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := "beta", got.Name; want != have {
		t.Errorf("Report: name: want %q, have %q", want, have)
	}
	if want, have := "cb", got.CorrelationID; want != have {
		t.Errorf("Report: correlation id: want %q, have %q", want, have)
	}
	if want, have := 4, len(got.Checkpoints); want != have {
		t.Fatalf("Report: checkpoints: want %d, have %d", want, have)
	}
	if want, have := "three", got.Checkpoints[2].Message; want != have {
		t.Errorf("Report: message: want %q, have %q", want, have)
	}

	TestMetadata(t, s, a, b, c)

	b.SetName("beta2")
	if err := s.Update(ctx, b); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = s.Report(ctx, b.StorageID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := "beta2", got.Name; want != have {
		t.Errorf("after Update: name: want %q, have %q", want, have)
	}
	recs, err := s.Metadata(ctx, lbstore.MetadataRequest{Fields: []string{lbstore.FieldName}, SearchValues: []string{"[beta2]"}})
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 1, len(recs); want != have {
		t.Errorf("after Update: metadata: want %d records, have %d", want, have)
	}

	if err := s.Delete(ctx, a); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Report(ctx, a.StorageID); !errors.Is(err, lbstore.ErrNotFound) {
		t.Errorf("Report after Delete: want ErrNotFound, have %v", err)
	}
	if err := s.Delete(ctx, a); !errors.Is(err, lbstore.ErrNotFound) {
		t.Errorf("second Delete: want ErrNotFound, have %v", err)
	}
	missing := NewReport("cx", "missing")
	missing.StorageID = 999999
	if err := s.Update(ctx, missing); !errors.Is(err, lbstore.ErrNotFound) {
		t.Errorf("Update of missing report: want ErrNotFound, have %v", err)
	}

	if n, err := s.Size(ctx); err != nil || n != 2 {
		t.Errorf("Size after Delete: want 2, have %d (%v)", n, err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, err := s.Size(ctx); err != nil || n != 0 {
		t.Errorf("Size after Clear: want 0, have %d (%v)", n, err)
	}
}

// TestLog exercises a log storage, which must be empty.
func TestLog(t *testing.T, s lbstore.LogStorage) {
	t.Helper()
	ctx := context.Background()

	var (
		a = NewReport("ca", "alpha", "one")
		b = NewReport("cb", "beta", "two", "three")
		c = NewReport("cc", "gamma")
	)
	for _, r := range []*ladybug.Report{a, b, c} {
		s.StoreWithoutError(ctx, r)
	}

	if have := s.WarningsAndErrors(); have != "" {
		t.Fatalf("WarningsAndErrors: %s", have)
	}

	if n, err := s.Size(ctx); err != nil || n != 3 {
		t.Fatalf("Size: want 3, have %d (%v)", n, err)
	}

	got, err := s.Report(ctx, a.StorageID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := "alpha", got.Name; want != have {
		t.Errorf("Report: name: want %q, have %q", want, have)
	}

	TestMetadata(t, s, a, b, c)
}

// TestMetadata checks metadata search over three stored reports, created
// with NewReport, and stored in order.
func TestMetadata(t *testing.T, s lbstore.Storage, a, b, c *ladybug.Report) {
	t.Helper()
	ctx := context.Background()

	fields := []string{lbstore.FieldStorageID, lbstore.FieldName, lbstore.FieldNumberOfCheckpoints}

	recs, err := s.Metadata(ctx, lbstore.MetadataRequest{Fields: fields})
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 3, len(recs); want != have {
		t.Fatalf("Metadata: want %d records, have %d", want, have)
	}
	if want, have := c.StorageID, recs[0][0]; want != have {
		t.Errorf("Metadata: first record: want storage ID %v, have %v", want, have)
	}
	if want, have := "gamma", recs[0][1]; want != have {
		t.Errorf("Metadata: first record: want name %v, have %v", want, have)
	}
	if want, have := 4, recs[1][2]; want != have {
		t.Errorf("Metadata: second record: want %v checkpoints, have %v", want, have)
	}

	recs, err = s.Metadata(ctx, lbstore.MetadataRequest{Fields: fields, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 2, len(recs); want != have {
		t.Errorf("Metadata with limit: want %d records, have %d", want, have)
	}

	for _, tc := range []struct {
		search []string
		want   int
	}{
		{[]string{"", "[BETA]"}, 1},
		{[]string{"", "a"}, 3},
		{[]string{"", "*a"}, 3},
		{[]string{"", "[[Alpha]]"}, 0},
		{[]string{"", "(^g)"}, 1},
		{[]string{"", "", "<3|4>"}, 2},
		{[]string{"", "", "<|2>"}, 1},
		{[]string{fmt.Sprintf("<%d|%d>", a.StorageID, b.StorageID)}, 2},
	} {
		recs, err := s.Metadata(ctx, lbstore.MetadataRequest{Fields: fields, SearchValues: tc.search})
		if err != nil {
			t.Errorf("Metadata %q: %v", tc.search, err)
			continue
		}
		if want, have := tc.want, len(recs); want != have {
			t.Errorf("Metadata %q: want %d records, have %d", tc.search, want, have)
		}
	}

	recs, err = s.Metadata(ctx, lbstore.MetadataRequest{Fields: fields, ValueType: lbstore.ValueString, SearchValues: []string{"", "[alpha]"}})
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 1, len(recs); want != have {
		t.Fatalf("Metadata as strings: want %d records, have %d", want, have)
	}
	if want, have := fmt.Sprint(a.StorageID), recs[0][0]; want != have {
		t.Errorf("Metadata as strings: want %#v, have %#v", want, have)
	}

	if _, err := s.Metadata(ctx, lbstore.MetadataRequest{Fields: []string{"nope"}}); err == nil {
		t.Errorf("Metadata with unknown field: want error")
	}
}
