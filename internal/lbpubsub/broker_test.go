package lbpubsub_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/frankframework/ladybug/internal/lbpubsub"
)

func TestBrokerAllowAndDrops(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := lbpubsub.NewBroker(strings.ToUpper)

	even := make(chan string, 1)
	if err := broker.Add(func(s string) bool { return len(s)%2 == 0 }, even); err != nil {
		t.Fatal(err)
	}
	if err := broker.Add(nil, even); err == nil {
		t.Fatal("want error on double subscribe")
	}

	broker.Publish(ctx, "ab")
	broker.Publish(ctx, "abc")
	broker.Publish(ctx, "abcd") // channel full

	if want, have := "AB", <-even; want != have {
		t.Errorf("want %q, have %q", want, have)
	}

	stats, err := broker.Remove(even)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := (lbpubsub.Stats{Skips: 1, Sends: 1, Drops: 1}), stats; want != have {
		t.Errorf("want %s, have %s", want, have)
	}
	if broker.Active() {
		t.Errorf("broker still active after last Remove")
	}
}

func TestBrokerSubscribeBlocksUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	broker := lbpubsub.NewBroker[int](nil)
	ch := make(chan int, 10)

	done := make(chan error, 1)
	go func() {
		_, err := broker.Subscribe(ctx, nil, ch)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !broker.Active() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	broker.Publish(ctx, 42)
	if want, have := 42, <-ch; want != have {
		t.Errorf("want %d, have %d", want, have)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("want context.Canceled, have %v", err)
	}
}
