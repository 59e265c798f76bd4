package lbweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bernerdschaefer/eventsource"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbsearch"
)

// StreamInit is the data of the first event of every stream.
type StreamInit struct {
	Name          string `json:"name,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	SendBuffer    int    `json:"sendbuf"`
}

// handleStream sends closed reports to the client as server-sent events.
// Requests must Accept: text/event-stream. Optional query parameters name and
// correlationId filter reports with the search language of package lbsearch.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !RequestExplicitlyAccepts(r, "text/event-stream") {
		err := fmt.Errorf("invalid request Accept header (%s)", r.Header.Get("accept"))
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var (
		query   = r.URL.Query()
		hello   = StreamInit{Name: query.Get("name"), CorrelationID: query.Get("correlationId")}
		queries []*lbsearch.Query
	)
	for _, expr := range []string{hello.Name, hello.CorrelationID} {
		if expr == "" {
			queries = append(queries, nil)
			continue
		}
		q, err := lbsearch.Parse(expr)
		if err != nil {
			respondError(w, r, err, http.StatusBadRequest)
			return
		}
		queries = append(queries, q)
	}

	allow := func(rep *ladybug.Report) bool {
		if q := queries[0]; q != nil && !q.Match(rep.Name) {
			return false
		}
		if q := queries[1]; q != nil && !q.Match(rep.CorrelationID) {
			return false
		}
		return true
	}

	var (
		statsInterval = parseDefault(query.Get("stats"), time.ParseDuration, 10*time.Second)
		sendbuf       = parseRange(query.Get("sendbuf"), strconv.Atoi, 0, 100, 100000)
		reportc       = make(chan *ladybug.Report, sendbuf)
	)
	hello.SendBuffer = sendbuf

	if statsInterval < time.Second {
		statsInterval = time.Second
	}

	stop, err := s.tracer.Watch(allow, reportc)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	defer func() {
		stats := stop()
		s.logger.DebugContext(ctx, "stream done", "stats", stats.String())
	}()

	eventsource.Handler(func(lastId string, encoder *eventsource.Encoder, stop <-chan bool) {
		stats := time.NewTicker(statsInterval)
		defer stats.Stop()

		initc := make(chan struct{}, 1)
		initc <- struct{}{}

		for {
			select {
			case <-initc:
				if err := encodeEvent(encoder, "init", hello); err != nil {
					s.logger.ErrorContext(ctx, "encode init", "err", err)
					continue
				}

			case <-stats.C:
				stats, err := s.tracer.SubscriptionStats(ctx, reportc)
				if err != nil {
					s.logger.ErrorContext(ctx, "get stats", "err", err)
					continue
				}
				if err := encodeEvent(encoder, "stats", stats); err != nil {
					s.logger.ErrorContext(ctx, "encode stats", "err", err)
					continue
				}

			case rep := <-reportc:
				if err := encodeEvent(encoder, "report", rep); err != nil {
					s.logger.ErrorContext(ctx, "encode report", "err", err)
					continue
				}

			case <-stop:
				return

			case <-ctx.Done():
				return
			}
		}
	}).ServeHTTP(w, r)
}

func encodeEvent(encoder *eventsource.Encoder, typ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("JSON marshal %s: %w", typ, err)
	}
	return encoder.Encode(eventsource.Event{Type: typ, Data: data})
}

//
//
//

// StreamClient streams closed reports from a server.
type StreamClient struct {
	// HTTPClient used to connect to the server. Optional. By default,
	// http.DefaultClient.
	HTTPClient *http.Client

	// URI of the remote stream endpoint. Required.
	URI string

	// Name and CorrelationID filter reports, using the search language of
	// package lbsearch. Optional.
	Name          string
	CorrelationID string

	// SendBuffer used by the remote server. Min 0, max 100k.
	SendBuffer int

	// OnRead is called for every stream event received by the client.
	// Implementations must not block and must not modify event data.
	OnRead func(ctx context.Context, eventType string, eventData []byte)

	// RetryInterval between reconnect attempts. Default 3s, min 1s, max 60s.
	RetryInterval time.Duration

	// StatsInterval for stream stats updates. Default 10s, min 1s, max 60s.
	StatsInterval time.Duration
}

func (c *StreamClient) initialize() {
	if c.URI != "" && !strings.HasPrefix(c.URI, "http") {
		c.URI = "http://" + c.URI
	}

	if min, max := 0, 100000; c.SendBuffer < min {
		c.SendBuffer = min
	} else if c.SendBuffer > max {
		c.SendBuffer = max
	}

	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}

	if c.OnRead == nil {
		c.OnRead = func(ctx context.Context, eventType string, eventData []byte) {}
	}

	if def, min, max := 3*time.Second, 1*time.Second, 60*time.Second; c.RetryInterval == 0 {
		c.RetryInterval = def
	} else if c.RetryInterval < min {
		c.RetryInterval = min
	} else if c.RetryInterval > max {
		c.RetryInterval = max
	}

	if def, min, max := 10*time.Second, 1*time.Second, 60*time.Second; c.StatsInterval == 0 {
		c.StatsInterval = def
	} else if c.StatsInterval < min {
		c.StatsInterval = min
	} else if c.StatsInterval > max {
		c.StatsInterval = max
	}
}

// Stream closed reports from the remote server to the provided channel. The
// stream stops when the context is canceled, or a non-recoverable error
// occurs.
func (c *StreamClient) Stream(ctx context.Context, ch chan<- *ladybug.Report) error {
	c.initialize()

	uri, err := url.Parse(c.URI)
	if err != nil {
		return err
	}

	query := uri.Query()
	if c.SendBuffer > 0 {
		query.Set("sendbuf", strconv.Itoa(c.SendBuffer))
	}
	if c.StatsInterval > 0 {
		query.Set("stats", c.StatsInterval.String())
	}
	if c.Name != "" {
		query.Set("name", c.Name)
	}
	if c.CorrelationID != "" {
		query.Set("correlationId", c.CorrelationID)
	}
	uri.RawQuery = query.Encode()

	var lastEventID string
	for {
		recoverable, err := c.read(ctx, uri.String(), &lastEventID, ch)
		if ctx.Err() != nil {
			return nil
		}
		if !recoverable {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.RetryInterval):
		}
	}
}

// read connects to the server once, and forwards events until the connection
// fails or the context is canceled. Connection errors and server errors are
// recoverable, and the caller reconnects after the retry interval.
func (c *StreamClient) read(ctx context.Context, uri string, lastEventID *string, ch chan<- *ladybug.Report) (recoverable bool, _ error) {
	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("cache-control", "no-cache")
	if *lastEventID != "" {
		req.Header.Set("last-event-id", *lastEventID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("server returned %s", resp.Status)
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("endpoint returned unrecoverable status %q", resp.Status)
	}

	if mediatype, _, _ := mime.ParseMediaType(resp.Header.Get("content-type")); mediatype != "text/event-stream" {
		return false, fmt.Errorf("invalid content type %q", resp.Header.Get("content-type"))
	}

	dec := eventsource.NewDecoder(resp.Body)
	for {
		var ev eventsource.Event
		err := dec.Decode(&ev)
		if errors.Is(err, eventsource.ErrInvalidEncoding) {
			continue
		}
		if err != nil {
			return true, fmt.Errorf("read server-sent event: %w", err)
		}
		if len(ev.Data) == 0 {
			continue
		}
		if ev.ID != "" || ev.ResetID {
			*lastEventID = ev.ID
		}

		c.OnRead(ctx, ev.Type, ev.Data)

		switch ev.Type {
		case "report":
			rep := &ladybug.Report{}
			if err := json.Unmarshal(ev.Data, rep); err != nil {
				return false, fmt.Errorf("decode report event: %w", err)
			}
			select {
			case <-ctx.Done():
				return false, nil
			case ch <- rep:
			}

		case "stats":
			var stats ladybug.SubscriptionStats
			if err := json.Unmarshal(ev.Data, &stats); err != nil {
				return false, fmt.Errorf("invalid stats event: %w", err)
			}
		}
	}
}
