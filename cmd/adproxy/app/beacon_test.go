package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBeaconDedupKey(t *testing.T) {
	b := Beacon{Event: BeaconImp, AdID: "ad-1", TSMS: 1730376008000}
	require.Equal(t, "imp|ad-1|1730376008000", b.DedupKey())
	// Bitrate and variant never enter the key: one beacon per ad per break.
	b.Metadata = &BeaconMetadata{Variant: "v800", BitrateBPS: 800_000}
	require.Equal(t, "imp|ad-1|1730376008000", b.DedupKey())
}

func TestMemBeaconSinkCollects(t *testing.T) {
	sink := &memBeaconSink{}
	sink.Emit(context.Background(), Beacon{Event: BeaconImp, AdID: "a"})
	sink.Emit(context.Background(), Beacon{Event: BeaconComplete, AdID: "a"})
	all := sink.All()
	require.Len(t, all, 2)
	require.Equal(t, BeaconImp, all[0].Event)
	require.Equal(t, BeaconComplete, all[1].Event)
}

func TestHTTPBeaconSinkFiresOncePerKey(t *testing.T) {
	hits := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
	}))
	defer srv.Close()

	sink := newHTTPBeaconSink()
	b := Beacon{
		Event:       BeaconImp,
		AdID:        "ad-1",
		Channel:     "ch1",
		TSMS:        1730376008000,
		TrackerURLs: []string{srv.URL + "/imp"},
	}
	sink.Emit(context.Background(), b)
	select {
	case p := <-hits:
		require.Equal(t, "/imp", p)
	case <-time.After(2 * time.Second):
		t.Fatal("tracker was never called")
	}

	// Same dedup key again: no second delivery.
	sink.Emit(context.Background(), b)
	select {
	case <-hits:
		t.Fatal("duplicate beacon delivered")
	case <-time.After(100 * time.Millisecond):
	}

	// A different event is a new key.
	b.Event = BeaconComplete
	sink.Emit(context.Background(), b)
	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("second event was never delivered")
	}
}
