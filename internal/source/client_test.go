package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "terminbot/pkg/logx"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(Config{BaseURL: baseURL, Timeout: 5 * time.Second}, logx.Nop())
}

func TestFetchWalksLocationsAndPages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/impressum">Impressum</a>
			<a href="/loc/aegi">Bürgeramt  Aegi</a>
			<a href="/loc/podbi">Bürgeramt Podbi</a>
		</body></html>`)
	})
	mux.HandleFunc("/loc/aegi", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/book?year=2026&month=9&day=3&time=480">Termine am 03.09.2026</a>
			<a href="/book?year=2026&month=9&day=3&time=495">Termine am 03.09.2026</a>
			<a href="/book?year=2026&month=9&day=1&time=480">Termine am 01.09.2026</a>
			<a class="nat_navigation_button" href="/loc/aegi">zurück</a>
			<a class="nat_navigation_button" href="/loc/aegi2">weitere Termine</a>
		</body></html>`)
	})
	mux.HandleFunc("/loc/aegi2", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/book?year=2026&month=10&day=12&time=510">Termine am 12.10.2026</a>
			<a class="nat_navigation_button" href="/loc/aegi">zurück</a>
		</body></html>`)
	})
	mux.HandleFunc("/loc/podbi", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/book?year=2026&month=9&day=1&time=525">Termine am 01.09.2026</a>
		</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := []Appointment{
		{Location: "Bürgeramt Aegi", Date: NewDate(2026, time.September, 1)},
		{Location: "Bürgeramt Podbi", Date: NewDate(2026, time.September, 1)},
		{Location: "Bürgeramt Aegi", Date: NewDate(2026, time.September, 3)},
		{Location: "Bürgeramt Aegi", Date: NewDate(2026, time.October, 12)},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d appointments, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("appointment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFetchNoLocationsIsMalformed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>Wartungsarbeiten</p></body></html>`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Fetch(context.Background())
	if !IsMalformed(err) {
		t.Fatalf("err = %v, want malformed", err)
	}
}

func TestFetchServerErrorIsUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 10 * time.Second}, logx.Nop())
	_, err := c.Fetch(context.Background())
	if !IsUnreachable(err) {
		t.Fatalf("err = %v, want unreachable", err)
	}
}

func TestFetchRateLimitedFailsFast(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Fetch(context.Background())
	if !IsRateLimited(err) {
		t.Fatalf("err = %v, want rate limited", err)
	}
	if hits != 1 {
		t.Fatalf("server hit %d times, want 1 (no retry on 429)", hits)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var hits int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `<html><body><a href="/loc">Bürgeramt Aegi</a></body></html>`)
	})
	mux.HandleFunc("/loc", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch after transient failures: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d appointments, want 0", len(got))
	}
}

func TestDateFromHref(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		href    string
		want    Date
		ok      bool
		wantErr bool
	}{
		{name: "full", href: "/book?year=2026&month=9&day=3&time=480", want: NewDate(2026, time.September, 3), ok: true},
		{name: "missing day", href: "/book?year=2026&month=9", ok: false},
		{name: "plain link", href: "/impressum", ok: false},
		{name: "non numeric", href: "/book?year=x&month=9&day=3", wantErr: true},
		{name: "implausible year", href: "/book?year=1234&month=9&day=3", wantErr: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := dateFromHref(tc.href)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("dateFromHref(%q): want error", tc.href)
				}
				return
			}
			if err != nil {
				t.Fatalf("dateFromHref(%q): %v", tc.href, err)
			}
			if ok != tc.ok {
				t.Fatalf("dateFromHref(%q) ok = %v, want %v", tc.href, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("dateFromHref(%q) = %v, want %v", tc.href, got, tc.want)
			}
		})
	}
}
