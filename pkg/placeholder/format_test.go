package placeholder

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"meshbot/pkg/mesh"
)

type mapLocator map[string]Location

func (m mapLocator) NodeLocation(_ context.Context, id string) (Location, bool) {
	loc, ok := m[id]
	return loc, ok
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
}

func TestFormatMessageFields(t *testing.T) {
	msg := &mesh.Message{
		SenderID: "alice",
		Path:     "01,5f (2 hops) via ROUTE_TYPE_FLOOD",
		SNR:      "7.5",
		RSSI:     "-92",
		Hops:     2,
	}
	opts := Options{Now: fixedNow, Args: "seattle"}

	tests := []struct {
		template string
		want     string
	}{
		{template: "ack @[{sender}] {hops} hops", want: "ack @[alice] 2 hops"},
		{template: "{connection_info}", want: "01,5f (2 hops) | SNR: 7.5 dB | RSSI: -92 dBm"},
		{template: "at {timestamp}", want: "at 13:04:05"},
		{template: "elapsed {elapsed}", want: "elapsed Unknown"},
		{template: "wx for {args}", want: "wx for seattle"},
		{template: "{{literal}} {total_contacts}", want: "{literal} 0"},
		{template: "no fields", want: "no fields"},
	}

	for _, tc := range tests {
		t.Run(tc.template, func(t *testing.T) {
			got, err := Format(context.Background(), tc.template, msg, opts)
			if err != nil {
				t.Fatalf("Format error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Format(%q) = %q, want %q", tc.template, got, tc.want)
			}
		})
	}
}

func TestFormatTimezone(t *testing.T) {
	tz := time.FixedZone("UTC-7", -7*3600)
	got, err := Format(context.Background(), "{timestamp}", &mesh.Message{}, Options{Now: fixedNow, Timezone: tz})
	if err != nil {
		t.Fatalf("Format error: %v", err)
	}
	if got != "06:04:05" {
		t.Fatalf("timestamp = %q, want 06:04:05", got)
	}
}

func TestFormatWithoutMessage(t *testing.T) {
	got, err := Format(context.Background(), "{sender} {repeaters}/{total_repeaters} [{path_distance}]", nil, Options{
		MeshInfo: map[string]int{"total_repeaters": 12},
	})
	if err != nil {
		t.Fatalf("Format error: %v", err)
	}
	if got != "Unknown 12/12 []" {
		t.Fatalf("Format = %q", got)
	}
}

func TestFormatErrors(t *testing.T) {
	msg := &mesh.Message{SenderID: "alice"}

	if _, err := Format(context.Background(), "hi {nickname}", msg, Options{}); !errors.Is(err, ErrUnknownPlaceholder) {
		t.Fatalf("unknown placeholder error = %v", err)
	}
	if _, err := Format(context.Background(), "hi {sender", msg, Options{}); !errors.Is(err, ErrMalformedTemplate) {
		t.Fatalf("unclosed error = %v", err)
	}
	if _, err := Format(context.Background(), "hi } there", msg, Options{}); !errors.Is(err, ErrMalformedTemplate) {
		t.Fatalf("stray brace error = %v", err)
	}
}

func TestPathDistances(t *testing.T) {
	locator := mapLocator{
		"01": {Latitude: 47.6062, Longitude: -122.3321},
		"5F": {Latitude: 47.2529, Longitude: -122.4443},
		"A4": {Latitude: 45.5152, Longitude: -122.6784},
	}

	tests := []struct {
		name      string
		locator   NodeLocator
		path      string
		wantPath  string
		wantFirst string
	}{
		{name: "direct", locator: locator, path: "Direct", wantPath: "directly (0 hops)", wantFirst: "N/A (direct)"},
		{name: "empty", locator: locator, path: "", wantPath: "directly (0 hops)", wantFirst: "N/A (direct)"},
		{name: "no locator", locator: nil, path: "01,5f", wantPath: "unknown distance", wantFirst: "unknown"},
		{name: "single hop", locator: locator, path: "01 (1 hop)", wantPath: "locally (1 hop)", wantFirst: "N/A (1 hop)"},
		{name: "all located", locator: locator, path: "01,5f,a4", wantPath: "234.2km (2 segs)", wantFirst: "234.0km"},
		{name: "partially located", locator: locator, path: "01,5f,cc", wantPath: "40.2km (1 segs, 1 no-loc)", wantFirst: "unknown (no locations)"},
		{name: "nothing located", locator: locator, path: "aa,bb,cc", wantPath: "unknown distance (3 hops, no locations)", wantFirst: "unknown (no locations)"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotPath, gotFirst := PathDistances(context.Background(), tc.locator, tc.path)
			if gotPath != tc.wantPath || gotFirst != tc.wantFirst {
				t.Fatalf("PathDistances(%q) = (%q, %q), want (%q, %q)", tc.path, gotPath, gotFirst, tc.wantPath, tc.wantFirst)
			}
		})
	}
}

func TestDistance(t *testing.T) {
	got := Distance(Location{Latitude: 0, Longitude: 0}, Location{Latitude: 0, Longitude: 1})
	if math.Abs(got-111.19) > 0.01 {
		t.Fatalf("Distance = %.3f, want ~111.19", got)
	}
}
