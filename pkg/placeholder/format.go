// Package placeholder fills {name} fields in configured response templates.
package placeholder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"meshbot/pkg/mesh"
)

var (
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	ErrMalformedTemplate  = errors.New("malformed template")
)

const unknown = "Unknown"

// MeshCounters are the network summary fields scheduled messages can use.
var MeshCounters = []string{
	"total_contacts", "total_repeaters", "total_companions", "total_roomservers", "total_sensors",
	"recent_activity_24h",
	"new_companions_7d", "new_repeaters_7d", "new_roomservers_7d", "new_sensors_7d",
	"total_contacts_30d", "total_repeaters_30d", "total_companions_30d", "total_roomservers_30d", "total_sensors_30d",
	"repeaters", "companions",
}

// Options supplies the context a template may reference.
type Options struct {
	Locator  NodeLocator
	Timezone *time.Location
	Now      func() time.Time
	// MeshInfo overrides counters, which otherwise read 0.
	MeshInfo map[string]int
	Args     string
}

// Format renders template for msg. msg may be nil for messages not sent in
// reply to anyone. On error the caller should fall back to the raw template.
func Format(ctx context.Context, template string, msg *mesh.Message, opts Options) (string, error) {
	if !strings.ContainsAny(template, "{}") {
		return template, nil
	}

	values := fields(ctx, msg, opts)
	return render(template, values)
}

// Fields returns every placeholder value for msg.
func Fields(ctx context.Context, msg *mesh.Message, opts Options) map[string]string {
	return fields(ctx, msg, opts)
}

func fields(ctx context.Context, msg *mesh.Message, opts Options) map[string]string {
	values := make(map[string]string, 32)

	if msg != nil {
		values["sender"] = orUnknown(msg.SenderID)
		values["path"] = orUnknown(msg.Path)
		values["snr"] = orUnknown(msg.SNR)
		values["rssi"] = orUnknown(msg.RSSI)
		values["elapsed"] = orUnknown(msg.Elapsed)
		values["hops"] = strconv.Itoa(msg.Hops)
		values["connection_info"] = connectionInfo(msg)
		values["path_distance"], values["firstlast_distance"] = PathDistances(ctx, opts.Locator, msg.Path)
		values["timestamp"] = timestamp(opts)
	} else {
		for _, key := range []string{"sender", "path", "snr", "rssi", "elapsed", "connection_info", "timestamp"} {
			values[key] = unknown
		}
		values["hops"] = "0"
		values["path_distance"] = ""
		values["firstlast_distance"] = ""
	}

	for _, key := range MeshCounters {
		values[key] = strconv.Itoa(opts.MeshInfo[key])
	}
	if total, ok := opts.MeshInfo["total_repeaters"]; ok {
		if _, set := opts.MeshInfo["repeaters"]; !set {
			values["repeaters"] = strconv.Itoa(total)
		}
	}
	if total, ok := opts.MeshInfo["total_companions"]; ok {
		if _, set := opts.MeshInfo["companions"]; !set {
			values["companions"] = strconv.Itoa(total)
		}
	}

	values["args"] = opts.Args

	return values
}

func connectionInfo(msg *mesh.Message) string {
	routing := msg.Path
	if routing == "" {
		routing = "Unknown routing"
	}
	if idx := strings.Index(routing, " via ROUTE_TYPE_"); idx >= 0 {
		routing = routing[:idx]
	}

	return fmt.Sprintf("%s | SNR: %s dB | RSSI: %s dBm", routing, orUnknown(msg.SNR), orUnknown(msg.RSSI))
}

func timestamp(opts Options) string {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	t := now()
	if opts.Timezone != nil {
		t = t.In(opts.Timezone)
	}

	return t.Format("15:04:05")
}

// render implements the {name} / {{ / }} template grammar.
func render(template string, values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{'", ErrMalformedTemplate)
			}
			name := template[i+1 : i+1+end]
			value, ok := values[name]
			if !ok {
				return "", fmt.Errorf("%w: %q", ErrUnknownPlaceholder, name)
			}
			b.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}'", ErrMalformedTemplate)
		default:
			b.WriteByte(c)
		}
	}

	return b.String(), nil
}

func orUnknown(value string) string {
	if value == "" {
		return unknown
	}

	return value
}
