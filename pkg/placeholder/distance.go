package placeholder

import (
	"context"
	"fmt"
	"math"
	"strings"

	"meshbot/pkg/mesh"
)

const earthRadiusKM = 6371.0

// Location is a latitude/longitude pair in degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

// NodeLocator finds the last advertised position of a repeater by its node id
// (the public key prefix).
type NodeLocator interface {
	NodeLocation(ctx context.Context, nodeID string) (Location, bool)
}

// Distance returns the haversine distance in kilometres.
func Distance(a Location, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLon/2), 2)
	return earthRadiusKM * 2 * math.Asin(math.Sqrt(h))
}

// PathDistances describes the total hop distance along path and the distance
// between its first and last repeater.
func PathDistances(ctx context.Context, locator NodeLocator, path string) (string, string) {
	if mesh.IsDirectPath(path) {
		return "directly (0 hops)", "N/A (direct)"
	}
	if locator == nil {
		return "unknown distance", "unknown"
	}

	ids := mesh.ParsePath(path)
	switch len(ids) {
	case 0:
		return "directly (0 hops)", "N/A (direct)"
	case 1:
		return "locally (1 hop)", "N/A (1 hop)"
	}

	locations := make([]*Location, len(ids))
	for i, id := range ids {
		if loc, ok := locator.NodeLocation(ctx, id); ok {
			locations[i] = &loc
		}
	}

	var (
		total   float64
		located int
		missing int
	)
	for i := 0; i < len(locations)-1; i++ {
		if locations[i] != nil && locations[i+1] != nil {
			total += Distance(*locations[i], *locations[i+1])
			located++
		} else {
			missing++
		}
	}

	var pathDistance string
	if total > 0 {
		var segments []string
		if located > 0 {
			segments = append(segments, fmt.Sprintf("%d segs", located))
		}
		if missing > 0 {
			segments = append(segments, fmt.Sprintf("%d no-loc", missing))
		}
		pathDistance = fmt.Sprintf("%.1fkm (%s)", total, strings.Join(segments, ", "))
	} else if missing > 0 {
		pathDistance = fmt.Sprintf("unknown distance (%d hops, no locations)", len(ids))
	} else {
		pathDistance = fmt.Sprintf("unknown distance (%d hops)", len(ids))
	}

	first, last := locations[0], locations[len(locations)-1]
	firstLast := "unknown (no locations)"
	if first != nil && last != nil {
		firstLast = fmt.Sprintf("%.1fkm", Distance(*first, *last))
	}

	return pathDistance, firstLast
}
