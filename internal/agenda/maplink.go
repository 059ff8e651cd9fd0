package agenda

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

const mapSearchBase = "https://www.google.com/maps/search/?api=1&query="

// Placeholder labels shown instead of a street address when the
// operator corrects the location with a pin or a pasted link. Searching
// the map for them would find nothing.
const (
	labelSharedLocation = "Ubicación Compartida (WhatsApp)"
	labelLinkLocation   = "Ubicación por Link"
)

var coordPattern = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)

// NavigationLink builds a maps link for the technician. A validated
// street address reads better on the map than raw coordinates, so it
// wins when available; placeholder labels fall through to coordinates.
func NavigationLink(lat, lng float64, address string) string {
	if len(address) > 5 && address != labelSharedLocation && address != labelLinkLocation {
		return mapSearchBase + url.QueryEscape(address)
	}
	if lat != 0 || lng != 0 {
		return fmt.Sprintf("%s%f,%f", mapSearchBase, lat, lng)
	}
	return "https://maps.google.com"
}

// ExtractCoords pulls an "@lat,lng" coordinate pair out of text, as
// found in shared map links and normalized location messages.
func ExtractCoords(text string) (lat, lng float64, ok bool) {
	m := coordPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lng, true
}
