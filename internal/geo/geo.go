// internal/geo/geo.go
package geo

import "math"

// Bearing returns the forward azimuth from point A to point B in degrees
// (0 = north, 90 = east). Used as the Street View heading so the camera
// points from the panorama location toward the property.
func Bearing(fromLat, fromLng, toLat, toLng float64) float64 {
	lat1 := radians(fromLat)
	lat2 := radians(toLat)
	deltaLng := radians(toLng - fromLng)

	x := math.Sin(deltaLng) * math.Cos(lat2)
	y := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(deltaLng)

	bearing := degrees(math.Atan2(x, y))
	return math.Mod(bearing+360, 360)
}

// HaversineDistance returns the great-circle distance between two points
// in meters.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0

	phi1 := radians(lat1)
	phi2 := radians(lat2)
	deltaPhi := radians(lat2 - lat1)
	deltaLambda := radians(lng2 - lng1)

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// CandidateHeadings spreads headings symmetrically around a primary
// front-facing heading, front first.
func CandidateHeadings(primary, spread float64, count int) []float64 {
	if count <= 1 {
		return []float64{primary}
	}
	candidates := []float64{primary}
	for i := 1; len(candidates) < count; i++ {
		offset := spread * float64(i)
		candidates = append(candidates, math.Mod(primary-offset+360, 360))
		if len(candidates) >= count {
			break
		}
		candidates = append(candidates, math.Mod(primary+offset, 360))
	}
	return candidates[:count]
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
