package location

import (
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances
const EarthRadiusMeters = 6371000.0

// Distance returns the great-circle distance in meters between two coordinates
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceBetween returns the horizontal distance in meters between two records
func DistanceBetween(a, b Record) float64 {
	return Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// DayBounds returns [start, end) of the calendar day containing day, in day's location.
func DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

// Bounds is a geographic bounding box
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Point is a plain coordinate pair
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundsOf returns the bounding box of records, or false when there are none
func BoundsOf(records []Record) (Bounds, bool) {
	if len(records) == 0 {
		return Bounds{}, false
	}
	b := Bounds{
		MinLat: records[0].Latitude, MaxLat: records[0].Latitude,
		MinLon: records[0].Longitude, MaxLon: records[0].Longitude,
	}
	for _, r := range records[1:] {
		b.MinLat = math.Min(b.MinLat, r.Latitude)
		b.MaxLat = math.Max(b.MaxLat, r.Latitude)
		b.MinLon = math.Min(b.MinLon, r.Longitude)
		b.MaxLon = math.Max(b.MaxLon, r.Longitude)
	}
	return b, true
}

// Centroid returns the arithmetic mean position of records, or false when there are none
func Centroid(records []Record) (Point, bool) {
	if len(records) == 0 {
		return Point{}, false
	}
	var lat, lon float64
	for _, r := range records {
		lat += r.Latitude
		lon += r.Longitude
	}
	n := float64(len(records))
	return Point{Lat: lat / n, Lon: lon / n}, true
}
