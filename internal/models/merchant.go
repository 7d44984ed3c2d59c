package models

// Merchant is the directory view the engine needs: an identity and a fixed
// location that anchors the geofence.
type Merchant struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}
