package api

// PlantTreeResponse is returned by GET /plant-tree
type PlantTreeResponse struct {
	Trees int64 `json:"trees"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
}
