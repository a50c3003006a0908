package galaxy

import "context"

// Graph is an in-memory adjacency view of the corridor network, built once
// at boot. The world generator never changes edges at runtime, so the graph
// is read-only after construction.
type Graph struct {
	adjacency map[int64][]int64
}

// GetAllCorridors returns every active corridor edge.
func (r *Repository) GetAllCorridors(ctx context.Context) ([]Corridor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, origin_id, destination_id, name, travel_time_sec, fuel_cost,
		       danger_level, is_active, kind
		FROM corridors
		WHERE is_active = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var corridors []Corridor
	for rows.Next() {
		var c Corridor
		if err := rows.Scan(
			&c.ID, &c.OriginID, &c.DestinationID, &c.Name, &c.TravelTimeSec,
			&c.FuelCost, &c.DangerLevel, &c.IsActive, &c.Kind,
		); err != nil {
			return nil, err
		}
		corridors = append(corridors, c)
	}
	return corridors, rows.Err()
}

func NewGraph(corridors []Corridor) *Graph {
	adjacency := make(map[int64][]int64)
	for _, c := range corridors {
		adjacency[c.OriginID] = append(adjacency[c.OriginID], c.DestinationID)
	}
	return &Graph{adjacency: adjacency}
}

// Hops returns the minimum corridor count between two locations, or -1 when
// no route exists.
func (g *Graph) Hops(from, to int64) int {
	if from == to {
		return 0
	}

	visited := map[int64]bool{from: true}
	frontier := []int64{from}
	hops := 0

	for len(frontier) > 0 {
		hops++
		var next []int64
		for _, node := range frontier {
			for _, dest := range g.adjacency[node] {
				if visited[dest] {
					continue
				}
				if dest == to {
					return hops
				}
				visited[dest] = true
				next = append(next, dest)
			}
		}
		frontier = next
	}
	return -1
}
