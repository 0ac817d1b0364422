package dynamics

// MaxActivatedNodes and MaxTraversalBudget bound spreading activation and
// waypoint BFS expansion so one query cannot walk the whole graph.
const (
	MaxActivatedNodes  = 2000
	MaxTraversalBudget = 10000
)

// Edge is a directed waypoint weight used for spreading activation and
// associative reinforcement.
type Edge struct {
	Dst    string
	Weight float64
}

// NeighborFetcher batches the neighbor lookup for a layer of node ids,
// matching persistence.Store.GetNeighborsBatch's shape.
type NeighborFetcher func(ids []string) (map[string][]Edge, error)

// Activated is one node reached by spreading activation, with the
// decayed weight and hop path that reached it.
type Activated struct {
	ID     string
	Weight float64
	Path   []string
}

// SpreadOptions configures a spreading-activation pass.
type SpreadOptions struct {
	HopDecay     float64
	MinWeight    float64
	MaxExpanded  int
	MaxBudget    int
}

// DefaultSpreadOptions returns the standard traversal parameters.
func DefaultSpreadOptions() SpreadOptions {
	return SpreadOptions{HopDecay: 0.8, MinWeight: 0.1, MaxExpanded: MaxActivatedNodes, MaxBudget: MaxTraversalBudget}
}

// Spread performs a layered BFS from seeds (each with its initial weight),
// fetching neighbors one layer at a time via fetch, and decaying weight by
// opts.HopDecay per hop as incoming_weight * edge_weight. It stops expanding
// a branch once its weight drops below opts.MinWeight, once opts.MaxExpanded
// distinct nodes have been activated, or once opts.MaxBudget neighbor-edge
// visits have been spent.
func Spread(seeds map[string]float64, opts SpreadOptions, fetch NeighborFetcher) ([]Activated, error) {
	if opts.HopDecay <= 0 {
		opts.HopDecay = 0.8
	}
	if opts.MinWeight <= 0 {
		opts.MinWeight = 0.1
	}
	if opts.MaxExpanded <= 0 {
		opts.MaxExpanded = MaxActivatedNodes
	}
	if opts.MaxBudget <= 0 {
		opts.MaxBudget = MaxTraversalBudget
	}

	visited := make(map[string]Activated, len(seeds))
	type frontierNode struct {
		id     string
		weight float64
		path   []string
	}
	frontier := make([]frontierNode, 0, len(seeds))
	for id, w := range seeds {
		visited[id] = Activated{ID: id, Weight: w, Path: []string{id}}
		frontier = append(frontier, frontierNode{id: id, weight: w, path: []string{id}})
	}

	budget := opts.MaxBudget
	for len(frontier) > 0 && len(visited) < opts.MaxExpanded && budget > 0 {
		ids := make([]string, len(frontier))
		for i, n := range frontier {
			ids[i] = n.id
		}
		neighborMap, err := fetch(ids)
		if err != nil {
			return nil, err
		}

		var next []frontierNode
		for _, node := range frontier {
			edges := neighborMap[node.id]
			for _, e := range edges {
				budget--
				if budget <= 0 {
					break
				}
				w := node.weight * e.Weight * opts.HopDecay
				if w < opts.MinWeight {
					continue
				}
				if existing, ok := visited[e.Dst]; ok {
					if w <= existing.Weight {
						continue
					}
				}
				if len(visited) >= opts.MaxExpanded {
					break
				}
				path := append(append([]string(nil), node.path...), e.Dst)
				visited[e.Dst] = Activated{ID: e.Dst, Weight: w, Path: path}
				next = append(next, frontierNode{id: e.Dst, weight: w, path: path})
			}
			if budget <= 0 {
				break
			}
		}
		frontier = next
	}

	out := make([]Activated, 0, len(visited))
	for _, a := range visited {
		out = append(out, a)
	}
	return out, nil
}
