package orchestrator

// CategoryVariant carries the small set of attributes that vary by
// recipe category, looked up from a map at dispatch time rather than
// type-switching on a handler interface (spec §9: "a small tagged-
// variant of service categories with a category-specific handler
// looked up from a map at dispatch time; readiness probe paths and
// default metrics ports are attributes of the variant").
type CategoryVariant struct {
	ProbePath        string
	DefaultMetricsPort int
}

var categoryVariants = map[string]CategoryVariant{
	"inference": {ProbePath: "/v1/models", DefaultMetricsPort: 0},
	"vector-db": {ProbePath: "/collections", DefaultMetricsPort: 0},
}

const defaultProbePath = "/health"

// ProbePathFor returns the readiness-probe path for category,
// defaulting to "/health" for anything not inference or vector-db
// (spec §4.4.3).
func ProbePathFor(category string) string {
	if v, ok := categoryVariants[category]; ok {
		return v.ProbePath
	}
	return defaultProbePath
}
