package gateway

import (
	"net/http"

	"github.com/giantswarm/aifactory/internal/recipe"
)

// handleListRecipes lists every recipe, optionally filtered by
// category, or returns a single recipe via ?name= or ?path= (spec §6
// "GET /recipes (optional ?path= or ?name=)").
func (g *Gateway) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if name := q.Get("name"); name != "" {
		g.writeOneRecipe(w, name)
		return
	}
	if path := q.Get("path"); path != "" {
		g.writeOneRecipe(w, path)
		return
	}

	category := recipe.Category(q.Get("category"))
	recipes := g.recs.List(category)
	out := make([]recipeResponse, 0, len(recipes))
	for _, rec := range recipes {
		out = append(out, renderRecipe(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) writeOneRecipe(w http.ResponseWriter, nameOrPath string) {
	rec, err := g.recs.Get(nameOrPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderRecipe(rec))
}
