package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shoplane/shoplane-backend/api/controllers"
	"github.com/shoplane/shoplane-backend/api/middleware"
	catalogsvc "github.com/shoplane/shoplane-backend/internal/catalog"
	offersvc "github.com/shoplane/shoplane-backend/internal/offers"
	"github.com/shoplane/shoplane-backend/pkg/config"
	"github.com/shoplane/shoplane-backend/pkg/logger"
)

// NewCatalogRouter wires the catalog service: the stock ledger's remote
// contract and the offer engine.
func NewCatalogRouter(
	cfg *config.Config,
	logg *logger.Logger,
	deps map[string]controllers.Pinger,
	registry *prometheus.Registry,
	catalogService catalogsvc.Service,
	offerService offersvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/products/{id}", func(r chi.Router) {
		r.Get("/", controllers.GetProduct(catalogService, logg))
		r.Put("/decrementStock", controllers.DecrementStock(catalogService, logg))
		r.Put("/incrementStock", controllers.IncrementStock(catalogService, logg))
	})

	r.Post("/offers/best", controllers.BestOffer(offerService, logg))

	return r
}
