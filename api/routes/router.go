package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shoplane/shoplane-backend/api/controllers"
	"github.com/shoplane/shoplane-backend/api/middleware"
	cartsvc "github.com/shoplane/shoplane-backend/internal/cart"
	couponsvc "github.com/shoplane/shoplane-backend/internal/coupons"
	"github.com/shoplane/shoplane-backend/pkg/config"
	"github.com/shoplane/shoplane-backend/pkg/logger"
)

// NewAPIRouter wires the storefront service: cart coordination and the
// coupon ledger.
func NewAPIRouter(
	cfg *config.Config,
	logg *logger.Logger,
	deps map[string]controllers.Pinger,
	registry *prometheus.Registry,
	cartService cartsvc.Service,
	couponService couponsvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/cart/{userId}", func(r chi.Router) {
		r.Get("/", controllers.GetCart(cartService, logg))
		r.Delete("/", controllers.ClearCart(cartService, logg))
		r.Post("/items", controllers.AddCartItem(cartService, logg))
		r.Route("/items/{productId}", func(r chi.Router) {
			r.Put("/", controllers.UpdateCartItem(cartService, logg))
			r.Delete("/", controllers.RemoveCartItem(cartService, logg))
		})
	})

	r.Route("/coupons", func(r chi.Router) {
		r.Post("/apply", controllers.ApplyCoupon(couponService, logg))
		r.Post("/remove", controllers.RemoveCoupon(couponService, logg))
	})

	return r
}
