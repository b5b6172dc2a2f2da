package api

import (
	"net/http"
	"strings"

	"github.com/example/curio-shop/internal/api/middleware"
	"github.com/example/curio-shop/internal/auth"
)

func NewRouter(handlers *Handlers, authHandlers *AuthHandlers, jwtService *auth.JWTService) http.Handler {
	mux := http.NewServeMux()

	requireAuth := middleware.AuthMiddleware(jwtService)
	requireAdmin := func(h http.Handler) http.Handler {
		return requireAuth(middleware.RequireRole("admin")(h))
	}
	optionalAuth := middleware.OptionalAuthMiddleware(jwtService)

	// Auth
	mux.HandleFunc("/auth/register", postOnly(authHandlers.Register))
	mux.HandleFunc("/auth/login", postOnly(authHandlers.Login))
	mux.HandleFunc("/auth/logout", postOnly(authHandlers.Logout))
	mux.HandleFunc("/auth/refresh", postOnly(authHandlers.Refresh))
	mux.Handle("/auth/me", requireAuth(http.HandlerFunc(authHandlers.Me)))

	// Catalog
	mux.Handle("/items", optionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetItems(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.HandleFunc("/items/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetItem(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Cart
	mux.Handle("/cart", requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetCart(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle("/cart/items", requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlers.AddToCart(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle("/cart/items/", requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			handlers.RemoveFromCart(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Checkout
	mux.Handle("/checkout/buy-now", requireAuth(postHandler(handlers.BuyNow)))
	mux.Handle("/checkout/cart", requireAuth(postHandler(handlers.CheckoutCart)))

	// Payments
	mux.Handle("/payments", requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetPayments(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle("/payments/", requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/proof") && r.Method == http.MethodPost:
			handlers.SubmitProof(w, r)
		case r.Method == http.MethodGet:
			handlers.GetPayment(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Orders
	mux.Handle("/orders/", requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/cancel") && r.Method == http.MethodPost:
			handlers.CancelOrder(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Admin
	mux.Handle("/admin/items", requireAdmin(postHandler(handlers.CreateItem)))
	mux.Handle("/admin/payments/", requireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/verify") && r.Method == http.MethodPost:
			handlers.VerifyPayment(w, r)
		case strings.HasSuffix(path, "/reject") && r.Method == http.MethodPost:
			handlers.RejectPayment(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle("/admin/cleanup", requireAdmin(postHandler(handlers.RunCleanup)))

	return withLogging(mux)
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func postHandler(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(postOnly(h))
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		println("[API]", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
